package client

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

func envelope(t *testing.T, evtType model.ServerEventType, data any) model.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return model.Envelope{Type: evtType, Data: raw}
}

// TestReduceFullSessionOrdering 验证一场完整会话按事件顺序折叠出正确终态。
// 场景：started → turn_start(1) → scammer_message → senior_message → simulation_end(max_turns)，
// 终态应为 completed、两条消息、轮次 1、结束原因 max_turns。
func TestReduceFullSessionOrdering(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	turn := 1
	v := NewView()

	v = Reduce(v, envelope(t, model.EventSimulationStarted, model.SimulationStartedData{
		MaxTurns:     15,
		CallerType:   model.CallerTypeScammer,
		VoiceEnabled: true,
		ScammerState: &model.ScammerState{Patience: 0.8, PersuasionStage: model.StageBuildingTrust},
		SeniorState:  &model.SeniorState{CallerClassification: "UNCERTAIN"},
	}), now)
	v = Reduce(v, envelope(t, model.EventTurnStart, model.TurnStartData{Turn: &turn}), now)
	v = Reduce(v, envelope(t, model.EventScammerMessage, model.SpeakerMessageData{
		Turn:         1,
		Message:      "This is your bank calling.",
		ScammerState: &model.ScammerState{Patience: 0.65},
	}), now)
	v = Reduce(v, envelope(t, model.EventSeniorMessage, model.SpeakerMessageData{
		Turn:        1,
		Message:     "Which bank was that, dear?",
		SeniorState: &model.SeniorState{ScamConfidence: 0.45},
	}), now)
	v = Reduce(v, envelope(t, model.EventSimulationEnd, model.SimulationEndData{
		Reason: model.EndReasonMaxTurns,
	}), now.Add(42*time.Second))

	if v.Status != StatusCompleted {
		t.Fatalf("expected status completed, got %s", v.Status)
	}
	if len(v.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(v.Messages))
	}
	if v.Messages[0].Speaker != model.SpeakerScammer || v.Messages[1].Speaker != model.SpeakerSenior {
		t.Fatalf("unexpected speaker order: %s then %s", v.Messages[0].Speaker, v.Messages[1].Speaker)
	}
	if v.CurrentTurn != 1 {
		t.Fatalf("expected turn 1, got %d", v.CurrentTurn)
	}
	if v.EndReason != model.EndReasonMaxTurns {
		t.Fatalf("expected end reason max_turns, got %s", v.EndReason)
	}
	if v.ScammerState.Patience != 0.65 {
		t.Fatalf("expected patience 0.65 carried forward, got %v", v.ScammerState.Patience)
	}
	if v.ElapsedSeconds != 42 {
		t.Fatalf("expected elapsed frozen at 42, got %d", v.ElapsedSeconds)
	}
}

// TestReduceStartedResetsPreviousSession 验证新会话开启时旧会话残留被整体清空。
// 场景：completed 视图里已有消息与错误信息，再次收到 simulation_started 后应回到全新 running 视图。
func TestReduceStartedResetsPreviousSession(t *testing.T) {
	now := time.Now()
	v := NewView()
	v.Status = StatusCompleted
	v.Messages = []Message{{Turn: 3, Speaker: model.SpeakerScammer, Text: "old"}}
	v.ErrorMessage = "previous failure"
	v.ElapsedSeconds = 99

	v = Reduce(v, envelope(t, model.EventSimulationStarted, model.SimulationStartedData{MaxTurns: 10}), now)

	if v.Status != StatusRunning {
		t.Fatalf("expected status running, got %s", v.Status)
	}
	if len(v.Messages) != 0 || v.ErrorMessage != "" || v.ElapsedSeconds != 0 {
		t.Fatalf("expected stale session state cleared, got %+v", v)
	}
	if v.MaxTurns != 10 {
		t.Fatalf("expected max turns 10, got %d", v.MaxTurns)
	}
	if !v.TickerActive {
		t.Fatalf("expected ticker active after start")
	}
}

// TestReduceMessageMissingFields 验证消息事件的逐字段缺省规则。
// 场景：缺 message 整条丢弃；缺 turn 沿用当前轮次；缺状态快照时保留上一次已知状态。
func TestReduceMessageMissingFields(t *testing.T) {
	now := time.Now()
	v := NewView()
	v.Status = StatusRunning
	v.CurrentTurn = 4
	v.ScammerState = model.ScammerState{Patience: 0.5}

	// 缺 message：整条丢弃。
	v2 := Reduce(v, model.Envelope{Type: model.EventScammerMessage, Data: json.RawMessage(`{"turn":5}`)}, now)
	if len(v2.Messages) != 0 {
		t.Fatalf("expected message without body dropped, got %d messages", len(v2.Messages))
	}

	// 缺 turn：沿用当前轮次；缺状态：保留旧值。
	v3 := Reduce(v, model.Envelope{Type: model.EventScammerMessage, Data: json.RawMessage(`{"message":"hi"}`)}, now)
	if len(v3.Messages) != 1 || v3.Messages[0].Turn != 4 {
		t.Fatalf("expected message with inherited turn 4, got %+v", v3.Messages)
	}
	if v3.ScammerState.Patience != 0.5 {
		t.Fatalf("expected scammer state retained, got %v", v3.ScammerState.Patience)
	}
}

// TestReduceMalformedCaptionIsNoop 验证缺 speaker 或 sentence 的字幕是纯空操作。
// 场景：两类残缺字幕都不应改变视图的任何字段。
func TestReduceMalformedCaptionIsNoop(t *testing.T) {
	now := time.Now()
	v := NewView()
	v.Status = StatusRunning
	v.CurrentSpeaker = model.SpeakerSenior

	for _, raw := range []string{
		`{"turn":1,"sentence":"hello there"}`,
		`{"turn":1,"speaker":"scammer"}`,
		`{"turn":1,"speaker":"","sentence":""}`,
	} {
		got := Reduce(v, model.Envelope{Type: model.EventLiveCaption, Data: json.RawMessage(raw)}, now)
		if !reflect.DeepEqual(got, v) {
			t.Fatalf("expected malformed caption %s to be a no-op", raw)
		}
	}
}

// TestReduceErrorPreservesDisplayState 验证 error 终局保留展示状态但停止演进。
// 场景：running 视图收到 error 事件后消息与代理状态保持原样，状态切到 completed 且记录错误文案。
func TestReduceErrorPreservesDisplayState(t *testing.T) {
	now := time.Now()
	v := NewView()
	v.Status = StatusRunning
	v.StartedAt = now.Add(-10 * time.Second)
	v.Messages = []Message{{Turn: 2, Speaker: model.SpeakerSenior, Text: "hold on dear"}}
	v.SeniorState = model.SeniorState{ScamConfidence: 0.7}

	v = Reduce(v, envelope(t, model.EventError, model.ErrorData{Message: "tts backend unreachable"}), now)

	if v.Status != StatusCompleted || v.EndReason != model.EndReasonError {
		t.Fatalf("expected completed/error, got %s/%s", v.Status, v.EndReason)
	}
	if v.ErrorMessage != "tts backend unreachable" {
		t.Fatalf("unexpected error message: %q", v.ErrorMessage)
	}
	if len(v.Messages) != 1 || v.SeniorState.ScamConfidence != 0.7 {
		t.Fatalf("expected display state preserved, got %+v", v)
	}
	if v.TickerActive {
		t.Fatalf("expected ticker stopped on error")
	}
}

// TestReduceUnknownEventIsNoop 验证未知事件类型前向兼容地被忽略。
// 场景：收到未来新增的事件类型时视图逐字段不变。
func TestReduceUnknownEventIsNoop(t *testing.T) {
	now := time.Now()
	v := NewView()
	v.Status = StatusRunning
	v.CurrentTurn = 7

	got := Reduce(v, model.Envelope{Type: "totally_new_event", Data: json.RawMessage(`{"x":1}`)}, now)
	if !reflect.DeepEqual(got, v) {
		t.Fatalf("expected unknown event to be a no-op")
	}
}

// TestTickComputesFromStartInstant 验证计时从捕获的起点算出而非自增。
// 场景：跳过若干次 Tick 后，一次 Tick 仍应得到真实流逝秒数；非 running 态 Tick 不生效。
func TestTickComputesFromStartInstant(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := NewView()
	v.Status = StatusRunning
	v.StartedAt = start

	v = Tick(v, start.Add(37*time.Second))
	if v.ElapsedSeconds != 37 {
		t.Fatalf("expected elapsed 37, got %d", v.ElapsedSeconds)
	}

	v.Status = StatusCompleted
	v = Tick(v, start.Add(99*time.Second))
	if v.ElapsedSeconds != 37 {
		t.Fatalf("expected tick inert outside running, got %d", v.ElapsedSeconds)
	}
}

// TestReduceStoppedFreezesElapsed 验证 stopped 终局把时间冻在较大的那个值上。
// 场景：最后一次周期更新落后于真实流逝时间时，终局应采用终局时刻现算的值。
func TestReduceStoppedFreezesElapsed(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v := NewView()
	v.Status = StatusRunning
	v.StartedAt = start
	v.ElapsedSeconds = 5 // 上一次周期更新滞后

	v = Reduce(v, model.Envelope{Type: model.EventSimulationStopped}, start.Add(9*time.Second))

	if v.EndReason != model.EndReasonStopped {
		t.Fatalf("expected end reason stopped, got %s", v.EndReason)
	}
	if v.ElapsedSeconds != 9 {
		t.Fatalf("expected elapsed frozen at 9, got %d", v.ElapsedSeconds)
	}
}

// TestReduceDoesNotMutateInput 验证归约器是值语义：输入视图不被修改。
// 场景：对同一输入视图归约两次，第一次归约不应影响第二次的输入。
func TestReduceDoesNotMutateInput(t *testing.T) {
	now := time.Now()
	v := NewView()
	v.Status = StatusRunning
	v.Messages = []Message{{Turn: 1, Speaker: model.SpeakerScammer, Text: "first"}}
	before := v.Messages[0]

	_ = Reduce(v, envelope(t, model.EventSeniorMessage, model.SpeakerMessageData{
		Turn: 1, Message: "second",
	}), now)

	if len(v.Messages) != 1 || v.Messages[0] != before {
		t.Fatalf("expected input view untouched, got %+v", v.Messages)
	}
}
