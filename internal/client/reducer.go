// Package client 是仿真流的 Go 客户端：一条持久 WebSocket 连接、
// 一个纯函数状态归约器、有界字幕窗口和无缝 PCM 播放调度器。
package client

import (
	"encoding/json"
	"time"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// Status 是会话状态机的三个稳定态。
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Message 是通话记录里的一条消息，追加后不再修改，只在整体重置时清空。
type Message struct {
	Turn      int           `json:"turn"`
	Speaker   model.Speaker `json:"speaker"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
}

// View 是渲染层消费的单一视图模型。Reduce 对它做值语义折叠：
// 输入视图不被修改，输出是新视图。
type View struct {
	Status       Status
	CurrentTurn  int
	MaxTurns     int
	VoiceEnabled bool
	CallerType   model.CallerType

	ScammerState model.ScammerState
	SeniorState  model.SeniorState

	Messages []Message

	// CurrentSpeaker 为空表示当前无人说话。
	CurrentSpeaker    model.Speaker
	ActiveCaptionTurn int

	// 计时：StartedAt 是捕获的起点时刻，ElapsedSeconds 总是从它算出，
	// 不靠计数器自增（避免节流环境下漂移）。
	StartedAt      time.Time
	ElapsedSeconds int
	TickerActive   bool

	EndReason    model.EndReason
	ErrorMessage string
}

// NewView 返回 idle 初始视图。重置后的视图必须与它完全相等。
func NewView() View {
	return View{Status: StatusIdle}
}

// 客户端侧的消息载荷：字段全部指针化，缺失字段按逐字段规则
// 丢弃或沿用旧值。
type speakerMessagePayload struct {
	Turn         *int                     `json:"turn"`
	Message      *string                  `json:"message"`
	AudioBase64  *string                  `json:"audio_base64"`
	ScammerState *model.ScammerStatePatch `json:"scammer_state"`
	SeniorState  *model.SeniorStatePatch  `json:"senior_state"`
}

type simulationStartedPayload struct {
	MaxTurns     *int                     `json:"max_turns"`
	CallerType   *model.CallerType        `json:"caller_type"`
	VoiceEnabled *bool                    `json:"voice_enabled"`
	ScammerState *model.ScammerStatePatch `json:"scammer_state"`
	SeniorState  *model.SeniorStatePatch  `json:"senior_state"`
}

type liveCaptionPayload struct {
	Turn     *int           `json:"turn"`
	Speaker  *model.Speaker `json:"speaker"`
	Sentence *string        `json:"sentence"`
}

type simulationEndPayload struct {
	Reason       *model.EndReason         `json:"reason"`
	ScammerState *model.ScammerStatePatch `json:"scammer_state"`
	SeniorState  *model.SeniorStatePatch  `json:"senior_state"`
}

// Reduce 把一条入站事件折叠进视图。纯函数：不做 IO、不起定时器，
// 音频与字幕窗口由各自组件处理。未知事件类型是前向兼容的空操作。
func Reduce(v View, env model.Envelope, now time.Time) View {
	switch env.Type {
	case model.EventSimulationStarted:
		var p simulationStartedPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return v
		}
		next := NewView()
		next.Status = StatusRunning
		next.StartedAt = now
		next.TickerActive = true
		if p.MaxTurns != nil {
			next.MaxTurns = *p.MaxTurns
		}
		if p.CallerType != nil {
			next.CallerType = *p.CallerType
		}
		if p.VoiceEnabled != nil {
			next.VoiceEnabled = *p.VoiceEnabled
		}
		next.ScammerState = p.ScammerState.ApplyTo(model.ScammerState{})
		next.SeniorState = p.SeniorState.ApplyTo(model.SeniorState{})
		return next

	case model.EventTurnStart:
		var p model.TurnStartData
		if json.Unmarshal(env.Data, &p) != nil {
			return v
		}
		// 缺轮次号时沿用当前值。
		if p.Turn != nil {
			v.CurrentTurn = *p.Turn
		}
		return v

	case model.EventScammerMessage, model.EventScammerGaveUp:
		return applySpeakerMessage(v, env.Data, model.SpeakerScammer, now)

	case model.EventSeniorMessage:
		return applySpeakerMessage(v, env.Data, model.SpeakerSenior, now)

	case model.EventLiveCaption:
		var p liveCaptionPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return v
		}
		// 缺 speaker 或 sentence 的字幕是纯空操作。
		if p.Speaker == nil || *p.Speaker == "" || p.Sentence == nil || *p.Sentence == "" {
			return v
		}
		if p.Turn != nil {
			v.ActiveCaptionTurn = *p.Turn
		}
		v.CurrentSpeaker = *p.Speaker
		return v

	case model.EventLiveCaptionDone:
		v.CurrentSpeaker = ""
		return v

	case model.EventSimulationEnd:
		var p simulationEndPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return v
		}
		v = freezeElapsed(v, now)
		v.Status = StatusCompleted
		v.TickerActive = false
		v.CurrentSpeaker = ""
		if p.Reason != nil {
			v.EndReason = *p.Reason
		}
		v.ScammerState = p.ScammerState.ApplyTo(v.ScammerState)
		v.SeniorState = p.SeniorState.ApplyTo(v.SeniorState)
		return v

	case model.EventSimulationStopped:
		v = freezeElapsed(v, now)
		v.Status = StatusCompleted
		v.TickerActive = false
		v.CurrentSpeaker = ""
		v.EndReason = model.EndReasonStopped
		return v

	case model.EventError:
		// 展示状态保持原样，只停掉计时。
		var p model.ErrorData
		_ = json.Unmarshal(env.Data, &p)
		v = freezeElapsed(v, now)
		v.Status = StatusCompleted
		v.TickerActive = false
		v.EndReason = model.EndReasonError
		v.ErrorMessage = p.Message
		return v

	default:
		return v
	}
}

// Tick 推进已运行秒数，只在 running 态有效。
func Tick(v View, now time.Time) View {
	if v.Status != StatusRunning || v.StartedAt.IsZero() {
		return v
	}
	v.ElapsedSeconds = int(now.Sub(v.StartedAt).Seconds())
	return v
}

// freezeElapsed 终局时把时间冻结在"最后一次周期更新"与"终局现算"
// 的较大者上。
func freezeElapsed(v View, now time.Time) View {
	if v.StartedAt.IsZero() {
		return v
	}
	final := int(now.Sub(v.StartedAt).Seconds())
	if final > v.ElapsedSeconds {
		v.ElapsedSeconds = final
	}
	return v
}

func applySpeakerMessage(v View, data json.RawMessage, speaker model.Speaker, now time.Time) View {
	var p speakerMessagePayload
	if json.Unmarshal(data, &p) != nil {
		return v
	}
	if p.Message == nil {
		// 没有正文的消息事件整条丢弃。
		return v
	}

	turn := v.CurrentTurn
	if p.Turn != nil {
		turn = *p.Turn
	}

	msgs := make([]Message, len(v.Messages), len(v.Messages)+1)
	copy(msgs, v.Messages)
	v.Messages = append(msgs, Message{
		Turn:      turn,
		Speaker:   speaker,
		Text:      *p.Message,
		Timestamp: now,
	})

	v.ScammerState = p.ScammerState.ApplyTo(v.ScammerState)
	v.SeniorState = p.SeniorState.ApplyTo(v.SeniorState)
	v.CurrentSpeaker = speaker
	return v
}
