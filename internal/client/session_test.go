package client

import (
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/api"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/config"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// TestSessionEndToEnd 验证客户端会话对真实服务端事件流的端到端折叠。
// 场景：连接真实服务端跑一场单轮无语音仿真，终态为 completed/max_turns，
// 消息与字幕窗口同步填充，之后 Reset 回到与初始视图相等的 idle。
func TestSessionEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Simulation.TurnEventDelay = 0
	ts := httptest.NewServer(api.NewServer(cfg, nil).Routes())
	defer ts.Close()

	sess, err := NewSession(SessionOptions{
		URL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/simulation",
	})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer sess.Close()

	if err := sess.Start(model.SimulationConfig{MaxTurns: 1, EnableVoice: false}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	deadline := time.Now().Add(20 * time.Second)
	for {
		if sess.View().Status == StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("simulation did not complete, view: %+v", sess.View())
		}
		time.Sleep(50 * time.Millisecond)
	}

	v := sess.View()
	if v.EndReason != model.EndReasonMaxTurns {
		t.Fatalf("expected max_turns end reason, got %s", v.EndReason)
	}
	if len(v.Messages) != 2 {
		t.Fatalf("expected 2 messages for a single turn, got %d", len(v.Messages))
	}
	if v.CurrentTurn != 1 || v.MaxTurns != 1 {
		t.Fatalf("unexpected turn bookkeeping: %+v", v)
	}
	if len(sess.Captions()) == 0 {
		t.Fatalf("expected captions accumulated")
	}
	if !sess.Connected() {
		t.Fatalf("expected connection still alive after completion")
	}

	sess.Reset()
	if got := sess.View(); !reflect.DeepEqual(got, NewView()) {
		t.Fatalf("expected reset view identical to a fresh one, got %+v", got)
	}
	if len(sess.Captions()) != 0 {
		t.Fatalf("expected caption window cleared")
	}
}

// TestSessionStartWhileRunningIsNoop 验证悲观并发闸门：运行中重复 start 被忽略。
// 场景：本地视图处于 running 时再次 Start 不应发出第二条 start 指令。
func TestSessionStartWhileRunningIsNoop(t *testing.T) {
	s := &Session{view: NewView(), captions: NewCaptionWindow(), now: time.Now}
	s.view.Status = StatusRunning
	s.ch = &Channel{} // 未连接：若闸门失效，send 会返回错误

	if err := s.Start(model.SimulationConfig{}); err != nil {
		t.Fatalf("expected running gate to swallow start, got %v", err)
	}
}
