package agent

import (
	"context"
	"strings"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// 来电台词中的诈骗特征，每命中一类抬升一次怀疑度。
var scamMarkers = []string{
	"security department", "suspicious activity", "unauthorized", "frozen",
	"verify your identity", "social security", "card number", "security code",
	"gift card", "routing number", "wire", "urgent", "act quickly",
}

// 善意来电特征，压低怀疑度。
var familyMarkers = []string{
	"grandma", "grandpa", "it's me", "your grandson", "your daughter",
	"your nephew", "birthday", "thanksgiving", "come visit", "checking in",
}

// 拖延战术台词，按战术名索引。
var tacticLines = map[string][]string{
	"FRIENDLY_CHAT": {
		"Oh how lovely to hear from you, dear! How is the weather over there?",
		"Well isn't that nice. Let me tell you, we had the most wonderful pot roast on Sunday.",
	},
	"VERIFY_IDENTITY": {
		"Now who did you say you were again? My hearing isn't what it used to be.",
		"Which bank was that, dear? I have accounts all over town, you know.",
	},
	"STORY_TIME": {
		"That reminds me of 1962, when my Harold lost his wallet at the county fair. Have I told you about Harold?",
		"Hold on, before you go on — did I mention my cat Whiskers learned to open the cupboard?",
	},
	"BAD_CONNECTION": {
		"Hello? Hello? You're breaking up, dear. Can you say that again, slower this time?",
		"Oh this phone! Wait, let me walk to the kitchen, the signal is better near the toaster.",
	},
	"BATHROOM_BREAK": {
		"Oh my, can you hold on just a minute? I need to check on something on the stove.",
		"Just a moment dear, the kettle is whistling. Don't you hang up now!",
	},
	"FORGOT_AGAIN": {
		"I'm sorry, what was it you needed? My card? Which card? Where did I put my glasses...",
		"Now wait, what were we talking about? You'll have to start over from the beginning, dear.",
	},
}

// ScriptedSenior 复刻防守方的分类/置信度/战术升级动力学：
// 命中诈骗特征抬升 scam_confidence，按置信度映射 1-5 级拖延战术；
// 判定为善意来电则给出移交信号。
type ScriptedSenior struct {
	state model.SeniorState
	turn  int
}

func NewScriptedSenior() *ScriptedSenior {
	return &ScriptedSenior{
		state: model.SeniorState{
			CallerClassification: "UNCERTAIN",
			HandoffDecision:      "GATHER_INFO",
			DelayStrategyLevel:   1,
		},
	}
}

func (s *ScriptedSenior) ProduceTurn(ctx context.Context, callerMessage string) (*TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.turn++

	s.classify(callerMessage)

	if s.state.HandoffDecision == "HANDOFF" {
		s.state.CurrentTactic = "HANDOFF"
		return &TurnResult{Signals: Signals{Handoff: true}}, nil
	}

	s.chooseTactic()

	lines := tacticLines[s.state.CurrentTactic]
	if len(lines) == 0 {
		lines = tacticLines["VERIFY_IDENTITY"]
	}
	text := lines[(s.turn-1)%len(lines)]

	return &TurnResult{Text: text}, nil
}

func (s *ScriptedSenior) Snapshot() model.SeniorState {
	return s.state
}

// classify 更新怀疑度与来电分类。怀疑度只随证据变化，不随轮次自涨。
func (s *ScriptedSenior) classify(callerMessage string) {
	lower := strings.ToLower(callerMessage)

	hits := 0
	for _, m := range scamMarkers {
		if strings.Contains(lower, m) {
			hits++
		}
	}
	if hits > 0 {
		s.state.ScamConfidence = clamp01(s.state.ScamConfidence + 0.15*float64(hits))
		s.state.ScamAnalysis = "caller is pushing bank-security urgency, classic scam shape"
	}
	if containsAny(lower, familyMarkers) {
		s.state.ScamConfidence = clamp01(s.state.ScamConfidence - 0.2)
		s.state.ScamAnalysis = "caller sounds like family, no pressure patterns"
	}

	switch {
	case s.state.ScamConfidence >= 0.6:
		s.state.CallerClassification = "SCAM"
		s.state.HandoffDecision = "STALL"
	case s.turn >= 2 && s.state.ScamConfidence < 0.2:
		s.state.CallerClassification = "LEGITIMATE"
		s.state.HandoffDecision = "HANDOFF"
	default:
		s.state.CallerClassification = "UNCERTAIN"
		s.state.HandoffDecision = "GATHER_INFO"
	}
}

// chooseTactic 按分类与置信度映射拖延等级，再取对应战术。
func (s *ScriptedSenior) chooseTactic() {
	conf := s.state.ScamConfidence

	var level int
	switch s.state.CallerClassification {
	case "LEGITIMATE":
		level = 0
	case "UNCERTAIN":
		if conf < 0.4 {
			level = 0
		} else {
			level = 1
		}
	default: // SCAM
		switch {
		case conf < 0.5:
			level = 2
		case conf < 0.7:
			level = 3
		case conf < 0.85:
			level = 4
		default:
			level = 5
		}
	}
	// 拖延等级的有效域是 1-5，友好档也落在下限上。
	s.state.DelayStrategyLevel = level
	if s.state.DelayStrategyLevel < 1 {
		s.state.DelayStrategyLevel = 1
	}

	switch level {
	case 0:
		s.state.CurrentTactic = "FRIENDLY_CHAT"
	case 1:
		s.state.CurrentTactic = "VERIFY_IDENTITY"
	case 2:
		s.state.CurrentTactic = "STORY_TIME"
	case 3:
		s.state.CurrentTactic = "BAD_CONNECTION"
	case 4:
		s.state.CurrentTactic = "BATHROOM_BREAK"
	default:
		s.state.CurrentTactic = "FORGOT_AGAIN"
	}
}
