package agent

import (
	"context"
	"strings"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// 阶段台词脚本：每个阶段若干条，按轮次轮转，避免复读。
var scammerLines = map[model.PersuasionStage][]string{
	model.StageBuildingTrust: {
		"Hello! This is Michael from your bank's security department. How are you doing today?",
		"I'm calling because we care about protecting your account. You've been a valued customer for years.",
	},
	model.StageFakeProblem: {
		"I'm afraid there's been some suspicious activity on your account. Someone tried to withdraw eight hundred dollars this morning.",
		"Our system flagged several unauthorized charges overnight. We need to act quickly to protect your savings.",
	},
	model.StagePressure: {
		"Ma'am, this is urgent. If we don't verify your identity in the next few minutes, the account will be frozen.",
		"I understand this is stressful, but the fraud department needs your cooperation right now, or you could lose everything.",
	},
	model.StageStealingInfo: {
		"To confirm it's really you, I just need the card number on the front and the security code on the back.",
		"Please read me your social security number so I can pull up the protected file.",
	},
	model.StageDemandPayment: {
		"The fastest way to secure the funds is to transfer them to our safe holding account. I'll give you the routing number.",
		"You can also buy gift cards at the store and read me the codes. That keeps the money out of the thieves' hands.",
	},
}

var giveUpLines = []string{
	"You know what, forget it! I've wasted enough time on you. Goodbye!",
	"Unbelievable. An hour of my life I'm not getting back. I'm done with this call!",
}

// 受害者台词中这些特征视为"拖延"，会加速耐心衰减。
var stallingMarkers = []string{
	"hold on", "wait", "repeat", "what was that", "say that again",
	"can't hear", "bathroom", "my cat", "back in my day", "let me find",
	"speak up", "who is this again",
}

// 这些特征视为"配合"，会推进说服进度并保住耐心。
var complianceMarkers = []string{
	"okay", "sure", "of course", "let me get", "my card", "the number is",
	"i trust you", "what do you need",
}

// ScriptedScammer 按固定剧本推进诈骗阶段，并复刻原系统的
// 耐心衰减/挫败计数动力学：基础每轮 -0.15，明显拖延 -0.25，
// 配合 -0.05；耐心低于 0.25 或连续拖延 3 轮则放弃。
type ScriptedScammer struct {
	state model.ScammerState
	turn  int
}

func NewScriptedScammer() *ScriptedScammer {
	return &ScriptedScammer{
		state: model.ScammerState{
			CallerType:      model.CallerTypeScammer,
			PersuasionStage: model.StageBuildingTrust,
			PersuasionLevel: 0,
			Patience:        0.8,
		},
	}
}

func (s *ScriptedScammer) ProduceTurn(ctx context.Context, victimMessage string) (*TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.turn++

	if s.turn > 1 {
		s.reflect(victimMessage)
	}
	if s.state.GaveUp {
		// 放弃后不再推进阶段，编排器会转到 GiveUpLine。
		return &TurnResult{Signals: Signals{GaveUp: true}}, nil
	}

	s.escalate()

	lines := scammerLines[s.state.PersuasionStage]
	text := lines[(s.turn-1)%len(lines)]

	return &TurnResult{
		Text: text,
		Signals: Signals{
			GaveUp:             s.state.GaveUp,
			ExtractedSensitive: s.extractedSensitive(victimMessage),
		},
	}, nil
}

func (s *ScriptedScammer) GiveUpLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return giveUpLines[s.turn%len(giveUpLines)], nil
}

func (s *ScriptedScammer) Snapshot() model.ScammerState {
	return s.state
}

// reflect 根据受害者反应更新说服度/耐心/挫败计数。
func (s *ScriptedScammer) reflect(victimMessage string) {
	lower := strings.ToLower(victimMessage)
	stalling := containsAny(lower, stallingMarkers)
	compliant := containsAny(lower, complianceMarkers)

	persuasionDelta := 0.03
	patienceDelta := -0.15
	switch {
	case compliant:
		persuasionDelta = 0.15
		patienceDelta = -0.05
		s.state.VictimAnalysis = "victim sounds cooperative, keep pushing"
	case stalling:
		persuasionDelta = 0.0
		patienceDelta = -0.25
		s.state.VictimAnalysis = "victim keeps stalling, running out of time"
	default:
		s.state.VictimAnalysis = "victim is neutral, escalate slowly"
	}

	s.state.PersuasionLevel = clamp01(s.state.PersuasionLevel + persuasionDelta)
	s.state.Patience = clamp01(s.state.Patience + patienceDelta)

	if stalling && !compliant {
		s.state.FrustrationTurns++
	} else if s.state.FrustrationTurns > 0 {
		s.state.FrustrationTurns--
	}

	if s.state.Patience < 0.25 || s.state.FrustrationTurns >= 3 {
		s.state.GaveUp = true
	}
}

// escalate 按说服进度晋升阶段，阶段只进不退。
func (s *ScriptedScammer) escalate() {
	idx := stageIndex(s.state.PersuasionStage)
	// 每 2 轮或说服度越过阶段门槛时推进一级。
	want := s.turn / 2
	if byLevel := int(s.state.PersuasionLevel * float64(len(model.PersuasionStages))); byLevel > want {
		want = byLevel
	}
	if want > idx {
		idx = want
	}
	if idx >= len(model.PersuasionStages) {
		idx = len(model.PersuasionStages) - 1
	}
	s.state.PersuasionStage = model.PersuasionStages[idx]
}

// extractedSensitive 检查受害者是否真的报出了敏感信息。
func (s *ScriptedScammer) extractedSensitive(victimMessage string) bool {
	lower := strings.ToLower(victimMessage)
	if strings.Contains(lower, "my social security number is") ||
		strings.Contains(lower, "my card number is") ||
		strings.Contains(lower, "the pin is") {
		return true
	}
	return false
}

func stageIndex(stage model.PersuasionStage) int {
	for i, s := range model.PersuasionStages {
		if s == stage {
			return i
		}
	}
	return 0
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
