package agent

import (
	"context"
	"strings"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

var familyLines = []string{
	"Hi Grandma, it's me, Danny! Your grandson. Just calling to check in on you.",
	"It's Danny, Grandma — Susan's boy. I was thinking about coming to visit for Thanksgiving.",
	"I miss your apple pie! Mom says hi too. How have you been feeling?",
	"That's great to hear. I'll let you get back to your afternoon, just wanted to say I love you.",
}

// ScriptedFamily 是善意家人来电，用于测防守方的误报率。
// 没有诈骗阶段可言：阶段字段固定在 building_trust，目标是被认出并完成移交。
type ScriptedFamily struct {
	state model.ScammerState
	turn  int
}

func NewScriptedFamily() *ScriptedFamily {
	return &ScriptedFamily{
		state: model.ScammerState{
			CallerType:      model.CallerTypeFamily,
			PersuasionStage: model.StageBuildingTrust,
			Patience:        1.0,
			Relationship:    "grandson",
			CallerName:      "Danny",
			CallReason:      "checking in",
		},
	}
}

func (f *ScriptedFamily) ProduceTurn(ctx context.Context, seniorMessage string) (*TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.turn++

	lower := strings.ToLower(seniorMessage)
	if strings.Contains(lower, "danny") || strings.Contains(lower, "dear") ||
		strings.Contains(lower, "lovely") {
		f.state.Recognized = true
	}

	text := familyLines[(f.turn-1)%len(familyLines)]
	return &TurnResult{Text: text}, nil
}

func (f *ScriptedFamily) GiveUpLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// 家人不会怒挂电话，给一句温和的收尾即可。
	return "Alright Grandma, talk soon. Love you!", nil
}

func (f *ScriptedFamily) Snapshot() model.ScammerState {
	return f.state
}
