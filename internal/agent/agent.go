// Package agent 定义对话代理的能力边界。
//
// 编排器只依赖 ProduceTurn 契约（输入对方台词，输出本方台词、状态快照和
// 终局信号），不关心代理内部是 LLM 图还是脚本。包内自带的脚本实现复刻了
// 原系统各代理可观测的状态动力学，供默认进程与测试使用。
package agent

import (
	"context"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// Signals 是代理在一轮结束后上报的终局信号，编排器据此执行停止策略。
type Signals struct {
	GaveUp             bool
	ExtractedSensitive bool
	LeakedSensitive    bool
	Handoff            bool
}

// TurnResult 是一次 produce_turn 的输出。
type TurnResult struct {
	Text    string
	Signals Signals
}

// Caller 是来电方代理（scammer 或 family 场景）。
type Caller interface {
	// ProduceTurn 基于受害者上一条台词生成本轮台词并更新内部状态。
	ProduceTurn(ctx context.Context, victimMessage string) (*TurnResult, error)
	// GiveUpLine 在放弃信号触发后生成挂断台词。
	GiveUpLine(ctx context.Context) (string, error)
	// Snapshot 返回当前状态快照，随消息事件下发。
	Snapshot() model.ScammerState
}

// Senior 是防守方代理。
type Senior interface {
	ProduceTurn(ctx context.Context, callerMessage string) (*TurnResult, error)
	Snapshot() model.SeniorState
}

// NewCaller 按场景类型构造脚本来电方。
func NewCaller(callerType model.CallerType) Caller {
	if callerType == model.CallerTypeFamily {
		return NewScriptedFamily()
	}
	return NewScriptedScammer()
}
