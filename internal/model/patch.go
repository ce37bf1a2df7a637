package model

// 状态快照在线路上以"补丁"形式解码：全部字段为指针，缺省字段表示
// 沿用客户端上一次已知值（last-known-value 语义）。服务端总是下发完整
// 快照，但客户端不能依赖这一点——旧版服务端会省略未变化字段。

// ScammerStatePatch 是 ScammerState 的逐字段补丁。
type ScammerStatePatch struct {
	CallerType       *CallerType      `json:"caller_type"`
	PersuasionStage  *PersuasionStage `json:"persuasion_stage"`
	PersuasionLevel  *float64         `json:"persuasion_level"`
	Patience         *float64         `json:"patience"`
	FrustrationTurns *int             `json:"frustration_turns"`
	GaveUp           *bool            `json:"gave_up"`
	VictimAnalysis   *string          `json:"victim_analysis"`
	Recognized       *bool            `json:"recognized"`
	Relationship     *string          `json:"relationship"`
	CallerName       *string          `json:"caller_name"`
	CallReason       *string          `json:"call_reason"`
}

// ApplyTo 将补丁叠加到前一份快照上，返回新快照。
func (p *ScammerStatePatch) ApplyTo(prev ScammerState) ScammerState {
	if p == nil {
		return prev
	}
	next := prev
	if p.CallerType != nil {
		next.CallerType = *p.CallerType
	}
	if p.PersuasionStage != nil {
		next.PersuasionStage = *p.PersuasionStage
	}
	if p.PersuasionLevel != nil {
		next.PersuasionLevel = *p.PersuasionLevel
	}
	if p.Patience != nil {
		next.Patience = *p.Patience
	}
	if p.FrustrationTurns != nil {
		next.FrustrationTurns = *p.FrustrationTurns
	}
	if p.GaveUp != nil {
		next.GaveUp = *p.GaveUp
	}
	if p.VictimAnalysis != nil {
		next.VictimAnalysis = *p.VictimAnalysis
	}
	if p.Recognized != nil {
		next.Recognized = *p.Recognized
	}
	if p.Relationship != nil {
		next.Relationship = *p.Relationship
	}
	if p.CallerName != nil {
		next.CallerName = *p.CallerName
	}
	if p.CallReason != nil {
		next.CallReason = *p.CallReason
	}
	return next
}

// SeniorStatePatch 是 SeniorState 的逐字段补丁。
type SeniorStatePatch struct {
	ScamConfidence       *float64 `json:"scam_confidence"`
	CallerClassification *string  `json:"caller_classification"`
	HandoffDecision      *string  `json:"handoff_decision"`
	DelayStrategyLevel   *int     `json:"delay_strategy_level"`
	CurrentTactic        *string  `json:"current_tactic"`
	ScamAnalysis         *string  `json:"scam_analysis"`
}

// ApplyTo 将补丁叠加到前一份快照上，返回新快照。
func (p *SeniorStatePatch) ApplyTo(prev SeniorState) SeniorState {
	if p == nil {
		return prev
	}
	next := prev
	if p.ScamConfidence != nil {
		next.ScamConfidence = *p.ScamConfidence
	}
	if p.CallerClassification != nil {
		next.CallerClassification = *p.CallerClassification
	}
	if p.HandoffDecision != nil {
		next.HandoffDecision = *p.HandoffDecision
	}
	if p.DelayStrategyLevel != nil {
		next.DelayStrategyLevel = *p.DelayStrategyLevel
	}
	if p.CurrentTactic != nil {
		next.CurrentTactic = *p.CurrentTactic
	}
	if p.ScamAnalysis != nil {
		next.ScamAnalysis = *p.ScamAnalysis
	}
	return next
}
