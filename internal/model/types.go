package model

// CallerType 表示发起呼叫的一方是哪种场景角色。
// scammer 是对抗性诈骗来电，family 是善意家人来电（用于测误报率）。
type CallerType string

const (
	CallerTypeScammer CallerType = "scammer"
	CallerTypeFamily  CallerType = "family"
)

// Speaker 表示一条消息/一段音频属于哪个说话人。
type Speaker string

const (
	SpeakerScammer Speaker = "scammer"
	SpeakerSenior  Speaker = "senior"
)

// PersuasionStage 是诈骗方的固定推进阶段序列。
type PersuasionStage string

const (
	StageBuildingTrust PersuasionStage = "building_trust"
	StageFakeProblem   PersuasionStage = "fake_problem"
	StagePressure      PersuasionStage = "pressure"
	StageStealingInfo  PersuasionStage = "stealing_info"
	StageDemandPayment PersuasionStage = "demand_payment"
)

// PersuasionStages 按推进顺序排列，供诈骗方逐级晋升使用。
var PersuasionStages = []PersuasionStage{
	StageBuildingTrust,
	StageFakeProblem,
	StagePressure,
	StageStealingInfo,
	StageDemandPayment,
}

// ScammerState 是来电方状态快照，随消息事件整体下发给前端。
// family 模式复用同一结构：固定阶段字段 + 额外的身份字段。
type ScammerState struct {
	CallerType       CallerType      `json:"caller_type"`
	PersuasionStage  PersuasionStage `json:"persuasion_stage"`
	PersuasionLevel  float64         `json:"persuasion_level"`
	Patience         float64         `json:"patience"`
	FrustrationTurns int             `json:"frustration_turns"`
	GaveUp           bool            `json:"gave_up"`
	VictimAnalysis   string          `json:"victim_analysis"`

	// family 模式附加字段
	Recognized   bool   `json:"recognized,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	CallerName   string `json:"caller_name,omitempty"`
	CallReason   string `json:"call_reason,omitempty"`
}

// SeniorState 是防守方（老人代理）状态快照。
type SeniorState struct {
	ScamConfidence       float64 `json:"scam_confidence"`
	CallerClassification string  `json:"caller_classification"`
	HandoffDecision      string  `json:"handoff_decision"`
	DelayStrategyLevel   int     `json:"delay_strategy_level"`
	CurrentTactic        string  `json:"current_tactic"`
	ScamAnalysis         string  `json:"scam_analysis"`
}

// SimulationConfig 是客户端 start 指令携带的仿真配置。
type SimulationConfig struct {
	MaxTurns    int        `json:"max_turns"`
	EnableVoice bool       `json:"enable_voice"`
	CallerType  CallerType `json:"caller_type"`
}

// Normalize 补齐缺省配置，保证编排器拿到的一定是合法值。
func (c SimulationConfig) Normalize() SimulationConfig {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 15
	}
	if c.CallerType != CallerTypeFamily {
		c.CallerType = CallerTypeScammer
	}
	return c
}

// EndReason 是仿真结束原因，由停止策略按优先级写入。
type EndReason string

const (
	EndReasonPersuasionSucceeded EndReason = "persuasion_succeeded"
	EndReasonSensitiveExtracted  EndReason = "sensitive_info_extracted"
	EndReasonScammerGaveUp       EndReason = "scammer_gave_up"
	EndReasonHandoff             EndReason = "handoff"
	EndReasonSensitiveLeaked     EndReason = "sensitive_info_leaked"
	EndReasonMaxTurns            EndReason = "max_turns"
	EndReasonStopped             EndReason = "stopped"
	EndReasonError               EndReason = "error"
)

// SimulationStatus 是 REST 状态查询的只读投影。
type SimulationStatus struct {
	Running   bool      `json:"running"`
	Turn      int       `json:"turn"`
	Completed bool      `json:"completed"`
	EndReason EndReason `json:"end_reason,omitempty"`
}
