package model

import "encoding/json"

// ServerEventType 是服务端下发事件的类型名（协议字段 type）。
type ServerEventType string

const (
	EventSimulationStarted ServerEventType = "simulation_started"
	EventTurnStart         ServerEventType = "turn_start"
	EventScammerMessage    ServerEventType = "scammer_message"
	EventSeniorMessage     ServerEventType = "senior_message"
	EventScammerGaveUp     ServerEventType = "scammer_gave_up"
	EventTTSStreamStart    ServerEventType = "tts_stream_start"
	EventTTSStreamChunk    ServerEventType = "tts_stream_chunk"
	EventTTSStreamEnd      ServerEventType = "tts_stream_end"
	EventLiveCaption       ServerEventType = "live_caption"
	EventLiveCaptionDone   ServerEventType = "live_caption_done"
	EventSimulationEnd     ServerEventType = "simulation_end"
	EventSimulationStopped ServerEventType = "simulation_stopped"
	EventError             ServerEventType = "error"
)

// ServerEvent 是服务端下发的事件帧：{type, seq, data}。
// Seq 由发送器单调分配，便于客户端排查乱序问题。
type ServerEvent struct {
	Type ServerEventType `json:"type"`
	Seq  int64           `json:"seq,omitempty"`
	Data any             `json:"data"`
}

// Envelope 是客户端侧的入站事件帧，Data 延迟解码。
type Envelope struct {
	Type ServerEventType `json:"type"`
	Seq  int64           `json:"seq,omitempty"`
	Data json.RawMessage `json:"data"`
}

// 客户端上行指令的 action 名。
const (
	ActionStart        = "start"
	ActionStop         = "stop"
	ActionPlaybackDone = "tts_playback_done"
)

// ClientCommand 是客户端上行的指令帧：{action, ...payload}。
type ClientCommand struct {
	Action  string            `json:"action"`
	Config  *SimulationConfig `json:"config,omitempty"`
	Turn    int               `json:"turn,omitempty"`
	Speaker Speaker           `json:"speaker,omitempty"`
}

// SimulationStartedData 回显服务端采纳的配置与双方初始状态。
type SimulationStartedData struct {
	MaxTurns     int           `json:"max_turns"`
	CallerType   CallerType    `json:"caller_type"`
	VoiceEnabled bool          `json:"voice_enabled"`
	ScammerState *ScammerState `json:"scammer_state"`
	SeniorState  *SeniorState  `json:"senior_state"`
}

// TurnStartData 携带新轮次编号。指针类型：缺省时客户端沿用上一轮。
type TurnStartData struct {
	Turn *int `json:"turn"`
}

// SpeakerMessageData 是 scammer_message / senior_message / scammer_gave_up 的载荷。
// AudioBase64 是整段预合成音频的兼容字段；分块路径下始终为 null。
// 服务端总是下发完整状态快照；客户端按补丁语义解码（见 patch.go）。
type SpeakerMessageData struct {
	Turn         int           `json:"turn"`
	Message      string        `json:"message"`
	AudioBase64  *string       `json:"audio_base64"`
	ScammerState *ScammerState `json:"scammer_state,omitempty"`
	SeniorState  *SeniorState  `json:"senior_state,omitempty"`
}

// TTSStreamStartData 宣告一条新的 PCM 流，(turn, speaker) 即流身份。
type TTSStreamStartData struct {
	Turn          int     `json:"turn"`
	Speaker       Speaker `json:"speaker"`
	SampleRate    int     `json:"sample_rate"`
	AudioEncoding string  `json:"audio_encoding,omitempty"`
}

// TTSStreamChunkData 携带一段任意长度的 base64 PCM16 单声道数据。
type TTSStreamChunkData struct {
	Turn             int     `json:"turn"`
	Speaker          Speaker `json:"speaker"`
	AudioChunkBase64 string  `json:"audio_chunk_base64"`
}

// TTSStreamEndData 宣告流结束，客户端据此安排播完回执。
type TTSStreamEndData struct {
	Turn    int     `json:"turn"`
	Speaker Speaker `json:"speaker"`
}

// LiveCaptionData 是一条句级实时字幕。
type LiveCaptionData struct {
	Turn            int     `json:"turn"`
	Speaker         Speaker `json:"speaker"`
	Sentence        string  `json:"sentence"`
	SentenceIndex   int     `json:"sentence_index"`
	IsFinalSentence bool    `json:"is_final_sentence"`
}

// LiveCaptionDoneData 宣告本轮字幕推送完毕。
type LiveCaptionDoneData struct {
	Turn    int     `json:"turn,omitempty"`
	Speaker Speaker `json:"speaker,omitempty"`
}

// SimulationEndData 携带终局原因与双方最终状态。
type SimulationEndData struct {
	Reason       EndReason     `json:"reason"`
	Message      string        `json:"message,omitempty"`
	ScammerState *ScammerState `json:"scammer_state,omitempty"`
	SeniorState  *SeniorState  `json:"senior_state,omitempty"`
}

// ErrorData 是不可恢复失败的终端事件载荷。
type ErrorData struct {
	Message string `json:"message,omitempty"`
}
