// Package bridge 把编排器的轮次产出序列化为线协议事件流：
// 消息事件、增量 TTS 音频块、句级字幕，以及播完回执的背压等待。
package bridge

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/logx"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/tts"
)

// Sink 是事件出口，由传输层实现（WebSocket 写半边）。
// 实现必须可被多 goroutine 调用。
type Sink interface {
	Send(evt model.ServerEvent) error
}

// Ack 是客户端对一条 PCM 流的播完回执身份。
type Ack struct {
	Turn    int
	Speaker model.Speaker
}

// Options 桥接配置。
type Options struct {
	Synth        tts.Synthesizer
	ScammerVoice string
	SeniorVoice  string
	VoiceEnabled bool

	// AckTimeoutCap 是播完回执等待的绝对上限；实际等待还会按
	// 预计播放时长收紧为 min(cap, max(2s, 预计时长+2s))，防止客户端
	// 音频挂掉时服务端永久停摆。
	AckTimeoutCap time.Duration
}

// Bridge 按线协议规定的事件顺序下发一轮的全部事件，并在流结束后等待回执。
// 一个 Bridge 服务一次仿真，不做跨会话复用。
type Bridge struct {
	sink Sink
	opts Options

	seqMu sync.Mutex
	seq   int64

	acks chan Ack
}

func New(sink Sink, opts Options) *Bridge {
	if opts.AckTimeoutCap <= 0 {
		opts.AckTimeoutCap = 45 * time.Second
	}
	return &Bridge{
		sink: sink,
		opts: opts,
		acks: make(chan Ack, 8),
	}
}

// VoiceEnabled 返回本次仿真是否走语音路径。
func (b *Bridge) VoiceEnabled() bool {
	return b.opts.VoiceEnabled && b.opts.Synth != nil && b.opts.Synth.Enabled()
}

// Send 给事件分配单调序号后交给出口。
func (b *Bridge) Send(evtType model.ServerEventType, data any) error {
	b.seqMu.Lock()
	b.seq++
	seq := b.seq
	b.seqMu.Unlock()

	return b.sink.Send(model.ServerEvent{Type: evtType, Seq: seq, Data: data})
}

// NotifyPlaybackDone 由传输层的读循环调用，把客户端回执路由给
// 正在等待的 SpeakTurn。队列满时丢弃最旧的回执（只可能是陈旧身份）。
func (b *Bridge) NotifyPlaybackDone(turn int, speaker model.Speaker) {
	ack := Ack{Turn: turn, Speaker: speaker}
	for {
		select {
		case b.acks <- ack:
			return
		default:
		}
		select {
		case <-b.acks:
		default:
		}
	}
}

// SpeakTurn 为一条台词下发语音与字幕。语音可用时走分块 PCM 流并
// 等待播完回执；否则只按估算语速推送字幕。
func (b *Bridge) SpeakTurn(ctx context.Context, turn int, speaker model.Speaker, text string) error {
	if b.VoiceEnabled() {
		return b.streamVoice(ctx, turn, speaker, text)
	}
	return b.streamCaptionsOnly(ctx, turn, speaker, text)
}

func (b *Bridge) voiceFor(speaker model.Speaker) string {
	if speaker == model.SpeakerSenior {
		return b.opts.SeniorVoice
	}
	return b.opts.ScammerVoice
}

// captionPlan 预先算好每句字幕的起播阈值（秒），按词数占比分摊总时长。
type captionPlan struct {
	sentences  []string
	thresholds []float64
	total      float64
	next       int
}

func planCaptions(text string) *captionPlan {
	sentences := tts.SplitSentences(text)
	estimated := tts.EstimateSpeakingDuration(text)
	minTotal := 0.35 * float64(len(sentences))
	total := estimated
	if minTotal > total {
		total = minTotal
	}

	counts := make([]int, len(sentences))
	sum := 0
	for i, s := range sentences {
		counts[i] = len(strings.Fields(s))
		if counts[i] < 1 {
			counts[i] = 1
		}
		sum += counts[i]
	}

	thresholds := make([]float64, len(sentences))
	cum := 0.0
	for i := range sentences {
		thresholds[i] = cum
		if sum > 0 {
			cum += total * float64(counts[i]) / float64(sum)
		}
	}

	return &captionPlan{sentences: sentences, thresholds: thresholds, total: total}
}

// emitDue 推送所有到点的字幕。audioOnly=false 时要求墙钟和已流出的
// 音频时长同时越过阈值，避免字幕跑在音频前面。
func (b *Bridge) emitDue(p *captionPlan, turn int, speaker model.Speaker, elapsed, streamed float64, timeOnly bool) {
	for p.next < len(p.sentences) {
		threshold := p.thresholds[p.next]
		timeReady := elapsed >= threshold
		audioReady := streamed >= threshold-0.05
		if timeOnly {
			if !timeReady {
				return
			}
		} else if !timeReady || !audioReady {
			return
		}
		b.sendCaption(p, turn, speaker)
	}
}

func (b *Bridge) sendCaption(p *captionPlan, turn int, speaker model.Speaker) {
	idx := p.next
	p.next++
	if err := b.Send(model.EventLiveCaption, model.LiveCaptionData{
		Turn:            turn,
		Speaker:         speaker,
		Sentence:        p.sentences[idx],
		SentenceIndex:   idx,
		IsFinalSentence: idx == len(p.sentences)-1,
	}); err != nil {
		logx.Warnf("[Bridge] send caption failed: %v", err)
	}
}

// streamVoice 实现 tts_stream_start → chunk* → end 的交错下发。
// 块在合成产出时即转发，不等整段文本合成完。
func (b *Bridge) streamVoice(ctx context.Context, turn int, speaker model.Speaker, text string) error {
	plan := planCaptions(text)
	rate := b.opts.Synth.SampleRate()

	if err := b.Send(model.EventTTSStreamStart, model.TTSStreamStartData{
		Turn:          turn,
		Speaker:       speaker,
		SampleRate:    rate,
		AudioEncoding: "pcm_s16le",
	}); err != nil {
		return err
	}
	start := time.Now()

	chunks, err := b.opts.Synth.StreamSpeech(ctx, text, b.voiceFor(speaker))
	if err != nil {
		// 合成起不来就退化为纯字幕，流仍然要正常收尾。
		logx.Errorf("[Bridge] start tts stream failed: %v", err)
		chunks = nil
	}

	totalBytes := 0
	streamed := 0.0
	if chunks != nil {
	recv:
		for {
			select {
			case <-ctx.Done():
				break recv
			case chunk, ok := <-chunks:
				if !ok {
					break recv
				}
				if len(chunk) == 0 {
					continue
				}
				if err := b.Send(model.EventTTSStreamChunk, model.TTSStreamChunkData{
					Turn:             turn,
					Speaker:          speaker,
					AudioChunkBase64: base64.StdEncoding.EncodeToString(chunk),
				}); err != nil {
					return err
				}
				totalBytes += len(chunk)
				streamed = float64(totalBytes) / float64(rate*2)
				b.emitDue(plan, turn, speaker, time.Since(start).Seconds(), streamed, false)
			}
		}
	}

	// 收尾：剩余字幕按墙钟节奏放完，超过安全线后一次性清空。
	finalStreamed := streamed
	if plan.total > finalStreamed {
		finalStreamed = plan.total
	}
	deadline := start.Add(time.Duration(plan.total*float64(time.Second)) + 600*time.Millisecond)
	for plan.next < len(plan.sentences) && ctx.Err() == nil {
		b.emitDue(plan, turn, speaker, time.Since(start).Seconds(), finalStreamed, true)
		if plan.next >= len(plan.sentences) {
			break
		}
		if time.Now().After(deadline) {
			for plan.next < len(plan.sentences) {
				b.sendCaption(plan, turn, speaker)
			}
			break
		}
		sleepCtx(ctx, 30*time.Millisecond)
	}
	if ctx.Err() != nil {
		// 停止抢占：直接清空剩余字幕，保证事件序列完整。
		for plan.next < len(plan.sentences) {
			b.sendCaption(plan, turn, speaker)
		}
	}

	if len(plan.sentences) > 0 {
		if err := b.Send(model.EventLiveCaptionDone, model.LiveCaptionDoneData{Turn: turn, Speaker: speaker}); err != nil {
			return err
		}
	}
	if err := b.Send(model.EventTTSStreamEnd, model.TTSStreamEndData{Turn: turn, Speaker: speaker}); err != nil {
		return err
	}

	return b.waitPlaybackDone(ctx, turn, speaker, finalStreamed)
}

// streamCaptionsOnly 是语音不可用时的纯字幕路径，按估算语速逐句推送。
func (b *Bridge) streamCaptionsOnly(ctx context.Context, turn int, speaker model.Speaker, text string) error {
	plan := planCaptions(text)
	if len(plan.sentences) == 0 {
		return nil
	}

	for i := range plan.sentences {
		b.sendCaption(plan, turn, speaker)

		delay := plan.total / float64(len(plan.sentences))
		if i+1 < len(plan.thresholds) {
			delay = plan.thresholds[i+1] - plan.thresholds[i]
		}
		if delay < 0.35 {
			delay = 0.35
		}
		if !sleepCtx(ctx, time.Duration(delay*float64(time.Second))) {
			break
		}
	}

	return b.Send(model.EventLiveCaptionDone, model.LiveCaptionDoneData{Turn: turn, Speaker: speaker})
}

// waitPlaybackDone 阻塞到收到匹配 (turn, speaker) 的回执或超时。
// 身份不匹配的回执属于陈旧流，丢弃后继续等。
func (b *Bridge) waitPlaybackDone(ctx context.Context, turn int, speaker model.Speaker, expectedSeconds float64) error {
	timeout := time.Duration((expectedSeconds + 2) * float64(time.Second))
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}
	if timeout > b.opts.AckTimeoutCap {
		timeout = b.opts.AckTimeoutCap
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			logx.Warnf("[Bridge] playback ack timeout: turn=%d speaker=%s waited=%v", turn, speaker, timeout)
			return nil
		case ack := <-b.acks:
			if ack.Turn == turn && ack.Speaker == speaker {
				return nil
			}
			logx.Debugf("[Bridge] stale playback ack dropped: turn=%d speaker=%s", ack.Turn, ack.Speaker)
		}
	}
}

// sleepCtx 可中断睡眠，返回 false 表示 ctx 先到期。
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
