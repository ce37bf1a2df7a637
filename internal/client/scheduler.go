package client

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/logx"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// Output 是音频输出设备抽象：一个共享音频时钟和一个按时刻投放
// 缓冲区的出口。实现可以是真实声卡，也可以是测试里的假时钟。
type Output interface {
	// Now 返回音频时钟当前时刻（秒）。单调不减。
	Now() float64
	// PlayAt 在时钟时刻 when 播放一段单声道浮点采样。
	PlayAt(samples []float32, sampleRate int, when float64)
	Close() error
}

// AckFunc 在一条流的所有已排期音频播完后被调用一次。
type AckFunc func(turn int, speaker model.Speaker)

// 排期安全边距与播完回执的固定松弛量。
const (
	scheduleMargin = 0.01
	ackSlack       = 250 * time.Millisecond
)

type streamIdentity struct {
	turn       int
	speaker    model.Speaker
	sampleRate int
}

// Scheduler 把 base64 PCM16 块解码后排进一条无缝播放时间线。
//
// 不变式：
// - 同一条流的块在时间线上互不重叠，也绝不早于"现在"起播。
// - 与活跃流身份不符的块/结束事件直接丢弃（陈旧流抑制）。
// - 播完回执定时器可被新流、重置或关闭取代，且至多触发一次。
type Scheduler struct {
	mu sync.Mutex

	newOutput func() (Output, error)
	out       Output

	active *streamIdentity
	// cursor 是下一块的起播时刻，单调不减。
	cursor float64

	ack      AckFunc
	ackTimer *time.Timer

	closed bool
}

// NewScheduler 构造调度器。输出设备懒创建：第一块音频到来前不碰声卡。
func NewScheduler(newOutput func() (Output, error), ack AckFunc) *Scheduler {
	return &Scheduler{newOutput: newOutput, ack: ack}
}

func (s *Scheduler) ensureOutput() (Output, error) {
	if s.out != nil {
		return s.out, nil
	}
	out, err := s.newOutput()
	if err != nil {
		return nil, err
	}
	s.out = out
	return out, nil
}

// OnStreamStart 切换活跃流身份。旧流的回执定时器即刻作废。
func (s *Scheduler) OnStreamStart(turn int, speaker model.Speaker, sampleRate int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || sampleRate <= 0 {
		return
	}

	s.cancelAckLocked()
	s.active = &streamIdentity{turn: turn, speaker: speaker, sampleRate: sampleRate}

	// 时钟游标落后于"现在"时拉齐，保证首块不会被排到过去。
	if out, err := s.ensureOutput(); err == nil {
		if floor := out.Now() + scheduleMargin; s.cursor < floor {
			s.cursor = floor
		}
	}
}

// OnChunk 解码并排期一块 PCM。身份不匹配时丢弃。
func (s *Scheduler) OnChunk(turn int, speaker model.Speaker, chunkBase64 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.matchesLocked(turn, speaker) {
		logx.Debugf("[Scheduler] stale chunk dropped: turn=%d speaker=%s", turn, speaker)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(chunkBase64)
	if err != nil || len(raw) < 2 {
		// 解码失败只跳过这一块，不影响会话。
		if err != nil {
			logx.Debugf("[Scheduler] chunk decode failed: %v", err)
		}
		return
	}

	s.scheduleLocked(DecodePCM16(raw), s.active.sampleRate)
}

// OnStreamEnd 为活跃流安排播完回执：剩余排期时长 + 固定松弛后触发。
// 身份不匹配时不动游标也不动定时器。
func (s *Scheduler) OnStreamEnd(turn int, speaker model.Speaker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.matchesLocked(turn, speaker) {
		logx.Debugf("[Scheduler] stale stream end dropped: turn=%d speaker=%s", turn, speaker)
		return
	}

	remaining := 0.0
	if s.out != nil {
		if r := s.cursor - s.out.Now(); r > 0 {
			remaining = r
		}
	}

	s.cancelAckLocked()
	delay := time.Duration(remaining*float64(time.Second)) + ackSlack
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.fireAck(turn, speaker, timer)
	})
	s.ackTimer = timer
	s.active = nil
}

// fireAck 只在定时器仍是当前挂起的那只时发出回执。
func (s *Scheduler) fireAck(turn int, speaker model.Speaker, timer *time.Timer) {
	s.mu.Lock()
	if s.ackTimer != timer {
		s.mu.Unlock()
		return
	}
	s.ackTimer = nil
	ack := s.ack
	s.mu.Unlock()

	if ack != nil {
		ack(turn, speaker)
	}
}

// PlayClip 播放整段预合成音频（16-bit WAV），作为单块流走同一条
// 排期路径：起播点同样取 max(cursor, now+margin)，天然不与前序重叠。
func (s *Scheduler) PlayClip(clipBase64 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	raw, err := base64.StdEncoding.DecodeString(clipBase64)
	if err != nil {
		logx.Debugf("[Scheduler] clip decode failed: %v", err)
		return
	}
	pcm, rate, err := parseWAV(raw)
	if err != nil {
		logx.Debugf("[Scheduler] clip parse failed: %v", err)
		return
	}

	s.scheduleLocked(DecodePCM16(pcm), rate)
}

func (s *Scheduler) scheduleLocked(samples []float32, sampleRate int) {
	if len(samples) == 0 || sampleRate <= 0 {
		return
	}
	out, err := s.ensureOutput()
	if err != nil {
		logx.Warnf("[Scheduler] audio output unavailable: %v", err)
		return
	}

	start := s.cursor
	if floor := out.Now() + scheduleMargin; start < floor {
		start = floor
	}
	out.PlayAt(samples, sampleRate, start)
	s.cursor = start + float64(len(samples))/float64(sampleRate)
}

// Cursor 返回下一块的排期时刻，测试用。
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// HasPendingAck 返回是否有未触发的回执定时器，测试用。
func (s *Scheduler) HasPendingAck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackTimer != nil
}

// Reset 清空活跃流身份、作废回执定时器并把游标归零。
// 输出设备保留复用（音频上下文创建昂贵）。
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAckLocked()
	s.active = nil
	s.cursor = 0
}

// Close 终止调度器并释放输出设备。之后所有事件都是空操作。
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancelAckLocked()
	s.active = nil
	if s.out != nil {
		err := s.out.Close()
		s.out = nil
		return err
	}
	return nil
}

func (s *Scheduler) matchesLocked(turn int, speaker model.Speaker) bool {
	return s.active != nil && s.active.turn == turn && s.active.speaker == speaker
}

func (s *Scheduler) cancelAckLocked() {
	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}
}

// DecodePCM16 把小端 16-bit 有符号 PCM 解码为 [-1,1) 浮点采样。
// ≥0x8000 的值按二补码回绕为负。字节数为奇数时忽略最后一个尾字节。
func DecodePCM16(raw []byte) []float32 {
	n := len(raw) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// parseWAV 从 RIFF/WAVE 容器中取出 16-bit PCM 数据与采样率。
// 只支持单声道 16-bit，这是服务端合成的唯一格式。
func parseWAV(raw []byte) (pcm []byte, sampleRate int, err error) {
	if len(raw) < 44 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a wav file")
	}

	var bitsPerSample uint16
	pos := 12
	for pos+8 <= len(raw) {
		chunkID := string(raw[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(raw) {
			chunkSize = len(raw) - body
		}
		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 {
				sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
				bitsPerSample = binary.LittleEndian.Uint16(raw[body+14 : body+16])
			}
		case "data":
			pcm = raw[body : body+chunkSize]
		}
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++ // RIFF 块按偶数字节对齐
		}
	}

	if pcm == nil || sampleRate <= 0 {
		return nil, 0, fmt.Errorf("wav missing fmt/data chunk")
	}
	if bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bits per sample: %d", bitsPerSample)
	}
	return pcm, sampleRate, nil
}
