package client

import (
	"encoding/base64"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// fakeOutput 是手动时钟的音频出口，记录每次投放的起播时刻与时长。
type fakeOutput struct {
	mu    sync.Mutex
	clock float64
	plays []playCall
}

type playCall struct {
	when     float64
	duration float64
	rate     int
}

func (f *fakeOutput) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

func (f *fakeOutput) advance(seconds float64) {
	f.mu.Lock()
	f.clock += seconds
	f.mu.Unlock()
}

func (f *fakeOutput) PlayAt(samples []float32, sampleRate int, when float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, playCall{
		when:     when,
		duration: float64(len(samples)) / float64(sampleRate),
		rate:     sampleRate,
	})
}

func (f *fakeOutput) calls() []playCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]playCall, len(f.plays))
	copy(out, f.plays)
	return out
}

func (f *fakeOutput) Close() error { return nil }

func newTestScheduler(ack AckFunc) (*Scheduler, *fakeOutput) {
	out := &fakeOutput{}
	return NewScheduler(func() (Output, error) { return out, nil }, ack), out
}

// pcmChunk 生成 n 个采样的静音 PCM16 并 base64 编码。
func pcmChunk(n int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, n*2))
}

// TestSchedulerGaplessChunks 验证同一条流的块首尾相接、互不重叠。
// 场景：24kHz 流连投三块，各块起播时刻应等于前一块的结束时刻。
func TestSchedulerGaplessChunks(t *testing.T) {
	s, out := newTestScheduler(nil)

	s.OnStreamStart(1, model.SpeakerScammer, 24000)
	s.OnChunk(1, model.SpeakerScammer, pcmChunk(2400)) // 0.1s
	s.OnChunk(1, model.SpeakerScammer, pcmChunk(4800)) // 0.2s
	s.OnChunk(1, model.SpeakerScammer, pcmChunk(1200)) // 0.05s

	calls := out.calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 scheduled buffers, got %d", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		wantStart := calls[i-1].when + calls[i-1].duration
		if diff := calls[i].when - wantStart; diff < -1e-9 || diff > 1e-9 {
			t.Fatalf("chunk %d overlaps or gaps: start=%v want=%v", i, calls[i].when, wantStart)
		}
	}
	if first := calls[0].when; first < scheduleMargin {
		t.Fatalf("expected first chunk no earlier than now+margin, got %v", first)
	}
}

// TestSchedulerNeverSchedulesInPast 验证时钟越过游标后新块从"现在"起播。
// 场景：第一块播完后时钟前进，第二块的起播时刻应被拉到 now+margin 而非旧游标。
func TestSchedulerNeverSchedulesInPast(t *testing.T) {
	s, out := newTestScheduler(nil)

	s.OnStreamStart(1, model.SpeakerSenior, 24000)
	s.OnChunk(1, model.SpeakerSenior, pcmChunk(2400)) // cursor ≈ 0.11
	out.advance(5)                                    // 时钟远超游标
	s.OnChunk(1, model.SpeakerSenior, pcmChunk(2400))

	calls := out.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 scheduled buffers, got %d", len(calls))
	}
	if calls[1].when < 5+scheduleMargin {
		t.Fatalf("expected second chunk scheduled at or after now+margin, got %v", calls[1].when)
	}
}

// TestSchedulerDropsStaleChunks 验证陈旧流身份的块与结束事件被丢弃。
// 场景：新流开启后，旧 (turn, speaker) 的块不投放、旧流的 end 不动游标。
func TestSchedulerDropsStaleChunks(t *testing.T) {
	s, out := newTestScheduler(nil)

	s.OnStreamStart(1, model.SpeakerScammer, 24000)
	s.OnChunk(1, model.SpeakerScammer, pcmChunk(2400))
	s.OnStreamStart(2, model.SpeakerSenior, 24000)

	s.OnChunk(1, model.SpeakerScammer, pcmChunk(2400)) // 陈旧
	s.OnStreamEnd(1, model.SpeakerScammer)             // 陈旧

	if got := len(out.calls()); got != 1 {
		t.Fatalf("expected stale chunk dropped, got %d plays", got)
	}
	if s.HasPendingAck() {
		t.Fatalf("expected no ack timer armed by stale stream end")
	}
}

// TestSchedulerAckAfterRemainingAudio 验证回执在剩余音频播完之后才发出，且只发一次。
// 场景：排期 0.05s 音频后收到流结束，回执应在剩余时长加松弛之后到达。
func TestSchedulerAckAfterRemainingAudio(t *testing.T) {
	acks := make(chan Ack, 4)
	s, _ := newTestScheduler(func(turn int, speaker model.Speaker) {
		acks <- Ack{Turn: turn, Speaker: speaker}
	})

	s.OnStreamStart(3, model.SpeakerScammer, 24000)
	s.OnChunk(3, model.SpeakerScammer, pcmChunk(1200)) // 0.05s
	armed := time.Now()
	s.OnStreamEnd(3, model.SpeakerScammer)

	select {
	case ack := <-acks:
		if ack.Turn != 3 || ack.Speaker != model.SpeakerScammer {
			t.Fatalf("unexpected ack identity: %+v", ack)
		}
		if waited := time.Since(armed); waited < 250*time.Millisecond {
			t.Fatalf("ack fired before remaining audio finished: %v", waited)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected ack to fire")
	}

	select {
	case <-acks:
		t.Fatalf("expected exactly one ack")
	case <-time.After(500 * time.Millisecond):
	}
}

// Ack 是测试里记录回执身份的小结构。
type Ack struct {
	Turn    int
	Speaker model.Speaker
}

// TestSchedulerAckCancelledByNewStream 验证新流开启会作废挂起的回执定时器。
// 场景：流结束后立刻开新流，旧流的回执不应再发出。
func TestSchedulerAckCancelledByNewStream(t *testing.T) {
	acks := make(chan Ack, 4)
	s, _ := newTestScheduler(func(turn int, speaker model.Speaker) {
		acks <- Ack{Turn: turn, Speaker: speaker}
	})

	s.OnStreamStart(1, model.SpeakerScammer, 24000)
	s.OnStreamEnd(1, model.SpeakerScammer)
	s.OnStreamStart(2, model.SpeakerSenior, 24000)

	select {
	case ack := <-acks:
		t.Fatalf("expected cancelled ack, got %+v", ack)
	case <-time.After(600 * time.Millisecond):
	}
	if s.HasPendingAck() {
		t.Fatalf("expected old timer discarded")
	}
}

// TestSchedulerResetClearsState 验证重置清空活跃流、游标与回执定时器。
// 场景：重置后旧流的块被当作陈旧丢弃，游标归零。
func TestSchedulerResetClearsState(t *testing.T) {
	s, out := newTestScheduler(func(int, model.Speaker) {
		t.Errorf("ack must not fire after reset")
	})

	s.OnStreamStart(1, model.SpeakerScammer, 24000)
	s.OnChunk(1, model.SpeakerScammer, pcmChunk(2400))
	s.OnStreamEnd(1, model.SpeakerScammer)
	s.Reset()

	if s.Cursor() != 0 || s.HasPendingAck() {
		t.Fatalf("expected cursor 0 and no pending ack after reset")
	}
	s.OnChunk(1, model.SpeakerScammer, pcmChunk(2400))
	if got := len(out.calls()); got != 1 {
		t.Fatalf("expected post-reset chunk dropped, got %d plays", got)
	}
	time.Sleep(400 * time.Millisecond)
}

// TestDecodePCM16TwosComplement 验证 16 位小端解码的符号与量程。
// 场景：0x7FFF→接近 1，0x8000→-1，0x0000→0；奇数尾字节被忽略。
func TestDecodePCM16TwosComplement(t *testing.T) {
	raw := []byte{0xFF, 0x7F, 0x00, 0x80, 0x00, 0x00, 0xAB}
	samples := DecodePCM16(raw)

	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[0] != 32767.0/32768.0 {
		t.Fatalf("expected max positive sample, got %v", samples[0])
	}
	if samples[1] != -1.0 {
		t.Fatalf("expected -1.0 for 0x8000, got %v", samples[1])
	}
	if samples[2] != 0 {
		t.Fatalf("expected silence sample, got %v", samples[2])
	}
}

// buildWAV 组装最小可用的 16-bit 单声道 RIFF/WAVE 容器。
func buildWAV(sampleRate int, pcm []byte) []byte {
	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// TestSchedulerPlayClip 验证整段预合成音频走同一条排期路径。
// 场景：16kHz 的 WAV 片段应以容器声明的采样率投放，时长与数据一致。
func TestSchedulerPlayClip(t *testing.T) {
	s, out := newTestScheduler(nil)

	wav := buildWAV(16000, make([]byte, 3200)) // 0.1s @ 16kHz
	s.PlayClip(base64.StdEncoding.EncodeToString(wav))

	calls := out.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 play, got %d", len(calls))
	}
	if calls[0].rate != 16000 {
		t.Fatalf("expected rate 16000 from container, got %d", calls[0].rate)
	}
	if d := calls[0].duration; d < 0.099 || d > 0.101 {
		t.Fatalf("expected 0.1s clip, got %v", d)
	}
}

// TestSchedulerBadChunkSkipped 验证坏块只被跳过，不影响后续块。
// 场景：非法 base64 之后的合法块仍按原游标排期。
func TestSchedulerBadChunkSkipped(t *testing.T) {
	s, out := newTestScheduler(nil)

	s.OnStreamStart(1, model.SpeakerScammer, 24000)
	s.OnChunk(1, model.SpeakerScammer, "!!!not-base64!!!")
	s.OnChunk(1, model.SpeakerScammer, pcmChunk(2400))

	if got := len(out.calls()); got != 1 {
		t.Fatalf("expected bad chunk skipped and good chunk played, got %d plays", got)
	}
}
