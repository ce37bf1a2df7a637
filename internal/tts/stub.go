package tts

import (
	"context"
	"math"
)

// StubSynthesizer 本地生成正弦波 PCM，不依赖外部服务。
// 时长按说话速度估算，块大小固定，用于离线演示与测试。
type StubSynthesizer struct {
	Rate      int
	ChunkSize int
}

func NewStub(sampleRate int) *StubSynthesizer {
	return &StubSynthesizer{Rate: sampleRate, ChunkSize: 4800}
}

func (s *StubSynthesizer) Enabled() bool { return true }

func (s *StubSynthesizer) SampleRate() int { return s.Rate }

func (s *StubSynthesizer) StreamSpeech(ctx context.Context, text, voiceID string) (<-chan []byte, error) {
	duration := EstimateSpeakingDuration(text)
	totalSamples := int(duration * float64(s.Rate))

	// 不同 voice 给不同音高，方便人耳区分两个说话人。
	freq := 220.0
	if voiceID != "" && voiceID[0] >= 'm' {
		freq = 330.0
	}

	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		for offset := 0; offset < totalSamples; {
			n := s.ChunkSize
			if offset+n > totalSamples {
				n = totalSamples - offset
			}
			chunk := make([]byte, n*2)
			for i := 0; i < n; i++ {
				v := int16(8000 * math.Sin(2*math.Pi*freq*float64(offset+i)/float64(s.Rate)))
				chunk[i*2] = byte(v)
				chunk[i*2+1] = byte(v >> 8)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			offset += n
		}
	}()
	return out, nil
}

// EstimateSpeakingDuration 按词数估算朗读时长（秒），约 2.8 词/秒，
// 夹在 [0.8, 12] 秒之间。纯字幕路径和播完回执超时都用它。
func EstimateSpeakingDuration(text string) float64 {
	words := 0
	inWord := false
	for i := 0; i < len(text); i++ {
		if text[i] == ' ' || text[i] == '\t' || text[i] == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}
	if words < 1 {
		words = 1
	}
	d := float64(words) / 2.8
	if d < 0.8 {
		d = 0.8
	}
	if d > 12 {
		d = 12
	}
	return d
}
