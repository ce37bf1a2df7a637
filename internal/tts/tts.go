// Package tts 封装语音合成边界。核心只依赖 Synthesizer 契约：
// 文本进、PCM16 块流出，块在合成过程中增量产出。
package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/config"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/logx"
)

// Synthesizer 把一段文本合成为 PCM16LE 单声道块流。
// 返回的通道按产出顺序吐块，关闭表示流结束；合成中途失败只关闭通道，
// 已经吐出的块仍然有效（调用方按"尽力而为"处理）。
type Synthesizer interface {
	StreamSpeech(ctx context.Context, text, voiceID string) (<-chan []byte, error)
	SampleRate() int
	Enabled() bool
}

// httpSynthesizer 调用 Waves 风格的 HTTP 流式合成接口。
// 响应体是分块传输的裸 PCM16 数据，边到边转发。
type httpSynthesizer struct {
	cfg    config.TTSConfig
	client *http.Client
}

// NewHTTP 构造 HTTP 合成客户端。API key 为空时 Enabled 返回 false，
// 上层应转用纯字幕路径。
func NewHTTP(cfg config.TTSConfig) Synthesizer {
	return &httpSynthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (h *httpSynthesizer) Enabled() bool {
	return h.cfg.APIKey != ""
}

func (h *httpSynthesizer) SampleRate() int {
	return h.cfg.SampleRate
}

func (h *httpSynthesizer) StreamSpeech(ctx context.Context, text, voiceID string) (<-chan []byte, error) {
	if !h.Enabled() {
		return nil, fmt.Errorf("tts not configured")
	}

	out := make(chan []byte, 8)
	// 接口限制单次请求约 250 字符，超长文本按句切分后顺序请求。
	pieces := chunkText(text, h.cfg.MaxTextLength)

	go func() {
		defer close(out)
		for _, piece := range pieces {
			if err := h.streamPiece(ctx, piece, voiceID, out); err != nil {
				logx.Errorf("[TTS] stream piece failed: %v", err)
				return
			}
		}
	}()

	return out, nil
}

func (h *httpSynthesizer) streamPiece(ctx context.Context, text, voiceID string, out chan<- []byte) error {
	url := fmt.Sprintf("%s/%s/stream", strings.TrimRight(h.cfg.BaseURL, "/"), h.cfg.Model)
	body := fmt.Sprintf(`{"text":%q,"voice_id":%q,"sample_rate":%d,"add_wav_header":false}`,
		text, voiceID, h.cfg.SampleRate)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("send tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tts service status %d: %s", resp.StatusCode, payload)
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tts stream: %w", err)
		}
	}
}

// chunkText 在句子边界切分长文本，单句超限时退回到按词切分。
func chunkText(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}
	appendPart := func(part string) {
		if current.Len() > 0 && current.Len()+1+len(part) > maxLen {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(part)
	}

	for _, sentence := range SplitSentences(text) {
		if len(sentence) > maxLen {
			for _, word := range strings.Fields(sentence) {
				appendPart(word)
			}
			continue
		}
		appendPart(sentence)
	}
	flush()

	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

// SplitSentences 把文本规整为句子列表：压掉多余空白，在 .!? 后断句。
// 没有任何句末标点时整段算一句。
func SplitSentences(text string) []string {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i := 0; i < len(normalized); i++ {
		c := normalized[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		// 连续标点（"?!"）归入同一句。
		j := i
		for j+1 < len(normalized) && (normalized[j+1] == '.' || normalized[j+1] == '!' || normalized[j+1] == '?') {
			j++
		}
		if j+1 >= len(normalized) || normalized[j+1] == ' ' {
			s := strings.TrimSpace(normalized[start : j+1])
			if s != "" {
				sentences = append(sentences, s)
			}
			start = j + 1
		}
		i = j
	}
	if tail := strings.TrimSpace(normalized[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	if len(sentences) == 0 {
		return []string{normalized}
	}
	return sentences
}
