package client

import (
	"time"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

const (
	// 整个会话保留的字幕上限。
	captionWindowSize = 120
	// 每个 (turn, speaker) 对外展示的字幕上限。
	captionsPerPair = 6
)

// Caption 是一条短命的句级字幕，只活在滚动窗口里，不落任何持久化。
type Caption struct {
	ID        int64
	Turn      int
	Speaker   model.Speaker
	Sentence  string
	Timestamp time.Time
}

// CaptionWindow 按到达顺序累积字幕并保留最近 captionWindowSize 条。
// 非并发安全：调用方（Session 的单消费分发）保证串行访问。
type CaptionWindow struct {
	nextID int64
	items  []Caption
}

func NewCaptionWindow() *CaptionWindow {
	return &CaptionWindow{}
}

// Add 追加一条字幕。speaker 或 sentence 缺失时是纯空操作。
func (w *CaptionWindow) Add(turn int, speaker model.Speaker, sentence string, now time.Time) {
	if speaker == "" || sentence == "" {
		return
	}
	w.nextID++
	w.items = append(w.items, Caption{
		ID:        w.nextID,
		Turn:      turn,
		Speaker:   speaker,
		Sentence:  sentence,
		Timestamp: now,
	})
	if len(w.items) > captionWindowSize {
		// 保序裁掉最旧的；复制避免底层数组无限增长。
		trimmed := make([]Caption, captionWindowSize)
		copy(trimmed, w.items[len(w.items)-captionWindowSize:])
		w.items = trimmed
	}
}

// All 返回窗口内全部字幕，旧在前。
func (w *CaptionWindow) All() []Caption {
	out := make([]Caption, len(w.items))
	copy(out, w.items)
	return out
}

// ForTurnSpeaker 返回某 (turn, speaker) 最近的至多 captionsPerPair 条，
// 旧在前，供逐说话人字幕区渲染。
func (w *CaptionWindow) ForTurnSpeaker(turn int, speaker model.Speaker) []Caption {
	var matched []Caption
	for _, c := range w.items {
		if c.Turn == turn && c.Speaker == speaker {
			matched = append(matched, c)
		}
	}
	if len(matched) > captionsPerPair {
		matched = matched[len(matched)-captionsPerPair:]
	}
	return matched
}

// Len 返回窗口内字幕数。
func (w *CaptionWindow) Len() int {
	return len(w.items)
}

// Reset 清空窗口并归零 ID 计数。
func (w *CaptionWindow) Reset() {
	w.nextID = 0
	w.items = nil
}
