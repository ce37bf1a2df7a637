package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// TestCommandQueueSerialOrder 验证指令严格按入队顺序串行处理。
// 场景：快速入队多条指令，处理顺序与入队顺序一致且任意时刻只有一条在处理。
func TestCommandQueueSerialOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	inFlight := 0
	maxInFlight := 0

	q := NewCommandQueue(func(ctx context.Context, cmd *model.ClientCommand) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		order = append(order, cmd.Action)
		inFlight--
		mu.Unlock()
		return nil
	})
	defer q.Close()

	actions := []string{"a", "b", "c", "d", "e"}
	for _, a := range actions {
		if err := q.Enqueue(&model.ClientCommand{Action: a}); err != nil {
			t.Fatalf("enqueue %s failed: %v", a, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := len(order) == len(actions)
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue did not drain, processed %v", order)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, a := range actions {
		if order[i] != a {
			t.Fatalf("order violated at %d: got %v", i, order)
		}
	}
	if maxInFlight != 1 {
		t.Fatalf("expected strictly serial processing, saw %d concurrent", maxInFlight)
	}
}

// TestCommandQueueDropsWhenFull 验证队列满时丢弃新指令并返回错误。
// 场景：处理器阻塞期间塞满容量后继续入队，超额指令应被拒绝。
func TestCommandQueueDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	q := NewCommandQueue(func(ctx context.Context, cmd *model.ClientCommand) error {
		<-release
		return nil
	})
	defer func() {
		close(release)
		q.Close()
	}()

	// 第一条进入处理器阻塞，之后填满缓冲。
	if err := q.Enqueue(&model.ClientCommand{Action: "blocker"}); err != nil {
		t.Fatalf("enqueue blocker failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	dropped := 0
	for i := 0; i < defaultQueueCapacity+8; i++ {
		if err := q.Enqueue(&model.ClientCommand{Action: "filler"}); err != nil {
			dropped++
		}
	}
	if dropped == 0 {
		t.Fatalf("expected overflow commands to be dropped")
	}
}

// TestCommandQueueRejectsAfterClose 验证关闭后的入队立即失败。
// 场景：Close 返回后 Enqueue 返回错误而不是悄悄吞掉指令。
func TestCommandQueueRejectsAfterClose(t *testing.T) {
	q := NewCommandQueue(func(ctx context.Context, cmd *model.ClientCommand) error {
		return nil
	})
	q.Close()

	if err := q.Enqueue(&model.ClientCommand{Action: "late"}); err == nil {
		t.Fatalf("expected enqueue after close to fail")
	}
}

// TestCommandQueueHandlerErrorNonFatal 验证处理器报错不中断后续指令。
// 场景：第一条指令报错后，第二条仍被正常处理。
func TestCommandQueueHandlerErrorNonFatal(t *testing.T) {
	processed := make(chan string, 2)
	q := NewCommandQueue(func(ctx context.Context, cmd *model.ClientCommand) error {
		processed <- cmd.Action
		if cmd.Action == "bad" {
			return context.DeadlineExceeded
		}
		return nil
	})
	defer q.Close()

	_ = q.Enqueue(&model.ClientCommand{Action: "bad"})
	_ = q.Enqueue(&model.ClientCommand{Action: "good"})

	for _, want := range []string{"bad", "good"} {
		select {
		case got := <-processed:
			if got != want {
				t.Fatalf("expected %s, got %s", want, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
