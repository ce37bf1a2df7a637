package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/logx"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// CommandHandler 处理一条客户端指令。返回 error 只做记录，不断开连接。
type CommandHandler func(ctx context.Context, cmd *model.ClientCommand) error

const (
	// 队列容量：超过此值的指令将被丢弃（背压控制）
	defaultQueueCapacity = 64
	// 单条指令处理超时
	defaultCommandTimeout = 10 * time.Second
)

// CommandQueue 为单条连接提供串行指令处理：同一时刻只有一条指令在
// 处理，天然消除对活跃仿真状态的并发修改。长耗时动作（跑仿真）必须
// 在处理器里另起 goroutine，不得占住队列。
type CommandQueue struct {
	handler CommandHandler
	ch      chan *queuedCommand
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	total     int64
	processed int64
	dropped   int64
}

type queuedCommand struct {
	cmd      *model.ClientCommand
	enqueued time.Time
}

func NewCommandQueue(handler CommandHandler) *CommandQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &CommandQueue{
		handler: handler,
		ch:      make(chan *queuedCommand, defaultQueueCapacity),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.wg.Add(1)
	go q.processLoop()
	return q
}

// Enqueue 异步入队，队列满时丢弃并返回错误。
func (q *CommandQueue) Enqueue(cmd *model.ClientCommand) error {
	select {
	case <-q.ctx.Done():
		return fmt.Errorf("command queue closed")
	default:
	}

	select {
	case q.ch <- &queuedCommand{cmd: cmd, enqueued: time.Now()}:
		q.mu.Lock()
		q.total++
		q.mu.Unlock()
		return nil
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		logx.Warnf("[CommandQueue] queue full, dropping command: action=%s", cmd.Action)
		return fmt.Errorf("command queue full")
	}
}

func (q *CommandQueue) processLoop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case item := <-q.ch:
			q.process(item)
		}
	}
}

func (q *CommandQueue) process(item *queuedCommand) {
	ctx, cancel := context.WithTimeout(q.ctx, defaultCommandTimeout)
	defer cancel()

	if err := q.handler(ctx, item.cmd); err != nil {
		logx.Warnf("[CommandQueue] command failed: action=%s err=%v", item.cmd.Action, err)
	}

	q.mu.Lock()
	q.processed++
	q.mu.Unlock()

	if wait := time.Since(item.enqueued); wait > 5*time.Second {
		logx.Warnf("[CommandQueue] slow command: action=%s total_latency=%v", item.cmd.Action, wait)
	}
}

// Close 停止处理循环并等待其退出。
func (q *CommandQueue) Close() {
	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	logx.Debugf("[CommandQueue] closed: total=%d processed=%d dropped=%d pending=%d",
		q.total, q.processed, q.dropped, len(q.ch))
	q.mu.Unlock()
}
