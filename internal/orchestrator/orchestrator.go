// Package orchestrator 驱动两个对话代理逐轮交锋，执行停止策略，
// 并通过 Streaming Bridge 下发严格有序的事件序列。
//
// 约束：
// - 两个代理严格串行，绝不并发产出（协议顺序依赖这一点）。
// - 停止指令来自另一条逻辑流（API 读循环），通过 Stop() 在半轮之间、
//   播放等待期间以及生产者执行中（context 取消）被观察到；被打断的
//   生产者以 stopped 收场，不算失败。
// - 生产者失败转成 error 事件，进程不退出。
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/agent"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/bridge"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/logx"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// Options 单次仿真的参数。
type Options struct {
	Config model.SimulationConfig
	// PersuasionThreshold 达到即判定诈骗得手，缺省 0.9。
	PersuasionThreshold float64
	// TurnEventDelay 是相邻事件之间的视觉间隔。
	TurnEventDelay time.Duration
	// Now 便于测试注入时钟。
	Now func() time.Time
}

// Runner 负责一次仿真的完整生命周期。进程内同一时刻至多一个在跑，
// 这一约束由 API 层保证。
type Runner struct {
	id     string
	opts   Options
	caller agent.Caller
	senior agent.Senior
	br     *bridge.Bridge

	stopOnce sync.Once
	stopCh   chan struct{}

	mu          sync.Mutex
	running     bool
	completed   bool
	currentTurn int
	endReason   model.EndReason
}

// NewRunner 组装一次仿真。caller/senior 为 nil 时按配置构造脚本代理。
func NewRunner(opts Options, caller agent.Caller, senior agent.Senior, br *bridge.Bridge) *Runner {
	opts.Config = opts.Config.Normalize()
	if opts.PersuasionThreshold <= 0 {
		opts.PersuasionThreshold = 0.9
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if caller == nil {
		caller = agent.NewCaller(opts.Config.CallerType)
	}
	if senior == nil {
		senior = agent.NewScriptedSenior()
	}
	return &Runner{
		id:     uuid.NewString(),
		opts:   opts,
		caller: caller,
		senior: senior,
		br:     br,
		stopCh: make(chan struct{}),
	}
}

// ID 返回本次仿真的运行标识，只用于日志关联。
func (r *Runner) ID() string { return r.id }

// Stop 请求停止。幂等，可从任意 goroutine 调用。
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Status 返回 REST 状态查询用的只读投影。
func (r *Runner) Status() model.SimulationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.SimulationStatus{
		Running:   r.running,
		Turn:      r.currentTurn,
		Completed: r.completed,
		EndReason: r.endReason,
	}
}

func (r *Runner) stopRequested() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *Runner) setTurn(turn int) {
	r.mu.Lock()
	r.currentTurn = turn
	r.mu.Unlock()
}

func (r *Runner) finish(reason model.EndReason) {
	r.mu.Lock()
	r.running = false
	r.completed = true
	if r.endReason == "" {
		r.endReason = reason
	}
	r.mu.Unlock()
}

// Run 执行仿真主循环直到终局。返回 nil 表示会话正常走到了某个终局
//（包括 stopped/error 终局）；只有事件出口坏掉才返回错误。
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	// 流式下发使用可被 Stop 打断的子 context；终局事件不走它，
	// 保证停止后客户端仍能收到收尾事件。
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	go func() {
		select {
		case <-r.stopCh:
			cancelStream()
		case <-ctx.Done():
		}
	}()

	logx.Infof("[Orchestrator] run=%s start: caller=%s max_turns=%d voice=%v",
		r.id, r.opts.Config.CallerType, r.opts.Config.MaxTurns, r.br.VoiceEnabled())

	callerState := r.caller.Snapshot()
	seniorState := r.senior.Snapshot()
	if err := r.br.Send(model.EventSimulationStarted, model.SimulationStartedData{
		MaxTurns:     r.opts.Config.MaxTurns,
		CallerType:   r.opts.Config.CallerType,
		VoiceEnabled: r.br.VoiceEnabled(),
		ScammerState: &callerState,
		SeniorState:  &seniorState,
	}); err != nil {
		return err
	}

	lastSeniorLine := ""

	for turn := 1; turn <= r.opts.Config.MaxTurns; turn++ {
		if r.stopRequested() {
			r.finish(model.EndReasonStopped)
			return nil
		}
		r.setTurn(turn)

		turnNum := turn
		if err := r.br.Send(model.EventTurnStart, model.TurnStartData{Turn: &turnNum}); err != nil {
			return err
		}
		sleepCtx(ctx, r.opts.TurnEventDelay)

		// === 来电方半轮 ===
		result, err := r.caller.ProduceTurn(streamCtx, lastSeniorLine)
		if err != nil {
			if r.stopRequested() {
				r.finish(model.EndReasonStopped)
				return nil
			}
			return r.fail(err)
		}
		callerLine := result.Text
		snapshot := r.caller.Snapshot()

		if callerLine != "" {
			if err := r.sendSpeakerMessage(model.EventScammerMessage, turn, callerLine, &snapshot, nil); err != nil {
				return err
			}
			if err := r.speak(streamCtx, turn, model.SpeakerScammer, callerLine); err != nil && streamCtx.Err() == nil {
				return err
			}
		}

		// 停止策略（顺序即优先级，首个命中生效）。
		if reason, done := r.callerVerdict(result, snapshot); done {
			return r.endSession(turn, reason)
		}
		if r.stopRequested() {
			r.finish(model.EndReasonStopped)
			return nil
		}

		// === 防守方半轮 ===
		seniorResult, err := r.senior.ProduceTurn(streamCtx, callerLine)
		if err != nil {
			if r.stopRequested() {
				r.finish(model.EndReasonStopped)
				return nil
			}
			return r.fail(err)
		}

		if seniorResult.Signals.Handoff {
			return r.endSession(turn, model.EndReasonHandoff)
		}

		lastSeniorLine = seniorResult.Text
		seniorSnap := r.senior.Snapshot()
		if err := r.sendSpeakerMessage(model.EventSeniorMessage, turn, lastSeniorLine, nil, &seniorSnap); err != nil {
			return err
		}
		if err := r.speak(streamCtx, turn, model.SpeakerSenior, lastSeniorLine); err != nil && streamCtx.Err() == nil {
			return err
		}

		if r.opts.Config.CallerType == model.CallerTypeScammer && seniorResult.Signals.LeakedSensitive {
			return r.endSession(turn, model.EndReasonSensitiveLeaked)
		}
		if r.stopRequested() {
			r.finish(model.EndReasonStopped)
			return nil
		}
	}

	return r.endSession(r.opts.Config.MaxTurns, model.EndReasonMaxTurns)
}

// callerVerdict 执行来电方半轮后的停止判定。
func (r *Runner) callerVerdict(result *agent.TurnResult, snap model.ScammerState) (model.EndReason, bool) {
	if r.opts.Config.CallerType != model.CallerTypeScammer {
		return "", false
	}
	switch {
	case snap.PersuasionLevel >= r.opts.PersuasionThreshold:
		return model.EndReasonPersuasionSucceeded, true
	case result.Signals.ExtractedSensitive:
		return model.EndReasonSensitiveExtracted, true
	case result.Signals.GaveUp || snap.GaveUp:
		return model.EndReasonScammerGaveUp, true
	}
	return "", false
}

// endSession 下发终局事件（scammer_gave_up 终局前先补挂断台词）。
func (r *Runner) endSession(turn int, reason model.EndReason) error {
	if reason == model.EndReasonScammerGaveUp {
		line, err := r.caller.GiveUpLine(context.Background())
		if err == nil && line != "" {
			snap := r.caller.Snapshot()
			if err := r.sendSpeakerMessage(model.EventScammerGaveUp, turn, line, &snap, nil); err != nil {
				return err
			}
			// 挂断台词也要播完再收尾，复用可停止的流通道没有意义：
			// 这里已经在终局路径上，用独立的短时 context。
			speakCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			if err := r.speak(speakCtx, turn, model.SpeakerScammer, line); err != nil {
				cancel()
				return err
			}
			cancel()
		}
	}

	callerState := r.caller.Snapshot()
	seniorState := r.senior.Snapshot()
	if err := r.br.Send(model.EventSimulationEnd, model.SimulationEndData{
		Reason:       reason,
		Message:      endMessage(reason),
		ScammerState: &callerState,
		SeniorState:  &seniorState,
	}); err != nil {
		return err
	}

	logx.Infof("[Orchestrator] run=%s ended: reason=%s turn=%d", r.id, reason, r.Status().Turn)
	r.finish(reason)
	return nil
}

// fail 把生产者失败转成 error 终局事件，进程继续存活。
func (r *Runner) fail(cause error) error {
	logx.Errorf("[Orchestrator] run=%s producer failure: %v", r.id, cause)
	if err := r.br.Send(model.EventError, model.ErrorData{Message: cause.Error()}); err != nil {
		return err
	}
	r.finish(model.EndReasonError)
	return nil
}

func (r *Runner) sendSpeakerMessage(evtType model.ServerEventType, turn int, text string, scammer *model.ScammerState, senior *model.SeniorState) error {
	return r.br.Send(evtType, model.SpeakerMessageData{
		Turn:         turn,
		Message:      text,
		AudioBase64:  nil, // 分块路径下整段音频字段恒为 null
		ScammerState: scammer,
		SeniorState:  senior,
	})
}

func (r *Runner) speak(ctx context.Context, turn int, speaker model.Speaker, text string) error {
	if text == "" {
		return nil
	}
	return r.br.SpeakTurn(ctx, turn, speaker, text)
}

func endMessage(reason model.EndReason) string {
	switch reason {
	case model.EndReasonPersuasionSucceeded:
		return "Scammer reached persuasion threshold"
	case model.EndReasonSensitiveExtracted:
		return "Scammer extracted sensitive information"
	case model.EndReasonScammerGaveUp:
		return "Scammer gave up and hung up"
	case model.EndReasonHandoff:
		return "Call handed off to real senior"
	case model.EndReasonSensitiveLeaked:
		return "Senior leaked sensitive information"
	case model.EndReasonMaxTurns:
		return "Maximum turns reached"
	default:
		return ""
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
