package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/logx"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// Session 把连接、状态归约、字幕窗口和音频调度装配成一个完整客户端。
// 所有入站事件在读循环的 goroutine 上串行派发，视图和字幕在同一把锁
// 下更新，任何读者都不会看到半完成的状态。
type Session struct {
	mu       sync.Mutex
	view     View
	captions *CaptionWindow

	sched *Scheduler
	ch    *Channel

	now func() time.Time

	tickerStop chan struct{}
	closed     bool
}

// SessionOptions 配置一次拨号。NewOutput 为 nil 时音频事件被静默丢弃
// （纯文本客户端）。Now 为 nil 时使用 time.Now。
type SessionOptions struct {
	URL       string
	NewOutput func() (Output, error)
	Now       func() time.Time
}

// NewSession 拨号并返回就绪的会话。
func NewSession(opts SessionOptions) (*Session, error) {
	s := &Session{
		view:     NewView(),
		captions: NewCaptionWindow(),
		now:      opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	newOutput := opts.NewOutput
	if newOutput == nil {
		newOutput = func() (Output, error) { return nopOutput{}, nil }
	}
	s.sched = NewScheduler(newOutput, s.sendPlaybackDone)

	ch, err := Dial(opts.URL, s.dispatch, s.handleDisconnect)
	if err != nil {
		return nil, err
	}
	s.ch = ch
	return s, nil
}

// View 返回当前视图的值拷贝。
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Captions 返回字幕窗口当前内容，时间顺序。
func (s *Session) Captions() []Caption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captions.All()
}

// Connected 返回底层连接是否存活。
func (s *Session) Connected() bool {
	return s.ch.Connected()
}

// Start 发起一场新模拟。悲观并发闸门：本地已是 running 时拒绝重复
// 提交，以服务端事件为准恢复状态。
func (s *Session) Start(cfg model.SimulationConfig) error {
	s.mu.Lock()
	running := s.view.Status == StatusRunning
	s.mu.Unlock()
	if running {
		logx.Debugf("[Session] start ignored: simulation already running")
		return nil
	}
	return s.ch.Start(cfg)
}

// Stop 请求服务端终止当前模拟。状态切换等 simulation_stopped 事件。
func (s *Session) Stop() error {
	return s.ch.Stop()
}

// Reset 把会话恢复到 idle：停计时、作废回执定时器、丢弃已排期音频、
// 清空视图与字幕。原子完成，期间到达的事件只会看到重置后的状态。
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTickerLocked()
	s.sched.Reset()
	s.view = NewView()
	s.captions.Reset()
}

// Close 断开连接并释放音频设备。
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopTickerLocked()
	s.mu.Unlock()

	err := s.ch.Close()
	if serr := s.sched.Close(); err == nil {
		err = serr
	}
	return err
}

// dispatch 是入站事件的唯一入口：先走归约器，再按事件类型路由到
// 字幕窗口和音频调度器。
func (s *Session) dispatch(env model.Envelope) {
	now := s.now()

	s.mu.Lock()
	prevStatus := s.view.Status
	s.view = Reduce(s.view, env, now)
	nextStatus := s.view.Status

	switch env.Type {
	case model.EventSimulationStarted:
		s.captions.Reset()
	case model.EventLiveCaption:
		var p model.LiveCaptionData
		if json.Unmarshal(env.Data, &p) == nil {
			s.captions.Add(p.Turn, p.Speaker, p.Sentence, now)
		}
	}

	if prevStatus != StatusRunning && nextStatus == StatusRunning {
		s.startTickerLocked()
	}
	if prevStatus == StatusRunning && nextStatus != StatusRunning {
		s.stopTickerLocked()
	}
	s.mu.Unlock()

	// 音频事件在锁外交给调度器，调度器自持锁。
	switch env.Type {
	case model.EventSimulationStarted:
		s.sched.Reset()
	case model.EventTTSStreamStart:
		var p model.TTSStreamStartData
		if json.Unmarshal(env.Data, &p) == nil {
			s.sched.OnStreamStart(p.Turn, p.Speaker, p.SampleRate)
		}
	case model.EventTTSStreamChunk:
		var p model.TTSStreamChunkData
		if json.Unmarshal(env.Data, &p) == nil {
			s.sched.OnChunk(p.Turn, p.Speaker, p.AudioChunkBase64)
		}
	case model.EventTTSStreamEnd:
		var p model.TTSStreamEndData
		if json.Unmarshal(env.Data, &p) == nil {
			s.sched.OnStreamEnd(p.Turn, p.Speaker)
		}
	case model.EventScammerMessage, model.EventSeniorMessage, model.EventScammerGaveUp:
		// 整段预合成音频的兼容路径：当作单块流播放。
		var p model.SpeakerMessageData
		if json.Unmarshal(env.Data, &p) == nil && p.AudioBase64 != nil && *p.AudioBase64 != "" {
			s.sched.PlayClip(*p.AudioBase64)
		}
	}
}

func (s *Session) sendPlaybackDone(turn int, speaker model.Speaker) {
	if err := s.ch.SendPlaybackDone(turn, speaker); err != nil {
		logx.Debugf("[Session] playback ack not sent: %v", err)
	}
}

func (s *Session) handleDisconnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTickerLocked()
	if s.view.Status == StatusRunning {
		// 连接断开时冻结计时，展示状态保留供复盘。
		s.view = freezeElapsed(s.view, s.now())
		s.view.TickerActive = false
	}
}

// startTickerLocked 启动 1s 周期的计时推进。调用方持锁。
func (s *Session) startTickerLocked() {
	s.stopTickerLocked()
	stop := make(chan struct{})
	s.tickerStop = stop

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				s.view = Tick(s.view, s.now())
				s.mu.Unlock()
			}
		}
	}()
}

func (s *Session) stopTickerLocked() {
	if s.tickerStop != nil {
		close(s.tickerStop)
		s.tickerStop = nil
	}
}

// nopOutput 丢弃所有音频，时钟从进程启动时刻起走。
type nopOutput struct{}

var nopEpoch = time.Now()

func (nopOutput) Now() float64 { return time.Since(nopEpoch).Seconds() }

func (nopOutput) PlayAt(samples []float32, sampleRate int, when float64) {}

func (nopOutput) Close() error { return nil }
