// Package api 提供 HTTP/WebSocket 外部边界：REST 状态查询与停止、
// /ws/simulation 上的指令接收与事件下发。一个进程同一时刻至多一个
// 活跃仿真。
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/bridge"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/config"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/logx"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/orchestrator"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/tts"
)

var defaultDevOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3000",
	"http://127.0.0.1:5173",
}

type Server struct {
	cfg      *config.Config
	synth    tts.Synthesizer
	upgrader websocket.Upgrader

	// 活跃仿真表：单会话约束下最多一项。
	mu           sync.Mutex
	activeRunner *orchestrator.Runner
	activeBridge *bridge.Bridge
}

func NewServer(cfg *config.Config, synth tts.Synthesizer) *Server {
	s := &Server{cfg: cfg, synth: synth}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // 非浏览器客户端
			}
			for _, allowed := range s.allowedOrigins() {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return s
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		return s.cfg.Server.AllowedOrigins
	}
	return defaultDevOrigins
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/status", s.handleStatus)
	engine.POST("/api/stop", s.handleStop)
	engine.GET("/ws/simulation", s.handleSimulationWS)
	return engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus 返回活跃仿真的只读状态，是编排器状态的薄投影。
func (s *Server) handleStatus(c *gin.Context) {
	s.mu.Lock()
	runner := s.activeRunner
	s.mu.Unlock()

	if runner == nil {
		c.JSON(http.StatusOK, model.SimulationStatus{})
		return
	}
	c.JSON(http.StatusOK, runner.Status())
}

// handleStop 是通道内 stop 指令的 REST 替代入口。
func (s *Server) handleStop(c *gin.Context) {
	s.mu.Lock()
	runner := s.activeRunner
	br := s.activeBridge
	s.mu.Unlock()

	if runner == nil || !runner.Status().Running {
		c.JSON(http.StatusOK, gin.H{"status": "no_simulation_running"})
		return
	}

	runner.Stop()
	if br != nil {
		// 停止的终局事件由服务端统一下发，客户端据此转入 completed。
		_ = br.Send(model.EventSimulationStopped, struct{}{})
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// wsSink 是 WebSocket 写半边，实现 bridge.Sink。写互斥锁保证
// 事件帧不交错。
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsSink) Send(evt model.ServerEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(evt)
}

func (w *wsSink) writeControl(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(messageType, data, time.Now().Add(5*time.Second))
}

// wsSession 绑定一条连接的写半边与这条连接发起的仿真，断开清理只
// 触及自己名下的运行。
type wsSession struct {
	sink  *wsSink
	runWG sync.WaitGroup

	mu     sync.Mutex
	runner *orchestrator.Runner
}

func (ws *wsSession) setRunner(r *orchestrator.Runner) {
	ws.mu.Lock()
	ws.runner = r
	ws.mu.Unlock()
}

func (ws *wsSession) currentRunner() *orchestrator.Runner {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.runner
}

// handleSimulationWS 升级连接后进入指令循环：start 启动仿真（异步），
// stop 与 tts_playback_done 路由给正在跑的编排器/桥接。连接断开即
// 会话终结，没有重连/续播语义。
func (s *Server) handleSimulationWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logx.Errorf("[API] websocket upgrade failed: %v", err)
		return
	}
	logx.Infof("[API] websocket connected: %s", c.Request.RemoteAddr)

	sess := &wsSession{sink: &wsSink{conn: conn}}

	queue := NewCommandQueue(func(ctx context.Context, cmd *model.ClientCommand) error {
		return s.dispatchCommand(ctx, sess, cmd)
	})

	pingStop := make(chan struct{})
	go s.pingLoop(sess.sink, pingStop)

	// 单读循环：入站指令绝不并发处理。
	for {
		var cmd model.ClientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logx.Warnf("[API] websocket read error: %v", err)
			}
			break
		}
		// 播完回执是时间敏感路径，绕过队列直达桥接，避免被 start
		// 之类的慢指令垫后。
		if cmd.Action == model.ActionPlaybackDone {
			s.routePlaybackDone(&cmd)
			continue
		}
		_ = queue.Enqueue(&cmd)
	}

	close(pingStop)
	queue.Close()

	// 连接没了，这条连接发起的仿真随之终结；其他连接名下的运行不受影响。
	if runner := sess.currentRunner(); runner != nil {
		runner.Stop()
		sess.runWG.Wait()
		s.mu.Lock()
		if s.activeRunner == runner {
			s.activeRunner = nil
			s.activeBridge = nil
		}
		s.mu.Unlock()
	}

	_ = conn.Close()
	logx.Infof("[API] websocket closed: %s", c.Request.RemoteAddr)
}

func (s *Server) routePlaybackDone(cmd *model.ClientCommand) {
	s.mu.Lock()
	br := s.activeBridge
	s.mu.Unlock()
	if br == nil {
		logx.Debugf("[API] playback ack with no active bridge: turn=%d speaker=%s", cmd.Turn, cmd.Speaker)
		return
	}
	br.NotifyPlaybackDone(cmd.Turn, cmd.Speaker)
}

func (s *Server) dispatchCommand(ctx context.Context, sess *wsSession, cmd *model.ClientCommand) error {
	switch cmd.Action {
	case model.ActionStart:
		return s.startSimulation(sess, cmd)

	case model.ActionStop:
		s.mu.Lock()
		runner := s.activeRunner
		br := s.activeBridge
		s.mu.Unlock()
		if runner == nil || br == nil || !runner.Status().Running {
			logx.Debugf("[API] stop with no running simulation")
			return nil
		}
		runner.Stop()
		// 服务端是会话终局的唯一权威：客户端收到这条事件才算停。
		// 经由桥接下发以延续事件序号。
		return br.Send(model.EventSimulationStopped, struct{}{})

	default:
		// 未知 action 忽略，保持前向兼容。
		logx.Debugf("[API] unknown command action: %s", cmd.Action)
		return nil
	}
}

// startSimulation 创建桥接与编排器并异步起跑。已有仿真在跑时先停旧的。
func (s *Server) startSimulation(sess *wsSession, cmd *model.ClientCommand) error {
	var simCfg model.SimulationConfig
	if cmd.Config != nil {
		simCfg = *cmd.Config
	}
	if simCfg.MaxTurns <= 0 {
		simCfg.MaxTurns = s.cfg.Simulation.DefaultMaxTurns
	}
	simCfg = simCfg.Normalize()

	s.mu.Lock()
	prev := s.activeRunner
	s.mu.Unlock()
	if prev != nil && prev.Status().Running {
		prev.Stop()
		// 旧运行属于本连接时等它退干净；属于别的连接时由那边收尾。
		if prev == sess.currentRunner() {
			sess.runWG.Wait()
		}
	}

	br := bridge.New(sess.sink, bridge.Options{
		Synth:         s.synth,
		ScammerVoice:  s.cfg.TTS.ScammerVoice,
		SeniorVoice:   s.cfg.TTS.SeniorVoice,
		VoiceEnabled:  simCfg.EnableVoice,
		AckTimeoutCap: s.cfg.Simulation.PlaybackAckTimeout,
	})
	runner := orchestrator.NewRunner(orchestrator.Options{
		Config:              simCfg,
		PersuasionThreshold: s.cfg.Simulation.PersuasionThreshold,
		TurnEventDelay:      s.cfg.Simulation.TurnEventDelay,
	}, nil, nil, br)

	s.mu.Lock()
	s.activeRunner = runner
	s.activeBridge = br
	s.mu.Unlock()
	sess.setRunner(runner)

	sess.runWG.Add(1)
	go func() {
		defer sess.runWG.Done()
		if err := runner.Run(context.Background()); err != nil {
			logx.Errorf("[API] simulation run=%s aborted: %v", runner.ID(), err)
		}
	}()
	return nil
}

func (s *Server) pingLoop(sink *wsSink, stop <-chan struct{}) {
	interval := s.cfg.Server.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := sink.writeControl(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		for _, allowed := range s.allowedOrigins() {
			if origin == allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
				c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				break
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
