package client

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/logx"
	"github.com/Xuanyi1100/RedCall-vs-BlueCall/internal/model"
)

// Channel 是到模拟服务端的单条 WebSocket 连接：
// 发送命令，读循环把服务端事件逐条交给 handler。
// 不做自动重连，断开后 Connected 变为 false，由上层决定是否重拨。
type Channel struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closeOnce sync.Once

	handler func(model.Envelope)
	// onDisconnect 在读循环退出后回调一次，可为 nil。
	onDisconnect func(err error)
}

// Dial 连接服务端并启动读循环。handler 在读循环的 goroutine 上
// 被串行调用，事件间不会乱序。
func Dial(url string, handler func(model.Envelope), onDisconnect func(err error)) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Channel{
		conn:         conn,
		connected:    true,
		handler:      handler,
		onDisconnect: onDisconnect,
	}
	go c.readLoop()
	return c, nil
}

// Connected 返回连接是否仍然存活。
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Start 请求开启一场新模拟。
func (c *Channel) Start(cfg model.SimulationConfig) error {
	return c.send(model.ClientCommand{Action: model.ActionStart, Config: &cfg})
}

// Stop 请求终止当前模拟。
func (c *Channel) Stop() error {
	return c.send(model.ClientCommand{Action: model.ActionStop})
}

// SendPlaybackDone 告知服务端某条语音流已在本地播完。
func (c *Channel) SendPlaybackDone(turn int, speaker model.Speaker) error {
	return c.send(model.ClientCommand{
		Action:  model.ActionPlaybackDone,
		Turn:    turn,
		Speaker: speaker,
	})
}

func (c *Channel) send(cmd model.ClientCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("channel closed")
	}
	return c.conn.WriteJSON(cmd)
}

// Close 主动断开连接。幂等。
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

func (c *Channel) readLoop() {
	var readErr error
	for {
		var env model.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			readErr = err
			break
		}
		if c.handler != nil {
			c.handler(env)
		}
	}

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected {
		logx.Infof("[Channel] connection lost: %v", readErr)
	}
	if c.onDisconnect != nil {
		c.onDisconnect(readErr)
	}
}
