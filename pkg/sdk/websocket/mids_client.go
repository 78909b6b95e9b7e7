package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/robinclaw/robinclaw/pkg/logger"
)

// MidsClient 订阅 allMids 频道并维护最新的 mid 价格快照，断线后自动重连
type MidsClient struct {
	config  *Config
	handler MidsHandler

	connMu sync.Mutex
	conn   *websocket.Conn

	mu        sync.RWMutex
	mids      map[string]string
	updatedAt time.Time

	runningMu sync.Mutex
	running   bool
	cancel    context.CancelFunc
	doneCh    chan struct{}

	log *logrus.Entry
}

func NewMidsClient(config *Config, handler MidsHandler) *MidsClient {
	return &MidsClient{
		config:  config,
		handler: handler,
		mids:    map[string]string{},
		log:     logger.WithField("component", "ws-mids"),
	}
}

// Start 启动后台连接循环。首次连接失败不会返回错误，而是按退避策略重试。
func (c *MidsClient) Start(ctx context.Context) error {
	c.runningMu.Lock()
	defer c.runningMu.Unlock()
	if c.running {
		return fmt.Errorf("WebSocket 客户端已在运行")
	}
	if c.config == nil || c.config.URL == "" {
		return fmt.Errorf("websocket url is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	c.running = true
	go c.run(ctx)
	c.log.Infof("mids feed started: %s", c.config.URL)
	return nil
}

// Stop 关闭连接并等待后台循环退出
func (c *MidsClient) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	done := c.doneCh
	c.runningMu.Unlock()

	c.closeConn()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.log.Warn("mids feed: 关闭超时")
	}
	c.log.Info("mids feed stopped")
}

// Snapshot 返回最新 mid 价格的副本及更新时间；尚未收到数据时 updatedAt 为零值
func (c *MidsClient) Snapshot() (map[string]string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.mids))
	for k, v := range c.mids {
		out[k] = v
	}
	return out, c.updatedAt
}

func (c *MidsClient) run(ctx context.Context) {
	defer close(c.doneCh)
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		// 连接稳定运行过一段时间则重置退避
		if time.Since(start) > c.config.MaxReconnectDelay {
			attempts = 0
		}
		attempts++
		delay := c.config.ReconnectDelay * time.Duration(attempts)
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
		c.log.Warnf("mids feed disconnected: %v, %v 后重连 (尝试 %d)", err, delay, attempts)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session 建立一次连接并阻塞读取直到出错
func (c *MidsClient) session(ctx context.Context) error {
	dialer := websocket.Dialer{
		ReadBufferSize:   c.config.ReadBufferSize,
		WriteBufferSize:  c.config.WriteBufferSize,
		HandshakeTimeout: c.config.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer c.closeConn()

	if err := c.writeJSON(subscribeRequest{
		Method:       "subscribe",
		Subscription: map[string]string{"type": "allMids"},
	}); err != nil {
		return fmt.Errorf("发送订阅失败: %w", err)
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(ctx, pingDone)

	for {
		if c.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(message)
	}
}

func (c *MidsClient) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := c.writeJSON(map[string]string{"method": "ping"}); err != nil {
				c.log.Debugf("mids feed: ping 发送失败: %v", err)
				return
			}
		}
	}
}

func (c *MidsClient) writeJSON(v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("未连接")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *MidsClient) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *MidsClient) handleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debugf("mids feed: 无法解析消息: %v", err)
		return
	}
	switch env.Channel {
	case "allMids":
		var d AllMidsData
		if err := json.Unmarshal(env.Data, &d); err != nil || len(d.Mids) == 0 {
			return
		}
		c.mu.Lock()
		c.mids = d.Mids
		c.updatedAt = time.Now()
		c.mu.Unlock()
		if c.handler != nil {
			c.handler(d.Mids)
		}
	case "pong", "subscriptionResponse":
	default:
		c.log.Debugf("mids feed: 忽略频道 %s", env.Channel)
	}
}
