// Package websocket 提供 Hyperliquid WebSocket 行情订阅客户端
package websocket

import (
	"encoding/json"
	"time"
)

const (
	// 重连设置
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	// 服务端 60 秒无消息会断开连接，按官方建议定期发送 ping
	defaultPingInterval = 50 * time.Second
	defaultReadTimeout  = 2 * time.Minute
)

// Envelope 是服务端推送消息的外层结构
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// AllMidsData 是 allMids 频道的数据
type AllMidsData struct {
	Mids map[string]string `json:"mids"`
}

type subscribeRequest struct {
	Method       string            `json:"method"`
	Subscription map[string]string `json:"subscription"`
}

// MidsHandler 在每次收到完整 mid 价格快照时调用
type MidsHandler func(mids map[string]string)

// Config 是 WebSocket 客户端配置
type Config struct {
	URL string

	// 重连设置
	ReconnectDelay    time.Duration // 重连延迟
	MaxReconnectDelay time.Duration // 最大重连延迟

	// 心跳设置
	PingInterval time.Duration // Ping 间隔
	ReadTimeout  time.Duration // 读取超时时间

	// 连接设置
	ReadBufferSize   int           // 读缓冲区大小
	WriteBufferSize  int           // 写缓冲区大小
	HandshakeTimeout time.Duration // 握手超时时间
}

// DefaultConfig 返回默认配置
func DefaultConfig(url string) *Config {
	return &Config{
		URL:               url,
		ReconnectDelay:    defaultReconnectDelay,
		MaxReconnectDelay: defaultMaxReconnectDelay,
		PingInterval:      defaultPingInterval,
		ReadTimeout:       defaultReadTimeout,
		ReadBufferSize:    64 << 10,
		WriteBufferSize:   4096,
		HandshakeTimeout:  15 * time.Second,
	}
}
