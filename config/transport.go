package config

import (
	"errors"
	"time"
)

// TransportConfig 传输层配置
type TransportConfig struct {
	// EnableTCP 启用 TCP
	EnableTCP bool `json:"enable_tcp"`

	// EnableQUIC 启用 QUIC v1
	EnableQUIC bool `json:"enable_quic"`

	// EnableWebSocket 启用 WebSocket
	EnableWebSocket bool `json:"enable_websocket"`

	// TCPPortReuse TCP 端口复用（SO_REUSEPORT）
	TCPPortReuse bool `json:"tcp_port_reuse"`

	// TCPNoDelay 关闭 Nagle 算法
	//
	// Go 的 TCP 连接默认即为 nodelay，false 不被支持。
	TCPNoDelay bool `json:"tcp_nodelay"`

	// DialTimeout 单次拨号超时
	DialTimeout Duration `json:"dial_timeout"`

	// IdleConnectionTimeout 新连接免于被连接管理器裁剪的宽限期
	IdleConnectionTimeout Duration `json:"idle_connection_timeout"`

	// ConnMgrLow / ConnMgrHigh 连接管理器水位
	ConnMgrLow  int `json:"conn_mgr_low"`
	ConnMgrHigh int `json:"conn_mgr_high"`
}

// DefaultTransportConfig 默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		EnableTCP:             true,
		EnableQUIC:            true,
		EnableWebSocket:       true,
		TCPPortReuse:          true,
		TCPNoDelay:            true,
		DialTimeout:           Duration(15 * time.Second),
		IdleConnectionTimeout: Duration(5 * time.Second),
		ConnMgrLow:            100,
		ConnMgrHigh:           400,
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	if !c.TCPNoDelay {
		return errors.New("tcp_nodelay=false is not supported")
	}
	if c.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}
	if c.IdleConnectionTimeout < 0 {
		return errors.New("idle connection timeout must not be negative")
	}
	if c.ConnMgrLow < 0 || c.ConnMgrHigh < c.ConnMgrLow {
		return errors.New("conn manager watermarks must satisfy 0 <= low <= high")
	}
	return nil
}

// WithTCPOnly 只启用 TCP
func (c TransportConfig) WithTCPOnly() TransportConfig {
	c.EnableTCP = true
	c.EnableQUIC = false
	c.EnableWebSocket = false
	return c
}
