package config

import (
	"errors"
	"time"
)

// RendezvousConfig 会合点配置
type RendezvousConfig struct {
	// EnableServer 作为会合点服务端接受注册
	EnableServer bool `json:"enable_server"`

	// MinTTL / MaxTTL / DefaultTTL 注册 TTL
	MinTTL     Duration `json:"min_ttl"`
	MaxTTL     Duration `json:"max_ttl"`
	DefaultTTL Duration `json:"default_ttl"`

	// MaxRegistrations 服务端注册总数上限
	MaxRegistrations int `json:"max_registrations"`

	// MaxRegistrationsPerPeer 单节点注册上限
	MaxRegistrationsPerPeer int `json:"max_registrations_per_peer"`

	// DefaultDiscoverLimit 未指定 limit 时单次发现返回的条数
	DefaultDiscoverLimit int `json:"default_discover_limit"`

	// CleanupInterval 服务端过期清理间隔
	CleanupInterval Duration `json:"cleanup_interval"`

	// RequestsPerSecond / RequestBurst 服务端单节点请求限速
	RequestsPerSecond float64 `json:"requests_per_second"`
	RequestBurst      int     `json:"request_burst"`

	// RequestTimeout 客户端单次往返超时
	RequestTimeout Duration `json:"request_timeout"`
}

// DefaultRendezvousConfig 默认会合点配置
func DefaultRendezvousConfig() RendezvousConfig {
	return RendezvousConfig{
		EnableServer:            true,
		MinTTL:                  Duration(2 * time.Hour),
		MaxTTL:                  Duration(72 * time.Hour),
		DefaultTTL:              Duration(2 * time.Hour),
		MaxRegistrations:        10000,
		MaxRegistrationsPerPeer: 100,
		DefaultDiscoverLimit:    100,
		CleanupInterval:         Duration(time.Minute),
		RequestsPerSecond:       10,
		RequestBurst:            20,
		RequestTimeout:          Duration(30 * time.Second),
	}
}

// Validate 验证会合点配置
func (c RendezvousConfig) Validate() error {
	if c.MinTTL <= 0 || c.MaxTTL < c.MinTTL {
		return errors.New("ttl bounds must satisfy 0 < min <= max")
	}
	if c.DefaultTTL < c.MinTTL || c.DefaultTTL > c.MaxTTL {
		return errors.New("default ttl must be within [min, max]")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.EnableServer {
		if c.MaxRegistrations <= 0 || c.MaxRegistrationsPerPeer <= 0 || c.DefaultDiscoverLimit <= 0 {
			return errors.New("server limits must be positive")
		}
		if c.CleanupInterval <= 0 {
			return errors.New("cleanup interval must be positive")
		}
		if c.RequestsPerSecond <= 0 || c.RequestBurst <= 0 {
			return errors.New("rate limit must be positive")
		}
	}
	return nil
}

// WithServer 设置是否启用服务端
func (c RendezvousConfig) WithServer(enabled bool) RendezvousConfig {
	c.EnableServer = enabled
	return c
}
