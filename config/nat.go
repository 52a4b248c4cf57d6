package config

import (
	"errors"
	"fmt"
	"time"
)

// 强制可达性取值
const (
	ReachabilityAuto    = ""
	ReachabilityPublic  = "public"
	ReachabilityPrivate = "private"
)

// NATConfig AutoNAT 配置
type NATConfig struct {
	// EnableService 为其他节点提供 NAT 探测服务
	EnableService bool `json:"enable_service"`

	// BootDelay 启动后首次重连受信探测服务器前的等待
	BootDelay Duration `json:"boot_delay"`

	// RetryInterval 状态仍未知时重连受信探测服务器的间隔
	RetryInterval Duration `json:"retry_interval"`

	// OnlyGlobalIPs 公网状态只报告全局可路由地址
	OnlyGlobalIPs bool `json:"only_global_ips"`

	// ForceReachability 强制可达性："" / "public" / "private"
	ForceReachability string `json:"force_reachability,omitempty"`

	// ServiceGlobalLimit / ServicePeerLimit / ServiceLimitInterval 探测服务限速
	ServiceGlobalLimit   int      `json:"service_global_limit"`
	ServicePeerLimit     int      `json:"service_peer_limit"`
	ServiceLimitInterval Duration `json:"service_limit_interval"`
}

// DefaultNATConfig 默认 NAT 配置
func DefaultNATConfig() NATConfig {
	return NATConfig{
		EnableService:        true,
		BootDelay:            Duration(15 * time.Second),
		RetryInterval:        Duration(90 * time.Second),
		OnlyGlobalIPs:        true,
		ServiceGlobalLimit:   30,
		ServicePeerLimit:     3,
		ServiceLimitInterval: Duration(time.Minute),
	}
}

// Validate 验证 NAT 配置
func (c NATConfig) Validate() error {
	switch c.ForceReachability {
	case ReachabilityAuto, ReachabilityPublic, ReachabilityPrivate:
	default:
		return fmt.Errorf("unknown force_reachability %q", c.ForceReachability)
	}
	if c.BootDelay < 0 {
		return errors.New("boot delay must not be negative")
	}
	if c.RetryInterval <= 0 {
		return errors.New("retry interval must be positive")
	}
	if c.EnableService {
		if c.ServiceGlobalLimit <= 0 || c.ServicePeerLimit <= 0 {
			return errors.New("autonat service limits must be positive")
		}
		if c.ServiceLimitInterval <= 0 {
			return errors.New("autonat service limit interval must be positive")
		}
	}
	return nil
}

// WithService 设置是否提供探测服务
func (c NATConfig) WithService(enabled bool) NATConfig {
	c.EnableService = enabled
	return c
}
