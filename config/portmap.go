package config

import (
	"errors"
	"time"
)

// PortMapConfig UPnP / NAT-PMP 端口映射配置
type PortMapConfig struct {
	// Enable 启用端口映射
	Enable bool `json:"enable"`

	// EnableNATPMP UPnP 网关不可用时回退到 NAT-PMP
	EnableNATPMP bool `json:"enable_natpmp"`

	// MappingDuration 映射租约
	MappingDuration Duration `json:"mapping_duration"`

	// RefreshInterval 续约间隔，必须小于租约
	RefreshInterval Duration `json:"refresh_interval"`

	// DiscoveryTimeout 网关发现超时
	DiscoveryTimeout Duration `json:"discovery_timeout"`

	// Description 映射描述
	Description string `json:"description"`
}

// DefaultPortMapConfig 默认端口映射配置
func DefaultPortMapConfig() PortMapConfig {
	return PortMapConfig{
		Enable:           true,
		EnableNATPMP:     true,
		MappingDuration:  Duration(time.Hour),
		RefreshInterval:  Duration(20 * time.Minute),
		DiscoveryTimeout: Duration(10 * time.Second),
		Description:      "go-overlay",
	}
}

// Validate 验证端口映射配置
func (c PortMapConfig) Validate() error {
	if !c.Enable {
		return nil
	}
	if c.MappingDuration <= 0 || c.RefreshInterval <= 0 || c.DiscoveryTimeout <= 0 {
		return errors.New("port map durations must be positive")
	}
	if c.RefreshInterval >= c.MappingDuration {
		return errors.New("refresh interval must be shorter than mapping duration")
	}
	return nil
}

// WithEnable 设置是否启用端口映射
func (c PortMapConfig) WithEnable(enabled bool) PortMapConfig {
	c.Enable = enabled
	return c
}
