package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FromJSON 从 JSON 加载配置
//
// 未出现的字段保持默认值。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// ToJSON 序列化配置
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ApplyPreset 应用预设
//
// 支持的预设：
//   - "minimal": 仅 TCP，关闭端口映射、中继服务、会合点服务端与 NAT 服务，适合测试与本地网络
//   - "server": 公网服务器，开启全部服务端角色，关闭端口映射
func ApplyPreset(cfg *Config, name string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	switch name {
	case "minimal":
		cfg.Transport = cfg.Transport.WithTCPOnly()
		cfg.PortMap.Enable = false
		cfg.Relay.EnableService = false
		cfg.Relay.EnableHolePunching = false
		cfg.NAT.EnableService = false
		cfg.Rendezvous.EnableServer = false
		cfg.Metrics.Enable = false
	case "server":
		cfg.PortMap.Enable = false
		cfg.Relay.EnableService = true
		cfg.NAT.EnableService = true
		cfg.Rendezvous.EnableServer = true
		cfg.Transport.ConnMgrLow = 400
		cfg.Transport.ConnMgrHigh = 2000
		cfg.Transport.IdleConnectionTimeout = Duration(30 * time.Second)
	case "":
	default:
		return fmt.Errorf("unknown preset: %s", name)
	}
	return nil
}
