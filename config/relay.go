package config

// RelayConfig 中继与打洞配置
type RelayConfig struct {
	// EnableClient 启用 circuit relay v2 客户端（可拨号 /p2p-circuit 地址）
	EnableClient bool `json:"enable_client"`

	// EnableService 为其他节点提供中继
	EnableService bool `json:"enable_service"`

	// EnableHolePunching 启用 DCUtR 打洞
	EnableHolePunching bool `json:"enable_hole_punching"`

	// StaticRelays 自动中继使用的静态中继节点（带 /p2p/ 的地址）
	StaticRelays []string `json:"static_relays,omitempty"`
}

// DefaultRelayConfig 默认中继配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		EnableClient:       true,
		EnableService:      true,
		EnableHolePunching: true,
	}
}

// Validate 验证中继配置
//
// 静态中继地址在构造 Session 时解析，格式错误返回 bad-address。
func (c RelayConfig) Validate() error {
	return nil
}
