package config

import "errors"

// 默认身份交换字符串
const (
	DefaultProtocolVersion = "rendezvous/1.0.0"
	DefaultAgentVersion    = "go-overlay/0.1.0"
)

// IdentifyConfig 身份交换配置
type IdentifyConfig struct {
	// ProtocolVersion identify 协议版本字符串
	ProtocolVersion string `json:"protocol_version"`

	// AgentVersion 代理版本字符串
	AgentVersion string `json:"agent_version"`
}

// DefaultIdentifyConfig 默认身份交换配置
func DefaultIdentifyConfig() IdentifyConfig {
	return IdentifyConfig{
		ProtocolVersion: DefaultProtocolVersion,
		AgentVersion:    DefaultAgentVersion,
	}
}

// Validate 验证身份交换配置
func (c IdentifyConfig) Validate() error {
	if c.ProtocolVersion == "" {
		return errors.New("protocol version must not be empty")
	}
	return nil
}
