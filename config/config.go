// Package config 提供 overlay Session 的配置
//
// 主 Config 嵌入各行为模块的子配置，每个子配置在独立文件中定义，
// 提供 DefaultXxxConfig()、Validate() 与 WithXxx 辅助方法。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Listen = []string{"/ip4/0.0.0.0/tcp/4001"}
//	cfg.PubSub = cfg.PubSub.WithTopicHashing(config.TopicHashSHA256)
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 配置无效
var ErrInvalidConfig = errors.New("invalid config")

// Config Session 的完整配置
type Config struct {
	// Listen 启动时监听的地址
	Listen []string `json:"listen,omitempty"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Identify 身份交换配置
	Identify IdentifyConfig `json:"identify"`

	// NAT AutoNAT 配置
	NAT NATConfig `json:"nat"`

	// PortMap UPnP / NAT-PMP 端口映射配置
	PortMap PortMapConfig `json:"port_map"`

	// Relay 中继与打洞配置
	Relay RelayConfig `json:"relay"`

	// Admission 连接准入配置
	Admission AdmissionConfig `json:"admission"`

	// PubSub gossip 配置
	PubSub PubSubConfig `json:"pubsub"`

	// Rendezvous 会合点配置
	Rendezvous RendezvousConfig `json:"rendezvous"`

	// Request 请求/响应配置
	Request RequestConfig `json:"request"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Transport:  DefaultTransportConfig(),
		Identify:   DefaultIdentifyConfig(),
		NAT:        DefaultNATConfig(),
		PortMap:    DefaultPortMapConfig(),
		Relay:      DefaultRelayConfig(),
		Admission:  DefaultAdmissionConfig(),
		PubSub:     DefaultPubSubConfig(),
		Rendezvous: DefaultRendezvousConfig(),
		Request:    DefaultRequestConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// Validate 验证配置
//
// 返回的错误包装 ErrInvalidConfig 并带有子配置名。
func (c *Config) Validate() error {
	sections := []struct {
		name string
		fn   func() error
	}{
		{"transport", c.Transport.Validate},
		{"identify", c.Identify.Validate},
		{"nat", c.NAT.Validate},
		{"port_map", c.PortMap.Validate},
		{"relay", c.Relay.Validate},
		{"admission", c.Admission.Validate},
		{"pubsub", c.PubSub.Validate},
		{"rendezvous", c.Rendezvous.Validate},
		{"request", c.Request.Validate},
	}
	for _, s := range sections {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, s.name, err)
		}
	}
	if !c.Transport.EnableTCP && !c.Transport.EnableQUIC && !c.Transport.EnableWebSocket && !c.Relay.EnableClient {
		return fmt.Errorf("%w: no transport enabled", ErrInvalidConfig)
	}
	return nil
}

// Clone 深拷贝配置
func (c *Config) Clone() *Config {
	out := *c
	out.Listen = append([]string(nil), c.Listen...)
	out.Relay.StaticRelays = append([]string(nil), c.Relay.StaticRelays...)
	out.PubSub.DirectPeers = append([]string(nil), c.PubSub.DirectPeers...)
	return &out
}
