package config

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enable 注册 prometheus 指标（含 libp2p 内部指标）
	Enable bool `json:"enable"`

	// Namespace 指标名前缀
	Namespace string `json:"namespace"`
}

// DefaultMetricsConfig 默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enable:    true,
		Namespace: "overlay",
	}
}
