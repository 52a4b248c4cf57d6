package config

import (
	"errors"
	"time"
)

// DefaultRequestProtocol 请求/响应协议
const DefaultRequestProtocol = "/transfer/1.0.0"

// RequestConfig 请求/响应配置
type RequestConfig struct {
	// Protocol 协议 ID
	Protocol string `json:"protocol"`

	// Timeout 出站请求等待响应、入站请求等待应答的超时
	Timeout Duration `json:"timeout"`

	// MaxRequestSize / MaxResponseSize 单帧上限
	MaxRequestSize  int `json:"max_request_size"`
	MaxResponseSize int `json:"max_response_size"`

	// MaxConcurrentInbound 同时等待应答的入站请求上限
	MaxConcurrentInbound int `json:"max_concurrent_inbound"`
}

// DefaultRequestConfig 默认请求/响应配置
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{
		Protocol:             DefaultRequestProtocol,
		Timeout:              Duration(10 * time.Second),
		MaxRequestSize:       1 << 20,
		MaxResponseSize:      10 << 20,
		MaxConcurrentInbound: 128,
	}
}

// Validate 验证请求/响应配置
func (c RequestConfig) Validate() error {
	if c.Protocol == "" || c.Protocol[0] != '/' {
		return errors.New("protocol must start with /")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.MaxRequestSize <= 0 || c.MaxResponseSize <= 0 || c.MaxConcurrentInbound <= 0 {
		return errors.New("size and concurrency limits must be positive")
	}
	return nil
}
