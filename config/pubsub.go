package config

import (
	"errors"
	"fmt"
	"time"
)

// 主题哈希方式
const (
	// TopicHashIdentity 主题字符串即哈希
	TopicHashIdentity = "identity"
	// TopicHashSHA256 base64(sha256(TopicDescriptor))
	TopicHashSHA256 = "sha256"
)

// PubSubConfig gossip 配置
type PubSubConfig struct {
	// HeartbeatInitialDelay 首次心跳延迟
	HeartbeatInitialDelay Duration `json:"heartbeat_initial_delay"`

	// HeartbeatInterval 心跳间隔
	HeartbeatInterval Duration `json:"heartbeat_interval"`

	// TopicHashing 主题哈希方式
	TopicHashing string `json:"topic_hashing"`

	// ValidationTimeout 待验证消息的过期时间，0 表示永不过期
	ValidationTimeout Duration `json:"validation_timeout"`

	// ResolvedCacheSize 已裁决消息的记忆条数，用于识别重复裁决
	ResolvedCacheSize int `json:"resolved_cache_size"`

	// ResolvedCacheTTL 已裁决消息的记忆时长
	ResolvedCacheTTL Duration `json:"resolved_cache_ttl"`

	// DirectPeers 常驻直连节点（带 /p2p/ 的地址），消息总是转发给它们
	DirectPeers []string `json:"direct_peers,omitempty"`
}

// DefaultPubSubConfig 默认 gossip 配置
func DefaultPubSubConfig() PubSubConfig {
	return PubSubConfig{
		HeartbeatInitialDelay: Duration(100 * time.Millisecond),
		HeartbeatInterval:     Duration(time.Second),
		TopicHashing:          TopicHashIdentity,
		ResolvedCacheSize:     4096,
		ResolvedCacheTTL:      Duration(2 * time.Minute),
	}
}

// Validate 验证 gossip 配置
func (c PubSubConfig) Validate() error {
	if c.HeartbeatInitialDelay <= 0 || c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat delay and interval must be positive")
	}
	switch c.TopicHashing {
	case TopicHashIdentity, TopicHashSHA256:
	default:
		return fmt.Errorf("unknown topic hashing %q", c.TopicHashing)
	}
	if c.ValidationTimeout < 0 {
		return errors.New("validation timeout must not be negative")
	}
	if c.ResolvedCacheSize <= 0 || c.ResolvedCacheTTL <= 0 {
		return errors.New("resolved cache size and ttl must be positive")
	}
	// 直连节点地址在启动 gossip 时解析，格式错误返回 bad-address
	return nil
}

// WithTopicHashing 设置主题哈希方式
func (c PubSubConfig) WithTopicHashing(mode string) PubSubConfig {
	c.TopicHashing = mode
	return c
}
