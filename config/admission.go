package config

import "errors"

// AdmissionConfig 连接准入配置
//
// 所有上限为 0 表示不限制。
type AdmissionConfig struct {
	// MaxEstablished 已建立连接总数上限
	MaxEstablished int `json:"max_established"`

	// MaxEstablishedIncoming 已建立入站连接上限
	MaxEstablishedIncoming int `json:"max_established_incoming"`

	// MaxEstablishedOutgoing 已建立出站连接上限
	MaxEstablishedOutgoing int `json:"max_established_outgoing"`

	// MaxEstablishedPerPeer 单节点连接上限
	MaxEstablishedPerPeer int `json:"max_established_per_peer"`

	// MaxPendingIncoming 握手中的入站连接上限
	MaxPendingIncoming int `json:"max_pending_incoming"`

	// MaxPendingOutgoing 进行中的拨号上限
	MaxPendingOutgoing int `json:"max_pending_outgoing"`

	// MemoryMaxPercentage 进程内存占系统内存比例超过该值后拒绝新连接，0 表示关闭
	MemoryMaxPercentage float64 `json:"memory_max_percentage"`
}

// DefaultAdmissionConfig 默认准入配置
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		MaxPendingIncoming:  256,
		MemoryMaxPercentage: 0.9,
	}
}

// Validate 验证准入配置
func (c AdmissionConfig) Validate() error {
	for _, v := range []int{
		c.MaxEstablished, c.MaxEstablishedIncoming, c.MaxEstablishedOutgoing,
		c.MaxEstablishedPerPeer, c.MaxPendingIncoming, c.MaxPendingOutgoing,
	} {
		if v < 0 {
			return errors.New("connection limits must not be negative")
		}
	}
	if c.MemoryMaxPercentage < 0 || c.MemoryMaxPercentage > 1 {
		return errors.New("memory max percentage must be within [0, 1]")
	}
	return nil
}
