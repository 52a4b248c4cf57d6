package types

import (
	ma "github.com/multiformats/go-multiaddr"
)

// Reachability NAT 可达性
type Reachability int

const (
	// ReachabilityUnknown 尚未判定
	ReachabilityUnknown Reachability = iota
	// ReachabilityPublic 公网可达
	ReachabilityPublic
	// ReachabilityPrivate 位于 NAT 之后
	ReachabilityPrivate
)

// String 返回可达性名称
func (r Reachability) String() string {
	switch r {
	case ReachabilityPublic:
		return "public"
	case ReachabilityPrivate:
		return "private"
	default:
		return "unknown"
	}
}

// NatStatus NAT 状态
//
// 三态：Public(外部地址) / Private / Unknown。
// 只有 NAT 行为模块会改变它。
type NatStatus struct {
	Reachability Reachability

	// Address 公网地址，仅 Public 时可能非空
	Address ma.Multiaddr
}

// NatUnknown 未知状态
func NatUnknown() NatStatus { return NatStatus{} }

// NatPrivate 私网状态
func NatPrivate() NatStatus { return NatStatus{Reachability: ReachabilityPrivate} }

// NatPublic 带外部地址的公网状态
func NatPublic(addr ma.Multiaddr) NatStatus {
	return NatStatus{Reachability: ReachabilityPublic, Address: addr}
}

// IsPublic 是否公网可达
func (s NatStatus) IsPublic() bool { return s.Reachability == ReachabilityPublic }

// Equal 比较两个状态
func (s NatStatus) Equal(o NatStatus) bool {
	if s.Reachability != o.Reachability {
		return false
	}
	if s.Address == nil || o.Address == nil {
		return s.Address == nil && o.Address == nil
	}
	return s.Address.Equal(o.Address)
}

// String 返回 "public(/ip4/...)"、"private" 或 "unknown"
func (s NatStatus) String() string {
	if s.Reachability == ReachabilityPublic && s.Address != nil {
		return "public(" + s.Address.String() + ")"
	}
	return s.Reachability.String()
}
