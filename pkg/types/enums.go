package types

import (
	"fmt"
	"strings"
)

// MessageAcceptance 待验证 gossip 消息的裁决
type MessageAcceptance int

const (
	// AcceptMessage 接受并继续转发
	AcceptMessage MessageAcceptance = iota
	// RejectMessage 丢弃并惩罚来源节点
	RejectMessage
	// IgnoreMessage 丢弃，不惩罚
	IgnoreMessage
)

// String 返回裁决名称
func (a MessageAcceptance) String() string {
	switch a {
	case AcceptMessage:
		return "accept"
	case RejectMessage:
		return "reject"
	case IgnoreMessage:
		return "ignore"
	default:
		return fmt.Sprintf("MessageAcceptance(%d)", int(a))
	}
}

// Valid 是否为已知裁决
func (a MessageAcceptance) Valid() bool {
	return a >= AcceptMessage && a <= IgnoreMessage
}

// ParseMessageAcceptance 解析裁决名称（大小写不敏感）
func ParseMessageAcceptance(s string) (MessageAcceptance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept":
		return AcceptMessage, nil
	case "reject":
		return RejectMessage, nil
	case "ignore":
		return IgnoreMessage, nil
	default:
		return 0, fmt.Errorf("unknown message acceptance %q", s)
	}
}
