package types

import (
	"errors"
	"fmt"
)

// ============================================================================
//                              错误分类
// ============================================================================

var (
	// ErrInstanceNotFound Session 已释放或句柄失效
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrBadAddress 地址格式错误
	ErrBadAddress = errors.New("bad address")

	// ErrBadIdentity 节点 ID 或密钥格式错误
	ErrBadIdentity = errors.New("bad identity")

	// ErrChannelMisuse 响应通道重复使用，或对未知/已过期的待验证消息做出裁决
	ErrChannelMisuse = errors.New("channel misuse")

	// ErrProtocol 底层协议失败
	ErrProtocol = errors.New("protocol error")
)

// ProtocolError 底层协议失败
//
// 同时匹配 ErrProtocol 与原始错误：
//
//	errors.Is(err, types.ErrProtocol) // true
//	errors.Is(err, cause)             // true
type ProtocolError struct {
	// Protocol 出错的协议模块名，如 "pubsub"、"dial"
	Protocol string

	// Err 原始错误
	Err error
}

// NewProtocolError 创建协议错误
func NewProtocolError(protocol string, err error) *ProtocolError {
	return &ProtocolError{Protocol: protocol, Err: err}
}

// Error 实现 error 接口
func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrProtocol, e.Protocol)
	}
	return fmt.Sprintf("%s: %s: %v", ErrProtocol, e.Protocol, e.Err)
}

// Unwrap 返回 ErrProtocol 与原始错误
func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProtocol}
	}
	return []error{ErrProtocol, e.Err}
}
