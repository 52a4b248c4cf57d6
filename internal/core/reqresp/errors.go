package reqresp

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-overlay/pkg/types"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrTimeout 等待响应或应答超时
	ErrTimeout = errors.New("reqresp: timeout")

	// ErrResponseOmission 应用放弃应答
	ErrResponseOmission = errors.New("reqresp: response omission")

	// ErrUnsupportedProtocols 对端不支持请求协议
	ErrUnsupportedProtocols = errors.New("reqresp: unsupported protocols")

	// ErrConnectionClosed 应答完成前流被关闭
	ErrConnectionClosed = errors.New("reqresp: connection closed")

	// ErrDialFailure 无法打开到对端的流
	ErrDialFailure = errors.New("reqresp: dial failure")

	// ErrTooManyInbound 入站请求并发已满
	ErrTooManyInbound = errors.New("reqresp: too many inbound requests")

	// ErrTooLarge 请求或响应超过大小上限
	ErrTooLarge = errors.New("reqresp: message too large")

	// ErrChannelConsumed 响应通道已使用
	ErrChannelConsumed = fmt.Errorf("reqresp: response channel already used: %w", types.ErrChannelMisuse)

	// ErrNilChannel 响应通道为空
	ErrNilChannel = fmt.Errorf("reqresp: nil response channel: %w", types.ErrChannelMisuse)

	// ErrNotStarted 行为尚未启动或已关闭
	ErrNotStarted = errors.New("reqresp: not started")
)
