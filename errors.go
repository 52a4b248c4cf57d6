package overlay

import (
	"errors"

	"github.com/dep2p/go-overlay/pkg/types"
)

// 错误分类，与 pkg/types 中的定义相同
var (
	// ErrInstanceNotFound Session 已释放或句柄失效
	ErrInstanceNotFound = types.ErrInstanceNotFound

	// ErrBadAddress 地址格式错误
	ErrBadAddress = types.ErrBadAddress

	// ErrBadIdentity 节点 ID 或密钥格式错误
	ErrBadIdentity = types.ErrBadIdentity

	// ErrChannelMisuse 响应通道或待验证消息被重复裁决
	ErrChannelMisuse = types.ErrChannelMisuse

	// ErrProtocol 底层协议失败
	ErrProtocol = types.ErrProtocol
)

// ProtocolError 底层协议失败，同时匹配 ErrProtocol 与原始错误
type ProtocolError = types.ProtocolError

var (
	// ErrLoopRunning 事件循环已在运行
	ErrLoopRunning = errors.New("overlay: event loop already running")

	// ErrNilConfig 未提供配置
	ErrNilConfig = errors.New("overlay: nil config")

	// ErrNilKeypair 未提供身份
	ErrNilKeypair = errors.New("overlay: nil keypair")

	// ErrClosedLocally 连接由本地命令关闭
	ErrClosedLocally = errors.New("overlay: connection closed locally")

	// ErrListenerLost 监听器的全部地址意外关闭
	ErrListenerLost = errors.New("overlay: listener closed unexpectedly")
)
