package swarm

import "errors"

var (
	// ErrQueueClosed 事件队列已关闭
	ErrQueueClosed = errors.New("swarm: event queue closed")

	// ErrNoPeerID 拨号地址缺少 /p2p/ 节点 ID
	ErrNoPeerID = errors.New("swarm: address has no /p2p/ peer id")

	// ErrAlreadyConnected 已存在到该节点的连接
	ErrAlreadyConnected = errors.New("swarm: peer already connected")

	// ErrDialToSelf 拨号自己
	ErrDialToSelf = errors.New("swarm: dial to self attempted")

	// ErrPendingDialLimit 进行中的拨号过多
	ErrPendingDialLimit = errors.New("swarm: too many pending outgoing connections")

	// ErrListenCloseUnsupported 网络实现不支持关闭单个监听器
	ErrListenCloseUnsupported = errors.New("swarm: network does not support closing listeners")

	// ErrNoNewListenAddr 监听成功但没有新增监听地址
	ErrNoNewListenAddr = errors.New("swarm: listen produced no new address")
)
