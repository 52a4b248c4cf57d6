package admission

import "errors"

var (
	// ErrBlocked 节点在黑名单中
	ErrBlocked = errors.New("admission: peer is blocked")

	// ErrPendingIncomingLimit 待建立入站连接过多
	ErrPendingIncomingLimit = errors.New("admission: pending incoming connection limit reached")

	// ErrEstablishedLimit 已建立连接总数超限
	ErrEstablishedLimit = errors.New("admission: established connection limit reached")

	// ErrEstablishedIncomingLimit 已建立入站连接超限
	ErrEstablishedIncomingLimit = errors.New("admission: established incoming connection limit reached")

	// ErrEstablishedOutgoingLimit 已建立出站连接超限
	ErrEstablishedOutgoingLimit = errors.New("admission: established outgoing connection limit reached")

	// ErrPerPeerLimit 单节点连接数超限
	ErrPerPeerLimit = errors.New("admission: per-peer connection limit reached")

	// ErrMemoryPressure 进程内存占用超过阈值
	ErrMemoryPressure = errors.New("admission: memory usage above threshold")
)
