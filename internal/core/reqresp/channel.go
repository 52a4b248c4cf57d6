package reqresp

import (
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/dep2p/go-overlay/pkg/types"
)

type reply struct {
	data    []byte
	discard bool
}

// ResponseChannel 入站请求的应答通道
//
// 只能使用一次：应答、放弃或超时都会消耗它。
type ResponseChannel struct {
	id       types.RequestID
	peer     peer.ID
	consumed atomic.Bool
	reply    chan reply
}

func newResponseChannel(id types.RequestID, p peer.ID) *ResponseChannel {
	return &ResponseChannel{id: id, peer: p, reply: make(chan reply, 1)}
}

// RequestID 请求 ID
func (c *ResponseChannel) RequestID() types.RequestID { return c.id }

// Peer 请求方
func (c *ResponseChannel) Peer() peer.ID { return c.peer }

// Consumed 是否已使用
func (c *ResponseChannel) Consumed() bool { return c.consumed.Load() }

func (c *ResponseChannel) consume() bool {
	return c.consumed.CompareAndSwap(false, true)
}
