package swarm

import (
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"
)

// Event 网络层通知
type Event interface {
	swarmEvent()
}

// ListenAddr 开始监听地址
type ListenAddr struct {
	Addr ma.Multiaddr
}

// ListenAddrClosed 停止监听地址
type ListenAddrClosed struct {
	Addr ma.Multiaddr
}

// Connected 连接建立
type Connected struct {
	Conn network.Conn
	// NumEstablished 含本连接在内到该节点的连接数
	NumEstablished int
	At             time.Time
}

// Disconnected 连接关闭
type Disconnected struct {
	Conn network.Conn
	// Remaining 到该节点剩余的连接数
	Remaining int
}

func (ListenAddr) swarmEvent()       {}
func (ListenAddrClosed) swarmEvent() {}
func (Connected) swarmEvent()        {}
func (Disconnected) swarmEvent()     {}

// NewNotifiee 将 libp2p 网络通知转为 Event
//
// 回调运行在 libp2p 的 goroutine 上，emit 不得阻塞。
func NewNotifiee(emit func(Event), now func() time.Time) network.Notifiee {
	return &network.NotifyBundle{
		ListenF: func(_ network.Network, a ma.Multiaddr) {
			emit(ListenAddr{Addr: a})
		},
		ListenCloseF: func(_ network.Network, a ma.Multiaddr) {
			emit(ListenAddrClosed{Addr: a})
		},
		ConnectedF: func(n network.Network, c network.Conn) {
			emit(Connected{
				Conn:           c,
				NumEstablished: countOpen(n.ConnsToPeer(c.RemotePeer())),
				At:             now(),
			})
		},
		DisconnectedF: func(n network.Network, c network.Conn) {
			emit(Disconnected{
				Conn:      c,
				Remaining: countOpen(n.ConnsToPeer(c.RemotePeer())),
			})
		},
	}
}

func countOpen(conns []network.Conn) int {
	n := 0
	for _, c := range conns {
		if !c.IsClosed() {
			n++
		}
	}
	return n
}
