// Package identify 桥接 libp2p identify 协议的结果
//
// identify 本身由 libp2p host 运行，本包订阅 EvtPeerIdentificationCompleted 并上报：
//   - Received：对端身份信息
//   - ObservedAddr：对端观察到的本节点地址，作为外部地址候选
//   - GossipNotSupported：对端不支持任何 gossipsub/floodsub 协议
package identify

import (
	"context"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/util/logger"
)

var log = logger.Logger("identify")

// Name 行为名
const Name = "identify"

// gossipProtocols 视为支持 gossip 的协议
var gossipProtocols = []protocol.ID{
	pubsub.GossipSubID_v12,
	pubsub.GossipSubID_v11,
	pubsub.GossipSubID_v10,
	pubsub.FloodSubID,
}

// Event identify 事件
type Event interface {
	identifyEvent()
}

// Received 完成对端身份交换
type Received struct {
	Peer            peer.ID
	PublicKey       crypto.PubKey
	ProtocolVersion string
	AgentVersion    string
	ListenAddrs     []ma.Multiaddr
	Protocols       []protocol.ID
	ObservedAddr    ma.Multiaddr
}

// ObservedAddr 对端观察到的本节点地址
type ObservedAddr struct {
	Peer peer.ID
	Addr ma.Multiaddr
}

// GossipNotSupported 对端不支持 gossip
type GossipNotSupported struct {
	Peer peer.ID
}

func (Received) identifyEvent()           {}
func (ObservedAddr) identifyEvent()       {}
func (GossipNotSupported) identifyEvent() {}

// HostOptions 返回 identify 相关的 host 选项
func HostOptions(cfg config.IdentifyConfig) []libp2p.Option {
	opts := []libp2p.Option{libp2p.ProtocolVersion(cfg.ProtocolVersion)}
	if cfg.AgentVersion != "" {
		opts = append(opts, libp2p.UserAgent(cfg.AgentVersion))
	}
	return opts
}

// Behaviour identify 结果桥接
type Behaviour struct {
	emit func(Event)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建 identify 桥接
func New(emit func(Event)) *Behaviour {
	if emit == nil {
		emit = func(Event) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Behaviour{emit: emit, ctx: ctx, cancel: cancel}
}

// Name 行为名
func (b *Behaviour) Name() string { return Name }

// Start 订阅 identify 事件
func (b *Behaviour) Start(h host.Host) error {
	sub, err := h.EventBus().Subscribe([]interface{}{
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtPeerIdentificationFailed),
	})
	if err != nil {
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-b.ctx.Done():
				return
			case e, ok := <-sub.Out():
				if !ok {
					return
				}
				switch evt := e.(type) {
				case event.EvtPeerIdentificationCompleted:
					for _, out := range translate(evt, publicKey(h, evt)) {
						b.emit(out)
					}
				case event.EvtPeerIdentificationFailed:
					log.Debug("身份交换失败", "peer", evt.Peer, "err", evt.Reason)
				}
			}
		}
	}()
	return nil
}

// Close 停止订阅
func (b *Behaviour) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

func publicKey(h host.Host, evt event.EvtPeerIdentificationCompleted) crypto.PubKey {
	if evt.Conn != nil {
		if pub := evt.Conn.RemotePublicKey(); pub != nil {
			return pub
		}
	}
	return h.Peerstore().PubKey(evt.Peer)
}

// translate 将一次身份交换结果转换为事件序列
func translate(evt event.EvtPeerIdentificationCompleted, pub crypto.PubKey) []Event {
	out := []Event{Received{
		Peer:            evt.Peer,
		PublicKey:       pub,
		ProtocolVersion: evt.ProtocolVersion,
		AgentVersion:    evt.AgentVersion,
		ListenAddrs:     evt.ListenAddrs,
		Protocols:       evt.Protocols,
		ObservedAddr:    evt.ObservedAddr,
	}}
	if evt.ObservedAddr != nil {
		out = append(out, ObservedAddr{Peer: evt.Peer, Addr: evt.ObservedAddr})
	}
	if !SupportsGossip(evt.Protocols) {
		out = append(out, GossipNotSupported{Peer: evt.Peer})
	}
	return out
}

// SupportsGossip 协议列表是否包含任一 gossipsub/floodsub 协议
func SupportsGossip(protos []protocol.ID) bool {
	for _, p := range protos {
		for _, g := range gossipProtocols {
			if p == g {
				return true
			}
		}
	}
	return false
}
