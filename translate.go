package overlay

import (
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/internal/core/admission"
	"github.com/dep2p/go-overlay/internal/core/gossip"
	"github.com/dep2p/go-overlay/internal/core/identify"
	"github.com/dep2p/go-overlay/internal/core/nat"
	"github.com/dep2p/go-overlay/internal/core/portmap"
	"github.com/dep2p/go-overlay/internal/core/rendezvous"
	"github.com/dep2p/go-overlay/internal/core/reqresp"
	"github.com/dep2p/go-overlay/internal/core/swarm"
	"github.com/dep2p/go-overlay/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              原始事件
// ════════════════════════════════════════════════════════════════════════════

// rawEvent 排队等待翻译的原始事实
//
// 每个来源一个分支。生产者运行在 libp2p 或行为模块的 goroutine 上，
// 只入队不持锁；翻译在事件循环中持 Session 锁进行。
type rawEvent interface {
	rawEvent()
}

type (
	rawSwarm            struct{ swarm.Event }
	rawAdmission        struct{ admission.Event }
	rawNAT              struct{ nat.Event }
	rawIdentify         struct{ identify.Event }
	rawPortmap          struct{ portmap.Event }
	rawRendezvousClient struct{ rendezvous.ClientEvent }
	rawRendezvousServer struct{ rendezvous.ServerEvent }
	rawGossip           struct{ gossip.Event }
	rawReqresp          struct{ reqresp.Event }

	// rawReady 命令产生的合成事件，已是应用事件形态
	rawReady struct{ ev Event }

	// rawDialResult 拨号 goroutine 的结果
	rawDialResult struct {
		id   types.ConnectionID
		peer peer.ID
		err  error

		// pending 拨号是否登记在连接表中
		pending bool
	}
)

func (rawSwarm) rawEvent()            {}
func (rawAdmission) rawEvent()        {}
func (rawNAT) rawEvent()              {}
func (rawIdentify) rawEvent()         {}
func (rawPortmap) rawEvent()          {}
func (rawRendezvousClient) rawEvent() {}
func (rawRendezvousServer) rawEvent() {}
func (rawGossip) rawEvent()           {}
func (rawReqresp) rawEvent()          {}
func (rawReady) rawEvent()            {}
func (rawDialResult) rawEvent()       {}

// push 入队，Session 关闭后静默丢弃
func (s *Session) push(r rawEvent) {
	s.queue.Push(r)
}

// emitReady 入队合成事件
func (s *Session) emitReady(evs ...Event) {
	for _, ev := range evs {
		s.queue.Push(rawReady{ev: ev})
	}
}

// followUp 将合成事件放到队头，紧随当前事件投递
func (s *Session) followUp(evs ...Event) {
	for i := len(evs) - 1; i >= 0; i-- {
		s.queue.PushFront(rawReady{ev: evs[i]})
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              翻译
// ════════════════════════════════════════════════════════════════════════════

// translate 将原始事实翻译为至多一个应用事件，调用方持有 Session 锁
//
// 返回 nil 表示该事实不含需要上报的信息。
func (s *Session) translate(raw rawEvent) Event {
	switch r := raw.(type) {
	case rawReady:
		return r.ev
	case rawDialResult:
		return s.translateDialResult(r)
	case rawSwarm:
		return s.translateSwarm(r.Event)
	case rawAdmission:
		return s.translateAdmission(r.Event)
	case rawNAT:
		return s.translateNAT(r.Event)
	case rawIdentify:
		return s.translateIdentify(r.Event)
	case rawPortmap:
		return s.translatePortmap(r.Event)
	case rawRendezvousClient:
		return s.translateRendezvousClient(r.ClientEvent)
	case rawRendezvousServer:
		return s.translateRendezvousServer(r.ServerEvent)
	case rawGossip:
		return s.translateGossip(r.Event)
	case rawReqresp:
		return s.translateReqresp(r.Event)
	}
	s.log.Warn("未知原始事件", "type", raw)
	return nil
}

// ────────────────────────────────────────────────────────────────────────────
// 连接与监听
// ────────────────────────────────────────────────────────────────────────────

func (s *Session) translateSwarm(e swarm.Event) Event {
	switch e := e.(type) {
	case swarm.ListenAddr:
		// Listen 命令已登记并上报
		if _, ok := s.table.ListenerFor(e.Addr); !ok {
			s.log.Debug("忽略未登记的监听地址", "addr", e.Addr)
		}
		return nil

	case swarm.ListenAddrClosed:
		if s.table.ConsumeSuppressed(e.Addr) {
			return nil
		}
		l, exhausted, ok := s.table.DropListenAddr(e.Addr)
		if !ok {
			return nil
		}
		if s.portmap != nil {
			s.portmap.RemoveListenAddr(e.Addr)
		}
		if exhausted {
			s.followUp(ListenerClosed{
				ListenerID: l.ID,
				Addresses:  []ma.Multiaddr{e.Addr},
				Reason:     ErrListenerLost,
			})
		}
		return ExpiredListenAddr{ListenerID: l.ID, Address: e.Addr}

	case swarm.Connected:
		return s.translateConnected(e)

	case swarm.Disconnected:
		c, ok := s.table.RemoveConn(e.Conn)
		if !ok {
			return nil
		}
		s.metrics.SetConnections(s.table.Conns())
		return ConnectionClosed{
			PeerID:         c.Peer,
			ConnectionID:   c.ID,
			Endpoint:       endpointOf(c.Conn, c.Listener),
			NumEstablished: e.Remaining,
			Cause:          c.Cause,
		}
	}
	return nil
}

func (s *Session) translateConnected(e swarm.Connected) Event {
	c := e.Conn
	p := c.RemotePeer()
	if _, ok := s.table.ConnByNetConn(c); ok {
		return nil
	}

	var (
		id       types.ConnectionID
		started  = e.At
		listener types.ListenerID
	)
	switch c.Stat().Direction {
	case network.DirOutbound:
		if d, ok := s.table.TakePendingDial(p); ok {
			id, started = d.ID, d.Started
		}
	case network.DirInbound:
		if in, ok := s.table.TakeIncoming(c.LocalMultiaddr(), c.RemoteMultiaddr()); ok {
			id, started = in.ID, in.Observed
		}
		if l, ok := s.table.ListenerFor(c.LocalMultiaddr()); ok {
			listener = l.ID
		}
	}
	if id == 0 {
		// libp2p 内部发起的连接（identify、autonat、中继等）
		id = s.table.AllocConnID()
	}

	s.table.AddConn(&swarm.Conn{
		ID:       id,
		Peer:     p,
		Conn:     c,
		Dir:      c.Stat().Direction,
		Listener: listener,
	})
	s.metrics.SetConnections(s.table.Conns())

	return ConnectionEstablished{
		PeerID:         p,
		ConnectionID:   id,
		Endpoint:       endpointOf(c, listener),
		NumEstablished: e.NumEstablished,
		EstablishedIn:  e.At.Sub(started),
	}
}

func endpointOf(c network.Conn, listener types.ListenerID) Endpoint {
	return Endpoint{
		Direction:  c.Stat().Direction,
		LocalAddr:  c.LocalMultiaddr(),
		RemoteAddr: c.RemoteMultiaddr(),
		ListenerID: listener,
	}
}

func (s *Session) translateDialResult(r rawDialResult) Event {
	if r.pending {
		// 已被连接认领的拨号：成功时无需再报，失败说明该连接来自并发拨号
		if _, ok := s.table.RemovePendingDial(r.peer, r.id); !ok {
			return nil
		}
		if r.err == nil {
			// 拨号返回了已有连接
			r.err = swarm.ErrAlreadyConnected
		}
	}
	if r.err == nil {
		return nil
	}
	return OutgoingConnectionError{ConnectionID: r.id, PeerID: r.peer, Error: r.err}
}

func (s *Session) translateAdmission(e admission.Event) Event {
	switch e := e.(type) {
	case admission.Accepted:
		in := s.table.ObserveIncoming(e.Local, e.Remote, e.At)
		return IncomingConnection{ConnectionID: in.ID, LocalAddr: e.Local, SendBackAddr: e.Remote}

	case admission.Denied:
		in, ok := s.table.TakeIncoming(e.Local, e.Remote)
		if !ok {
			// 握手前被拒绝，没有先行的 IncomingConnection
			in.ID = s.table.AllocConnID()
		}
		return IncomingConnectionError{
			ConnectionID: in.ID,
			LocalAddr:    e.Local,
			SendBackAddr: e.Remote,
			Error:        e.Err,
		}
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────
// NAT、端口映射、identify
// ────────────────────────────────────────────────────────────────────────────

func (s *Session) translateNAT(e nat.Event) Event {
	switch e := e.(type) {
	case nat.StatusChanged:
		if e.Old.Equal(e.New) {
			return nil
		}
		return NatStatusChanged{Old: e.Old, New: e.New}
	}
	return nil
}

func (s *Session) translatePortmap(e portmap.Event) Event {
	switch e := e.(type) {
	case portmap.NewExternalAddr:
		s.signalAddressChange()
		return UpnpNewExternalAddr{Address: e.Addr}
	case portmap.ExpiredExternalAddr:
		s.signalAddressChange()
		return UpnpExpiredExternalAddr{Address: e.Addr}
	case portmap.GatewayNotFound:
		return UpnpGatewayNotFound{}
	case portmap.NonRoutableGateway:
		return UpnpNonRoutableGateway{ExternalIP: e.ExternalIP}
	}
	return nil
}

func (s *Session) translateIdentify(e identify.Event) Event {
	switch e := e.(type) {
	case identify.Received:
		return IdentifyReceived{
			PeerID:          e.Peer,
			PublicKey:       e.PublicKey,
			ProtocolVersion: e.ProtocolVersion,
			AgentVersion:    e.AgentVersion,
			ListenAddrs:     e.ListenAddrs,
			Protocols:       e.Protocols,
			ObservedAddr:    e.ObservedAddr,
		}
	case identify.ObservedAddr:
		return NewExternalAddrCandidate{Address: e.Addr}
	case identify.GossipNotSupported:
		return GossipNotSupported{PeerID: e.Peer}
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────
// rendezvous
// ────────────────────────────────────────────────────────────────────────────

func (s *Session) translateRendezvousClient(e rendezvous.ClientEvent) Event {
	switch e := e.(type) {
	case rendezvous.Registered:
		return RendezvousRegistered{RendezvousNode: e.RendezvousNode, Namespace: e.Namespace, TTL: e.TTL}
	case rendezvous.RegisterFailed:
		return RendezvousRegisterFailed{RendezvousNode: e.RendezvousNode, Namespace: e.Namespace, Error: e.Err}
	case rendezvous.Discovered:
		var addrs []Event
		for _, reg := range e.Registrations {
			for _, a := range reg.Record.Addrs {
				addrs = append(addrs, NewExternalAddrOfPeer{PeerID: reg.Record.PeerID, Address: a})
			}
		}
		s.followUp(addrs...)
		return RendezvousDiscovered{RendezvousNode: e.RendezvousNode, Registrations: e.Registrations, Cookie: e.Cookie}
	case rendezvous.DiscoverFailed:
		return RendezvousDiscoverFailed{RendezvousNode: e.RendezvousNode, Namespace: e.Namespace, Error: e.Err}
	case rendezvous.Expired:
		return RendezvousExpired{PeerID: e.Peer}
	}
	return nil
}

func (s *Session) translateRendezvousServer(e rendezvous.ServerEvent) Event {
	switch e := e.(type) {
	case rendezvous.PeerRegistered:
		return RendezvousPeerRegistered{PeerID: e.Peer, Registration: e.Registration}
	case rendezvous.PeerNotRegistered:
		return RendezvousPeerNotRegistered{PeerID: e.Peer, Namespace: e.Namespace, Status: e.Status}
	case rendezvous.PeerUnregistered:
		return RendezvousPeerUnregistered{PeerID: e.Peer, Namespace: e.Namespace}
	case rendezvous.RegistrationExpired:
		return RendezvousRegistrationExpired{Registration: e.Registration}
	case rendezvous.DiscoverServed:
		return RendezvousDiscoverServed{Enquirer: e.Enquirer, Registrations: e.Registrations}
	case rendezvous.DiscoverNotServed:
		return RendezvousDiscoverNotServed{Enquirer: e.Enquirer, Status: e.Status}
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────
// gossip 与请求/响应
// ────────────────────────────────────────────────────────────────────────────

func (s *Session) translateGossip(e gossip.Event) Event {
	switch e := e.(type) {
	case gossip.Message:
		return GossipMessage{
			PropagationSource: e.PropagationSource,
			MessageID:         e.MessageID,
			Data:              e.Data,
			Source:            e.Source,
			Topic:             e.Topic,
		}
	case gossip.Subscribed:
		return GossipSubscribed{PeerID: e.Peer, Topic: e.Topic}
	case gossip.Unsubscribed:
		return GossipUnsubscribed{PeerID: e.Peer, Topic: e.Topic}
	}
	return nil
}

func (s *Session) translateReqresp(e reqresp.Event) Event {
	switch e := e.(type) {
	case reqresp.Request:
		return RequestMessage{RequestID: e.RequestID, PeerID: e.Peer, Data: e.Data, Channel: e.Channel}
	case reqresp.Response:
		return ResponseMessage{RequestID: e.RequestID, PeerID: e.Peer, Data: e.Data}
	case reqresp.OutboundFailure:
		return OutboundFailure{RequestID: e.RequestID, PeerID: e.Peer, Error: e.Err}
	case reqresp.InboundFailure:
		return InboundFailure{RequestID: e.RequestID, PeerID: e.Peer, Error: e.Err}
	case reqresp.ResponseSent:
		return ResponseSent{RequestID: e.RequestID, PeerID: e.Peer}
	}
	return nil
}
