package overlay

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/internal/core/swarm"
	"github.com/dep2p/go-overlay/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              拨号
// ════════════════════════════════════════════════════════════════════════════

// DialAddress 拨号地址
//
// 立即返回连接句柄并上报 Dialing，结果以 ConnectionEstablished 或
// OutgoingConnectionError 上报。同步失败只有地址格式错误与 Session 已释放。
// 地址必须带 /p2p/ 节点 ID，否则以 OutgoingConnectionError 报告。
func (s *Session) DialAddress(ctx context.Context, addr string) (types.ConnectionID, error) {
	a, err := types.ParseMultiaddr(addr)
	if err != nil {
		s.metrics.Command("dial_address", err)
		return 0, err
	}

	var id types.ConnectionID
	err = s.exec(ctx, "dial_address", func() error {
		transport, p := peer.SplitAddr(a)
		if p == "" {
			id = s.table.AllocConnID()
			s.emitReady(Dialing{ConnectionID: id})
			s.push(rawDialResult{id: id, err: fmt.Errorf("%w: %s", swarm.ErrNoPeerID, a)})
			return nil
		}
		var addrs []ma.Multiaddr
		if transport != nil {
			addrs = append(addrs, transport)
		}
		id = s.dialLocked(peer.AddrInfo{ID: p, Addrs: addrs})
		return nil
	})
	return id, err
}

// DialPeer 按节点 ID 拨号，地址取自地址簿
func (s *Session) DialPeer(ctx context.Context, peerID string) (types.ConnectionID, error) {
	p, err := types.ParsePeerID(peerID)
	if err != nil {
		s.metrics.Command("dial_peer", err)
		return 0, err
	}

	var id types.ConnectionID
	err = s.exec(ctx, "dial_peer", func() error {
		id = s.dialLocked(peer.AddrInfo{ID: p})
		return nil
	})
	return id, err
}

// dialLocked 登记并发起拨号，调用方持有 Session 锁
func (s *Session) dialLocked(info peer.AddrInfo) types.ConnectionID {
	id := s.table.AllocConnID()
	s.emitReady(Dialing{PeerID: info.ID, ConnectionID: id})

	fail := func(err error) types.ConnectionID {
		s.push(rawDialResult{id: id, peer: info.ID, err: err})
		return id
	}
	switch {
	case info.ID == s.host.ID():
		return fail(swarm.ErrDialToSelf)
	case s.host.Network().Connectedness(info.ID) == network.Connected:
		return fail(swarm.ErrAlreadyConnected)
	case s.cfg.Admission.MaxPendingOutgoing > 0 && s.table.PendingDials() >= s.cfg.Admission.MaxPendingOutgoing:
		return fail(swarm.ErrPendingDialLimit)
	}

	s.table.AddPendingDial(swarm.PendingDial{
		ID:      id,
		Peer:    info.ID,
		Addr:    firstAddr(info.Addrs),
		Started: s.clock.Now(),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Transport.DialTimeout.Duration())
		defer cancel()

		err := s.host.Connect(ctx, info)
		if err != nil {
			s.log.Debug("拨号失败", "peer", info.ID, "conn", id, "err", err)
		}
		s.push(rawDialResult{id: id, peer: info.ID, err: err, pending: true})
	}()
	return id
}

func firstAddr(addrs []ma.Multiaddr) ma.Multiaddr {
	if len(addrs) == 0 {
		return nil
	}
	return addrs[0]
}

// ════════════════════════════════════════════════════════════════════════════
//                              断开
// ════════════════════════════════════════════════════════════════════════════

// Disconnect 关闭到节点的全部连接，返回是否存在连接
func (s *Session) Disconnect(ctx context.Context, peerID string) (bool, error) {
	p, err := types.ParsePeerID(peerID)
	if err != nil {
		s.metrics.Command("disconnect", err)
		return false, err
	}

	var existed bool
	err = s.exec(ctx, "disconnect", func() error {
		if s.host.Network().Connectedness(p) != network.Connected {
			return nil
		}
		existed = true
		s.table.MarkPeerClosing(p, ErrClosedLocally)
		if err := s.host.Network().ClosePeer(p); err != nil {
			s.log.Debug("关闭节点连接出错", "peer", p, "err", err)
		}
		return nil
	})
	return existed, err
}

// CloseConnection 关闭单个连接
//
// 句柄不存在（连接已关闭并上报）时返回 ErrInstanceNotFound；
// 连接正在关闭时返回 false。
func (s *Session) CloseConnection(ctx context.Context, id types.ConnectionID) (bool, error) {
	var closed bool
	err := s.exec(ctx, "close_connection", func() error {
		c, ok := s.table.ConnByID(id)
		if !ok {
			return fmt.Errorf("%w: connection %s", ErrInstanceNotFound, id)
		}
		if c.Conn.IsClosed() {
			return nil
		}
		s.table.MarkClosing(id, ErrClosedLocally)
		closed = true
		if err := c.Conn.Close(); err != nil {
			s.log.Debug("关闭连接出错", "conn", id, "err", err)
		}
		return nil
	})
	return closed, err
}

// ════════════════════════════════════════════════════════════════════════════
//                              黑名单
// ════════════════════════════════════════════════════════════════════════════

// AddBlacklist 封禁节点，下一次准入判定时生效；返回是否新加入
func (s *Session) AddBlacklist(ctx context.Context, peerID string) (bool, error) {
	p, err := types.ParsePeerID(peerID)
	if err != nil {
		s.metrics.Command("add_blacklist", err)
		return false, err
	}
	var added bool
	err = s.exec(ctx, "add_blacklist", func() error {
		added = s.gater.Block(p)
		return nil
	})
	return added, err
}

// RemoveBlacklist 解除封禁，返回节点是否曾被封禁
func (s *Session) RemoveBlacklist(ctx context.Context, peerID string) (bool, error) {
	p, err := types.ParsePeerID(peerID)
	if err != nil {
		s.metrics.Command("remove_blacklist", err)
		return false, err
	}
	var removed bool
	err = s.exec(ctx, "remove_blacklist", func() error {
		removed = s.gater.Unblock(p)
		return nil
	})
	return removed, err
}

// ════════════════════════════════════════════════════════════════════════════
//                              查询
// ════════════════════════════════════════════════════════════════════════════

// ConnectedPeers 已连接节点
func (s *Session) ConnectedPeers(ctx context.Context) ([]peer.ID, error) {
	var peers []peer.ID
	err := s.exec(ctx, "connected_peers", func() error {
		peers = s.host.Network().Peers()
		return nil
	})
	return peers, err
}

// ConnectedPeerCount 已连接节点数
func (s *Session) ConnectedPeerCount(ctx context.Context) (int, error) {
	peers, err := s.ConnectedPeers(ctx)
	return len(peers), err
}

// IsConnected 是否与节点连接
func (s *Session) IsConnected(ctx context.Context, peerID string) (bool, error) {
	p, err := types.ParsePeerID(peerID)
	if err != nil {
		s.metrics.Command("is_connected", err)
		return false, err
	}
	var connected bool
	err = s.exec(ctx, "is_connected", func() error {
		connected = s.host.Network().Connectedness(p) == network.Connected
		return nil
	})
	return connected, err
}
