package overlay

import (
	"context"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/pkg/types"
)

// NATAddServer 添加受信任的 AutoNAT 探测服务器
//
// addr 可为空；非空时写入地址簿。
func (s *Session) NATAddServer(ctx context.Context, peerID, addr string) error {
	p, err := types.ParsePeerID(peerID)
	if err != nil {
		s.metrics.Command("nat_add_server", err)
		return err
	}
	var a ma.Multiaddr
	if addr != "" {
		if a, err = types.ParseMultiaddr(addr); err != nil {
			s.metrics.Command("nat_add_server", err)
			return err
		}
	}
	return s.exec(ctx, "nat_add_server", func() error {
		s.nat.AddServer(p, a)
		return nil
	})
}

// NATStatus 当前 NAT 状态
//
// 不获取 Session 锁，不阻塞。
func (s *Session) NATStatus() (types.NatStatus, error) {
	if s.closed.Load() {
		return types.NatStatus{}, ErrInstanceNotFound
	}
	return s.nat.Status(), nil
}
