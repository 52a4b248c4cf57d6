package overlay

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/internal/core/rendezvous"
	"github.com/dep2p/go-overlay/pkg/types"
)

// RendezvousRegister 在会合点注册本节点的外部地址
//
// node 为节点 ID 或带 /p2p/ 的地址，地址部分写入地址簿。命名空间、TTL、
// 节点格式与外部地址在发起前同步校验；往返结果以 RendezvousRegistered 或
// RendezvousRegisterFailed 上报。ttl 为 0 时使用默认值。
func (s *Session) RendezvousRegister(ctx context.Context, node, namespace string, ttl time.Duration) error {
	return s.exec(ctx, "rendezvous_register", func() error {
		if err := rendezvous.ValidateNamespace(namespace); err != nil {
			return err
		}
		if _, err := rendezvous.ResolveTTL(s.cfg.Rendezvous, ttl); err != nil {
			return err
		}
		p, err := s.rendezvousNode(node)
		if err != nil {
			return err
		}
		return s.rdvClient.Register(p, namespace, ttl, s.externalAddrs())
	})
}

// RendezvousUnregister 在会合点注销，不上报结果
func (s *Session) RendezvousUnregister(ctx context.Context, node, namespace string) error {
	return s.exec(ctx, "rendezvous_unregister", func() error {
		if err := rendezvous.ValidateNamespace(namespace); err != nil {
			return err
		}
		p, err := s.rendezvousNode(node)
		if err != nil {
			return err
		}
		return s.rdvClient.Unregister(p, namespace)
	})
}

// RendezvousDiscover 向会合点查询注册
//
// namespace 为空表示所有命名空间。cookie 为 nil 时从头开始，传入上一次
// RendezvousDiscovered 的 Cookie 则只返回其后的新注册。limit 为 0 由服务端决定。
func (s *Session) RendezvousDiscover(ctx context.Context, node, namespace string, cookie *types.Cookie, limit uint64) error {
	return s.exec(ctx, "rendezvous_discover", func() error {
		p, err := s.rendezvousNode(node)
		if err != nil {
			return err
		}
		return s.rdvClient.Discover(p, namespace, cookie, limit)
	})
}

// RendezvousRegistrations 本节点作为会合点服务端持有的注册数
func (s *Session) RendezvousRegistrations(ctx context.Context) (int, error) {
	var n int
	err := s.exec(ctx, "rendezvous_registrations", func() error {
		if s.rdvServer != nil {
			n = s.rdvServer.Registrations()
		}
		return nil
	})
	return n, err
}

// rendezvousNode 解析会合点，地址部分写入地址簿
func (s *Session) rendezvousNode(node string) (peer.ID, error) {
	p, addr, err := types.ParsePeerOrAddr(node)
	if err != nil {
		return "", err
	}
	if addr != nil {
		s.host.Peerstore().AddAddrs(p, []ma.Multiaddr{addr}, peerstore.AddressTTL)
	}
	return p, nil
}
