package overlay

import (
	"context"
	"fmt"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/internal/core/swarm"
	"github.com/dep2p/go-overlay/pkg/types"
)

// listenCloser 支持关闭单个监听地址的网络
type listenCloser interface {
	ListenClose(addrs ...ma.Multiaddr)
}

// Listen 在地址上开始监听
//
// 返回监听器句柄；监听得到的每个地址随后以 NewListenAddr 上报。
// 地址不做网卡展开，监听 0.0.0.0 时上报的就是 0.0.0.0。
func (s *Session) Listen(ctx context.Context, addr string) (types.ListenerID, error) {
	var id types.ListenerID
	err := s.exec(ctx, "listen", func() error {
		var err error
		id, err = s.listenLocked(addr)
		return err
	})
	return id, err
}

func (s *Session) listenLocked(addr string) (types.ListenerID, error) {
	a, err := types.ParseMultiaddr(addr)
	if err != nil {
		return 0, err
	}

	n := s.host.Network()
	before := n.ListenAddresses()
	if err := n.Listen(a); err != nil {
		return 0, fmt.Errorf("listen %s: %w", a, err)
	}

	var added []ma.Multiaddr
	for _, la := range n.ListenAddresses() {
		if !containsAddr(before, la) {
			added = append(added, la)
		}
	}
	if len(added) == 0 {
		return 0, fmt.Errorf("%w: %s", swarm.ErrNoNewListenAddr, a)
	}

	l := &swarm.Listener{ID: s.table.AllocListenerID(), Requested: a, Addrs: added}
	s.table.AddListener(l)
	for _, la := range added {
		s.emitReady(NewListenAddr{ListenerID: l.ID, Address: la})
		if s.portmap != nil {
			s.portmap.AddListenAddr(la)
		}
	}
	s.signalAddressChange()

	s.log.Debug("开始监听", "listener", l.ID, "addrs", added)
	return l.ID, nil
}

// StopListening 关闭监听器，未知句柄返回 false
//
// 依次上报每个地址的 ExpiredListenAddr，最后上报 ListenerClosed。
func (s *Session) StopListening(ctx context.Context, id types.ListenerID) (bool, error) {
	var stopped bool
	err := s.exec(ctx, "stop_listening", func() error {
		closer, ok := s.host.Network().(listenCloser)
		if !ok {
			return swarm.ErrListenCloseUnsupported
		}
		l, ok := s.table.RemoveListener(id)
		if !ok {
			return nil
		}
		stopped = true

		closer.ListenClose(l.Addrs...)
		for _, a := range l.Addrs {
			if s.portmap != nil {
				s.portmap.RemoveListenAddr(a)
			}
			s.emitReady(ExpiredListenAddr{ListenerID: l.ID, Address: a})
		}
		s.emitReady(ListenerClosed{ListenerID: l.ID, Addresses: l.Addrs})
		s.signalAddressChange()

		s.log.Debug("停止监听", "listener", l.ID, "addrs", l.Addrs)
		return nil
	})
	return stopped, err
}

// ListenAddresses 当前监听地址
//
// 只返回 Listen 建立的传输地址；中继客户端的 /p2p-circuit 监听不对应
// 任何监听器句柄，不包含在内。
func (s *Session) ListenAddresses(ctx context.Context) ([]ma.Multiaddr, error) {
	var addrs []ma.Multiaddr
	err := s.exec(ctx, "listen_addresses", func() error {
		addrs = transportAddrs(s.host.Network().ListenAddresses())
		return nil
	})
	return addrs, err
}

// transportAddrs 去掉中继电路地址
func transportAddrs(addrs []ma.Multiaddr) []ma.Multiaddr {
	out := make([]ma.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		if isCircuitAddr(a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func isCircuitAddr(a ma.Multiaddr) bool {
	_, err := a.ValueForProtocol(ma.P_CIRCUIT)
	return err == nil
}

// ExternalAddresses 已确认与端口映射得到的外部地址
func (s *Session) ExternalAddresses(ctx context.Context) ([]ma.Multiaddr, error) {
	var addrs []ma.Multiaddr
	err := s.exec(ctx, "external_addresses", func() error {
		addrs = s.externalAddrs()
		return nil
	})
	return addrs, err
}

// AddExternalAddress 确认外部地址，新地址上报 ExternalAddrConfirmed
func (s *Session) AddExternalAddress(ctx context.Context, addr string) error {
	a, err := types.ParseMultiaddr(addr)
	if err != nil {
		s.metrics.Command("add_external_address", err)
		return err
	}
	return s.exec(ctx, "add_external_address", func() error {
		s.extMu.Lock()
		if containsAddr(s.external, a) {
			s.extMu.Unlock()
			return nil
		}
		s.external = append(s.external, a)
		s.extMu.Unlock()

		s.emitReady(ExternalAddrConfirmed{Address: a})
		s.signalAddressChange()
		return nil
	})
}

// RemoveExternalAddress 移除已确认的外部地址，返回地址是否存在
func (s *Session) RemoveExternalAddress(ctx context.Context, addr string) (bool, error) {
	a, err := types.ParseMultiaddr(addr)
	if err != nil {
		s.metrics.Command("remove_external_address", err)
		return false, err
	}
	var removed bool
	err = s.exec(ctx, "remove_external_address", func() error {
		s.extMu.Lock()
		for i, x := range s.external {
			if x.Equal(a) {
				s.external = append(s.external[:i:i], s.external[i+1:]...)
				removed = true
				break
			}
		}
		s.extMu.Unlock()

		if removed {
			s.emitReady(ExternalAddrExpired{Address: a})
			s.signalAddressChange()
		}
		return nil
	})
	return removed, err
}
