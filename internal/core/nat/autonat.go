// Package nat 跟踪本节点的 NAT 可达性
//
// 可达性探测由 libp2p 内置的 AutoNAT 客户端完成，本包负责：
//   - 生成启用 AutoNAT 服务端与强制可达性的 host 选项
//   - 订阅 EvtLocalReachabilityChanged，维护 NatStatus，只在状态真正变化时上报
//   - 维护受信任的探测服务器，状态未知时定期重连
package nat

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/util/logger"
	"github.com/dep2p/go-overlay/pkg/types"
)

var log = logger.Logger("nat")

// Name 行为名
const Name = "autonat"

// protectTag 受信任服务器在连接管理器中的保护标签
const protectTag = "overlay-autonat"

// connectTimeout 连接受信任服务器的超时
const connectTimeout = 30 * time.Second

// Event NAT 事件
type Event interface {
	natEvent()
}

// StatusChanged NAT 状态变化
type StatusChanged struct {
	Old types.NatStatus
	New types.NatStatus
}

func (StatusChanged) natEvent() {}

// HostOptions 返回 AutoNAT 相关的 host 选项
func HostOptions(cfg config.NATConfig) []libp2p.Option {
	var opts []libp2p.Option
	if cfg.EnableService {
		opts = append(opts,
			libp2p.EnableNATService(),
			libp2p.AutoNATServiceRateLimit(
				cfg.ServiceGlobalLimit,
				cfg.ServicePeerLimit,
				cfg.ServiceLimitInterval.Duration(),
			),
		)
	}
	switch cfg.ForceReachability {
	case config.ReachabilityPublic:
		opts = append(opts, libp2p.ForceReachabilityPublic())
	case config.ReachabilityPrivate:
		opts = append(opts, libp2p.ForceReachabilityPrivate())
	}
	return opts
}

// Behaviour NAT 状态跟踪
type Behaviour struct {
	cfg   config.NATConfig
	emit  func(Event)
	clock clock.Clock

	mu      sync.RWMutex
	host    host.Host
	status  types.NatStatus
	servers map[peer.ID]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建 NAT 行为
func New(cfg config.NATConfig, emit func(Event), clk clock.Clock) *Behaviour {
	if emit == nil {
		emit = func(Event) {}
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Behaviour{
		cfg:     cfg,
		emit:    emit,
		clock:   clk,
		servers: make(map[peer.ID]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Name 行为名
func (b *Behaviour) Name() string { return Name }

// Start 订阅可达性事件并启动重试循环
func (b *Behaviour) Start(h host.Host) error {
	sub, err := h.EventBus().Subscribe(new(event.EvtLocalReachabilityChanged))
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.host = h
	b.mu.Unlock()

	b.wg.Add(2)
	go b.eventLoop(sub)
	go b.retryLoop()

	log.Debug("NAT 行为已启动", "force", b.cfg.ForceReachability)
	return nil
}

// Close 停止后台任务
func (b *Behaviour) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

// Status 当前 NAT 状态，不阻塞
func (b *Behaviour) Status() types.NatStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Servers 受信任的探测服务器
func (b *Behaviour) Servers() []peer.ID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]peer.ID, 0, len(b.servers))
	for p := range b.servers {
		out = append(out, p)
	}
	return out
}

// AddServer 添加受信任的探测服务器
//
// addr 可为 nil；非 nil 时永久写入地址簿。服务器在连接管理器中受保护，
// 后台立即发起连接，AutoNAT 客户端会向已连接的服务器请求回拨。
func (b *Behaviour) AddServer(p peer.ID, addr ma.Multiaddr) {
	b.mu.Lock()
	h := b.host
	b.servers[p] = struct{}{}
	b.mu.Unlock()

	if h == nil {
		return
	}
	if addr != nil {
		h.Peerstore().AddAddr(p, addr, peerstore.PermanentAddrTTL)
	}
	h.ConnManager().Protect(p, protectTag)

	log.Debug("添加 AutoNAT 服务器", "peer", p, "addr", addr)
	b.connect(h, p)
}

func (b *Behaviour) connect(h host.Host, p peer.ID) {
	if b.ctx.Err() != nil || h.Network().Connectedness(p) == network.Connected {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, connectTimeout)
		defer cancel()
		if err := h.Connect(ctx, peer.AddrInfo{ID: p}); err != nil {
			log.Debug("连接 AutoNAT 服务器失败", "peer", p, "err", err)
		}
	}()
}

func (b *Behaviour) eventLoop(sub event.Subscription) {
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
			evt, ok := e.(event.EvtLocalReachabilityChanged)
			if !ok {
				continue
			}
			b.mu.RLock()
			h := b.host
			b.mu.RUnlock()
			b.update(evt.Reachability, h.Addrs())
		}
	}
}

// update 应用可达性变化，状态不变时不上报
func (b *Behaviour) update(r network.Reachability, addrs []ma.Multiaddr) {
	next := statusFor(r, addrs, b.cfg.OnlyGlobalIPs)

	b.mu.Lock()
	old := b.status
	if old.Equal(next) {
		b.mu.Unlock()
		return
	}
	b.status = next
	b.mu.Unlock()

	log.Info("NAT 状态变化", "old", old, "new", next)
	b.emit(StatusChanged{Old: old, New: next})
}

// statusFor 由 libp2p 可达性与本机地址计算 NatStatus
func statusFor(r network.Reachability, addrs []ma.Multiaddr, onlyGlobal bool) types.NatStatus {
	switch r {
	case network.ReachabilityPublic:
		return types.NatPublic(publicAddr(addrs, onlyGlobal))
	case network.ReachabilityPrivate:
		return types.NatPrivate()
	default:
		return types.NatUnknown()
	}
}

func publicAddr(addrs []ma.Multiaddr, onlyGlobal bool) ma.Multiaddr {
	for _, a := range addrs {
		if onlyGlobal {
			if manet.IsPublicAddr(a) {
				return a
			}
			continue
		}
		if !manet.IsIPLoopback(a) {
			return a
		}
	}
	return nil
}

// retryLoop 状态未知时定期重连受信任服务器
func (b *Behaviour) retryLoop() {
	defer b.wg.Done()

	boot := b.clock.Timer(b.cfg.BootDelay.Duration())
	defer boot.Stop()
	select {
	case <-b.ctx.Done():
		return
	case <-boot.C:
	}

	ticker := b.clock.Ticker(b.cfg.RetryInterval.Duration())
	defer ticker.Stop()
	for {
		b.retry()
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Behaviour) retry() {
	b.mu.RLock()
	h := b.host
	unknown := b.status.Reachability == types.ReachabilityUnknown
	servers := make([]peer.ID, 0, len(b.servers))
	for p := range b.servers {
		servers = append(servers, p)
	}
	b.mu.RUnlock()

	if h == nil || !unknown {
		return
	}
	for _, p := range servers {
		b.connect(h, p)
	}
}
