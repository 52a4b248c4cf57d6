// Package admission 实现连接准入控制
//
// Gater 是一个 libp2p ConnectionGater，组合三个部分：
//   - 黑名单：拒绝被封禁节点的拨号与入站连接
//   - 连接数限制：总数、入站、出站、单节点、待建立入站
//   - 内存压力：进程内存占用超过系统内存的设定比例时拒绝新连接
//
// Gater 只做否决，从不关闭已有连接。入站连接的观察与否决通过 emit 回调上报。
package admission

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/util/logger"
)

var log = logger.Logger("admission")

// Name 行为名
const Name = "admission"

// pendingTTL 待建立入站连接的最长跟踪时间
const pendingTTL = 30 * time.Second

// Event 准入事件
type Event interface {
	admissionEvent()
}

// Accepted 入站连接通过 InterceptAccept
type Accepted struct {
	Local  ma.Multiaddr
	Remote ma.Multiaddr
	At     time.Time
}

// Denied 入站连接被否决；握手前被拒绝时 Peer 为空
type Denied struct {
	Local  ma.Multiaddr
	Remote ma.Multiaddr
	Peer   peer.ID
	Err    error
}

func (Accepted) admissionEvent() {}
func (Denied) admissionEvent()   {}

// Option 构造选项
type Option func(*Gater)

// WithClock 指定时钟
func WithClock(c clock.Clock) Option {
	return func(g *Gater) { g.clock = c }
}

// WithMemoryStat 指定内存采样函数
func WithMemoryStat(stat MemoryStat) Option {
	return func(g *Gater) { g.memStat = stat }
}

// Gater 连接准入控制器
type Gater struct {
	cfg   config.AdmissionConfig
	emit  func(Event)
	clock clock.Clock

	memStat MemoryStat
	memory  *memoryGuard

	mu      sync.RWMutex
	blocked map[peer.ID]struct{}
	net     network.Network

	// pending 已接受但尚未完成升级的入站连接
	pending *expirable.LRU[string, struct{}]
}

var _ connmgr.ConnectionGater = (*Gater)(nil)

// New 创建准入控制器
func New(cfg config.AdmissionConfig, emit func(Event), opts ...Option) *Gater {
	g := &Gater{
		cfg:     cfg,
		emit:    emit,
		clock:   clock.New(),
		blocked: make(map[peer.ID]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.emit == nil {
		g.emit = func(Event) {}
	}
	g.memory = newMemoryGuard(cfg.MemoryMaxPercentage, g.memStat, g.clock)

	size := cfg.MaxPendingIncoming
	if size <= 0 {
		size = 4096
	}
	// 容量按限制放大一倍，超限判断依据 Len 而非驱逐
	g.pending = expirable.NewLRU[string, struct{}](size*2, nil, pendingTTL)
	return g
}

// Name 行为名
func (g *Gater) Name() string { return Name }

// SetNetwork 设置用于统计已建立连接的网络
//
// host 创建后调用；之前的连接不受数量限制约束。
func (g *Gater) SetNetwork(n network.Network) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.net = n
}

// ============================================================================
//                              黑名单
// ============================================================================

// Block 封禁节点，返回是否新加入
func (g *Gater) Block(p peer.ID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.blocked[p]; ok {
		return false
	}
	g.blocked[p] = struct{}{}
	log.Debug("封禁节点", "peer", p)
	return true
}

// Unblock 解除封禁，返回节点此前是否被封禁
func (g *Gater) Unblock(p peer.ID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.blocked[p]; !ok {
		return false
	}
	delete(g.blocked, p)
	log.Debug("解除封禁", "peer", p)
	return true
}

// IsBlocked 节点是否被封禁
func (g *Gater) IsBlocked(p peer.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.blocked[p]
	return ok
}

// Blocked 返回所有被封禁节点
func (g *Gater) Blocked() []peer.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]peer.ID, 0, len(g.blocked))
	for p := range g.blocked {
		out = append(out, p)
	}
	return out
}

// ============================================================================
//                              ConnectionGater
// ============================================================================

// InterceptPeerDial 拨号前检查
func (g *Gater) InterceptPeerDial(p peer.ID) bool {
	if g.IsBlocked(p) {
		log.Debug("拒绝拨号", "peer", p, "reason", ErrBlocked)
		return false
	}
	if g.memory.overLimit() {
		log.Debug("拒绝拨号", "peer", p, "reason", ErrMemoryPressure)
		return false
	}
	return true
}

// InterceptAddrDial 拨号地址检查
func (g *Gater) InterceptAddrDial(p peer.ID, _ ma.Multiaddr) bool {
	return !g.IsBlocked(p)
}

// InterceptAccept 接受入站连接前检查
func (g *Gater) InterceptAccept(addrs network.ConnMultiaddrs) bool {
	local, remote := addrs.LocalMultiaddr(), addrs.RemoteMultiaddr()

	var err error
	switch {
	case g.cfg.MaxPendingIncoming > 0 && g.pending.Len() >= g.cfg.MaxPendingIncoming:
		err = ErrPendingIncomingLimit
	case g.memory.overLimit():
		err = ErrMemoryPressure
	}
	if err != nil {
		log.Debug("拒绝入站连接", "remote", remote, "reason", err)
		g.emit(Denied{Local: local, Remote: remote, Err: err})
		return false
	}

	g.pending.Add(pendingKey(local, remote), struct{}{})
	g.emit(Accepted{Local: local, Remote: remote, At: g.clock.Now()})
	return true
}

// InterceptSecured 安全握手后检查
func (g *Gater) InterceptSecured(dir network.Direction, p peer.ID, addrs network.ConnMultiaddrs) bool {
	err := g.checkSecured(dir, p)
	if err == nil {
		return true
	}

	log.Debug("拒绝连接", "peer", p, "dir", dir, "reason", err)
	if dir == network.DirInbound {
		local, remote := addrs.LocalMultiaddr(), addrs.RemoteMultiaddr()
		g.pending.Remove(pendingKey(local, remote))
		g.emit(Denied{Local: local, Remote: remote, Peer: p, Err: err})
	}
	return false
}

func (g *Gater) checkSecured(dir network.Direction, p peer.ID) error {
	if g.IsBlocked(p) {
		return ErrBlocked
	}

	g.mu.RLock()
	n := g.net
	g.mu.RUnlock()
	if n == nil {
		return nil
	}

	if limit := g.cfg.MaxEstablishedPerPeer; limit > 0 && len(n.ConnsToPeer(p)) >= limit {
		return ErrPerPeerLimit
	}

	conns := n.Conns()
	if limit := g.cfg.MaxEstablished; limit > 0 && len(conns) >= limit {
		return ErrEstablishedLimit
	}

	var in, out int
	for _, c := range conns {
		switch c.Stat().Direction {
		case network.DirInbound:
			in++
		case network.DirOutbound:
			out++
		}
	}
	if limit := g.cfg.MaxEstablishedIncoming; dir == network.DirInbound && limit > 0 && in >= limit {
		return ErrEstablishedIncomingLimit
	}
	if limit := g.cfg.MaxEstablishedOutgoing; dir == network.DirOutbound && limit > 0 && out >= limit {
		return ErrEstablishedOutgoingLimit
	}
	return nil
}

// InterceptUpgraded 连接升级完成
func (g *Gater) InterceptUpgraded(c network.Conn) (bool, control.DisconnectReason) {
	if c.Stat().Direction == network.DirInbound {
		g.pending.Remove(pendingKey(c.LocalMultiaddr(), c.RemoteMultiaddr()))
	}
	return true, 0
}

// PendingIncoming 待建立入站连接数
func (g *Gater) PendingIncoming() int {
	return g.pending.Len()
}

func pendingKey(local, remote ma.Multiaddr) string {
	var l, r string
	if local != nil {
		l = local.String()
	}
	if remote != nil {
		r = remote.String()
	}
	return l + "|" + r
}
