// Package portmap 通过 UPnP IGD 或 NAT-PMP 在网关上映射监听端口
//
// 首次收到监听地址时发现网关（UPnP 优先，回退 NAT-PMP），随后：
//   - 为每个 IPv4 TCP/UDP 监听地址建立映射，上报 NewExternalAddr
//   - 按刷新周期续约，续约失败或监听地址关闭时上报 ExpiredExternalAddr
//   - 网关外部地址非公网时上报 NonRoutableGateway，不建立映射
//   - 找不到网关时上报 GatewayNotFound
//
// 映射得到的外部地址通过 ExternalAddrs 提供给 host 的地址工厂。
package portmap

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"go.uber.org/multierr"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/core/swarm"
	"github.com/dep2p/go-overlay/internal/util/logger"
)

var log = logger.Logger("portmap")

// Name 行为名
const Name = "upnp"

// Event 端口映射事件
type Event interface {
	portmapEvent()
}

// NewExternalAddr 新的映射外部地址
type NewExternalAddr struct {
	Addr ma.Multiaddr
}

// ExpiredExternalAddr 映射失效
type ExpiredExternalAddr struct {
	Addr ma.Multiaddr
}

// GatewayNotFound 未找到网关
type GatewayNotFound struct{}

// NonRoutableGateway 网关外部地址不是公网地址
type NonRoutableGateway struct {
	ExternalIP net.IP
}

func (NewExternalAddr) portmapEvent()     {}
func (ExpiredExternalAddr) portmapEvent() {}
func (GatewayNotFound) portmapEvent()     {}
func (NonRoutableGateway) portmapEvent()  {}

// mapper 网关端口映射操作
type mapper interface {
	name() string
	externalIP() (net.IP, error)
	addMapping(proto string, internalPort int, desc string, lease time.Duration) (int, error)
	deleteMapping(proto string, externalPort int) error
}

// discoverFunc 网关发现
type discoverFunc func(ctx context.Context, cfg config.PortMapConfig) (mapper, error)

func discover(ctx context.Context, cfg config.PortMapConfig) (mapper, error) {
	up, err := discoverUPnP(ctx)
	if err == nil {
		return up, nil
	}
	if !cfg.EnableNATPMP {
		return nil, err
	}
	pmp, pmpErr := discoverNATPMP(ctx)
	if pmpErr != nil {
		return nil, multierr.Append(err, pmpErr)
	}
	return pmp, nil
}

// gatewayState 网关状态
type gatewayState int

const (
	gatewayUnknown gatewayState = iota
	gatewayReady
	gatewayNotFound
	gatewayNonRoutable
)

type mapping struct {
	listen       ma.Multiaddr
	proto        string
	internalPort int
	externalPort int
	external     ma.Multiaddr
}

type request struct {
	addr   ma.Multiaddr
	remove bool
}

// Behaviour 端口映射
type Behaviour struct {
	cfg      config.PortMapConfig
	emit     func(Event)
	clock    clock.Clock
	discover discoverFunc

	requests *swarm.Queue[request]

	mu       sync.RWMutex
	state    gatewayState
	gw       mapper
	extIP    net.IP
	mappings map[string]*mapping

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建端口映射行为，cfg.Enable 为 false 时返回 nil
func New(cfg config.PortMapConfig, emit func(Event), clk clock.Clock) *Behaviour {
	if !cfg.Enable {
		return nil
	}
	return newBehaviour(cfg, emit, clk, discover)
}

func newBehaviour(cfg config.PortMapConfig, emit func(Event), clk clock.Clock, d discoverFunc) *Behaviour {
	if emit == nil {
		emit = func(Event) {}
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Behaviour{
		cfg:      cfg,
		emit:     emit,
		clock:    clk,
		discover: d,
		requests: swarm.NewQueue[request](),
		mappings: make(map[string]*mapping),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Name 行为名
func (b *Behaviour) Name() string { return Name }

// AddListenAddr 新的监听地址，异步映射
func (b *Behaviour) AddListenAddr(addr ma.Multiaddr) {
	b.requests.Push(request{addr: addr})
}

// RemoveListenAddr 监听地址已关闭，异步移除映射
func (b *Behaviour) RemoveListenAddr(addr ma.Multiaddr) {
	b.requests.Push(request{addr: addr, remove: true})
}

// ExternalAddrs 当前映射的外部地址
func (b *Behaviour) ExternalAddrs() []ma.Multiaddr {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ma.Multiaddr, 0, len(b.mappings))
	for _, m := range b.mappings {
		out = append(out, m.external)
	}
	return out
}

// Close 停止并删除所有映射
func (b *Behaviour) Close() error {
	b.cancel()
	b.requests.Close()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.gw != nil {
		for key, m := range b.mappings {
			err = multierr.Append(err, b.gw.deleteMapping(m.proto, m.externalPort))
			delete(b.mappings, key)
		}
	}
	return err
}

func (b *Behaviour) run() {
	defer b.wg.Done()

	pending := make(chan request)
	go func() {
		defer close(pending)
		for {
			req, err := b.requests.Pop(b.ctx)
			if err != nil {
				return
			}
			select {
			case pending <- req:
			case <-b.ctx.Done():
				return
			}
		}
	}()

	ticker := b.clock.Ticker(b.cfg.RefreshInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case req, ok := <-pending:
			if !ok {
				return
			}
			if req.remove {
				b.unmap(req.addr)
			} else {
				b.mapAddr(req.addr)
			}
		case <-ticker.C:
			b.refresh()
		}
	}
}

// ensureGateway 首次使用时发现网关
func (b *Behaviour) ensureGateway() bool {
	switch b.state {
	case gatewayReady:
		return true
	case gatewayNotFound, gatewayNonRoutable:
		return false
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.DiscoveryTimeout.Duration())
	gw, err := b.discover(ctx, b.cfg)
	cancel()
	if err != nil {
		log.Info("未找到端口映射网关", "err", err)
		b.setState(gatewayNotFound, nil, nil)
		b.emit(GatewayNotFound{})
		return false
	}

	ip, err := gw.externalIP()
	if err != nil || ip == nil {
		log.Info("网关外部地址不可用", "mapper", gw.name(), "err", err)
		b.setState(gatewayNotFound, nil, nil)
		b.emit(GatewayNotFound{})
		return false
	}
	if !isRoutable(ip) {
		log.Info("网关外部地址不可路由", "mapper", gw.name(), "ip", ip)
		b.setState(gatewayNonRoutable, gw, ip)
		b.emit(NonRoutableGateway{ExternalIP: ip})
		return false
	}

	b.setState(gatewayReady, gw, ip)
	return true
}

func (b *Behaviour) setState(s gatewayState, gw mapper, ip net.IP) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
	b.gw = gw
	b.extIP = ip
}

func isRoutable(ip net.IP) bool {
	addr, err := manet.FromIP(ip)
	if err != nil {
		return false
	}
	return manet.IsPublicAddr(addr)
}

func (b *Behaviour) mapAddr(addr ma.Multiaddr) {
	proto, port, err := mappable(addr)
	if err != nil {
		log.Debug("跳过端口映射", "addr", addr, "err", err)
		return
	}
	if _, ok := b.lookup(addr); ok {
		return
	}
	if !b.ensureGateway() {
		return
	}

	ext, err := b.gw.addMapping(proto, port, b.cfg.Description, b.cfg.MappingDuration.Duration())
	if err != nil {
		log.Warn("端口映射失败", "mapper", b.gw.name(), "addr", addr, "err", err)
		return
	}
	extAddr, err := externalAddr(addr, b.extIP, ext)
	if err != nil {
		log.Warn("构造外部地址失败", "addr", addr, "err", err)
		return
	}

	b.mu.Lock()
	b.mappings[addr.String()] = &mapping{
		listen:       addr,
		proto:        proto,
		internalPort: port,
		externalPort: ext,
		external:     extAddr,
	}
	b.mu.Unlock()

	log.Info("端口映射成功", "mapper", b.gw.name(), "listen", addr, "external", extAddr)
	b.emit(NewExternalAddr{Addr: extAddr})
}

func (b *Behaviour) lookup(addr ma.Multiaddr) (*mapping, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m, ok := b.mappings[addr.String()]
	return m, ok
}

func (b *Behaviour) unmap(addr ma.Multiaddr) {
	b.mu.Lock()
	m, ok := b.mappings[addr.String()]
	if ok {
		delete(b.mappings, addr.String())
	}
	gw := b.gw
	b.mu.Unlock()
	if !ok {
		return
	}

	if err := gw.deleteMapping(m.proto, m.externalPort); err != nil {
		log.Debug("删除端口映射失败", "external", m.external, "err", err)
	}
	b.emit(ExpiredExternalAddr{Addr: m.external})
}

// refresh 续约全部映射
func (b *Behaviour) refresh() {
	b.mu.RLock()
	gw := b.gw
	ready := b.state == gatewayReady
	ms := make([]*mapping, 0, len(b.mappings))
	for _, m := range b.mappings {
		ms = append(ms, m)
	}
	b.mu.RUnlock()
	if !ready {
		return
	}

	for _, m := range ms {
		ext, err := gw.addMapping(m.proto, m.internalPort, b.cfg.Description, b.cfg.MappingDuration.Duration())
		if err == nil && ext == m.externalPort {
			continue
		}
		log.Info("端口映射续约失败", "external", m.external, "err", err)

		b.mu.Lock()
		delete(b.mappings, m.listen.String())
		b.mu.Unlock()
		b.emit(ExpiredExternalAddr{Addr: m.external})

		// 外部端口变化时按新端口重新上报
		if err == nil {
			b.mapAddr(m.listen)
		}
	}
}

// mappable 返回可映射地址的协议与端口
func mappable(addr ma.Multiaddr) (string, int, error) {
	ipComp, rest := ma.SplitFirst(addr)
	if ipComp == nil || rest == nil || ipComp.Protocol().Code != ma.P_IP4 {
		return "", 0, ErrUnsupportedAddr
	}
	if ip := net.IP(ipComp.RawValue()); ip.IsLoopback() {
		return "", 0, ErrUnsupportedAddr
	}
	portComp, _ := ma.SplitFirst(rest)
	if portComp == nil {
		return "", 0, ErrUnsupportedAddr
	}

	var proto string
	switch portComp.Protocol().Code {
	case ma.P_TCP:
		proto = "tcp"
	case ma.P_UDP:
		proto = "udp"
	default:
		return "", 0, ErrUnsupportedAddr
	}

	var port int
	if _, err := fmt.Sscanf(portComp.Value(), "%d", &port); err != nil || port == 0 {
		return "", 0, ErrUnsupportedAddr
	}
	return proto, port, nil
}

// externalAddr 用外部 IP 和端口替换监听地址的前两段
func externalAddr(listen ma.Multiaddr, ip net.IP, port int) (ma.Multiaddr, error) {
	_, rest := ma.SplitFirst(listen)
	portComp, tail := ma.SplitFirst(rest)
	if portComp == nil {
		return nil, ErrUnsupportedAddr
	}
	out, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/%s/%d", ip, portComp.Protocol().Name, port))
	if err != nil {
		return nil, err
	}
	if tail != nil {
		out = out.Encapsulate(tail)
	}
	return out, nil
}
