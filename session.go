package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	lmetrics "github.com/libp2p/go-libp2p/core/metrics"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2ptls "github.com/libp2p/go-libp2p/p2p/security/tls"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/libp2p/go-libp2p/p2p/transport/websocket"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/core/metrics"
	"github.com/dep2p/go-overlay/internal/core/swarm"
	"github.com/dep2p/go-overlay/internal/util/logger"
	"github.com/dep2p/go-overlay/pkg/identity"
)

var log = logger.Logger("overlay")

// Session 一个本地节点
//
// Session 持有 libp2p host、行为集合、连接与监听器句柄表以及事件队列。
// 所有命令与事件翻译在同一把锁下串行执行；Close 之后的一切操作返回
// ErrInstanceNotFound。
type Session struct {
	id    string
	kp    *identity.Keypair
	cfg   *config.Config
	log   *slog.Logger
	clock clock.Clock

	host  host.Host
	queue *swarm.Queue[rawEvent]
	table *swarm.Table
	*behaviours

	metrics   *metrics.Metrics
	bandwidth *lmetrics.BandwidthCounter

	// lock 单槽信号量，可随 ctx 放弃等待
	lock chan struct{}

	// external 已确认的外部地址，地址工厂会在 libp2p goroutine 上读取
	extMu    sync.RWMutex
	external []ma.Multiaddr

	// ctx 覆盖 Session 发起的后台任务，Close 时取消
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running   atomic.Bool
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New 创建并启动 Session
//
// cfg 在内部复制，之后对 cfg 的修改不影响 Session。cfg.Listen 中监听失败的
// 地址以 ListenerError 事件报告，不会使创建失败。
func New(ctx context.Context, kp *identity.Keypair, cfg *config.Config, opts ...Option) (*Session, error) {
	if kp == nil {
		return nil, ErrNilKeypair
	}
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	if err := o.apply(opts...); err != nil {
		return nil, err
	}

	s := &Session{
		id:        uuid.NewString(),
		kp:        kp,
		cfg:       cfg.Clone(),
		clock:     o.clock,
		queue:     swarm.NewQueue[rawEvent](),
		table:     swarm.NewTable(),
		bandwidth: lmetrics.NewBandwidthCounter(),
		lock:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.log = o.logger
	if s.log == nil {
		s.log = log
	}
	s.log = s.log.With("session", s.id, "peer", kp.PeerID())
	s.behaviours = newBehaviours(s.cfg, s.push, s.clock)

	if s.cfg.Metrics.Enable {
		m, err := metrics.New(o.registerer, s.cfg.Metrics.Namespace, s.id)
		if err != nil {
			s.abort()
			return nil, fmt.Errorf("overlay: register metrics: %w", err)
		}
		s.metrics = m
	}

	hostOpts, err := s.hostOptions(o)
	if err != nil {
		s.abort()
		return nil, err
	}
	h, err := libp2p.New(hostOpts...)
	if err != nil {
		s.abort()
		return nil, fmt.Errorf("overlay: create host: %w", err)
	}
	s.host = h
	h.Network().Notify(swarm.NewNotifiee(func(e swarm.Event) { s.push(rawSwarm{e}) }, s.clock.Now))

	if err := s.behaviours.start(h); err != nil {
		s.cancel()
		s.metrics.Unregister()
		return nil, multierr.Append(err, h.Close())
	}
	if err := multierr.Append(
		s.metrics.WatchPendingValidations(s.gossip.PendingValidations),
		s.metrics.WatchBandwidth(s.bandwidth),
	); err != nil {
		s.log.Warn("注册指标失败", "err", err)
	}

	for _, addr := range s.cfg.Listen {
		if _, err := s.listenLocked(addr); err != nil {
			s.log.Warn("监听失败", "addr", addr, "err", err)
			s.emitReady(ListenerError{ListenerID: s.table.AllocListenerID(), Error: err})
		}
	}

	s.log.Info("Session 已启动", "listen", s.cfg.Listen)
	return s, nil
}

// abort 撤销 host 创建之前的初始化
func (s *Session) abort() {
	s.cancel()
	s.metrics.Unregister()
	_ = s.behaviours.close()
}

// hostOptions 组装 libp2p host 选项
func (s *Session) hostOptions(o options) ([]libp2p.Option, error) {
	tc := s.cfg.Transport

	cm, err := connmgr.NewConnManager(tc.ConnMgrLow, tc.ConnMgrHigh,
		connmgr.WithGracePeriod(tc.IdleConnectionTimeout.Duration()))
	if err != nil {
		return nil, fmt.Errorf("overlay: conn manager: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(s.kp.PrivKey()),
		// 监听由 Listen 命令显式管理
		libp2p.NoListenAddrs,
		libp2p.NoTransports,
		libp2p.Security(noise.ID, noise.New),
		libp2p.Security(libp2ptls.ID, libp2ptls.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(cm),
		libp2p.WithDialTimeout(tc.DialTimeout.Duration()),
		libp2p.AddrsFactory(s.addrsFactory),
		libp2p.BandwidthReporter(s.bandwidth),
	}

	if tc.EnableTCP {
		var tcpOpts []interface{}
		if !tc.TCPPortReuse {
			tcpOpts = append(tcpOpts, tcp.DisableReuseport())
		}
		opts = append(opts, libp2p.Transport(tcp.NewTCPTransport, tcpOpts...))
	}
	if tc.EnableQUIC {
		opts = append(opts, libp2p.Transport(libp2pquic.NewTransport))
	}
	if tc.EnableWebSocket {
		opts = append(opts, libp2p.Transport(websocket.New))
	}

	if s.cfg.Metrics.Enable {
		opts = append(opts, libp2p.PrometheusRegisterer(o.registerer))
	} else {
		opts = append(opts, libp2p.DisableMetrics())
	}

	behaviourOpts, err := s.behaviours.hostOptions(s.cfg)
	if err != nil {
		return nil, err
	}
	return append(opts, behaviourOpts...), nil
}

// addrsFactory host 通告的地址：监听地址加上已确认与映射得到的外部地址
func (s *Session) addrsFactory(listen []ma.Multiaddr) []ma.Multiaddr {
	out := append([]ma.Multiaddr(nil), listen...)
	for _, a := range s.externalAddrs() {
		if !containsAddr(out, a) {
			out = append(out, a)
		}
	}
	return out
}

// externalAddrs 已确认外部地址与端口映射地址
func (s *Session) externalAddrs() []ma.Multiaddr {
	s.extMu.RLock()
	out := append([]ma.Multiaddr(nil), s.external...)
	s.extMu.RUnlock()

	if s.portmap != nil {
		for _, a := range s.portmap.ExternalAddrs() {
			if !containsAddr(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}

// signalAddressChange 通知 host 重新计算通告地址
func (s *Session) signalAddressChange() {
	if sig, ok := s.host.(interface{ SignalAddressChange() }); ok {
		sig.SignalAddressChange()
	}
}

func containsAddr(addrs []ma.Multiaddr, a ma.Multiaddr) bool {
	for _, x := range addrs {
		if x.Equal(a) {
			return true
		}
	}
	return false
}

// ════════════════════════════════════════════════════════════════════════════
//                              互斥访问
// ════════════════════════════════════════════════════════════════════════════

// acquire 获取 Session 锁，等待可随 ctx 取消
func (s *Session) acquire(ctx context.Context) error {
	if s.closed.Load() {
		return ErrInstanceNotFound
	}
	select {
	case s.lock <- struct{}{}:
	case <-s.done:
		return ErrInstanceNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.closed.Load() {
		<-s.lock
		return ErrInstanceNotFound
	}
	return nil
}

func (s *Session) release() {
	<-s.lock
}

// exec 持锁执行命令并记录指标
func (s *Session) exec(ctx context.Context, name string, fn func() error) error {
	if err := s.acquire(ctx); err != nil {
		s.metrics.Command(name, err)
		return err
	}
	err := fn()
	s.release()

	s.metrics.Command(name, err)
	if err != nil {
		s.log.Debug("命令失败", "command", name, "err", err)
	}
	return err
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// ID Session 实例 ID
func (s *Session) ID() string { return s.id }

// LocalPeerID 本节点 ID，Session 关闭后返回 ErrInstanceNotFound
func (s *Session) LocalPeerID() (peer.ID, error) {
	if s.closed.Load() {
		return "", ErrInstanceNotFound
	}
	return s.kp.PeerID(), nil
}

// Config 返回配置副本
func (s *Session) Config() *config.Config { return s.cfg.Clone() }

// Closed Session 是否已关闭
func (s *Session) Closed() bool { return s.closed.Load() }

// Close 关闭 Session，可重复调用
//
// 等待进行中的命令或翻译结束，随后关闭事件队列、行为与 host。
// 正在运行的事件循环返回 LoopStopped。
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		// 关闭后锁不再释放
		s.lock <- struct{}{}

		s.cancel()
		s.queue.Close()
		err := s.behaviours.close()
		err = multierr.Append(err, s.host.Close())
		s.wg.Wait()
		s.metrics.Unregister()
		s.closeErr = err

		s.log.Info("Session 已关闭", "err", err)
	})
	return s.closeErr
}
