// Package rendezvous 实现 /rendezvous/1.0.0 会合点协议的客户端与服务端
//
// 消息为 protobuf 编码，每条消息以 uvarint 长度为前缀。注册携带 libp2p
// 签名节点记录，服务端验证签名且记录中的节点必须是发送方。
//
// 客户端的注册、发现结果均以事件上报；参数校验在发起前同步完成。
// 发现到的地址按 TTL 写入 peerstore，到期后上报 Expired。
package rendezvous

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/util/frame"
	"github.com/dep2p/go-overlay/internal/util/logger"
	"github.com/dep2p/go-overlay/pkg/types"
)

var log = logger.Logger("rendezvous")

// ClientName 客户端行为名
const ClientName = "rdv_client"

// ClientEvent 客户端事件
type ClientEvent interface {
	clientEvent()
}

// Registered 注册成功
type Registered struct {
	RendezvousNode peer.ID
	Namespace      string
	TTL            time.Duration
}

// RegisterFailed 注册失败
type RegisterFailed struct {
	RendezvousNode peer.ID
	Namespace      string
	Err            error
}

// Discovered 发现结果
type Discovered struct {
	RendezvousNode peer.ID
	Registrations  []Registration
	Cookie         types.Cookie
}

// DiscoverFailed 发现失败
type DiscoverFailed struct {
	RendezvousNode peer.ID
	Namespace      string
	Err            error
}

// Expired 发现到的节点注册已过期
type Expired struct {
	Peer peer.ID
}

func (Registered) clientEvent()     {}
func (RegisterFailed) clientEvent() {}
func (Discovered) clientEvent()     {}
func (DiscoverFailed) clientEvent() {}
func (Expired) clientEvent()        {}

// Client rendezvous 客户端
type Client struct {
	cfg   config.RendezvousConfig
	emit  func(ClientEvent)
	clock clock.Clock

	host host.Host

	mu         sync.Mutex
	discovered map[regKey]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient 创建客户端
func NewClient(cfg config.RendezvousConfig, emit func(ClientEvent), clk clock.Clock) *Client {
	if emit == nil {
		emit = func(ClientEvent) {}
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:        cfg,
		emit:       emit,
		clock:      clk,
		discovered: make(map[regKey]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Name 返回行为名
func (c *Client) Name() string { return ClientName }

// Start 绑定 host 并启动过期检查
func (c *Client) Start(h host.Host) error {
	c.host = h

	c.wg.Add(1)
	go c.expiryLoop()
	return nil
}

// Close 停止客户端，等待进行中的请求结束
func (c *Client) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

// Register 在会合点注册本节点
//
// addrs 为要通告的外部地址，不能为空。ttl 为 0 时使用默认值。
func (c *Client) Register(node peer.ID, ns string, ttl time.Duration, addrs []ma.Multiaddr) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	ttl, err := ResolveTTL(c.cfg, ttl)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return ErrNoExternalAddrs
	}
	if c.host == nil || c.ctx.Err() != nil {
		return ErrClosed
	}

	env, err := sealRecord(c.host.Peerstore().PrivKey(c.host.ID()), types.PeerRecord{PeerID: c.host.ID(), Addrs: addrs})
	if err != nil {
		return err
	}
	req := &message{
		Type: MessageRegister,
		Register: &registerMsg{
			Ns:               ns,
			SignedPeerRecord: env,
			TTL:              uint64(ttl / time.Second),
		},
	}

	c.spawn(func(ctx context.Context) {
		granted, err := c.registerRoundTrip(ctx, node, req)
		if err != nil {
			log.Debug("注册失败", "node", node, "ns", ns, "err", err)
			c.emit(RegisterFailed{RendezvousNode: node, Namespace: ns, Err: err})
			return
		}
		log.Debug("注册成功", "node", node, "ns", ns, "ttl", granted)
		c.emit(Registered{RendezvousNode: node, Namespace: ns, TTL: granted})
	})
	return nil
}

func (c *Client) registerRoundTrip(ctx context.Context, node peer.ID, req *message) (time.Duration, error) {
	resp, err := c.roundTrip(ctx, node, req, MessageRegisterResponse)
	if err != nil {
		return 0, err
	}
	r := resp.RegisterResponse
	if r.Status != StatusOK {
		return 0, &StatusError{Status: r.Status, Text: r.StatusText}
	}
	return time.Duration(r.TTL) * time.Second, nil
}

// Unregister 在会合点注销，不等待也不上报结果
func (c *Client) Unregister(node peer.ID, ns string) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	if c.host == nil || c.ctx.Err() != nil {
		return ErrClosed
	}
	req := &message{Type: MessageUnregister, Unregister: &unregisterMsg{Ns: ns}}

	c.spawn(func(ctx context.Context) {
		st, err := c.host.NewStream(ctx, node, ProtocolID)
		if err != nil {
			log.Debug("注销失败", "node", node, "ns", ns, "err", err)
			return
		}
		defer st.Close()
		if err := writeMessage(st, req); err != nil {
			log.Debug("注销失败", "node", node, "ns", ns, "err", err)
			_ = st.Reset()
		}
	})
	return nil
}

// Discover 向会合点查询注册
//
// ns 为空表示所有命名空间；cookie 为 nil 表示从头开始；limit 为 0 由服务端决定。
func (c *Client) Discover(node peer.ID, ns string, cookie *types.Cookie, limit uint64) error {
	if ns != "" {
		if err := ValidateNamespace(ns); err != nil {
			return err
		}
	}
	if cookie != nil && cookie.Namespace != ns {
		return fmt.Errorf("%w: cookie namespace %q does not match %q", types.ErrInvalidCookie, cookie.Namespace, ns)
	}
	if c.host == nil || c.ctx.Err() != nil {
		return ErrClosed
	}

	req := &message{Type: MessageDiscover, Discover: &discoverMsg{Ns: ns, Limit: limit}}
	if cookie != nil {
		req.Discover.Cookie = cookie.Bytes()
	}

	c.spawn(func(ctx context.Context) {
		regs, next, err := c.discoverRoundTrip(ctx, node, req)
		if err != nil {
			log.Debug("发现失败", "node", node, "ns", ns, "err", err)
			c.emit(DiscoverFailed{RendezvousNode: node, Namespace: ns, Err: err})
			return
		}
		c.remember(regs)
		c.emit(Discovered{RendezvousNode: node, Registrations: regs, Cookie: next})
	})
	return nil
}

func (c *Client) discoverRoundTrip(ctx context.Context, node peer.ID, req *message) ([]Registration, types.Cookie, error) {
	resp, err := c.roundTrip(ctx, node, req, MessageDiscoverResponse)
	if err != nil {
		return nil, types.Cookie{}, err
	}
	r := resp.DiscoverResponse
	if r.Status != StatusOK {
		return nil, types.Cookie{}, &StatusError{Status: r.Status, Text: r.StatusText}
	}
	next, err := types.ParseCookie(r.Cookie)
	if err != nil {
		return nil, types.Cookie{}, err
	}

	regs := make([]Registration, 0, len(r.Registrations))
	for _, m := range r.Registrations {
		rec, err := openRecord(m.SignedPeerRecord)
		if err != nil {
			log.Debug("丢弃无效节点记录", "node", node, "ns", m.Ns, "err", err)
			continue
		}
		ttl := time.Duration(m.TTL) * time.Second
		c.host.Peerstore().AddAddrs(rec.PeerID, rec.Addrs, ttl)
		regs = append(regs, Registration{Namespace: m.Ns, Record: rec, TTL: ttl})
	}
	return regs, next, nil
}

// roundTrip 发送一条请求并读取一条响应
func (c *Client) roundTrip(ctx context.Context, node peer.ID, req *message, want MessageType) (*message, error) {
	st, err := c.host.NewStream(ctx, node, ProtocolID)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(deadline)
	}
	if err := writeMessage(st, req); err != nil {
		_ = st.Reset()
		return nil, err
	}
	resp, err := readMessage(frame.NewReader(st, maxMessageSize))
	if err != nil {
		_ = st.Reset()
		return nil, err
	}
	if resp.Type != want {
		return nil, fmt.Errorf("%w: got type %d, want %d", ErrUnexpectedResponse, resp.Type, want)
	}
	return resp, nil
}

// spawn 在后台执行一次带超时的请求
func (c *Client) spawn(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.RequestTimeout.Duration())
		defer cancel()
		fn(ctx)
	}()
}

// ============================================================================
//                              过期跟踪
// ============================================================================

func (c *Client) remember(regs []Registration) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range regs {
		c.discovered[regKey{ns: r.Namespace, peer: r.Record.PeerID}] = now.Add(r.TTL)
	}
}

func (c *Client) expiryLoop() {
	defer c.wg.Done()

	interval := c.cfg.CleanupInterval.Duration()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.expire()
		}
	}
}

// expire 上报到期的发现结果，同一节点在一轮中只上报一次
func (c *Client) expire() {
	now := c.clock.Now()

	c.mu.Lock()
	seen := make(map[peer.ID]struct{})
	var expired []peer.ID
	for key, at := range c.discovered {
		if now.Before(at) {
			continue
		}
		delete(c.discovered, key)
		if _, ok := seen[key.peer]; ok {
			continue
		}
		seen[key.peer] = struct{}{}
		expired = append(expired, key.peer)
	}
	c.mu.Unlock()

	for _, p := range expired {
		c.emit(Expired{Peer: p})
	}
}
