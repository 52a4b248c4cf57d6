package rendezvous

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/util/frame"
	"github.com/dep2p/go-overlay/pkg/types"
)

// ServerName 服务端行为名
const ServerName = "rdv_server"

// limiterCacheSize 限速器缓存条数
const limiterCacheSize = 4096

// ServerEvent 服务端事件
type ServerEvent interface {
	serverEvent()
}

// PeerRegistered 节点注册成功
type PeerRegistered struct {
	Peer         peer.ID
	Registration Registration
}

// PeerNotRegistered 注册被拒绝
type PeerNotRegistered struct {
	Peer      peer.ID
	Namespace string
	Status    Status
}

// PeerUnregistered 节点注销
type PeerUnregistered struct {
	Peer      peer.ID
	Namespace string
}

// RegistrationExpired 注册过期
type RegistrationExpired struct {
	Registration Registration
}

// DiscoverServed 发现请求已应答
type DiscoverServed struct {
	Enquirer      peer.ID
	Registrations []Registration
}

// DiscoverNotServed 发现请求被拒绝
type DiscoverNotServed struct {
	Enquirer peer.ID
	Status   Status
}

func (PeerRegistered) serverEvent()      {}
func (PeerNotRegistered) serverEvent()   {}
func (PeerUnregistered) serverEvent()    {}
func (RegistrationExpired) serverEvent() {}
func (DiscoverServed) serverEvent()      {}
func (DiscoverNotServed) serverEvent()   {}

// Server rendezvous 服务端
type Server struct {
	cfg   config.RendezvousConfig
	emit  func(ServerEvent)
	clock clock.Clock
	store *store

	limiters *lru.Cache[peer.ID, *rate.Limiter]

	host host.Host

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建服务端，cfg.EnableServer 为 false 时返回 nil
func NewServer(cfg config.RendezvousConfig, emit func(ServerEvent), clk clock.Clock) *Server {
	if !cfg.EnableServer {
		return nil
	}
	if emit == nil {
		emit = func(ServerEvent) {}
	}
	if clk == nil {
		clk = clock.New()
	}
	limiters, _ := lru.New[peer.ID, *rate.Limiter](limiterCacheSize)
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		emit:     emit,
		clock:    clk,
		store:    newStore(clk, cfg.MaxRegistrations, cfg.MaxRegistrationsPerPeer),
		limiters: limiters,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Name 返回行为名
func (s *Server) Name() string { return ServerName }

// Start 注册流处理器并启动过期清理
func (s *Server) Start(h host.Host) error {
	s.host = h
	h.SetStreamHandler(ProtocolID, s.handleStream)

	s.wg.Add(1)
	go s.cleanupLoop()
	return nil
}

// Close 停止服务
func (s *Server) Close() error {
	s.cancel()
	if s.host != nil {
		s.host.RemoveStreamHandler(ProtocolID)
	}
	s.wg.Wait()
	return nil
}

// Registrations 当前注册数
func (s *Server) Registrations() int {
	return s.store.len()
}

func (s *Server) cleanupLoop() {
	defer s.wg.Done()

	ticker := s.clock.Ticker(s.cfg.CleanupInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.expire()
		}
	}
}

func (s *Server) expire() {
	for _, reg := range s.store.expire() {
		log.Debug("注册过期", "peer", reg.Record.PeerID, "ns", reg.Namespace)
		s.emit(RegistrationExpired{Registration: reg})
	}
}

// allow 单节点请求限速
func (s *Server) allow(p peer.ID) bool {
	lim, ok := s.limiters.Get(p)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.RequestBurst)
		s.limiters.Add(p, lim)
	}
	return lim.AllowN(s.clock.Now(), 1)
}

func (s *Server) handleStream(st network.Stream) {
	defer st.Close()

	remote := st.Conn().RemotePeer()
	r := frame.NewReader(st, maxMessageSize)
	for {
		_ = st.SetReadDeadline(time.Now().Add(s.cfg.RequestTimeout.Duration()))
		req, err := readMessage(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("读取请求失败", "peer", remote, "err", err)
				_ = st.Reset()
			}
			return
		}

		resp := s.handle(remote, req)
		if resp == nil {
			continue
		}
		_ = st.SetWriteDeadline(time.Now().Add(s.cfg.RequestTimeout.Duration()))
		if err := writeMessage(st, resp); err != nil {
			log.Debug("写入响应失败", "peer", remote, "err", err)
			_ = st.Reset()
			return
		}
	}
}

// handle 处理一条请求，返回 nil 表示无需应答
func (s *Server) handle(remote peer.ID, req *message) *message {
	switch req.Type {
	case MessageRegister:
		return s.handleRegister(remote, req.Register)
	case MessageUnregister:
		s.handleUnregister(remote, req.Unregister)
		return nil
	case MessageDiscover:
		return s.handleDiscover(remote, req.Discover)
	default:
		log.Debug("忽略未知请求类型", "peer", remote, "type", req.Type)
		return nil
	}
}

func (s *Server) handleRegister(remote peer.ID, req *registerMsg) *message {
	reg, serr := s.register(remote, req)
	if serr != nil {
		log.Debug("拒绝注册", "peer", remote, "ns", req.Ns, "status", serr.Status, "reason", serr.Text)
		s.emit(PeerNotRegistered{Peer: remote, Namespace: req.Ns, Status: serr.Status})
		return &message{
			Type:             MessageRegisterResponse,
			RegisterResponse: &registerResponseMsg{Status: serr.Status, StatusText: serr.Text},
		}
	}

	log.Debug("节点注册", "peer", remote, "ns", reg.Namespace, "ttl", reg.TTL)
	s.emit(PeerRegistered{Peer: remote, Registration: reg})
	return &message{
		Type: MessageRegisterResponse,
		RegisterResponse: &registerResponseMsg{
			Status: StatusOK,
			TTL:    uint64(reg.TTL / time.Second),
		},
	}
}

func (s *Server) register(remote peer.ID, req *registerMsg) (Registration, *StatusError) {
	if !s.allow(remote) {
		return Registration{}, statusError(StatusUnavailable, "rate limited")
	}
	if err := ValidateNamespace(req.Ns); err != nil {
		return Registration{}, statusError(StatusInvalidNamespace, "%v", err)
	}
	ttl, err := ResolveTTL(s.cfg, time.Duration(req.TTL)*time.Second)
	if err != nil {
		return Registration{}, statusError(StatusInvalidTTL, "%v", err)
	}
	rec, err := openRecord(req.SignedPeerRecord)
	if err != nil {
		return Registration{}, statusError(StatusInvalidSignedPeerRecord, "%v", err)
	}
	if rec.PeerID != remote {
		return Registration{}, statusError(StatusInvalidSignedPeerRecord, "record peer %s does not match sender", rec.PeerID)
	}
	return s.store.add(req.Ns, rec, req.SignedPeerRecord, ttl)
}

func (s *Server) handleUnregister(remote peer.ID, req *unregisterMsg) {
	if !s.store.remove(req.Ns, remote) {
		return
	}
	log.Debug("节点注销", "peer", remote, "ns", req.Ns)
	s.emit(PeerUnregistered{Peer: remote, Namespace: req.Ns})
}

func (s *Server) handleDiscover(remote peer.ID, req *discoverMsg) *message {
	regs, resp, serr := s.discover(remote, req)
	if serr != nil {
		log.Debug("拒绝发现", "peer", remote, "status", serr.Status, "reason", serr.Text)
		s.emit(DiscoverNotServed{Enquirer: remote, Status: serr.Status})
		return &message{
			Type:             MessageDiscoverResponse,
			DiscoverResponse: &discoverResponseMsg{Status: serr.Status, StatusText: serr.Text},
		}
	}
	s.emit(DiscoverServed{Enquirer: remote, Registrations: regs})
	return &message{Type: MessageDiscoverResponse, DiscoverResponse: resp}
}

func (s *Server) discover(remote peer.ID, req *discoverMsg) ([]Registration, *discoverResponseMsg, *StatusError) {
	if !s.allow(remote) {
		return nil, nil, statusError(StatusUnavailable, "rate limited")
	}
	if len(req.Ns) > MaxNamespaceLength {
		return nil, nil, statusError(StatusInvalidNamespace, "namespace too long")
	}

	var cookie *types.Cookie
	if len(req.Cookie) > 0 {
		c, err := types.ParseCookie(req.Cookie)
		if err != nil {
			return nil, nil, statusError(StatusInvalidCookie, "%v", err)
		}
		cookie = &c
	}

	limit := s.cfg.DefaultDiscoverLimit
	if req.Limit > 0 {
		limit = int(min(req.Limit, maxDiscoverLimit))
	}

	found, next, serr := s.store.discover(req.Ns, cookie, limit)
	if serr != nil {
		return nil, nil, serr
	}

	regs := make([]Registration, 0, len(found))
	resp := &discoverResponseMsg{Status: StatusOK, Cookie: next.Bytes()}
	for _, r := range found {
		regs = append(regs, r.reg)
		resp.Registrations = append(resp.Registrations, registerMsg{
			Ns:               r.reg.Namespace,
			SignedPeerRecord: r.envelope,
			TTL:              uint64(r.reg.TTL / time.Second),
		})
	}
	return regs, resp, nil
}
