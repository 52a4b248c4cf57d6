// Package gossip 封装 GossipSub 发布/订阅与应用侧消息验证
//
// 所有远端消息经过验证闸门：先以 Message 事件交给应用，由应用调用
// Validate 决定接受、拒绝或忽略。本地发布的消息不经过闸门。
package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/util/logger"
	"github.com/dep2p/go-overlay/pkg/types"
)

var log = logger.Logger("gossip")

// Name 行为名
const Name = "pubsub"

const (
	// directTag 直连节点在连接管理器中的保护标签
	directTag = "gossip-direct"

	connectTimeout = 10 * time.Second
)

// Event gossip 事件
type Event interface {
	gossipEvent()
}

// Message 收到待验证的远端消息
type Message struct {
	PropagationSource peer.ID
	MessageID         types.MessageID
	Data              []byte
	Source            peer.ID
	Topic             types.TopicHash
}

// Subscribed 远端节点订阅了主题
type Subscribed struct {
	Peer  peer.ID
	Topic types.TopicHash
}

// Unsubscribed 远端节点退订了主题
type Unsubscribed struct {
	Peer  peer.ID
	Topic types.TopicHash
}

func (Message) gossipEvent()      {}
func (Subscribed) gossipEvent()   {}
func (Unsubscribed) gossipEvent() {}

// topicState 已加入的主题
//
// 退订后保留 topic 句柄，以便继续发布或重新订阅。
type topicState struct {
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	handler *pubsub.TopicEventHandler
	cancel  context.CancelFunc
}

func (t *topicState) subscribed() bool { return t.sub != nil }

// Behaviour gossip 行为
type Behaviour struct {
	cfg   config.PubSubConfig
	emit  func(Event)
	clock clock.Clock
	hash  Hasher
	idFn  MessageIDFn

	ps   *pubsub.PubSub
	gate *Gate
	host host.Host

	mu     sync.Mutex
	topics map[types.TopicHash]*topicState
	direct map[peer.ID]struct{}

	// pubMu 串行化发布，保证取到的本地消息 ID 属于本次发布
	pubMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建 gossip 行为
func New(cfg config.PubSubConfig, emit func(Event), clk clock.Clock) *Behaviour {
	if emit == nil {
		emit = func(Event) {}
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Behaviour{
		cfg:    cfg,
		emit:   emit,
		clock:  clk,
		hash:   HasherFor(cfg.TopicHashing),
		idFn:   pubsub.DefaultMsgIdFn,
		topics: make(map[types.TopicHash]*topicState),
		direct: make(map[peer.ID]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name 行为名
func (b *Behaviour) Name() string { return Name }

// Start 在 host 上创建 GossipSub
//
// 配置中的直连节点成为 GossipSub 的 direct peer：不进入 mesh，
// 所有消息都转发给它们，断线后由 GossipSub 重连。
func (b *Behaviour) Start(h host.Host) error {
	direct, err := DirectPeers(b.cfg.DirectPeers)
	if err != nil {
		return err
	}

	params := pubsub.DefaultGossipSubParams()
	params.HeartbeatInitialDelay = b.cfg.HeartbeatInitialDelay.Duration()
	params.HeartbeatInterval = b.cfg.HeartbeatInterval.Duration()

	ps, err := pubsub.NewGossipSub(b.ctx, h,
		pubsub.WithMessageSignaturePolicy(pubsub.StrictSign),
		pubsub.WithMessageIdFn(pubsub.MsgIdFunction(b.idFn)),
		pubsub.WithGossipSubParams(params),
		pubsub.WithDirectPeers(direct),
	)
	if err != nil {
		return types.NewProtocolError(Name, err)
	}

	b.mu.Lock()
	b.host = h
	for _, ai := range direct {
		b.direct[ai.ID] = struct{}{}
		h.ConnManager().Protect(ai.ID, directTag)
	}
	b.mu.Unlock()

	b.ps = ps
	b.gate = NewGate(h.ID(), b.idFn, b.emit, b.clock,
		b.cfg.ValidationTimeout.Duration(), b.cfg.ResolvedCacheSize, b.cfg.ResolvedCacheTTL.Duration())
	return nil
}

// Close 退订全部主题并释放待验证消息
func (b *Behaviour) Close() error {
	b.mu.Lock()
	for _, t := range b.topics {
		t.stop()
	}
	b.mu.Unlock()

	if b.gate != nil {
		b.gate.Close()
	}
	b.mu.Lock()
	b.cancel()
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

// TopicHash 计算主题哈希
func (b *Behaviour) TopicHash(topic string) types.TopicHash {
	return b.hash(topic)
}

// Subscribe 订阅主题，已订阅时返回 false
func (b *Behaviour) Subscribe(topic string) (types.TopicHash, bool, error) {
	if topic == "" {
		return "", false, ErrEmptyTopic
	}
	if b.ps == nil {
		return "", false, ErrNotStarted
	}
	hash := b.hash(topic)

	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := b.joinLocked(hash)
	if err != nil {
		return hash, false, err
	}
	if t.subscribed() {
		return hash, false, nil
	}

	sub, err := t.topic.Subscribe()
	if err != nil {
		return hash, false, types.NewProtocolError(Name, err)
	}
	handler, err := t.topic.EventHandler()
	if err != nil {
		sub.Cancel()
		return hash, false, types.NewProtocolError(Name, err)
	}

	ctx, cancel := context.WithCancel(b.ctx)
	t.sub, t.handler, t.cancel = sub, handler, cancel

	b.wg.Add(2)
	go b.drain(ctx, sub)
	go b.peerEvents(ctx, hash, handler)

	log.Debug("订阅主题", "topic", topic, "hash", hash)
	return hash, true, nil
}

// Unsubscribe 退订主题，未订阅时返回 false
func (b *Behaviour) Unsubscribe(topic string) (bool, error) {
	if b.ps == nil {
		return false, ErrNotStarted
	}
	hash := b.hash(topic)

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[hash]
	if !ok || !t.subscribed() {
		return false, nil
	}
	t.stop()

	log.Debug("退订主题", "topic", topic, "hash", hash)
	return true, nil
}

// Subscriptions 已订阅的主题哈希
func (b *Behaviour) Subscriptions() []types.TopicHash {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.TopicHash, 0, len(b.topics))
	for h, t := range b.topics {
		if t.subscribed() {
			out = append(out, h)
		}
	}
	return out
}

// Publish 发布消息
//
// 没有任何节点订阅该主题时返回 ErrInsufficientPeers。节点刚加入主题时，
// GossipSub 在下一个心跳前可能尚未向其转发，紧随订阅之后的发布可能到达不了它。
func (b *Behaviour) Publish(ctx context.Context, topic string, data []byte) (types.MessageID, error) {
	if topic == "" {
		return "", ErrEmptyTopic
	}
	if b.ps == nil {
		return "", ErrNotStarted
	}
	hash := b.hash(topic)

	b.mu.Lock()
	t, err := b.joinLocked(hash)
	b.mu.Unlock()
	if err != nil {
		return "", err
	}

	if len(t.topic.ListPeers()) == 0 {
		return "", types.NewProtocolError(Name, ErrInsufficientPeers)
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.gate.takeLocal(string(hash))
	if err := t.topic.Publish(ctx, data); err != nil {
		return "", types.NewProtocolError(Name, err)
	}
	id, ok := b.gate.takeLocal(string(hash))
	if !ok {
		return "", types.NewProtocolError(Name, errors.New("published message id unavailable"))
	}
	return id, nil
}

// Validate 裁决待验证消息
func (b *Behaviour) Validate(id types.MessageID, src peer.ID, acceptance types.MessageAcceptance) error {
	if b.gate == nil {
		return ErrNotStarted
	}
	return b.gate.Resolve(id, src, acceptance)
}

// PendingValidations 等待裁决的消息数
func (b *Behaviour) PendingValidations() int {
	if b.gate == nil {
		return 0
	}
	return b.gate.Pending()
}

// ════════════════════════════════════════════════════════════════════════════
//                              直连节点
// ════════════════════════════════════════════════════════════════════════════

// DirectPeers 解析直连节点地址，每个地址必须带 /p2p/
func DirectPeers(addrs []string) ([]peer.AddrInfo, error) {
	parsed, err := types.ParseMultiaddrs(addrs)
	if err != nil {
		return nil, err
	}
	infos, err := peer.AddrInfosFromP2pAddrs(parsed...)
	if err != nil {
		return nil, fmt.Errorf("%w: direct peer: %v", types.ErrBadAddress, err)
	}
	return infos, nil
}

// AddPeer 添加运行期直连节点
//
// 节点受连接管理器保护并在后台拨号；addr 为 nil 时使用 peerstore 中已知地址。
// GossipSub 的 direct peer 集合只在启动时确定，运行期添加的节点按普通节点参与 mesh。
func (b *Behaviour) AddPeer(p peer.ID, addr ma.Multiaddr) error {
	b.mu.Lock()
	h := b.host
	if h == nil {
		b.mu.Unlock()
		return ErrNotStarted
	}
	b.direct[p] = struct{}{}
	b.mu.Unlock()

	if addr != nil {
		h.Peerstore().AddAddr(p, addr, peerstore.PermanentAddrTTL)
	}
	h.ConnManager().Protect(p, directTag)
	log.Debug("添加直连节点", "peer", p, "addr", addr)
	b.connect(h, p)
	return nil
}

// RemovePeer 移除直连节点，返回节点是否存在
func (b *Behaviour) RemovePeer(p peer.ID) (bool, error) {
	b.mu.Lock()
	h := b.host
	if h == nil {
		b.mu.Unlock()
		return false, ErrNotStarted
	}
	_, ok := b.direct[p]
	delete(b.direct, p)
	b.mu.Unlock()

	if ok {
		h.ConnManager().Unprotect(p, directTag)
	}
	return ok, nil
}

// Direct 当前直连节点
func (b *Behaviour) Direct() []peer.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]peer.ID, 0, len(b.direct))
	for p := range b.direct {
		out = append(out, p)
	}
	return out
}

func (b *Behaviour) connect(h host.Host, p peer.ID) {
	if h.Network().Connectedness(p) == network.Connected {
		return
	}
	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, connectTimeout)
		defer cancel()
		if err := h.Connect(ctx, peer.AddrInfo{ID: p}); err != nil {
			log.Debug("连接直连节点失败", "peer", p, "err", err)
		}
	}()
}

// joinLocked 加入主题并注册验证器，调用方持有 b.mu
func (b *Behaviour) joinLocked(hash types.TopicHash) (*topicState, error) {
	if t, ok := b.topics[hash]; ok {
		return t, nil
	}
	if err := b.ps.RegisterTopicValidator(string(hash), b.gate.Validate); err != nil {
		return nil, types.NewProtocolError(Name, err)
	}
	topic, err := b.ps.Join(string(hash))
	if err != nil {
		_ = b.ps.UnregisterTopicValidator(string(hash))
		return nil, types.NewProtocolError(Name, err)
	}
	t := &topicState{topic: topic}
	b.topics[hash] = t
	return t, nil
}

func (t *topicState) stop() {
	if t.sub == nil {
		return
	}
	t.cancel()
	t.sub.Cancel()
	t.handler.Cancel()
	t.sub, t.handler, t.cancel = nil, nil, nil
}

// drain 消费订阅，消息已在验证阶段上报
func (b *Behaviour) drain(ctx context.Context, sub *pubsub.Subscription) {
	defer b.wg.Done()
	for {
		if _, err := sub.Next(ctx); err != nil {
			return
		}
	}
}

func (b *Behaviour) peerEvents(ctx context.Context, hash types.TopicHash, handler *pubsub.TopicEventHandler) {
	defer b.wg.Done()
	for {
		evt, err := handler.NextPeerEvent(ctx)
		if err != nil {
			return
		}
		switch evt.Type {
		case pubsub.PeerJoin:
			b.emit(Subscribed{Peer: evt.Peer, Topic: hash})
		case pubsub.PeerLeave:
			b.emit(Unsubscribed{Peer: evt.Peer, Topic: hash})
		}
	}
}
