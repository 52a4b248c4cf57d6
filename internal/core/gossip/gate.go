package gossip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/dep2p/go-overlay/pkg/types"
)

// MessageIDFn gossip 消息 ID 计算方式
type MessageIDFn func(*pb.Message) string

// gateKey 待验证条目键
type gateKey struct {
	id  types.MessageID
	src peer.ID
}

type gateEntry struct {
	result chan pubsub.ValidationResult
	timer  *clock.Timer
}

// resolution 已裁决条目的结局
type resolution string

const (
	resolvedByApp resolution = "resolved"
	resolvedByTTL resolution = "expired"
	resolvedAbort resolution = "cancelled"
)

// Gate 验证闸门
//
// 远端消息在 Validate 中阻塞，直到 Resolve 给出裁决。每个 (消息 ID, 来源)
// 只能裁决一次；同一消息 ID 已在等待时，其他来源的副本直接忽略。
// timeout 大于 0 时，未裁决条目到期按 Ignore 处理。
type Gate struct {
	self    peer.ID
	idFn    MessageIDFn
	emit    func(Event)
	clock   clock.Clock
	timeout time.Duration

	mu       sync.Mutex
	pending  map[gateKey]*gateEntry
	inflight map[types.MessageID]gateKey
	resolved *expirable.LRU[gateKey, resolution]
	local    map[string]types.MessageID
}

// NewGate 创建验证闸门
func NewGate(self peer.ID, idFn MessageIDFn, emit func(Event), clk clock.Clock, timeout time.Duration, cacheSize int, cacheTTL time.Duration) *Gate {
	if emit == nil {
		emit = func(Event) {}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Gate{
		self:     self,
		idFn:     idFn,
		emit:     emit,
		clock:    clk,
		timeout:  timeout,
		pending:  make(map[gateKey]*gateEntry),
		inflight: make(map[types.MessageID]gateKey),
		resolved: expirable.NewLRU[gateKey, resolution](cacheSize, nil, cacheTTL),
		local:    make(map[string]types.MessageID),
	}
}

// Validate pubsub 主题验证器
func (g *Gate) Validate(ctx context.Context, src peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	id := types.MessageIDFromBytes([]byte(g.idFn(msg.Message)))

	// 本地发布直接接受
	if msg.Local || src == g.self {
		g.mu.Lock()
		g.local[msg.GetTopic()] = id
		g.mu.Unlock()
		return pubsub.ValidationAccept
	}

	key := gateKey{id: id, src: src}
	entry := &gateEntry{result: make(chan pubsub.ValidationResult, 1)}

	g.mu.Lock()
	if _, dup := g.inflight[id]; dup {
		g.mu.Unlock()
		log.Debug("忽略重复的待验证消息", "id", id, "src", src)
		return pubsub.ValidationIgnore
	}
	g.pending[key] = entry
	g.inflight[id] = key
	if g.timeout > 0 {
		entry.timer = g.clock.AfterFunc(g.timeout, func() {
			g.finish(key, pubsub.ValidationIgnore, resolvedByTTL)
		})
	}
	g.mu.Unlock()

	g.emit(Message{
		PropagationSource: src,
		MessageID:         id,
		Data:              msg.Data,
		Source:            msg.GetFrom(),
		Topic:             types.TopicHash(msg.GetTopic()),
	})

	select {
	case r := <-entry.result:
		return r
	case <-ctx.Done():
		g.finish(key, pubsub.ValidationIgnore, resolvedAbort)
		return pubsub.ValidationIgnore
	}
}

// Resolve 裁决待验证消息
func (g *Gate) Resolve(id types.MessageID, src peer.ID, acceptance types.MessageAcceptance) error {
	var result pubsub.ValidationResult
	switch acceptance {
	case types.AcceptMessage:
		result = pubsub.ValidationAccept
	case types.RejectMessage:
		result = pubsub.ValidationReject
	case types.IgnoreMessage:
		result = pubsub.ValidationIgnore
	default:
		return fmt.Errorf("%w: %d", ErrInvalidAcceptance, acceptance)
	}

	key := gateKey{id: id, src: src}
	if g.finish(key, result, resolvedByApp) {
		return nil
	}

	g.mu.Lock()
	how, ok := g.resolved.Get(key)
	g.mu.Unlock()
	if ok {
		return fmt.Errorf("%w: %s from %s (%s)", ErrAlreadyResolved, id, src, how)
	}
	return fmt.Errorf("%w: %s from %s", ErrUnknownMessage, id, src)
}

// finish 结束等待中的条目，返回条目是否存在
func (g *Gate) finish(key gateKey, result pubsub.ValidationResult, how resolution) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.pending[key]
	if !ok {
		return false
	}
	delete(g.pending, key)
	if g.inflight[key.id] == key {
		delete(g.inflight, key.id)
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	g.resolved.Add(key, how)
	entry.result <- result

	if how == resolvedByTTL {
		log.Debug("待验证消息过期", "id", key.id, "src", key.src)
	}
	return true
}

// takeLocal 取出主题最近一次本地发布的消息 ID
func (g *Gate) takeLocal(topic string) (types.MessageID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.local[topic]
	delete(g.local, topic)
	return id, ok
}

// Pending 等待裁决的条目数
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Close 以 Ignore 结束全部等待中的条目
func (g *Gate) Close() {
	g.mu.Lock()
	keys := make([]gateKey, 0, len(g.pending))
	for k := range g.pending {
		keys = append(keys, k)
	}
	g.mu.Unlock()

	for _, k := range keys {
		g.finish(k, pubsub.ValidationIgnore, resolvedAbort)
	}
}
