package gossip

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/pkg/identity"
	"github.com/dep2p/go-overlay/pkg/types"
)

func testMessage(t *testing.T, from peer.ID, seq byte, topic string) *pubsub.Message {
	t.Helper()
	return &pubsub.Message{Message: &pb.Message{
		From:  []byte(from),
		Seqno: []byte{seq},
		Topic: &topic,
		Data:  []byte("payload"),
	}}
}

func newTestGate(t *testing.T, clk clock.Clock, timeout time.Duration) (*Gate, chan Event, peer.ID) {
	t.Helper()
	self, err := identity.RandomPeerID()
	require.NoError(t, err)
	events := make(chan Event, 8)
	g := NewGate(self, pubsub.DefaultMsgIdFn, func(e Event) { events <- e }, clk, timeout, 128, time.Minute)
	return g, events, self
}

func waitMessage(t *testing.T, events chan Event) Message {
	t.Helper()
	select {
	case e := <-events:
		m, ok := e.(Message)
		require.True(t, ok)
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for gossip message")
		return Message{}
	}
}

// TestGate_Accept 测试裁决与重复裁决
func TestGate_Accept(t *testing.T) {
	g, events, _ := newTestGate(t, nil, 0)
	src, _ := identity.RandomPeerID()

	result := make(chan pubsub.ValidationResult, 1)
	go func() {
		result <- g.Validate(context.Background(), src, testMessage(t, src, 1, "chat"))
	}()

	m := waitMessage(t, events)
	assert.Equal(t, src, m.PropagationSource)
	assert.Equal(t, src, m.Source)
	assert.Equal(t, types.TopicHash("chat"), m.Topic)
	assert.Equal(t, 1, g.Pending())

	require.NoError(t, g.Resolve(m.MessageID, src, types.AcceptMessage))
	assert.Equal(t, pubsub.ValidationAccept, <-result)
	assert.Equal(t, 0, g.Pending())

	err := g.Resolve(m.MessageID, src, types.AcceptMessage)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.ErrorIs(t, err, types.ErrChannelMisuse)
}

// TestGate_Reject 测试拒绝
func TestGate_Reject(t *testing.T) {
	g, events, _ := newTestGate(t, nil, 0)
	src, _ := identity.RandomPeerID()

	result := make(chan pubsub.ValidationResult, 1)
	go func() {
		result <- g.Validate(context.Background(), src, testMessage(t, src, 1, "chat"))
	}()
	m := waitMessage(t, events)
	require.NoError(t, g.Resolve(m.MessageID, src, types.RejectMessage))
	assert.Equal(t, pubsub.ValidationReject, <-result)
}

// TestGate_Unknown 测试未知条目
func TestGate_Unknown(t *testing.T) {
	g, _, _ := newTestGate(t, nil, 0)
	src, _ := identity.RandomPeerID()

	err := g.Resolve(types.MessageID("nope"), src, types.AcceptMessage)
	assert.ErrorIs(t, err, ErrUnknownMessage)
	assert.ErrorIs(t, err, types.ErrChannelMisuse)

	err = g.Resolve(types.MessageID("nope"), src, types.MessageAcceptance(9))
	assert.ErrorIs(t, err, ErrInvalidAcceptance)
}

// TestGate_Duplicate 测试其他来源的重复副本被忽略
func TestGate_Duplicate(t *testing.T) {
	g, events, _ := newTestGate(t, nil, 0)
	origin, _ := identity.RandomPeerID()
	relayA, _ := identity.RandomPeerID()
	relayB, _ := identity.RandomPeerID()

	done := make(chan pubsub.ValidationResult, 1)
	go func() {
		done <- g.Validate(context.Background(), relayA, testMessage(t, origin, 1, "chat"))
	}()
	m := waitMessage(t, events)

	assert.Equal(t, pubsub.ValidationIgnore, g.Validate(context.Background(), relayB, testMessage(t, origin, 1, "chat")))
	assert.Empty(t, events)

	require.NoError(t, g.Resolve(m.MessageID, relayA, types.AcceptMessage))
	assert.Equal(t, pubsub.ValidationAccept, <-done)
}

// TestGate_Local 测试本地消息直接接受
func TestGate_Local(t *testing.T) {
	g, events, self := newTestGate(t, nil, 0)

	msg := testMessage(t, self, 7, "chat")
	assert.Equal(t, pubsub.ValidationAccept, g.Validate(context.Background(), self, msg))
	assert.Empty(t, events)

	id, ok := g.takeLocal("chat")
	require.True(t, ok)
	assert.Equal(t, types.MessageID(pubsub.DefaultMsgIdFn(msg.Message)), id)

	_, ok = g.takeLocal("chat")
	assert.False(t, ok)
}

// TestGate_Timeout 测试待验证消息过期
func TestGate_Timeout(t *testing.T) {
	mock := clock.NewMock()
	g, events, _ := newTestGate(t, mock, time.Minute)
	src, _ := identity.RandomPeerID()

	result := make(chan pubsub.ValidationResult, 1)
	go func() {
		result <- g.Validate(context.Background(), src, testMessage(t, src, 1, "chat"))
	}()
	m := waitMessage(t, events)

	mock.Add(time.Minute)
	select {
	case r := <-result:
		assert.Equal(t, pubsub.ValidationIgnore, r)
	case <-time.After(5 * time.Second):
		t.Fatal("pending message did not expire")
	}

	err := g.Resolve(m.MessageID, src, types.AcceptMessage)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	assert.Contains(t, err.Error(), "expired")
}

// TestGate_Cancel 测试验证上下文取消
func TestGate_Cancel(t *testing.T) {
	g, events, _ := newTestGate(t, nil, 0)
	src, _ := identity.RandomPeerID()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan pubsub.ValidationResult, 1)
	go func() {
		result <- g.Validate(ctx, src, testMessage(t, src, 1, "chat"))
	}()
	waitMessage(t, events)
	cancel()
	assert.Equal(t, pubsub.ValidationIgnore, <-result)
	assert.Equal(t, 0, g.Pending())
}

// TestTopicHash 测试主题哈希
func TestTopicHash(t *testing.T) {
	assert.Equal(t, types.TopicHash("chat"), IdentityHash("chat"))

	desc := append([]byte{0x0a, byte(len("chat"))}, "chat"...)
	sum := sha256.Sum256(desc)
	assert.Equal(t, types.TopicHash(base64.StdEncoding.EncodeToString(sum[:])), SHA256Hash("chat"))

	assert.Equal(t, types.TopicHash("chat"), HasherFor(config.TopicHashIdentity)("chat"))
	assert.Equal(t, SHA256Hash("chat"), HasherFor(config.TopicHashSHA256)("chat"))
}

func newHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// tcpAddr host 的第一个 TCP 地址
func tcpAddr(t *testing.T, h host.Host) ma.Multiaddr {
	t.Helper()
	for _, a := range h.Addrs() {
		if _, err := a.ValueForProtocol(ma.P_TCP); err == nil {
			return a
		}
	}
	t.Fatal("host has no tcp address")
	return nil
}

func startBehaviour(t *testing.T, h host.Host, events chan Event) *Behaviour {
	t.Helper()
	b := New(config.DefaultPubSubConfig(), func(e Event) { events <- e }, nil)
	require.NoError(t, b.Start(h))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// TestBehaviour_SubscribeTwice 测试重复订阅与退订
func TestBehaviour_SubscribeTwice(t *testing.T) {
	b := startBehaviour(t, newHost(t), make(chan Event, 8))

	hash, created, err := b.Subscribe("chat")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.TopicHash("chat"), hash)

	_, created, err = b.Subscribe("chat")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []types.TopicHash{"chat"}, b.Subscriptions())

	ok, err := b.Unsubscribe("chat")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Unsubscribe("chat")
	require.NoError(t, err)
	assert.False(t, ok)

	// 退订后可以重新订阅
	_, created, err = b.Subscribe("chat")
	require.NoError(t, err)
	assert.True(t, created)
}

// TestBehaviour_PublishNoPeers 测试无节点时发布失败
func TestBehaviour_PublishNoPeers(t *testing.T) {
	b := startBehaviour(t, newHost(t), make(chan Event, 8))
	_, _, err := b.Subscribe("chat")
	require.NoError(t, err)

	_, err = b.Publish(context.Background(), "chat", []byte("hi"))
	assert.ErrorIs(t, err, ErrInsufficientPeers)
	assert.ErrorIs(t, err, types.ErrProtocol)
}

// TestBehaviour_PublishValidate 测试两个节点间发布与验证
func TestBehaviour_PublishValidate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ha, hb := newHost(t), newHost(t)
	evA, evB := make(chan Event, 16), make(chan Event, 16)
	a := startBehaviour(t, ha, evA)
	b := startBehaviour(t, hb, evB)

	require.NoError(t, ha.Connect(ctx, peer.AddrInfo{ID: hb.ID(), Addrs: hb.Addrs()}))

	_, _, err := a.Subscribe("chat")
	require.NoError(t, err)
	_, _, err = b.Subscribe("chat")
	require.NoError(t, err)

	// 等待双方看到对方订阅，再等 mesh 稳定
	waitSubscribed(ctx, t, evA, hb.ID())
	waitSubscribed(ctx, t, evB, ha.ID())
	settle()

	id, err := a.Publish(ctx, "chat", []byte("hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	e := waitFor(ctx, t, evB, func(e Event) bool {
		_, ok := e.(Message)
		return ok
	})
	m := e.(Message)
	assert.Equal(t, id, m.MessageID)
	assert.Equal(t, ha.ID(), m.Source)
	assert.Equal(t, []byte("hello"), m.Data)
	require.NoError(t, b.Validate(m.MessageID, m.PropagationSource, types.AcceptMessage))
	assert.ErrorIs(t, b.Validate(m.MessageID, m.PropagationSource, types.AcceptMessage), types.ErrChannelMisuse)
}

// settle 等待 GossipSub 心跳建立转发关系
func settle() {
	cfg := config.DefaultPubSubConfig()
	time.Sleep(cfg.HeartbeatInitialDelay.Duration() + 2*cfg.HeartbeatInterval.Duration())
}

func waitSubscribed(ctx context.Context, t *testing.T, events chan Event, p peer.ID) {
	t.Helper()
	waitFor(ctx, t, events, func(e Event) bool {
		s, ok := e.(Subscribed)
		return ok && s.Peer == p
	})
}

// noMessage 断言 d 内没有收到消息
func noMessage(t *testing.T, events chan Event, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case e := <-events:
			if m, ok := e.(Message); ok {
				t.Fatalf("unexpected gossip message %s", m.MessageID)
			}
		case <-deadline:
			return
		}
	}
}

func waitFor(ctx context.Context, t *testing.T, events chan Event, match func(Event) bool) Event {
	t.Helper()
	for {
		select {
		case e := <-events:
			if match(e) {
				return e
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for gossip event")
			return nil
		}
	}
}

// TestBehaviour_ForwardAfterAccept 测试中间节点裁决前不转发
func TestBehaviour_ForwardAfterAccept(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ha, hb, hc := newHost(t), newHost(t), newHost(t)
	evA, evB, evC := make(chan Event, 16), make(chan Event, 16), make(chan Event, 16)
	a := startBehaviour(t, ha, evA)
	b := startBehaviour(t, hb, evB)
	c := startBehaviour(t, hc, evC)

	// A - B - C 线形拓扑
	require.NoError(t, ha.Connect(ctx, peer.AddrInfo{ID: hb.ID(), Addrs: hb.Addrs()}))
	require.NoError(t, hb.Connect(ctx, peer.AddrInfo{ID: hc.ID(), Addrs: hc.Addrs()}))

	for _, n := range []*Behaviour{a, b, c} {
		_, _, err := n.Subscribe("chat")
		require.NoError(t, err)
	}
	waitSubscribed(ctx, t, evA, hb.ID())
	waitSubscribed(ctx, t, evC, hb.ID())
	settle()

	id, err := a.Publish(ctx, "chat", []byte("one"))
	require.NoError(t, err)

	m := waitFor(ctx, t, evB, func(e Event) bool {
		m, ok := e.(Message)
		return ok && m.MessageID == id
	}).(Message)
	noMessage(t, evC, 500*time.Millisecond)

	require.NoError(t, b.Validate(m.MessageID, m.PropagationSource, types.AcceptMessage))
	got := waitFor(ctx, t, evC, func(e Event) bool {
		_, ok := e.(Message)
		return ok
	}).(Message)
	assert.Equal(t, id, got.MessageID)
	assert.Equal(t, hb.ID(), got.PropagationSource)
	assert.Equal(t, ha.ID(), got.Source)
	require.NoError(t, c.Validate(got.MessageID, got.PropagationSource, types.AcceptMessage))

	// 被拒绝的消息不再转发
	id2, err := a.Publish(ctx, "chat", []byte("two"))
	require.NoError(t, err)
	m2 := waitFor(ctx, t, evB, func(e Event) bool {
		m, ok := e.(Message)
		return ok && m.MessageID == id2
	}).(Message)
	require.NoError(t, b.Validate(m2.MessageID, m2.PropagationSource, types.RejectMessage))
	noMessage(t, evC, time.Second)
	assert.Zero(t, c.PendingValidations())
}

// TestBehaviour_Name 测试行为名
func TestBehaviour_Name(t *testing.T) {
	b := New(config.DefaultPubSubConfig(), nil, nil)
	assert.Equal(t, "pubsub", b.Name())
}

// TestDirectPeers 测试直连节点地址解析
func TestDirectPeers(t *testing.T) {
	p, err := identity.RandomPeerID()
	require.NoError(t, err)

	infos, err := DirectPeers([]string{"/ip4/1.2.3.4/tcp/4001/p2p/" + p.String()})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, p, infos[0].ID)

	_, err = DirectPeers([]string{"/ip4/1.2.3.4/tcp/4001"})
	assert.ErrorIs(t, err, types.ErrBadAddress)

	cfg := config.DefaultPubSubConfig()
	cfg.DirectPeers = []string{"/ip4/1.2.3.4/tcp/4001"}
	b := New(cfg, nil, nil)
	assert.ErrorIs(t, b.Start(newHost(t)), types.ErrBadAddress)
}

// TestBehaviour_DirectPeer 测试配置与运行期直连节点
func TestBehaviour_DirectPeer(t *testing.T) {
	hb, hc := newHost(t), newHost(t)
	ha := newHost(t)

	cfg := config.DefaultPubSubConfig()
	cfg.DirectPeers = []string{tcpAddr(t, hb).String() + "/p2p/" + hb.ID().String()}
	a := New(cfg, nil, nil)

	_, err := a.RemovePeer(hb.ID())
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, a.AddPeer(hc.ID(), nil), ErrNotStarted)

	require.NoError(t, a.Start(ha))
	t.Cleanup(func() { _ = a.Close() })
	startBehaviour(t, hb, make(chan Event, 16))

	assert.ElementsMatch(t, []peer.ID{hb.ID()}, a.Direct())
	assert.True(t, ha.ConnManager().IsProtected(hb.ID(), directTag))
	require.Eventually(t, func() bool {
		return ha.Network().Connectedness(hb.ID()) == network.Connected
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, a.AddPeer(hc.ID(), tcpAddr(t, hc)))
	assert.ElementsMatch(t, []peer.ID{hb.ID(), hc.ID()}, a.Direct())
	assert.True(t, ha.ConnManager().IsProtected(hc.ID(), directTag))
	require.Eventually(t, func() bool {
		return ha.Network().Connectedness(hc.ID()) == network.Connected
	}, 10*time.Second, 50*time.Millisecond)

	ok, err := a.RemovePeer(hc.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, ha.ConnManager().IsProtected(hc.ID(), directTag))
	ok, err = a.RemovePeer(hc.ID())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ElementsMatch(t, []peer.ID{hb.ID()}, a.Direct())
}
