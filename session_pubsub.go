package overlay

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/pkg/types"
)

// Subscribe 订阅主题，已订阅时返回 false
func (s *Session) Subscribe(ctx context.Context, topic string) (types.TopicHash, bool, error) {
	var (
		hash    types.TopicHash
		created bool
	)
	err := s.exec(ctx, "subscribe", func() error {
		var err error
		hash, created, err = s.gossip.Subscribe(topic)
		return err
	})
	return hash, created, err
}

// Unsubscribe 退订主题，未订阅时返回 false
func (s *Session) Unsubscribe(ctx context.Context, topic string) (bool, error) {
	var ok bool
	err := s.exec(ctx, "unsubscribe", func() error {
		var err error
		ok, err = s.gossip.Unsubscribe(topic)
		return err
	})
	return ok, err
}

// Subscriptions 已订阅的主题哈希
func (s *Session) Subscriptions(ctx context.Context) ([]types.TopicHash, error) {
	var topics []types.TopicHash
	err := s.exec(ctx, "subscriptions", func() error {
		topics = s.gossip.Subscriptions()
		return nil
	})
	return topics, err
}

// Publish 发布消息
//
// 没有任何节点能接收该消息时返回 ErrProtocol 类错误。
func (s *Session) Publish(ctx context.Context, topic string, data []byte) (types.MessageID, error) {
	var id types.MessageID
	err := s.exec(ctx, "publish", func() error {
		var err error
		id, err = s.gossip.Publish(ctx, topic, data)
		return err
	})
	return id, err
}

// TopicHash 计算主题哈希，不获取 Session 锁
func (s *Session) TopicHash(topic string) (types.TopicHash, error) {
	if s.closed.Load() {
		return "", ErrInstanceNotFound
	}
	return s.gossip.TopicHash(topic), nil
}

// ValidateMessage 裁决 GossipMessage
//
// propagationSource 取 GossipMessage.PropagationSource。(msgID, propagationSource)
// 未知或已裁决时返回 ErrChannelMisuse 类错误。
func (s *Session) ValidateMessage(ctx context.Context, msgID types.MessageID, propagationSource peer.ID, acceptance types.MessageAcceptance) error {
	return s.exec(ctx, "validate_message", func() error {
		return s.gossip.Validate(msgID, propagationSource, acceptance)
	})
}

// PendingValidations 等待裁决的消息数，不获取 Session 锁
func (s *Session) PendingValidations() (int, error) {
	if s.closed.Load() {
		return 0, ErrInstanceNotFound
	}
	return s.gossip.PendingValidations(), nil
}

// PubSubAddPeer 添加 gossip 直连节点
//
// 节点受连接管理器保护并在后台拨号；addr 可为空，非空时写入地址簿。
func (s *Session) PubSubAddPeer(ctx context.Context, peerID, addr string) error {
	p, err := types.ParsePeerID(peerID)
	if err != nil {
		s.metrics.Command("pubsub_add_peer", err)
		return err
	}
	var a ma.Multiaddr
	if addr != "" {
		if a, err = types.ParseMultiaddr(addr); err != nil {
			s.metrics.Command("pubsub_add_peer", err)
			return err
		}
	}
	return s.exec(ctx, "pubsub_add_peer", func() error {
		return s.gossip.AddPeer(p, a)
	})
}

// PubSubRemovePeer 移除 gossip 直连节点，返回节点是否存在
func (s *Session) PubSubRemovePeer(ctx context.Context, peerID string) (bool, error) {
	p, err := types.ParsePeerID(peerID)
	if err != nil {
		s.metrics.Command("pubsub_remove_peer", err)
		return false, err
	}
	var removed bool
	err = s.exec(ctx, "pubsub_remove_peer", func() error {
		var err error
		removed, err = s.gossip.RemovePeer(p)
		return err
	})
	return removed, err
}
