package gossip

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-overlay/pkg/types"
)

var (
	// ErrUnknownMessage 没有该 (消息, 来源) 的待验证条目
	ErrUnknownMessage = fmt.Errorf("gossip: unknown pending message: %w", types.ErrChannelMisuse)

	// ErrAlreadyResolved 该条目已裁决或已过期
	ErrAlreadyResolved = fmt.Errorf("gossip: message already resolved: %w", types.ErrChannelMisuse)

	// ErrInvalidAcceptance 未知裁决
	ErrInvalidAcceptance = fmt.Errorf("gossip: invalid acceptance: %w", types.ErrChannelMisuse)

	// ErrInsufficientPeers 没有节点可以接收消息
	ErrInsufficientPeers = errors.New("gossip: insufficient peers")

	// ErrNotStarted 行为尚未启动或已关闭
	ErrNotStarted = errors.New("gossip: not started")

	// ErrEmptyTopic 主题为空
	ErrEmptyTopic = errors.New("gossip: empty topic")
)
