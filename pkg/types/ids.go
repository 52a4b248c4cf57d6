package types

import (
	"fmt"
	"strconv"

	"github.com/mr-tron/base58"
)

// ============================================================================
//                              句柄
// ============================================================================

// ConnectionID 连接句柄
//
// 由 Session 顺序签发，0 不会被签发。拨号时预分配，
// 之后该连接的所有事件都携带同一个 ID。
type ConnectionID uint64

// String 返回十进制表示
func (id ConnectionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ListenerID 监听器句柄
type ListenerID uint64

// String 返回十进制表示
func (id ListenerID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ============================================================================
//                              消息标识
// ============================================================================

// MessageID gossip 消息 ID
//
// 内部保存原始字节，string 底层类型保证可比较、可作 map 键。
type MessageID string

// MessageIDFromBytes 从原始字节创建 MessageID
func MessageIDFromBytes(b []byte) MessageID {
	return MessageID(b)
}

// Bytes 返回原始字节
func (id MessageID) Bytes() []byte {
	return []byte(id)
}

// String 返回 Base58 表示
func (id MessageID) String() string {
	return base58.Encode([]byte(id))
}

// ParseMessageID 解析 Base58 表示的 MessageID
func ParseMessageID(s string) (MessageID, error) {
	b, err := base58.Decode(s)
	if err != nil || len(b) == 0 {
		return "", fmt.Errorf("%w: malformed message id %q", ErrChannelMisuse, s)
	}
	return MessageID(b), nil
}

// RequestID 请求关联 ID（uuid 字符串）
type RequestID string

// String 实现 fmt.Stringer
func (id RequestID) String() string {
	return string(id)
}

// TopicHash 主题的规范标识
type TopicHash string

// String 实现 fmt.Stringer
func (h TopicHash) String() string {
	return string(h)
}
