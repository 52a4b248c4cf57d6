package rendezvous

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolID rendezvous 协议 ID
const ProtocolID = protocol.ID("/rendezvous/1.0.0")

const (
	// MaxNamespaceLength 命名空间最大字节数
	MaxNamespaceLength = 255

	// maxMessageSize 单条消息上限
	maxMessageSize = 1 << 20
)

// MessageType 消息类型
type MessageType int32

const (
	MessageRegister         MessageType = 0
	MessageRegisterResponse MessageType = 1
	MessageUnregister       MessageType = 2
	MessageDiscover         MessageType = 3
	MessageDiscoverResponse MessageType = 4
)

// Status 响应状态码
type Status int32

const (
	StatusOK                        Status = 0
	StatusInvalidNamespace          Status = 100
	StatusInvalidSignedPeerRecord   Status = 101
	StatusInvalidTTL                Status = 102
	StatusInvalidCookie             Status = 103
	StatusNotAuthorized             Status = 200
	StatusInternalError             Status = 300
	StatusUnavailable               Status = 400
)

// String 返回状态名
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidNamespace:
		return "E_INVALID_NAMESPACE"
	case StatusInvalidSignedPeerRecord:
		return "E_INVALID_SIGNED_PEER_RECORD"
	case StatusInvalidTTL:
		return "E_INVALID_TTL"
	case StatusInvalidCookie:
		return "E_INVALID_COOKIE"
	case StatusNotAuthorized:
		return "E_NOT_AUTHORIZED"
	case StatusInternalError:
		return "E_INTERNAL_ERROR"
	case StatusUnavailable:
		return "E_UNAVAILABLE"
	default:
		return fmt.Sprintf("E_UNKNOWN(%d)", int32(s))
	}
}

// ============================================================================
//                              消息结构
// ============================================================================

type message struct {
	Type             MessageType
	Register         *registerMsg
	RegisterResponse *registerResponseMsg
	Unregister       *unregisterMsg
	Discover         *discoverMsg
	DiscoverResponse *discoverResponseMsg
}

type registerMsg struct {
	Ns               string
	SignedPeerRecord []byte
	TTL              uint64
}

type registerResponseMsg struct {
	Status     Status
	StatusText string
	TTL        uint64
}

type unregisterMsg struct {
	Ns string
}

type discoverMsg struct {
	Ns     string
	Limit  uint64
	Cookie []byte
}

type discoverResponseMsg struct {
	Registrations []registerMsg
	Cookie        []byte
	Status        Status
	StatusText    string
}

// ============================================================================
//                              编码
// ============================================================================

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func (m *registerMsg) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Ns)
	b = appendBytes(b, 2, m.SignedPeerRecord)
	if m.TTL != 0 {
		b = appendVarint(b, 3, m.TTL)
	}
	return b
}

func (m *registerResponseMsg) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Status))
	b = appendString(b, 2, m.StatusText)
	if m.TTL != 0 {
		b = appendVarint(b, 3, m.TTL)
	}
	return b
}

func (m *unregisterMsg) marshal() []byte {
	return appendString(nil, 1, m.Ns)
}

func (m *discoverMsg) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Ns)
	if m.Limit != 0 {
		b = appendVarint(b, 2, m.Limit)
	}
	return appendBytes(b, 3, m.Cookie)
}

func (m *discoverResponseMsg) marshal() []byte {
	var b []byte
	for i := range m.Registrations {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Registrations[i].marshal())
	}
	b = appendBytes(b, 2, m.Cookie)
	b = appendVarint(b, 3, uint64(m.Status))
	return appendString(b, 4, m.StatusText)
}

func (m *message) marshal() []byte {
	b := appendVarint(nil, 1, uint64(m.Type))
	embed := func(num protowire.Number, v []byte) {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}
	switch {
	case m.Register != nil:
		embed(2, m.Register.marshal())
	case m.RegisterResponse != nil:
		embed(3, m.RegisterResponse.marshal())
	case m.Unregister != nil:
		embed(4, m.Unregister.marshal())
	case m.Discover != nil:
		embed(5, m.Discover.marshal())
	case m.DiscoverResponse != nil:
		embed(6, m.DiscoverResponse.marshal())
	}
	return b
}

// ============================================================================
//                              解码
// ============================================================================

// fieldFunc 处理一个字段，返回消费的字节数；返回 -1 表示未知字段
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func decodeFields(b []byte, f fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]

		used, err := f(num, typ, b)
		if err != nil {
			return err
		}
		if used < 0 {
			used = protowire.ConsumeFieldValue(num, typ, b)
			if used < 0 {
				return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(used))
			}
		}
		b = b[used:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: expected varint", ErrMalformedMessage)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: expected bytes", ErrMalformedMessage)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
	}
	return append([]byte(nil), v...), n, nil
}

func unmarshalRegister(b []byte) (*registerMsg, error) {
	m := &registerMsg{}
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			m.Ns = string(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			m.SignedPeerRecord = v
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, b)
			m.TTL = v
			return n, err
		}
		return -1, nil
	})
	return m, err
}

func unmarshalRegisterResponse(b []byte) (*registerResponseMsg, error) {
	m := &registerResponseMsg{}
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			m.Status = Status(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			m.StatusText = string(v)
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, b)
			m.TTL = v
			return n, err
		}
		return -1, nil
	})
	return m, err
}

func unmarshalUnregister(b []byte) (*unregisterMsg, error) {
	m := &unregisterMsg{}
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, b)
			m.Ns = string(v)
			return n, err
		}
		return -1, nil
	})
	return m, err
}

func unmarshalDiscover(b []byte) (*discoverMsg, error) {
	m := &discoverMsg{}
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			m.Ns = string(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(typ, b)
			m.Limit = v
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			m.Cookie = v
			return n, err
		}
		return -1, nil
	})
	return m, err
}

func unmarshalDiscoverResponse(b []byte) (*discoverResponseMsg, error) {
	m := &discoverResponseMsg{}
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			reg, err := unmarshalRegister(v)
			if err != nil {
				return 0, err
			}
			m.Registrations = append(m.Registrations, *reg)
			return n, nil
		case 2:
			v, n, err := consumeBytes(typ, b)
			m.Cookie = v
			return n, err
		case 3:
			v, n, err := consumeVarint(typ, b)
			m.Status = Status(v)
			return n, err
		case 4:
			v, n, err := consumeBytes(typ, b)
			m.StatusText = string(v)
			return n, err
		}
		return -1, nil
	})
	return m, err
}

func unmarshalMessage(b []byte) (*message, error) {
	m := &message{}
	typeSet := false
	err := decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeVarint(typ, b)
			m.Type = MessageType(v)
			typeSet = true
			return n, err
		}
		if num < 2 || num > 6 {
			return -1, nil
		}
		v, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		switch num {
		case 2:
			m.Register, err = unmarshalRegister(v)
		case 3:
			m.RegisterResponse, err = unmarshalRegisterResponse(v)
		case 4:
			m.Unregister, err = unmarshalUnregister(v)
		case 5:
			m.Discover, err = unmarshalDiscover(v)
		case 6:
			m.DiscoverResponse, err = unmarshalDiscoverResponse(v)
		}
		return n, err
	})
	if err != nil {
		return nil, err
	}
	if !typeSet {
		return nil, fmt.Errorf("%w: missing message type", ErrMalformedMessage)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return m, nil
}

// check 消息类型与载荷一致
func (m *message) check() error {
	var ok bool
	switch m.Type {
	case MessageRegister:
		ok = m.Register != nil
	case MessageRegisterResponse:
		ok = m.RegisterResponse != nil
	case MessageUnregister:
		ok = m.Unregister != nil
	case MessageDiscover:
		ok = m.Discover != nil
	case MessageDiscoverResponse:
		ok = m.DiscoverResponse != nil
	}
	if !ok {
		return fmt.Errorf("%w: type %d without matching payload", ErrMalformedMessage, m.Type)
	}
	return nil
}
