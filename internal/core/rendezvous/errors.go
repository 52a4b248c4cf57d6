package rendezvous

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedMessage 消息无法解码
	ErrMalformedMessage = errors.New("rendezvous: malformed message")

	// ErrInvalidNamespace 命名空间为空或超长
	ErrInvalidNamespace = errors.New("rendezvous: invalid namespace")

	// ErrInvalidTTL TTL 不在允许范围内
	ErrInvalidTTL = errors.New("rendezvous: invalid ttl")

	// ErrNoExternalAddrs 没有可通告的外部地址
	ErrNoExternalAddrs = errors.New("rendezvous: no external addresses")

	// ErrUnexpectedResponse 响应类型不匹配
	ErrUnexpectedResponse = errors.New("rendezvous: unexpected response")

	// ErrClosed 行为已关闭
	ErrClosed = errors.New("rendezvous: closed")
)

// StatusError 服务端返回的非 OK 状态
type StatusError struct {
	Status Status
	Text   string
}

// Error 实现 error 接口
func (e *StatusError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("rendezvous: %s", e.Status)
	}
	return fmt.Sprintf("rendezvous: %s: %s", e.Status, e.Text)
}

// statusError 将错误映射为协议状态
func statusError(status Status, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Text: fmt.Sprintf(format, args...)}
}
