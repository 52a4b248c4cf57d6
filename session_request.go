package overlay

import (
	"context"

	"github.com/dep2p/go-overlay/pkg/types"
)

// SendRequest 向节点发送请求
//
// 立即返回请求 ID，结果以 ResponseMessage 或 OutboundFailure 上报。
func (s *Session) SendRequest(ctx context.Context, peerID string, data []byte) (types.RequestID, error) {
	p, err := types.ParsePeerID(peerID)
	if err != nil {
		s.metrics.Command("send_request", err)
		return "", err
	}
	var id types.RequestID
	err = s.exec(ctx, "send_request", func() error {
		var err error
		id, err = s.reqresp.SendRequest(p, data)
		return err
	})
	return id, err
}

// SendResponse 通过通道应答入站请求；通道已使用时返回 ErrChannelMisuse 类错误
func (s *Session) SendResponse(ctx context.Context, ch *ResponseChannel, data []byte) error {
	return s.exec(ctx, "send_response", func() error {
		return s.reqresp.SendResponse(ch, data)
	})
}

// DiscardResponse 放弃应答，请求方将收到 OutboundFailure
func (s *Session) DiscardResponse(ctx context.Context, ch *ResponseChannel) error {
	return s.exec(ctx, "discard_response", func() error {
		return s.reqresp.DiscardResponse(ch)
	})
}
