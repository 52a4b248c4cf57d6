// Package reqresp 实现一问一答的请求/响应协议
//
// 每个请求独占一条流：请求方写入一帧后关闭写端，应答方写回一帧。
// 帧为 uvarint 长度前缀。入站请求以 Request 事件交给应用，
// 应用通过 ResponseChannel 应答或放弃，超时未应答按入站失败上报。
package reqresp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	msmux "github.com/multiformats/go-multistream"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/internal/util/frame"
	"github.com/dep2p/go-overlay/internal/util/logger"
	"github.com/dep2p/go-overlay/pkg/types"
)

var log = logger.Logger("reqresp")

// Name 行为名
const Name = "reqresp"

// Event 请求/响应事件
type Event interface {
	reqrespEvent()
}

// Request 收到入站请求
type Request struct {
	RequestID types.RequestID
	Peer      peer.ID
	Data      []byte
	Channel   *ResponseChannel
}

// Response 收到出站请求的响应
type Response struct {
	RequestID types.RequestID
	Peer      peer.ID
	Data      []byte
}

// OutboundFailure 出站请求失败
type OutboundFailure struct {
	RequestID types.RequestID
	Peer      peer.ID
	Err       error
}

// InboundFailure 入站请求未能应答
type InboundFailure struct {
	RequestID types.RequestID
	Peer      peer.ID
	Err       error
}

// ResponseSent 应答已写出
type ResponseSent struct {
	RequestID types.RequestID
	Peer      peer.ID
}

func (Request) reqrespEvent()         {}
func (Response) reqrespEvent()        {}
func (OutboundFailure) reqrespEvent() {}
func (InboundFailure) reqrespEvent()  {}
func (ResponseSent) reqrespEvent()    {}

// Behaviour 请求/响应行为
type Behaviour struct {
	cfg      config.RequestConfig
	protocol protocol.ID
	emit     func(Event)
	clock    clock.Clock

	inbound *semaphore.Weighted
	host    host.Host

	// closeMu 串行化 Close 与入站处理的 wg.Add
	closeMu sync.Mutex
	closing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建请求/响应行为
func New(cfg config.RequestConfig, emit func(Event), clk clock.Clock) *Behaviour {
	if emit == nil {
		emit = func(Event) {}
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Behaviour{
		cfg:      cfg,
		protocol: protocol.ID(cfg.Protocol),
		emit:     emit,
		clock:    clk,
		inbound:  semaphore.NewWeighted(int64(cfg.MaxConcurrentInbound)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Name 行为名
func (b *Behaviour) Name() string { return Name }

// Protocol 协议 ID
func (b *Behaviour) Protocol() protocol.ID { return b.protocol }

// Start 注册流处理器
func (b *Behaviour) Start(h host.Host) error {
	b.host = h
	h.SetStreamHandler(b.protocol, b.handleStream)
	return nil
}

// Close 移除流处理器并等待进行中的请求结束
func (b *Behaviour) Close() error {
	if b.host != nil {
		b.host.RemoveStreamHandler(b.protocol)
	}
	b.closeMu.Lock()
	b.closing = true
	b.closeMu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

// track 登记一个后台任务，关闭后返回 false
func (b *Behaviour) track() bool {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closing {
		return false
	}
	b.wg.Add(1)
	return true
}

// ============================================================================
//                              出站
// ============================================================================

// SendRequest 向 p 发送请求，结果以 Response 或 OutboundFailure 上报
func (b *Behaviour) SendRequest(p peer.ID, data []byte) (types.RequestID, error) {
	if len(data) > b.cfg.MaxRequestSize {
		return "", fmt.Errorf("%w: request %d > %d", ErrTooLarge, len(data), b.cfg.MaxRequestSize)
	}
	if b.host == nil || !b.track() {
		return "", ErrNotStarted
	}

	id := types.RequestID(uuid.NewString())
	go func() {
		defer b.wg.Done()
		resp, err := b.roundTrip(p, data)
		if err != nil {
			log.Debug("请求失败", "id", id, "peer", p, "err", err)
			b.emit(OutboundFailure{RequestID: id, Peer: p, Err: err})
			return
		}
		b.emit(Response{RequestID: id, Peer: p, Data: resp})
	}()
	return id, nil
}

func (b *Behaviour) roundTrip(p peer.ID, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.Timeout.Duration())
	defer cancel()

	st, err := b.host.NewStream(ctx, p, b.protocol)
	if err != nil {
		return nil, classify(ctx, err, ErrDialFailure)
	}
	defer func() { _ = st.Close() }()

	deadline, _ := ctx.Deadline()
	_ = st.SetDeadline(deadline)

	if err := frame.Write(st, data); err != nil {
		_ = st.Reset()
		return nil, classify(ctx, err, ErrConnectionClosed)
	}
	if err := st.CloseWrite(); err != nil {
		_ = st.Reset()
		return nil, classify(ctx, err, ErrConnectionClosed)
	}

	resp, err := frame.ReadOne(st, b.cfg.MaxResponseSize)
	if err != nil {
		_ = st.Reset()
		return nil, classify(ctx, err, ErrConnectionClosed)
	}
	return resp, nil
}

// classify 将底层错误归类，fallback 为无法细分时的类别
func classify(ctx context.Context, err error, fallback error) error {
	var notSupported msmux.ErrNotSupported[protocol.ID]
	switch {
	case errors.As(err, &notSupported):
		return fmt.Errorf("%w: %v", ErrUnsupportedProtocols, err)
	case errors.Is(err, frame.ErrTooLarge):
		return fmt.Errorf("%w: %v", ErrTooLarge, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return fmt.Errorf("%w: %v", fallback, err)
}

// ============================================================================
//                              入站
// ============================================================================

func (b *Behaviour) handleStream(st network.Stream) {
	remote := st.Conn().RemotePeer()
	id := types.RequestID(uuid.NewString())

	if !b.track() {
		_ = st.Reset()
		return
	}
	if !b.inbound.TryAcquire(1) {
		b.wg.Done()
		_ = st.Reset()
		b.emit(InboundFailure{RequestID: id, Peer: remote, Err: ErrTooManyInbound})
		return
	}
	defer func() {
		b.inbound.Release(1)
		b.wg.Done()
	}()

	_ = st.SetReadDeadline(time.Now().Add(b.cfg.Timeout.Duration()))
	data, err := frame.ReadOne(st, b.cfg.MaxRequestSize)
	if err != nil {
		_ = st.Reset()
		b.emit(InboundFailure{RequestID: id, Peer: remote, Err: classify(b.ctx, err, ErrConnectionClosed)})
		return
	}

	ch := newResponseChannel(id, remote)
	b.emit(Request{RequestID: id, Peer: remote, Data: data, Channel: ch})

	timer := b.clock.Timer(b.cfg.Timeout.Duration())
	defer timer.Stop()

	var r reply
	select {
	case r = <-ch.reply:
	case <-timer.C:
		if !ch.consume() {
			// 应答与超时同时发生，应答优先
			r = <-ch.reply
			break
		}
		_ = st.Reset()
		b.emit(InboundFailure{RequestID: id, Peer: remote, Err: ErrTimeout})
		return
	case <-b.ctx.Done():
		if !ch.consume() {
			r = <-ch.reply
			break
		}
		_ = st.Reset()
		b.emit(InboundFailure{RequestID: id, Peer: remote, Err: ErrConnectionClosed})
		return
	}

	if r.discard {
		_ = st.Reset()
		b.emit(InboundFailure{RequestID: id, Peer: remote, Err: ErrResponseOmission})
		return
	}

	_ = st.SetWriteDeadline(time.Now().Add(b.cfg.Timeout.Duration()))
	if err := frame.Write(st, r.data); err != nil {
		_ = st.Reset()
		b.emit(InboundFailure{RequestID: id, Peer: remote, Err: classify(b.ctx, err, ErrConnectionClosed)})
		return
	}
	_ = st.Close()
	b.emit(ResponseSent{RequestID: id, Peer: remote})
}

// SendResponse 应答入站请求
func (b *Behaviour) SendResponse(ch *ResponseChannel, data []byte) error {
	if len(data) > b.cfg.MaxResponseSize {
		return fmt.Errorf("%w: response %d > %d", ErrTooLarge, len(data), b.cfg.MaxResponseSize)
	}
	if ch == nil {
		return ErrNilChannel
	}
	if !ch.consume() {
		return fmt.Errorf("%w: request %s", ErrChannelConsumed, ch.id)
	}
	ch.reply <- reply{data: data}
	return nil
}

// DiscardResponse 放弃应答，请求方将收到失败
func (b *Behaviour) DiscardResponse(ch *ResponseChannel) error {
	if ch == nil {
		return ErrNilChannel
	}
	if !ch.consume() {
		return fmt.Errorf("%w: request %s", ErrChannelConsumed, ch.id)
	}
	ch.reply <- reply{discard: true}
	return nil
}
