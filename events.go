package overlay

import (
	"net"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/internal/core/rendezvous"
	"github.com/dep2p/go-overlay/internal/core/reqresp"
	"github.com/dep2p/go-overlay/pkg/types"
)

// Event 交给观察者的应用事件
//
// 事件集合是封闭的，应用以 type switch 区分。
type Event interface {
	// EventName 事件名，用作指标标签
	EventName() string

	overlayEvent()
}

// Observer 事件观察者，由事件循环同步、顺序调用
type Observer func(Event)

// ResponseChannel 入站请求的应答通道，只能使用一次
type ResponseChannel = reqresp.ResponseChannel

// Registration 会合点注册
type Registration = rendezvous.Registration

// RendezvousStatus 会合点协议状态码
type RendezvousStatus = rendezvous.Status

// Endpoint 连接两端的地址
type Endpoint struct {
	Direction  network.Direction
	LocalAddr  ma.Multiaddr
	RemoteAddr ma.Multiaddr

	// ListenerID 入站连接所属的监听器，出站或无法归属时为 0
	ListenerID types.ListenerID
}

// IsDialer 本节点是否为拨号方
func (e Endpoint) IsDialer() bool { return e.Direction == network.DirOutbound }

// ════════════════════════════════════════════════════════════════════════════
//                              连接生命周期
// ════════════════════════════════════════════════════════════════════════════

// IncomingConnection 观察到新的入站连接，尚未完成握手
type IncomingConnection struct {
	ConnectionID types.ConnectionID
	LocalAddr    ma.Multiaddr
	SendBackAddr ma.Multiaddr
}

// IncomingConnectionError 入站连接建立失败
type IncomingConnectionError struct {
	ConnectionID types.ConnectionID
	LocalAddr    ma.Multiaddr
	SendBackAddr ma.Multiaddr
	Error        error
}

// ConnectionEstablished 连接建立
type ConnectionEstablished struct {
	PeerID         peer.ID
	ConnectionID   types.ConnectionID
	Endpoint       Endpoint
	NumEstablished int

	// EstablishedIn 从发起拨号或观察到入站到连接建立的耗时
	EstablishedIn time.Duration
}

// ConnectionClosed 连接关闭
type ConnectionClosed struct {
	PeerID       peer.ID
	ConnectionID types.ConnectionID
	Endpoint     Endpoint

	// NumEstablished 到该节点剩余的连接数
	NumEstablished int

	// Cause 本地关闭时为 ErrClosedLocally，远端关闭时为 nil
	Cause error
}

// OutgoingConnectionError 出站拨号失败
type OutgoingConnectionError struct {
	ConnectionID types.ConnectionID
	PeerID       peer.ID
	Error        error
}

// Dialing 开始拨号
type Dialing struct {
	PeerID       peer.ID
	ConnectionID types.ConnectionID
}

// ════════════════════════════════════════════════════════════════════════════
//                              监听器生命周期
// ════════════════════════════════════════════════════════════════════════════

// NewListenAddr 监听器开始监听地址
type NewListenAddr struct {
	ListenerID types.ListenerID
	Address    ma.Multiaddr
}

// ExpiredListenAddr 监听器停止监听地址
type ExpiredListenAddr struct {
	ListenerID types.ListenerID
	Address    ma.Multiaddr
}

// ListenerClosed 监听器关闭
type ListenerClosed struct {
	ListenerID types.ListenerID
	Addresses  []ma.Multiaddr

	// Reason 由 StopListening 关闭时为 nil
	Reason error
}

// ListenerError 监听器出错
type ListenerError struct {
	ListenerID types.ListenerID
	Error      error
}

// ════════════════════════════════════════════════════════════════════════════
//                              外部地址
// ════════════════════════════════════════════════════════════════════════════

// NewExternalAddrCandidate 对端观察到的本节点地址，尚未确认
type NewExternalAddrCandidate struct {
	Address ma.Multiaddr
}

// ExternalAddrConfirmed 外部地址已确认
type ExternalAddrConfirmed struct {
	Address ma.Multiaddr
}

// ExternalAddrExpired 外部地址失效
type ExternalAddrExpired struct {
	Address ma.Multiaddr
}

// NewExternalAddrOfPeer 获知其他节点的外部地址
type NewExternalAddrOfPeer struct {
	PeerID  peer.ID
	Address ma.Multiaddr
}

// ════════════════════════════════════════════════════════════════════════════
//                              NAT 与端口映射
// ════════════════════════════════════════════════════════════════════════════

// NatStatusChanged NAT 状态变化
type NatStatusChanged struct {
	Old types.NatStatus
	New types.NatStatus
}

// UpnpNewExternalAddr 网关映射得到新的外部地址
type UpnpNewExternalAddr struct {
	Address ma.Multiaddr
}

// UpnpExpiredExternalAddr 网关映射失效
type UpnpExpiredExternalAddr struct {
	Address ma.Multiaddr
}

// UpnpGatewayNotFound 未找到 UPnP / NAT-PMP 网关
type UpnpGatewayNotFound struct{}

// UpnpNonRoutableGateway 网关外部地址不是公网地址
type UpnpNonRoutableGateway struct {
	ExternalIP net.IP
}

// ════════════════════════════════════════════════════════════════════════════
//                              identify
// ════════════════════════════════════════════════════════════════════════════

// IdentifyReceived 收到对端身份信息
type IdentifyReceived struct {
	PeerID          peer.ID
	PublicKey       crypto.PubKey
	ProtocolVersion string
	AgentVersion    string
	ListenAddrs     []ma.Multiaddr
	Protocols       []protocol.ID
	ObservedAddr    ma.Multiaddr
}

// ════════════════════════════════════════════════════════════════════════════
//                              rendezvous
// ════════════════════════════════════════════════════════════════════════════

// RendezvousDiscovered 发现结果
//
// Cookie 可传回 RendezvousDiscover 继续获取之后的新注册。
type RendezvousDiscovered struct {
	RendezvousNode peer.ID
	Registrations  []Registration
	Cookie         types.Cookie
}

// RendezvousDiscoverFailed 发现失败
type RendezvousDiscoverFailed struct {
	RendezvousNode peer.ID
	Namespace      string
	Error          error
}

// RendezvousRegistered 注册成功
type RendezvousRegistered struct {
	RendezvousNode peer.ID
	Namespace      string
	TTL            time.Duration
}

// RendezvousRegisterFailed 注册失败
type RendezvousRegisterFailed struct {
	RendezvousNode peer.ID
	Namespace      string
	Error          error
}

// RendezvousExpired 发现到的节点地址过期
type RendezvousExpired struct {
	PeerID peer.ID
}

// RendezvousPeerRegistered 服务端接受注册
type RendezvousPeerRegistered struct {
	PeerID       peer.ID
	Registration Registration
}

// RendezvousPeerNotRegistered 服务端拒绝注册
type RendezvousPeerNotRegistered struct {
	PeerID    peer.ID
	Namespace string
	Status    RendezvousStatus
}

// RendezvousPeerUnregistered 节点在服务端注销
type RendezvousPeerUnregistered struct {
	PeerID    peer.ID
	Namespace string
}

// RendezvousRegistrationExpired 服务端注册过期
type RendezvousRegistrationExpired struct {
	Registration Registration
}

// RendezvousDiscoverServed 服务端应答发现请求
type RendezvousDiscoverServed struct {
	Enquirer      peer.ID
	Registrations []Registration
}

// RendezvousDiscoverNotServed 服务端拒绝发现请求
type RendezvousDiscoverNotServed struct {
	Enquirer peer.ID
	Status   RendezvousStatus
}

// ════════════════════════════════════════════════════════════════════════════
//                              gossip
// ════════════════════════════════════════════════════════════════════════════

// GossipMessage 待验证的远端消息，需调用 ValidateMessage 裁决
type GossipMessage struct {
	PropagationSource peer.ID
	MessageID         types.MessageID
	Data              []byte
	Source            peer.ID
	Topic             types.TopicHash
}

// GossipSubscribed 远端节点订阅了主题
type GossipSubscribed struct {
	PeerID peer.ID
	Topic  types.TopicHash
}

// GossipUnsubscribed 远端节点退订了主题
type GossipUnsubscribed struct {
	PeerID peer.ID
	Topic  types.TopicHash
}

// GossipNotSupported 对端不支持 gossip
type GossipNotSupported struct {
	PeerID peer.ID
}

// ════════════════════════════════════════════════════════════════════════════
//                              请求/响应
// ════════════════════════════════════════════════════════════════════════════

// RequestMessage 收到入站请求，需通过 Channel 应答或放弃
type RequestMessage struct {
	RequestID types.RequestID
	PeerID    peer.ID
	Data      []byte
	Channel   *ResponseChannel
}

// ResponseMessage 收到出站请求的响应
type ResponseMessage struct {
	RequestID types.RequestID
	PeerID    peer.ID
	Data      []byte
}

// OutboundFailure 出站请求失败
type OutboundFailure struct {
	RequestID types.RequestID
	PeerID    peer.ID
	Error     error
}

// InboundFailure 入站请求未能应答
type InboundFailure struct {
	RequestID types.RequestID
	PeerID    peer.ID
	Error     error
}

// ResponseSent 应答已写出
type ResponseSent struct {
	RequestID types.RequestID
	PeerID    peer.ID
}

// ────────────────────────────────────────────────────────────────────────────
// 事件名
// ────────────────────────────────────────────────────────────────────────────

func (IncomingConnection) EventName() string            { return "incoming_connection" }
func (IncomingConnectionError) EventName() string       { return "incoming_connection_error" }
func (ConnectionEstablished) EventName() string         { return "connection_established" }
func (ConnectionClosed) EventName() string              { return "connection_closed" }
func (OutgoingConnectionError) EventName() string       { return "outgoing_connection_error" }
func (Dialing) EventName() string                       { return "dialing" }
func (NewListenAddr) EventName() string                 { return "new_listen_addr" }
func (ExpiredListenAddr) EventName() string             { return "expired_listen_addr" }
func (ListenerClosed) EventName() string                { return "listener_closed" }
func (ListenerError) EventName() string                 { return "listener_error" }
func (NewExternalAddrCandidate) EventName() string      { return "new_external_addr_candidate" }
func (ExternalAddrConfirmed) EventName() string         { return "external_addr_confirmed" }
func (ExternalAddrExpired) EventName() string           { return "external_addr_expired" }
func (NewExternalAddrOfPeer) EventName() string         { return "new_external_addr_of_peer" }
func (NatStatusChanged) EventName() string              { return "nat_status_changed" }
func (UpnpNewExternalAddr) EventName() string           { return "upnp_new_external_addr" }
func (UpnpExpiredExternalAddr) EventName() string       { return "upnp_expired_external_addr" }
func (UpnpGatewayNotFound) EventName() string           { return "upnp_gateway_not_found" }
func (UpnpNonRoutableGateway) EventName() string        { return "upnp_non_routable_gateway" }
func (IdentifyReceived) EventName() string              { return "identify_received" }
func (RendezvousDiscovered) EventName() string          { return "rendezvous_discovered" }
func (RendezvousDiscoverFailed) EventName() string      { return "rendezvous_discover_failed" }
func (RendezvousRegistered) EventName() string          { return "rendezvous_registered" }
func (RendezvousRegisterFailed) EventName() string      { return "rendezvous_register_failed" }
func (RendezvousExpired) EventName() string             { return "rendezvous_expired" }
func (RendezvousPeerRegistered) EventName() string      { return "rendezvous_peer_registered" }
func (RendezvousPeerNotRegistered) EventName() string   { return "rendezvous_peer_not_registered" }
func (RendezvousPeerUnregistered) EventName() string    { return "rendezvous_peer_unregistered" }
func (RendezvousRegistrationExpired) EventName() string { return "rendezvous_registration_expired" }
func (RendezvousDiscoverServed) EventName() string      { return "rendezvous_discover_served" }
func (RendezvousDiscoverNotServed) EventName() string   { return "rendezvous_discover_not_served" }
func (GossipMessage) EventName() string                 { return "gossip_message" }
func (GossipSubscribed) EventName() string              { return "gossip_subscribed" }
func (GossipUnsubscribed) EventName() string            { return "gossip_unsubscribed" }
func (GossipNotSupported) EventName() string            { return "gossip_not_supported" }
func (RequestMessage) EventName() string                { return "request_message" }
func (ResponseMessage) EventName() string               { return "response_message" }
func (OutboundFailure) EventName() string               { return "outbound_failure" }
func (InboundFailure) EventName() string                { return "inbound_failure" }
func (ResponseSent) EventName() string                  { return "response_sent" }

func (IncomingConnection) overlayEvent()            {}
func (IncomingConnectionError) overlayEvent()       {}
func (ConnectionEstablished) overlayEvent()         {}
func (ConnectionClosed) overlayEvent()              {}
func (OutgoingConnectionError) overlayEvent()       {}
func (Dialing) overlayEvent()                       {}
func (NewListenAddr) overlayEvent()                 {}
func (ExpiredListenAddr) overlayEvent()             {}
func (ListenerClosed) overlayEvent()                {}
func (ListenerError) overlayEvent()                 {}
func (NewExternalAddrCandidate) overlayEvent()      {}
func (ExternalAddrConfirmed) overlayEvent()         {}
func (ExternalAddrExpired) overlayEvent()           {}
func (NewExternalAddrOfPeer) overlayEvent()         {}
func (NatStatusChanged) overlayEvent()              {}
func (UpnpNewExternalAddr) overlayEvent()           {}
func (UpnpExpiredExternalAddr) overlayEvent()       {}
func (UpnpGatewayNotFound) overlayEvent()           {}
func (UpnpNonRoutableGateway) overlayEvent()        {}
func (IdentifyReceived) overlayEvent()              {}
func (RendezvousDiscovered) overlayEvent()          {}
func (RendezvousDiscoverFailed) overlayEvent()      {}
func (RendezvousRegistered) overlayEvent()          {}
func (RendezvousRegisterFailed) overlayEvent()      {}
func (RendezvousExpired) overlayEvent()             {}
func (RendezvousPeerRegistered) overlayEvent()      {}
func (RendezvousPeerNotRegistered) overlayEvent()   {}
func (RendezvousPeerUnregistered) overlayEvent()    {}
func (RendezvousRegistrationExpired) overlayEvent() {}
func (RendezvousDiscoverServed) overlayEvent()      {}
func (RendezvousDiscoverNotServed) overlayEvent()   {}
func (GossipMessage) overlayEvent()                 {}
func (GossipSubscribed) overlayEvent()              {}
func (GossipUnsubscribed) overlayEvent()            {}
func (GossipNotSupported) overlayEvent()            {}
func (RequestMessage) overlayEvent()                {}
func (ResponseMessage) overlayEvent()               {}
func (OutboundFailure) overlayEvent()               {}
func (InboundFailure) overlayEvent()                {}
func (ResponseSent) overlayEvent()                  {}
