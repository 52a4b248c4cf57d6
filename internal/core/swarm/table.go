package swarm

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-overlay/pkg/types"
)

const (
	// incomingCacheSize 入站观察缓存容量
	incomingCacheSize = 1024

	// incomingTTL 入站观察保留时间，握手失败且未被拦截的条目由此回收
	incomingTTL = time.Minute
)

// PendingDial 进行中的出站拨号
type PendingDial struct {
	ID      types.ConnectionID
	Peer    peer.ID
	Addr    ma.Multiaddr
	Started time.Time
}

// Incoming 已观察到但尚未建立的入站连接
type Incoming struct {
	ID       types.ConnectionID
	Local    ma.Multiaddr
	Remote   ma.Multiaddr
	Observed time.Time
}

// Conn 已建立连接
type Conn struct {
	ID       types.ConnectionID
	Peer     peer.ID
	Conn     network.Conn
	Dir      network.Direction
	Listener types.ListenerID

	// Cause 本地主动关闭的原因，远端关闭时为 nil
	Cause error
}

// Listener 一个 Listen 调用产生的监听器
type Listener struct {
	ID        types.ListenerID
	Requested ma.Multiaddr
	Addrs     []ma.Multiaddr
}

func (l *Listener) has(addr ma.Multiaddr) bool {
	for _, a := range l.Addrs {
		if a.Equal(addr) {
			return true
		}
	}
	return false
}

func (l *Listener) remove(addr ma.Multiaddr) bool {
	for i, a := range l.Addrs {
		if a.Equal(addr) {
			l.Addrs = append(l.Addrs[:i], l.Addrs[i+1:]...)
			return true
		}
	}
	return false
}

// Table 连接与监听器句柄表
//
// 句柄由本表分配，单调递增，从 1 开始。
type Table struct {
	mu sync.Mutex

	nextConn     uint64
	nextListener uint64

	pending   map[peer.ID][]PendingDial
	incoming  *expirable.LRU[string, Incoming]
	conns     map[types.ConnectionID]*Conn
	byNetConn map[string]types.ConnectionID

	listeners map[types.ListenerID]*Listener
	// suppressed 本地关闭监听器后待忽略的关闭通知
	suppressed map[string]struct{}
}

// NewTable 创建句柄表
func NewTable() *Table {
	return &Table{
		pending:    make(map[peer.ID][]PendingDial),
		incoming:   expirable.NewLRU[string, Incoming](incomingCacheSize, nil, incomingTTL),
		conns:      make(map[types.ConnectionID]*Conn),
		byNetConn:  make(map[string]types.ConnectionID),
		listeners:  make(map[types.ListenerID]*Listener),
		suppressed: make(map[string]struct{}),
	}
}

// AllocConnID 分配连接句柄
func (t *Table) AllocConnID() types.ConnectionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextConn++
	return types.ConnectionID(t.nextConn)
}

// AllocListenerID 分配监听器句柄
func (t *Table) AllocListenerID() types.ListenerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextListener++
	return types.ListenerID(t.nextListener)
}

// ============================================================================
//                              出站拨号
// ============================================================================

// AddPendingDial 记录进行中的拨号
func (t *Table) AddPendingDial(d PendingDial) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[d.Peer] = append(t.pending[d.Peer], d)
}

// PendingDials 进行中的拨号数
func (t *Table) PendingDials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, ds := range t.pending {
		n += len(ds)
	}
	return n
}

// HasPendingDial 是否存在到该节点的拨号
func (t *Table) HasPendingDial(p peer.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[p]) > 0
}

// TakePendingDial 取出到该节点最早的拨号
func (t *Table) TakePendingDial(p peer.ID) (PendingDial, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ds := t.pending[p]
	if len(ds) == 0 {
		return PendingDial{}, false
	}
	d := ds[0]
	t.setPending(p, ds[1:])
	return d, true
}

// RemovePendingDial 移除指定拨号；已被连接认领时返回 false
func (t *Table) RemovePendingDial(p peer.ID, id types.ConnectionID) (PendingDial, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ds := t.pending[p]
	for i, d := range ds {
		if d.ID == id {
			t.setPending(p, append(ds[:i:i], ds[i+1:]...))
			return d, true
		}
	}
	return PendingDial{}, false
}

func (t *Table) setPending(p peer.ID, ds []PendingDial) {
	if len(ds) == 0 {
		delete(t.pending, p)
		return
	}
	t.pending[p] = ds
}

// ============================================================================
//                              入站观察
// ============================================================================

func incomingKey(local, remote ma.Multiaddr) string {
	var l, r string
	if local != nil {
		l = local.String()
	}
	if remote != nil {
		r = remote.String()
	}
	return l + "|" + r
}

// ObserveIncoming 为新入站连接分配句柄
func (t *Table) ObserveIncoming(local, remote ma.Multiaddr, at time.Time) Incoming {
	in := Incoming{
		ID:       t.AllocConnID(),
		Local:    local,
		Remote:   remote,
		Observed: at,
	}
	t.incoming.Add(incomingKey(local, remote), in)
	return in
}

// TakeIncoming 取出入站观察
func (t *Table) TakeIncoming(local, remote ma.Multiaddr) (Incoming, bool) {
	key := incomingKey(local, remote)
	in, ok := t.incoming.Peek(key)
	if ok {
		t.incoming.Remove(key)
	}
	return in, ok
}

// ============================================================================
//                              已建立连接
// ============================================================================

// AddConn 记录已建立连接
func (t *Table) AddConn(c *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.ID] = c
	t.byNetConn[c.Conn.ID()] = c.ID
}

// ConnByID 按句柄查找
func (t *Table) ConnByID(id types.ConnectionID) (*Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[id]
	return c, ok
}

// ConnByNetConn 按 libp2p 连接查找
func (t *Table) ConnByNetConn(nc network.Conn) (*Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byNetConn[nc.ID()]
	if !ok {
		return nil, false
	}
	return t.conns[id], true
}

// MarkClosing 记录本地关闭原因
func (t *Table) MarkClosing(id types.ConnectionID, cause error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[id]
	if !ok {
		return false
	}
	if c.Cause == nil {
		c.Cause = cause
	}
	return true
}

// MarkPeerClosing 记录到该节点所有连接的本地关闭原因
func (t *Table) MarkPeerClosing(p peer.ID, cause error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.conns {
		if c.Peer == p {
			if c.Cause == nil {
				c.Cause = cause
			}
			n++
		}
	}
	return n
}

// RemoveConn 移除已关闭连接
func (t *Table) RemoveConn(nc network.Conn) (*Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byNetConn[nc.ID()]
	if !ok {
		return nil, false
	}
	delete(t.byNetConn, nc.ID())
	c := t.conns[id]
	delete(t.conns, id)
	return c, true
}

// Conns 已建立连接数
func (t *Table) Conns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// ============================================================================
//                              监听器
// ============================================================================

// AddListener 记录监听器
func (t *Table) AddListener(l *Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[l.ID] = l
}

// Listener 按句柄查找监听器
func (t *Table) Listener(id types.ListenerID) (*Listener, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.listeners[id]
	return l, ok
}

// ListenerFor 查找拥有该地址的监听器
func (t *Table) ListenerFor(addr ma.Multiaddr) (*Listener, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listenerForLocked(addr)
}

func (t *Table) listenerForLocked(addr ma.Multiaddr) (*Listener, bool) {
	if addr == nil {
		return nil, false
	}
	for _, l := range t.listeners {
		if l.has(addr) {
			return l, true
		}
	}
	return nil, false
}

// RemoveListener 移除监听器，并忽略其地址随后的关闭通知
func (t *Table) RemoveListener(id types.ListenerID) (*Listener, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.listeners[id]
	if !ok {
		return nil, false
	}
	delete(t.listeners, id)
	for _, a := range l.Addrs {
		t.suppressed[a.String()] = struct{}{}
	}
	return l, true
}

// ConsumeSuppressed 关闭通知是否属于本地已关闭的监听器
func (t *Table) ConsumeSuppressed(addr ma.Multiaddr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := addr.String()
	if _, ok := t.suppressed[key]; ok {
		delete(t.suppressed, key)
		return true
	}
	return false
}

// DropListenAddr 监听地址意外关闭，返回所属监听器以及监听器是否已无地址
//
// 监听器地址耗尽时同时移除监听器。
func (t *Table) DropListenAddr(addr ma.Multiaddr) (*Listener, bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.listenerForLocked(addr)
	if !ok {
		return nil, false, false
	}
	l.remove(addr)
	if len(l.Addrs) == 0 {
		delete(t.listeners, l.ID)
		return l, true, true
	}
	return l, false, true
}
