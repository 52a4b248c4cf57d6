package swarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-overlay/pkg/identity"
	"github.com/dep2p/go-overlay/pkg/types"
)

// TestQueue_FIFO 测试先进先出
func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 5, q.Len())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Zero(t, q.Len())
}

// TestQueue_PushFront 测试放回队头
func TestQueue_PushFront(t *testing.T) {
	q := NewQueue[string]()
	q.Push("b")
	q.Push("c")
	q.PushFront("a")

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
}

// TestQueue_PopWaits 测试空队列等待生产者
func TestQueue_PopWaits(t *testing.T) {
	q := NewQueue[int]()
	done := make(chan int, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			done <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(42)

	select {
	case v := <-done:
		assert.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not wake up")
	}
}

// TestQueue_Cancel 测试 ctx 取消
func TestQueue_Cancel(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// TestQueue_Close 测试关闭
func TestQueue_Close(t *testing.T) {
	q := NewQueue[int]()
	q.Push(1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Close()
	}()
	wg.Wait()
	q.Close()

	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.False(t, q.Push(2))
	assert.False(t, q.PushFront(2))

	select {
	case <-q.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

// TestQueue_ConcurrentProducers 测试多生产者不丢事件
func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue[int]()
	const producers, perProducer = 8, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	ctx := context.Background()
	for i := 0; i < producers*perProducer; i++ {
		_, err := q.Pop(ctx)
		require.NoError(t, err)
	}
	assert.Zero(t, q.Len())
}

func testPeer(t *testing.T) peer.ID {
	t.Helper()
	id, err := identity.RandomPeerID()
	require.NoError(t, err)
	return id
}

// TestTable_IDs 测试句柄单调递增
func TestTable_IDs(t *testing.T) {
	tb := NewTable()
	assert.Equal(t, types.ConnectionID(1), tb.AllocConnID())
	assert.Equal(t, types.ConnectionID(2), tb.AllocConnID())
	assert.Equal(t, types.ListenerID(1), tb.AllocListenerID())
	assert.Equal(t, types.ListenerID(2), tb.AllocListenerID())
}

// TestTable_PendingDials 测试拨号认领顺序
func TestTable_PendingDials(t *testing.T) {
	tb := NewTable()
	p := testPeer(t)

	first := PendingDial{ID: tb.AllocConnID(), Peer: p, Started: time.Now()}
	second := PendingDial{ID: tb.AllocConnID(), Peer: p, Started: time.Now()}
	tb.AddPendingDial(first)
	tb.AddPendingDial(second)
	assert.Equal(t, 2, tb.PendingDials())
	assert.True(t, tb.HasPendingDial(p))

	d, ok := tb.TakePendingDial(p)
	require.True(t, ok)
	assert.Equal(t, first.ID, d.ID)

	// 已认领的拨号不能再移除
	_, ok = tb.RemovePendingDial(p, first.ID)
	assert.False(t, ok)

	d, ok = tb.RemovePendingDial(p, second.ID)
	require.True(t, ok)
	assert.Equal(t, second.ID, d.ID)
	assert.False(t, tb.HasPendingDial(p))
	assert.Zero(t, tb.PendingDials())
}

// TestTable_Incoming 测试入站观察按地址对匹配
func TestTable_Incoming(t *testing.T) {
	tb := NewTable()
	local := ma.StringCast("/ip4/127.0.0.1/tcp/4001")
	remote := ma.StringCast("/ip4/127.0.0.1/tcp/53211")

	in := tb.ObserveIncoming(local, remote, time.Now())
	assert.Equal(t, types.ConnectionID(1), in.ID)

	_, ok := tb.TakeIncoming(remote, local)
	assert.False(t, ok)

	got, ok := tb.TakeIncoming(local, remote)
	require.True(t, ok)
	assert.Equal(t, in.ID, got.ID)

	_, ok = tb.TakeIncoming(local, remote)
	assert.False(t, ok)
}

// TestTable_Listeners 测试监听器与关闭通知抑制
func TestTable_Listeners(t *testing.T) {
	tb := NewTable()
	a1 := ma.StringCast("/ip4/127.0.0.1/tcp/4001")
	a2 := ma.StringCast("/ip6/::1/tcp/4001")

	l := &Listener{ID: tb.AllocListenerID(), Addrs: []ma.Multiaddr{a1, a2}}
	tb.AddListener(l)

	got, ok := tb.ListenerFor(a2)
	require.True(t, ok)
	assert.Equal(t, l.ID, got.ID)

	// 意外关闭一个地址
	owner, empty, ok := tb.DropListenAddr(a1)
	require.True(t, ok)
	assert.Equal(t, l.ID, owner.ID)
	assert.False(t, empty)

	removed, ok := tb.RemoveListener(l.ID)
	require.True(t, ok)
	assert.Equal(t, []ma.Multiaddr{a2}, removed.Addrs)

	_, ok = tb.Listener(l.ID)
	assert.False(t, ok)
	_, ok = tb.RemoveListener(l.ID)
	assert.False(t, ok)

	assert.True(t, tb.ConsumeSuppressed(a2))
	assert.False(t, tb.ConsumeSuppressed(a2))
	assert.False(t, tb.ConsumeSuppressed(a1))
}

// TestTable_DropLastAddr 测试地址耗尽时移除监听器
func TestTable_DropLastAddr(t *testing.T) {
	tb := NewTable()
	a := ma.StringCast("/ip4/127.0.0.1/tcp/4001")
	tb.AddListener(&Listener{ID: tb.AllocListenerID(), Addrs: []ma.Multiaddr{a}})

	_, empty, ok := tb.DropListenAddr(a)
	require.True(t, ok)
	assert.True(t, empty)

	_, _, ok = tb.DropListenAddr(a)
	assert.False(t, ok)
}
