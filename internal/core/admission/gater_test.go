package admission

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/pkg/identity"
)

type connAddrs struct {
	local, remote ma.Multiaddr
}

func (c connAddrs) LocalMultiaddr() ma.Multiaddr  { return c.local }
func (c connAddrs) RemoteMultiaddr() ma.Multiaddr { return c.remote }

func addrs(port int) connAddrs {
	return connAddrs{
		local:  ma.StringCast("/ip4/127.0.0.1/tcp/4001"),
		remote: ma.StringCast(fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", port)),
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) emit(e Event) { r.events = append(r.events, e) }

// TestGater_Blocklist 测试黑名单
func TestGater_Blocklist(t *testing.T) {
	rec := &recorder{}
	g := New(config.DefaultAdmissionConfig(), rec.emit, WithMemoryStat(func() (uint64, uint64) { return 0, 0 }))
	p, err := identity.RandomPeerID()
	require.NoError(t, err)

	assert.True(t, g.InterceptPeerDial(p))
	assert.True(t, g.Block(p))
	assert.False(t, g.Block(p))
	assert.True(t, g.IsBlocked(p))
	assert.Equal(t, 1, len(g.Blocked()))

	assert.False(t, g.InterceptPeerDial(p))
	assert.False(t, g.InterceptAddrDial(p, ma.StringCast("/ip4/1.2.3.4/tcp/1")))

	// 入站握手后被否决并上报
	assert.False(t, g.InterceptSecured(network.DirInbound, p, addrs(5000)))
	require.Len(t, rec.events, 1)
	denied, ok := rec.events[0].(Denied)
	require.True(t, ok)
	assert.Equal(t, p, denied.Peer)
	assert.ErrorIs(t, denied.Err, ErrBlocked)

	// 出站否决不上报，拨号错误由拨号方处理
	assert.False(t, g.InterceptSecured(network.DirOutbound, p, addrs(5001)))
	assert.Len(t, rec.events, 1)

	assert.True(t, g.Unblock(p))
	assert.False(t, g.Unblock(p))
	assert.True(t, g.InterceptPeerDial(p))
}

// TestGater_PendingIncoming 测试待建立入站连接上限
func TestGater_PendingIncoming(t *testing.T) {
	rec := &recorder{}
	cfg := config.DefaultAdmissionConfig()
	cfg.MaxPendingIncoming = 2
	cfg.MemoryMaxPercentage = 0
	g := New(cfg, rec.emit)

	assert.True(t, g.InterceptAccept(addrs(5000)))
	assert.True(t, g.InterceptAccept(addrs(5001)))
	assert.False(t, g.InterceptAccept(addrs(5002)))
	assert.Equal(t, 2, g.PendingIncoming())

	require.Len(t, rec.events, 3)
	_, ok := rec.events[0].(Accepted)
	assert.True(t, ok)
	denied, ok := rec.events[2].(Denied)
	require.True(t, ok)
	assert.ErrorIs(t, denied.Err, ErrPendingIncomingLimit)
	assert.Empty(t, denied.Peer)

	// 握手失败释放名额
	p, err := identity.RandomPeerID()
	require.NoError(t, err)
	g.Block(p)
	assert.False(t, g.InterceptSecured(network.DirInbound, p, addrs(5000)))
	assert.Equal(t, 1, g.PendingIncoming())
	assert.True(t, g.InterceptAccept(addrs(5003)))
}

// TestGater_MemoryPressure 测试内存压力
func TestGater_MemoryPressure(t *testing.T) {
	rec := &recorder{}
	mock := clock.NewMock()
	used := uint64(50)
	stat := func() (uint64, uint64) { return used, 100 }

	cfg := config.DefaultAdmissionConfig()
	cfg.MemoryMaxPercentage = 0.8
	g := New(cfg, rec.emit, WithClock(mock), WithMemoryStat(stat))
	p, err := identity.RandomPeerID()
	require.NoError(t, err)

	assert.True(t, g.InterceptPeerDial(p))

	// 采样间隔内沿用上次结果
	used = 90
	assert.True(t, g.InterceptPeerDial(p))

	mock.Add(time.Second)
	assert.False(t, g.InterceptPeerDial(p))
	assert.False(t, g.InterceptAccept(addrs(6000)))

	last, ok := rec.events[len(rec.events)-1].(Denied)
	require.True(t, ok)
	assert.ErrorIs(t, last.Err, ErrMemoryPressure)
}

// TestMemoryGuard_Disabled 测试关闭内存限制
func TestMemoryGuard_Disabled(t *testing.T) {
	m := newMemoryGuard(0, func() (uint64, uint64) { return 100, 100 }, clock.NewMock())
	assert.False(t, m.overLimit())

	m = newMemoryGuard(0.5, func() (uint64, uint64) { return 100, 0 }, clock.NewMock())
	assert.False(t, m.overLimit())
}

// TestGater_Name 测试行为名
func TestGater_Name(t *testing.T) {
	assert.Equal(t, "admission", New(config.DefaultAdmissionConfig(), nil).Name())
}
