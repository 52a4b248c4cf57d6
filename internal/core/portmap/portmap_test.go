package portmap

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-overlay/config"
)

type fakeMapper struct {
	mu      sync.Mutex
	ip      net.IP
	failAdd bool
	added   map[int]int
	deleted []int
}

func newFakeMapper(ip string) *fakeMapper {
	return &fakeMapper{ip: net.ParseIP(ip), added: make(map[int]int)}
}

func (f *fakeMapper) name() string { return "fake" }

func (f *fakeMapper) externalIP() (net.IP, error) { return f.ip, nil }

func (f *fakeMapper) addMapping(_ string, port int, _ string, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd {
		return 0, ErrMappingFailed
	}
	f.added[port]++
	return port, nil
}

func (f *fakeMapper) deleteMapping(_ string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, port)
	return nil
}

func (f *fakeMapper) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAdd = v
}

func start(t *testing.T, d discoverFunc, clk clock.Clock) (*Behaviour, chan Event) {
	t.Helper()
	events := make(chan Event, 16)
	cfg := config.DefaultPortMapConfig()
	b := newBehaviour(cfg, func(e Event) { events <- e }, clk, d)
	t.Cleanup(func() { _ = b.Close() })
	return b, events
}

func next(t *testing.T, events chan Event) Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no portmap event")
		return nil
	}
}

// TestMappable 测试可映射地址识别
func TestMappable(t *testing.T) {
	proto, port, err := mappable(ma.StringCast("/ip4/192.168.1.2/tcp/4001"))
	require.NoError(t, err)
	assert.Equal(t, "tcp", proto)
	assert.Equal(t, 4001, port)

	proto, port, err = mappable(ma.StringCast("/ip4/0.0.0.0/udp/4002/quic-v1"))
	require.NoError(t, err)
	assert.Equal(t, "udp", proto)
	assert.Equal(t, 4002, port)

	for _, s := range []string{
		"/ip4/127.0.0.1/tcp/4001",
		"/ip6/::/tcp/4001",
		"/ip4/192.168.1.2/tcp/0",
		"/dns4/example.com/tcp/4001",
	} {
		_, _, err := mappable(ma.StringCast(s))
		assert.ErrorIs(t, err, ErrUnsupportedAddr, s)
	}
}

// TestExternalAddr 测试外部地址构造
func TestExternalAddr(t *testing.T) {
	out, err := externalAddr(ma.StringCast("/ip4/192.168.1.2/udp/4002/quic-v1"), net.ParseIP("8.8.8.8"), 5000)
	require.NoError(t, err)
	assert.Equal(t, "/ip4/8.8.8.8/udp/5000/quic-v1", out.String())
}

// TestBehaviour_MapAndExpire 测试映射与监听关闭
func TestBehaviour_MapAndExpire(t *testing.T) {
	fake := newFakeMapper("8.8.8.8")
	b, events := start(t, func(context.Context, config.PortMapConfig) (mapper, error) {
		return fake, nil
	}, clock.NewMock())

	listen := ma.StringCast("/ip4/192.168.1.2/tcp/4001")
	b.AddListenAddr(listen)

	e, ok := next(t, events).(NewExternalAddr)
	require.True(t, ok)
	assert.Equal(t, "/ip4/8.8.8.8/tcp/4001", e.Addr.String())
	assert.Len(t, b.ExternalAddrs(), 1)

	b.RemoveListenAddr(listen)
	exp, ok := next(t, events).(ExpiredExternalAddr)
	require.True(t, ok)
	assert.True(t, e.Addr.Equal(exp.Addr))
	assert.Empty(t, b.ExternalAddrs())
}

// TestBehaviour_RefreshFailure 测试续约失败
func TestBehaviour_RefreshFailure(t *testing.T) {
	fake := newFakeMapper("8.8.8.8")
	mock := clock.NewMock()
	b, events := start(t, func(context.Context, config.PortMapConfig) (mapper, error) {
		return fake, nil
	}, mock)

	b.AddListenAddr(ma.StringCast("/ip4/192.168.1.2/tcp/4001"))
	_, ok := next(t, events).(NewExternalAddr)
	require.True(t, ok)

	fake.setFail(true)
	mock.Add(config.DefaultPortMapConfig().RefreshInterval.Duration())

	_, ok = next(t, events).(ExpiredExternalAddr)
	assert.True(t, ok)
}

// TestBehaviour_GatewayNotFound 测试无网关
func TestBehaviour_GatewayNotFound(t *testing.T) {
	calls := 0
	b, events := start(t, func(context.Context, config.PortMapConfig) (mapper, error) {
		calls++
		return nil, errors.New("no igd")
	}, clock.NewMock())

	b.AddListenAddr(ma.StringCast("/ip4/192.168.1.2/tcp/4001"))
	_, ok := next(t, events).(GatewayNotFound)
	assert.True(t, ok)

	// 第二个地址不再发现也不再上报
	b.AddListenAddr(ma.StringCast("/ip4/192.168.1.2/tcp/4002"))
	select {
	case e := <-events:
		t.Fatalf("unexpected event %T", e)
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, b.Close())
	assert.Equal(t, 1, calls)
}

// TestBehaviour_NonRoutable 测试网关外部地址为私网
func TestBehaviour_NonRoutable(t *testing.T) {
	fake := newFakeMapper("10.0.0.1")
	b, events := start(t, func(context.Context, config.PortMapConfig) (mapper, error) {
		return fake, nil
	}, clock.NewMock())

	b.AddListenAddr(ma.StringCast("/ip4/192.168.1.2/tcp/4001"))
	e, ok := next(t, events).(NonRoutableGateway)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", e.ExternalIP.String())
	assert.Empty(t, b.ExternalAddrs())
}

// TestBehaviour_CloseDeletesMappings 测试关闭时删除映射
func TestBehaviour_CloseDeletesMappings(t *testing.T) {
	fake := newFakeMapper("8.8.8.8")
	b, events := start(t, func(context.Context, config.PortMapConfig) (mapper, error) {
		return fake, nil
	}, clock.NewMock())

	b.AddListenAddr(ma.StringCast("/ip4/192.168.1.2/tcp/4001"))
	_, ok := next(t, events).(NewExternalAddr)
	require.True(t, ok)

	require.NoError(t, b.Close())
	assert.Equal(t, []int{4001}, fake.deleted)
}

// TestNew_Disabled 测试关闭端口映射
func TestNew_Disabled(t *testing.T) {
	assert.Nil(t, New(config.DefaultPortMapConfig().WithEnable(false), nil, nil))
}
