package types

import (
	"errors"
	"io"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomPeer(t *testing.T) peer.ID {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)
	return id
}

// TestParseMultiaddr_RoundTrip 测试解析→格式化→解析结果一致
func TestParseMultiaddr_RoundTrip(t *testing.T) {
	cases := []string{
		"/ip4/127.0.0.1/tcp/4001",
		"/ip6/::1/tcp/0",
		"/ip4/10.0.0.1/udp/4001/quic-v1",
		"/dns4/example.com/tcp/443/wss",
		"/ip4/1.2.3.4/tcp/80/p2p/" + randomPeer(t).String(),
	}
	for _, s := range cases {
		t.Run(s, func(t *testing.T) {
			a, err := ParseMultiaddr(s)
			require.NoError(t, err)

			b, err := ParseMultiaddr(a.String())
			require.NoError(t, err)
			assert.True(t, a.Equal(b))
			assert.Equal(t, a.Bytes(), b.Bytes())
		})
	}
}

// TestParseMultiaddr_Invalid 测试非法地址返回 ErrBadAddress
func TestParseMultiaddr_Invalid(t *testing.T) {
	cases := []string{
		"",
		" /ip4/127.0.0.1/tcp/1",
		"127.0.0.1:4001",
		"/ip4/999.0.0.1/tcp/1",
		"/ip4/127.0.0.1/tcp",
		"/nope/1",
	}
	for _, s := range cases {
		_, err := ParseMultiaddr(s)
		assert.ErrorIs(t, err, ErrBadAddress, s)

		// 同一输入失败方式一致
		_, err2 := ParseMultiaddr(s)
		assert.Equal(t, err.Error(), err2.Error())
	}
}

// TestParsePeerID 测试节点 ID 解析
func TestParsePeerID(t *testing.T) {
	id := randomPeer(t)

	got, err := ParsePeerID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParsePeerID("not-a-peer")
	assert.ErrorIs(t, err, ErrBadIdentity)
	assert.NotErrorIs(t, err, ErrBadAddress)
}

// TestParseP2PAddr 测试带 /p2p/ 的地址解析
func TestParseP2PAddr(t *testing.T) {
	id := randomPeer(t)

	pid, addr, err := ParseP2PAddr("/ip4/127.0.0.1/tcp/4001/p2p/" + id.String())
	require.NoError(t, err)
	assert.Equal(t, id, pid)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/4001", addr.String())

	_, _, err = ParseP2PAddr("/ip4/127.0.0.1/tcp/4001")
	assert.ErrorIs(t, err, ErrBadAddress)

	pid, addr, err = ParsePeerOrAddr(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, pid)
	assert.Nil(t, addr)

	_, _, err = ParsePeerOrAddr("garbage")
	assert.ErrorIs(t, err, ErrBadIdentity)
}

// TestMessageID 测试消息 ID 的字符串往返
func TestMessageID(t *testing.T) {
	id := MessageIDFromBytes([]byte{0, 1, 2, 250})
	assert.Equal(t, []byte{0, 1, 2, 250}, id.Bytes())

	parsed, err := ParseMessageID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseMessageID("0OIl")
	assert.ErrorIs(t, err, ErrChannelMisuse)
}

// TestHandles_String 测试句柄字符串表示
func TestHandles_String(t *testing.T) {
	assert.Equal(t, "42", ConnectionID(42).String())
	assert.Equal(t, "7", ListenerID(7).String())
	assert.Equal(t, "room-1", TopicHash("room-1").String())
}

// TestMessageAcceptance 测试裁决解析
func TestMessageAcceptance(t *testing.T) {
	for _, a := range []MessageAcceptance{AcceptMessage, RejectMessage, IgnoreMessage} {
		got, err := ParseMessageAcceptance(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
		assert.True(t, a.Valid())
	}
	assert.False(t, MessageAcceptance(9).Valid())

	_, err := ParseMessageAcceptance("maybe")
	assert.Error(t, err)
}

// TestNatStatus 测试 NAT 状态
func TestNatStatus(t *testing.T) {
	addr := ma.StringCast("/ip4/8.8.8.8/tcp/4001")

	assert.Equal(t, "unknown", NatUnknown().String())
	assert.Equal(t, "private", NatPrivate().String())
	assert.Equal(t, "public(/ip4/8.8.8.8/tcp/4001)", NatPublic(addr).String())

	assert.True(t, NatPublic(addr).Equal(NatPublic(ma.StringCast("/ip4/8.8.8.8/tcp/4001"))))
	assert.False(t, NatPublic(addr).Equal(NatPublic(nil)))
	assert.False(t, NatPrivate().Equal(NatUnknown()))
	assert.True(t, NatUnknown().Equal(NatStatus{}))
}

// TestCookie 测试游标编解码
func TestCookie(t *testing.T) {
	c := Cookie{ID: 99, Namespace: "chat"}
	got, err := ParseCookie(c.Bytes())
	require.NoError(t, err)
	assert.Equal(t, c, got)

	all, err := ParseCookie(CookieForAllNamespaces().Bytes())
	require.NoError(t, err)
	assert.Equal(t, Cookie{}, all)
	assert.Equal(t, "ns", CookieForNamespace("ns").Namespace)

	_, err = ParseCookie([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidCookie)
}

// TestProtocolError 测试协议错误同时匹配分类与原因
func TestProtocolError(t *testing.T) {
	err := NewProtocolError("pubsub", io.EOF)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "pubsub")

	var pe *ProtocolError
	wrapped := errors.Join(errors.New("outer"), err)
	require.ErrorAs(t, wrapped, &pe)
	assert.Equal(t, "pubsub", pe.Protocol)

	assert.ErrorIs(t, NewProtocolError("dial", nil), ErrProtocol)
}
