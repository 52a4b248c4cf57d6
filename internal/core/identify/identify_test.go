package identify

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/pkg/identity"
)

// TestSupportsGossip 测试 gossip 协议识别
func TestSupportsGossip(t *testing.T) {
	assert.True(t, SupportsGossip([]protocol.ID{"/ipfs/id/1.0.0", "/meshsub/1.1.0"}))
	assert.True(t, SupportsGossip([]protocol.ID{"/floodsub/1.0.0"}))
	assert.False(t, SupportsGossip([]protocol.ID{"/ipfs/id/1.0.0", "/transfer/1.0.0"}))
	assert.False(t, SupportsGossip(nil))
}

// TestTranslate 测试身份交换结果转换
func TestTranslate(t *testing.T) {
	kp, err := identity.Generate(identity.Ed25519)
	require.NoError(t, err)
	observed := ma.StringCast("/ip4/8.8.8.8/tcp/4001")

	evt := event.EvtPeerIdentificationCompleted{
		Peer:            kp.PeerID(),
		ProtocolVersion: config.DefaultProtocolVersion,
		AgentVersion:    "test/1.0",
		Protocols:       []protocol.ID{"/transfer/1.0.0"},
		ObservedAddr:    observed,
	}
	out := translate(evt, kp.PrivKey().GetPublic())
	require.Len(t, out, 3)

	recv, ok := out[0].(Received)
	require.True(t, ok)
	assert.Equal(t, kp.PeerID(), recv.Peer)
	assert.Equal(t, config.DefaultProtocolVersion, recv.ProtocolVersion)
	assert.True(t, kp.PrivKey().GetPublic().Equals(recv.PublicKey))

	obs, ok := out[1].(ObservedAddr)
	require.True(t, ok)
	assert.True(t, observed.Equal(obs.Addr))

	_, ok = out[2].(GossipNotSupported)
	assert.True(t, ok)

	// 支持 gossip 且无观察地址时只有 Received
	evt.Protocols = []protocol.ID{"/meshsub/1.2.0"}
	evt.ObservedAddr = nil
	assert.Len(t, translate(evt, nil), 1)
}

// TestHostOptions 测试 host 选项
func TestHostOptions(t *testing.T) {
	assert.Len(t, HostOptions(config.DefaultIdentifyConfig()), 2)
	assert.Len(t, HostOptions(config.IdentifyConfig{ProtocolVersion: "x"}), 1)
}
