package metrics

import (
	"errors"
	"testing"

	lmetrics "github.com/libp2p/go-libp2p/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetrics 测试计数与注销
func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, "overlay", "s1")
	require.NoError(t, err)

	m.Event("ConnectionEstablished")
	m.Event("ConnectionEstablished")
	m.Command("dial", nil)
	m.Command("dial", errors.New("boom"))
	m.SetConnections(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("ConnectionEstablished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("dial", ResultError)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.connections))

	pending := 5
	require.NoError(t, m.WatchPendingValidations(func() int { return pending }))

	bw := lmetrics.NewBandwidthCounter()
	require.NoError(t, m.WatchBandwidth(bw))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	m.Unregister()
	count, err = testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// TestMetrics_TwoSessions 测试多个 Session 共用 Registerer
func TestMetrics_TwoSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg, "overlay", "a")
	require.NoError(t, err)
	b, err := New(reg, "overlay", "b")
	require.NoError(t, err)

	_, err = New(reg, "overlay", "a")
	assert.True(t, IsAlreadyRegistered(err))

	a.Unregister()
	b.Unregister()
}

// TestMetrics_Nil 测试 nil 安全
func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.Event("x")
	m.Command("x", nil)
	m.SetConnections(1)
	assert.NoError(t, m.WatchPendingValidations(func() int { return 0 }))
	assert.NoError(t, m.WatchBandwidth(nil))
	m.Unregister()
}
