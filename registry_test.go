package overlay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistry_Lifecycle 测试创建、查找与释放
func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(func() { _ = r.Close() })

	h, err := r.Create(context.Background(), testKeypair(t), testConfig(t))
	require.NoError(t, err)
	assert.False(t, h.IsZero())
	assert.Equal(t, 1, r.Len())

	s, err := r.Get(h)
	require.NoError(t, err)
	assert.False(t, s.Closed())

	require.NoError(t, r.Dispose(h))
	assert.True(t, s.Closed())
	assert.Equal(t, 0, r.Len())

	_, err = r.Get(h)
	assert.ErrorIs(t, err, ErrInstanceNotFound)

	// 重复释放什么也不做
	assert.NoError(t, r.Dispose(h))
}

// TestRegistry_StaleHandle 测试槽位复用后旧句柄失效
func TestRegistry_StaleHandle(t *testing.T) {
	r := NewRegistry()
	t.Cleanup(func() { _ = r.Close() })
	ctx := context.Background()

	old, err := r.Create(ctx, testKeypair(t), testConfig(t))
	require.NoError(t, err)
	require.NoError(t, r.Dispose(old))

	fresh, err := r.Create(ctx, testKeypair(t), testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, old.index, fresh.index)
	assert.NotEqual(t, old, fresh)

	_, err = r.Get(old)
	assert.ErrorIs(t, err, ErrInstanceNotFound)
	require.NoError(t, r.Dispose(old))

	s, err := r.Get(fresh)
	require.NoError(t, err)
	assert.False(t, s.Closed())
}

// TestRegistry_ZeroHandle 测试零值句柄
func TestRegistry_ZeroHandle(t *testing.T) {
	r := NewRegistry()

	var h Handle
	assert.True(t, h.IsZero())
	assert.Equal(t, "0:0", h.String())

	_, err := r.Get(h)
	assert.ErrorIs(t, err, ErrInstanceNotFound)
	assert.NoError(t, r.Dispose(h))
}

// TestRegistry_CreateFailure 测试创建失败不占用槽位
func TestRegistry_CreateFailure(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create(context.Background(), nil, testConfig(t))
	assert.ErrorIs(t, err, ErrNilKeypair)
	assert.Equal(t, 0, r.Len())
}

// TestRegistry_Close 测试关闭注册表释放全部 Session
func TestRegistry_Close(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	var sessions []*Session
	for i := 0; i < 3; i++ {
		h, err := r.Create(ctx, testKeypair(t), testConfig(t))
		require.NoError(t, err)
		s, err := r.Get(h)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	require.NoError(t, r.Close())
	assert.Equal(t, 0, r.Len())
	for _, s := range sessions {
		assert.True(t, s.Closed())
	}
}
