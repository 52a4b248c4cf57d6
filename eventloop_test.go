package overlay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoopOutcome_String 测试结束方式名称
func TestLoopOutcome_String(t *testing.T) {
	assert.Equal(t, "stopped", LoopStopped.String())
	assert.Equal(t, "cancelled", LoopCancelled.String())
	assert.Equal(t, "unknown", LoopOutcome(9).String())
}

// TestRun_CancelledKeepsEvents 测试已取消的循环不投递也不丢弃事件
func TestRun_CancelledKeepsEvents(t *testing.T) {
	s := newTestSession(t, testConfig(t, loopback))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var seen []Event
	outcome, err := s.Run(ctx, func(e Event) { seen = append(seen, e) })
	require.NoError(t, err)
	assert.Equal(t, LoopCancelled, outcome)
	assert.Empty(t, seen)

	// 再次运行从未投递的事件继续
	got := make(chan Event, 16)
	ctx, cancel = context.WithCancel(context.Background())
	done := make(chan LoopOutcome, 1)
	go func() {
		o, _ := s.Run(ctx, func(e Event) { got <- e })
		done <- o
	}()

	select {
	case e := <-got:
		assert.IsType(t, NewListenAddr{}, e)
		assert.Equal(t, "new_listen_addr", e.EventName())
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	select {
	case o := <-done:
		assert.Equal(t, LoopCancelled, o)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

// TestRun_SingleLoop 测试同一 Session 只能运行一个循环
func TestRun_SingleLoop(t *testing.T) {
	s := newTestSession(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Run(ctx, nil)
	}()
	require.Eventually(t, s.running.Load, 5*time.Second, 10*time.Millisecond)

	_, err := s.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrLoopRunning)

	cancel()
	<-done
	assert.False(t, s.running.Load())
}

// TestRun_StoppedOnClose 测试关闭 Session 使循环返回 LoopStopped
func TestRun_StoppedOnClose(t *testing.T) {
	s := newTestSession(t, testConfig(t))

	done := make(chan LoopOutcome, 1)
	go func() {
		o, err := s.Run(context.Background(), nil)
		assert.NoError(t, err)
		done <- o
	}()
	require.Eventually(t, s.running.Load, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	select {
	case o := <-done:
		assert.Equal(t, LoopStopped, o)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after close")
	}
}

// TestRun_CancelWhileWaiting 测试等待事件时取消
func TestRun_CancelWhileWaiting(t *testing.T) {
	s := newTestSession(t, testConfig(t))

	// 先排空启动时的事件
	drain, stop := context.WithTimeout(context.Background(), 200*time.Millisecond)
	_, err := s.Run(drain, nil)
	stop()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan LoopOutcome, 1)
	go func() {
		o, _ := s.Run(ctx, nil)
		done <- o
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case o := <-done:
		assert.Equal(t, LoopCancelled, o)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not observe cancellation")
	}
}
