package overlay

import (
	"context"
	"errors"

	"github.com/dep2p/go-overlay/internal/core/swarm"
)

// LoopOutcome 事件循环的结束方式
type LoopOutcome int

const (
	// LoopStopped Session 已释放，事件流结束
	LoopStopped LoopOutcome = iota

	// LoopCancelled ctx 被取消，未投递的事件留在队列中
	LoopCancelled
)

// String 返回 "stopped" 或 "cancelled"
func (o LoopOutcome) String() string {
	switch o {
	case LoopStopped:
		return "stopped"
	case LoopCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Run 运行事件循环，把事件依次交给 observer
//
// 每个 Session 同时只能运行一个循环，否则返回 ErrLoopRunning。
// 取出事件后若发现 ctx 已取消，事件被放回队头，不会丢失，也不会在取消后投递。
// observer 在锁外同步调用，返回后才取下一个事件；observer 运行期间发生的
// 取消在下一轮生效。循环可在取消后再次运行，从未投递的事件继续。
func (s *Session) Run(ctx context.Context, observer Observer) (LoopOutcome, error) {
	if s.closed.Load() {
		return LoopStopped, ErrInstanceNotFound
	}
	if !s.running.CompareAndSwap(false, true) {
		return LoopStopped, ErrLoopRunning
	}
	defer s.running.Store(false)

	if observer == nil {
		observer = func(Event) {}
	}

	for {
		if ctx.Err() != nil {
			return LoopCancelled, nil
		}

		raw, err := s.queue.Pop(ctx)
		switch {
		case errors.Is(err, swarm.ErrQueueClosed):
			return LoopStopped, nil
		case err != nil:
			return LoopCancelled, nil
		}

		if ctx.Err() != nil {
			s.queue.PushFront(raw)
			return LoopCancelled, nil
		}

		if err := s.acquire(ctx); err != nil {
			if errors.Is(err, ErrInstanceNotFound) {
				return LoopStopped, nil
			}
			s.queue.PushFront(raw)
			return LoopCancelled, nil
		}
		ev := s.translate(raw)
		s.release()

		if ev == nil {
			continue
		}
		s.metrics.Event(ev.EventName())
		observer(ev)
	}
}
