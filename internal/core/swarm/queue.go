package swarm

import (
	"context"
	"sync"
)

// Queue 无界 FIFO 事件队列
//
// 多个生产者（libp2p 回调、行为模块）写入，单个消费者（事件循环）读取。
// Push 从不阻塞，libp2p 回调不会因为观察者慢而卡住；
// 背压体现在事件循环：观察者处理完当前事件之前不会取下一个。
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	notify chan struct{}
	done   chan struct{}
}

// NewQueue 创建队列
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push 追加到队尾；队列已关闭时返回 false
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return true
}

// PushFront 放回队头，用于取出后未投递的事件
func (q *Queue[T]) PushFront(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	copy(q.items[1:], q.items)
	q.items[0] = v
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop 取出队头，队列为空时等待
//
// 队列关闭返回 ErrQueueClosed；ctx 取消返回 ctx.Err()。
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, ErrQueueClosed
		}
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len 当前排队数
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close 关闭队列并丢弃未取出的事件；可重复调用
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

// Done 队列关闭后关闭的通道
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}
