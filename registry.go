package overlay

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/pkg/identity"
)

// Handle Session 句柄
//
// 句柄由槽位与代数组成。Session 释放后槽位代数递增，旧句柄随即失效，
// 即使槽位被新的 Session 复用也不会误指。
type Handle struct {
	index      uint32
	generation uint32
}

// String 返回 "index:generation"
func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.index, h.generation)
}

// IsZero 是否为零值句柄
func (h Handle) IsZero() bool { return h.generation == 0 }

type slot struct {
	generation uint32
	session    *Session
}

// Registry Session 注册表
//
// 零值不可用，使用 NewRegistry 创建。
type Registry struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{}
}

// Create 创建 Session 并放入注册表
func (r *Registry) Create(ctx context.Context, kp *identity.Keypair, cfg *config.Config, opts ...Option) (Handle, error) {
	s, err := New(ctx, kp, cfg, opts...)
	if err != nil {
		return Handle{}, err
	}
	return r.insert(s), nil
}

func (r *Registry) insert(s *Session) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}
	sl := &r.slots[idx]
	sl.generation++
	sl.session = s
	return Handle{index: idx, generation: sl.generation}
}

// Get 按句柄取 Session，句柄失效时返回 ErrInstanceNotFound
func (r *Registry) Get(h Handle) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.lookupLocked(h); s != nil {
		return s, nil
	}
	return nil, fmt.Errorf("%w: handle %s", ErrInstanceNotFound, h)
}

func (r *Registry) lookupLocked(h Handle) *Session {
	if int(h.index) >= len(r.slots) {
		return nil
	}
	sl := r.slots[h.index]
	if sl.generation != h.generation || sl.session == nil {
		return nil
	}
	return sl.session
}

// Dispose 释放 Session 并清空槽位；句柄已失效时什么也不做
func (r *Registry) Dispose(h Handle) error {
	r.mu.Lock()
	s := r.lookupLocked(h)
	if s == nil {
		r.mu.Unlock()
		return nil
	}
	r.slots[h.index].session = nil
	r.free = append(r.free, h.index)
	r.mu.Unlock()

	return s.Close()
}

// Len 注册表中的 Session 数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots) - len(r.free)
}

// Close 释放全部 Session
func (r *Registry) Close() error {
	r.mu.Lock()
	var sessions []*Session
	for i := range r.slots {
		if s := r.slots[i].session; s != nil {
			sessions = append(sessions, s)
			r.slots[i].session = nil
			r.free = append(r.free, uint32(i))
		}
	}
	r.mu.Unlock()

	var err error
	for _, s := range sessions {
		err = multierr.Append(err, s.Close())
	}
	return err
}
