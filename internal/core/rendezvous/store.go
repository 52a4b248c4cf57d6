package rendezvous

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/dep2p/go-overlay/config"
	"github.com/dep2p/go-overlay/pkg/types"
)

// maxDiscoverLimit 单次发现返回条数的硬上限
const maxDiscoverLimit = 1000

// Registration 一条注册
type Registration struct {
	Namespace string
	Record    types.PeerRecord
	TTL       time.Duration

	// ID 服务端签发的单调序号，客户端收到的注册为 0
	ID uint64
}

// ValidateNamespace 检查命名空间
func ValidateNamespace(ns string) error {
	if ns == "" || len(ns) > MaxNamespaceLength {
		return fmt.Errorf("%w: length %d not in [1, %d]", ErrInvalidNamespace, len(ns), MaxNamespaceLength)
	}
	return nil
}

// ResolveTTL 0 取默认 TTL，其余必须在 [MinTTL, MaxTTL] 内
func ResolveTTL(cfg config.RendezvousConfig, ttl time.Duration) (time.Duration, error) {
	if ttl == 0 {
		return cfg.DefaultTTL.Duration(), nil
	}
	if ttl < cfg.MinTTL.Duration() || ttl > cfg.MaxTTL.Duration() {
		return 0, fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidTTL, ttl, cfg.MinTTL, cfg.MaxTTL)
	}
	return ttl, nil
}

type regKey struct {
	ns   string
	peer peer.ID
}

type storedRegistration struct {
	reg      Registration
	envelope []byte
	expires  time.Time
}

// store 服务端注册表
type store struct {
	clk        clock.Clock
	maxTotal   int
	maxPerPeer int

	mu      sync.Mutex
	nextID  uint64
	regs    map[regKey]*storedRegistration
	perPeer map[peer.ID]int
}

func newStore(clk clock.Clock, maxTotal, maxPerPeer int) *store {
	return &store{
		clk:        clk,
		maxTotal:   maxTotal,
		maxPerPeer: maxPerPeer,
		regs:       make(map[regKey]*storedRegistration),
		perPeer:    make(map[peer.ID]int),
	}
}

// add 添加或替换注册
//
// 同一节点在同一命名空间重复注册时替换旧条目并签发新序号。
func (s *store) add(ns string, rec types.PeerRecord, envelope []byte, ttl time.Duration) (Registration, *StatusError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := regKey{ns: ns, peer: rec.PeerID}
	if _, exists := s.regs[key]; !exists {
		if len(s.regs) >= s.maxTotal {
			return Registration{}, statusError(StatusUnavailable, "registration table full")
		}
		if s.perPeer[rec.PeerID] >= s.maxPerPeer {
			return Registration{}, statusError(StatusNotAuthorized, "too many registrations for peer")
		}
		s.perPeer[rec.PeerID]++
	}

	s.nextID++
	reg := Registration{Namespace: ns, Record: rec, TTL: ttl, ID: s.nextID}
	s.regs[key] = &storedRegistration{
		reg:      reg,
		envelope: envelope,
		expires:  s.clk.Now().Add(ttl),
	}
	return reg, nil
}

// remove 删除注册，返回是否存在
func (s *store) remove(ns string, p peer.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := regKey{ns: ns, peer: p}
	if _, ok := s.regs[key]; !ok {
		return false
	}
	s.deleteLocked(key)
	return true
}

func (s *store) deleteLocked(key regKey) {
	delete(s.regs, key)
	if s.perPeer[key.peer]--; s.perPeer[key.peer] <= 0 {
		delete(s.perPeer, key.peer)
	}
}

// discover 返回 cookie 之后的未过期注册，按序号升序
//
// ns 为空表示所有命名空间。cookie 的命名空间必须与 ns 一致。
func (s *store) discover(ns string, cookie *types.Cookie, limit int) ([]storedRegistration, types.Cookie, *StatusError) {
	after := uint64(0)
	if cookie != nil {
		if cookie.Namespace != ns {
			return nil, types.Cookie{}, statusError(StatusInvalidCookie, "cookie namespace %q does not match %q", cookie.Namespace, ns)
		}
		after = cookie.ID
	}

	s.mu.Lock()
	now := s.clk.Now()
	var out []storedRegistration
	for key, r := range s.regs {
		if ns != "" && key.ns != ns {
			continue
		}
		if r.reg.ID <= after || !now.Before(r.expires) {
			continue
		}
		out = append(out, *r)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b storedRegistration) int {
		return cmp.Compare(a.reg.ID, b.reg.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}

	next := types.Cookie{ID: after, Namespace: ns}
	if len(out) > 0 {
		next.ID = out[len(out)-1].reg.ID
	}

	// 返回剩余 TTL
	for i := range out {
		out[i].reg.TTL = out[i].expires.Sub(now)
	}
	return out, next, nil
}

// expire 删除并返回已过期的注册
func (s *store) expire() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	var expired []Registration
	for key, r := range s.regs {
		if now.Before(r.expires) {
			continue
		}
		expired = append(expired, r.reg)
		s.deleteLocked(key)
	}
	slices.SortFunc(expired, func(a, b Registration) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return expired
}

// len 当前注册数
func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}
