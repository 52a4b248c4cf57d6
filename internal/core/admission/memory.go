package admission

import (
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pbnjay/memory"
)

// memoryRefreshInterval 进程内存采样的最短间隔，ReadMemStats 会短暂停顿所有 goroutine
const memoryRefreshInterval = 100 * time.Millisecond

// MemoryStat 返回进程已用内存与系统总内存，单位字节
type MemoryStat func() (used, total uint64)

// SystemMemory 以 Go 运行时从系统获取的内存作为进程占用
func SystemMemory() (used, total uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, memory.TotalMemory()
}

// memoryGuard 内存压力判定
type memoryGuard struct {
	maxPercentage float64
	stat          MemoryStat
	clock         clock.Clock

	mu        sync.Mutex
	sampledAt time.Time
	exceeded  bool
}

func newMemoryGuard(maxPercentage float64, stat MemoryStat, clk clock.Clock) *memoryGuard {
	if stat == nil {
		stat = SystemMemory
	}
	return &memoryGuard{maxPercentage: maxPercentage, stat: stat, clock: clk}
}

// overLimit 内存占用是否超过阈值
//
// maxPercentage 为 0 或无法获知系统总内存时不限制。
func (m *memoryGuard) overLimit() bool {
	if m.maxPercentage <= 0 || m.maxPercentage >= 1 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if !m.sampledAt.IsZero() && now.Sub(m.sampledAt) < memoryRefreshInterval {
		return m.exceeded
	}
	m.sampledAt = now

	used, total := m.stat()
	if total == 0 {
		m.exceeded = false
		return false
	}
	m.exceeded = float64(used) > float64(total)*m.maxPercentage
	return m.exceeded
}
