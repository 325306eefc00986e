package gpu

import (
	"errors"
	"fmt"
	"sync"
)

// ErrMemoryBudgetExceeded is returned when an allocation would exceed the
// memory budget. It matches ErrAllocation.
var ErrMemoryBudgetExceeded = fmt.Errorf("%w: memory budget exceeded", ErrAllocation)

// errBudgetUnderflow reports a release that was never reserved.
var errBudgetUnderflow = errors.New("gpu: memory budget released more than reserved")

// MemoryStats contains particle memory usage statistics.
type MemoryStats struct {
	// LimitBytes is the budget in bytes.
	LimitBytes uint64

	// UsedBytes is the memory currently held by particle allocations.
	UsedBytes uint64

	// PeakBytes is the highest UsedBytes seen. Growth briefly holds the old
	// and the new allocation at once.
	PeakBytes uint64

	// Rejected counts allocations refused by the budget.
	Rejected uint64
}

// Available returns the remaining budget.
func (s MemoryStats) Available() uint64 { return s.LimitBytes - s.UsedBytes }

// Utilization returns the fraction of the budget in use (0.0 to 1.0).
func (s MemoryStats) Utilization() float64 {
	if s.LimitBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.LimitBytes)
}

// String returns a human-readable string of memory stats.
func (s MemoryStats) String() string {
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d KB, peak %d KB, %d rejected]",
		s.Utilization()*100,
		s.UsedBytes/1024,
		s.LimitBytes/1024,
		s.PeakBytes/1024,
		s.Rejected)
}

// MemoryBudget caps the device memory held by particle allocations.
// Several buffers may share one budget. A nil *MemoryBudget is unlimited.
//
// MemoryBudget is safe for concurrent use.
type MemoryBudget struct {
	mu sync.RWMutex

	limit    uint64
	used     uint64
	peak     uint64
	rejected uint64
}

// NewMemoryBudget creates a budget of limit bytes.
func NewMemoryBudget(limit uint64) *MemoryBudget {
	return &MemoryBudget{limit: limit}
}

// Stats returns a snapshot of the budget.
func (m *MemoryBudget) Stats() MemoryStats {
	if m == nil {
		return MemoryStats{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MemoryStats{
		LimitBytes: m.limit,
		UsedBytes:  m.used,
		PeakBytes:  m.peak,
		Rejected:   m.rejected,
	}
}

// reserve accounts for size bytes or fails without side effects other than
// the rejection count.
func (m *MemoryBudget) reserve(size uint64) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if size > m.limit-m.used {
		m.rejected++
		return fmt.Errorf("%w: need %d bytes, %d of %d available",
			ErrMemoryBudgetExceeded, size, m.limit-m.used, m.limit)
	}
	m.used += size
	m.peak = max(m.peak, m.used)
	return nil
}

// release returns size bytes to the budget.
func (m *MemoryBudget) release(size uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if size > m.used {
		slogger().Warn("memory budget: release underflow", "size", size, "used", m.used, "err", errBudgetUnderflow)
		m.used = 0
		return
	}
	m.used -= size
}
