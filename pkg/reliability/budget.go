package reliability

import (
	"sync"
	"time"
)

// Budget tracks local daily usage for a metered dependency (e.g. an AI
// summarization call with a paid per-day quota). Usage resets at UTC
// midnight. Spend is the gate: once the budget is spent, callers are
// short-circuited before any I/O is attempted.
type Budget struct {
	mu    sync.Mutex
	limit int64
	used  int64
	day   time.Time
	clock func() time.Time
}

// NewBudget creates a budget allowing limit units per UTC day.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (b *Budget) WithClock(clock func() time.Time) *Budget {
	b.clock = clock
	return b
}

// Spend consumes n units if the budget allows it. Returns false without
// consuming anything once the day's budget is spent.
func (b *Budget) Spend(n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollLocked()
	if b.used+n > b.limit {
		return false
	}
	b.used += n
	return true
}

// Remaining reports the unspent units for the current UTC day.
func (b *Budget) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	return b.limit - b.used
}

func (b *Budget) rollLocked() {
	today := b.clock().UTC().Truncate(24 * time.Hour)
	if !today.Equal(b.day) {
		b.day = today
		b.used = 0
	}
}
