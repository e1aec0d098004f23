// Package quota enforces per-key daily request limits. Counters live in
// UTC-day buckets; a key's count resets at UTC midnight and buckets older
// than seven days are purged lazily.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// retentionDays is how long stale buckets are kept before lazy purge.
const retentionDays = 7

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Count     int64
	Limit     int64
	// RetryAfter is the wait until the next UTC midnight when denied.
	RetryAfter time.Duration
}

// Store abstracts the counter backend. Implementations must make the
// check-and-increment a single atomic operation; a denied request must
// not consume quota.
type Store interface {
	Allow(ctx context.Context, keyID string, limit int64) (Decision, error)
}

// bucketKey identifies a key's counter for one UTC day.
func bucketKey(keyID string, day time.Time) string {
	return fmt.Sprintf("quota:%s:%s", keyID, day.UTC().Format("2006-01-02"))
}

// untilNextMidnight returns the duration until the next UTC midnight.
func untilNextMidnight(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}

// MemoryStore is the single-instance counter backend.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]*dayCounter
	clock     func() time.Time
	lastPurge time.Time
}

type dayCounter struct {
	count int64
	day   time.Time
}

// NewMemoryStore creates an in-memory store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*dayCounter),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// Allow performs the atomic check-and-increment for today's bucket.
func (s *MemoryStore) Allow(ctx context.Context, keyID string, limit int64) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	s.purgeLocked(now)

	key := bucketKey(keyID, now)
	c, ok := s.counters[key]
	if !ok {
		c = &dayCounter{day: now.Truncate(24 * time.Hour)}
		s.counters[key] = c
	}

	if c.count >= limit {
		return Decision{
			Allowed:    false,
			Count:      c.count,
			Limit:      limit,
			RetryAfter: untilNextMidnight(now),
		}, nil
	}

	c.count++
	return Decision{Allowed: true, Count: c.count, Limit: limit}, nil
}

// purgeLocked drops buckets older than the retention window. Runs at
// most once per hour.
func (s *MemoryStore) purgeLocked(now time.Time) {
	if now.Sub(s.lastPurge) < time.Hour {
		return
	}
	s.lastPurge = now
	cutoff := now.AddDate(0, 0, -retentionDays)
	for key, c := range s.counters {
		if c.day.Before(cutoff) {
			delete(s.counters, key)
		}
	}
}
