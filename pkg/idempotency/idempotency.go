// Package idempotency deduplicates retried client calls. Records are
// keyed by (brick, idempotencyKey); a hit replays the stored envelope
// byte-for-byte without invoking the handler or consuming quota, and
// concurrent duplicates collapse into exactly one handler invocation.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Record is one stored envelope. Write-once: after the first writer
// stores it, the record never changes until TTL expiry.
type Record struct {
	Brick string
	Key   string
	// ParamsHash is the canonical JSON fingerprint of the params the
	// first caller sent under this key.
	ParamsHash  string
	StatusCode  int
	Envelope    []byte
	FirstSeenAt time.Time
}

// Store abstracts the record backend. Put must be first-writer-wins: a
// concurrent duplicate Put for the same (brick, key) must not replace
// an existing record.
type Store interface {
	Get(ctx context.Context, brick, key string) (*Record, bool, error)
	Put(ctx context.Context, rec *Record) error
}

// MemoryStore is the single-instance record backend with TTL expiry.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	ttl     time.Duration
	clock   func() time.Time
}

// NewMemoryStore creates an in-memory store. A background sweep removes
// expired records every five minutes.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*Record),
		ttl:     ttl,
		clock:   time.Now,
	}
	go s.sweep()
	return s
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func recordKey(brick, key string) string {
	return brick + "\x00" + key
}

// Get returns the record if present and unexpired.
func (s *MemoryStore) Get(ctx context.Context, brick, key string) (*Record, bool, error) {
	s.mu.RLock()
	rec, ok := s.records[recordKey(brick, key)]
	s.mu.RUnlock()
	if !ok || s.clock().Sub(rec.FirstSeenAt) > s.ttl {
		return nil, false, nil
	}
	return rec, true, nil
}

// Put stores the record unless one already exists (first-writer-wins).
func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	k := recordKey(rec.Brick, rec.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[k]; ok && s.clock().Sub(existing.FirstSeenAt) <= s.ttl {
		return nil
	}
	s.records[k] = rec
	return nil
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := s.clock()
		s.mu.Lock()
		for k, rec := range s.records {
			if now.Sub(rec.FirstSeenAt) > s.ttl {
				delete(s.records, k)
			}
		}
		s.mu.Unlock()
	}
}
