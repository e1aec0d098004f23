package idempotency

import (
	"context"
	"sync"
	"time"
)

// Flight is an in-progress call shared by concurrent duplicates.
type Flight struct {
	done       chan struct{}
	statusCode int
	envelope   []byte
}

// Cache combines a Store with in-flight call coalescing. Concurrent
// requests sharing (brick, key) result in exactly one handler
// invocation: the first caller owns the flight, later callers block on
// its outcome and receive the identical envelope bytes.
type Cache struct {
	store Store
	ttl   time.Duration
	clock func() time.Time

	mu      sync.Mutex
	flights map[string]*Flight
}

// NewCache wraps a store with single-flight coalescing.
func NewCache(store Store, ttl time.Duration) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		clock:   time.Now,
		flights: make(map[string]*Flight),
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	return c
}

// Lookup returns a stored envelope for replay, if one exists.
func (c *Cache) Lookup(ctx context.Context, brick, key string) (*Record, bool, error) {
	return c.store.Get(ctx, brick, key)
}

// Begin claims the flight for (brick, key). The first caller becomes the
// owner (owner=true) and must call Complete exactly once; later callers
// get owner=false and should Wait on the returned flight.
func (c *Cache) Begin(brick, key string) (*Flight, bool) {
	k := recordKey(brick, key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[k]; ok {
		return f, false
	}
	f := &Flight{done: make(chan struct{})}
	c.flights[k] = f
	return f, true
}

// Complete publishes the owner's result to all waiters and, when the
// envelope represents success, persists it (first-writer-wins). The
// record is persisted while the flight entry is still registered: a
// duplicate arriving mid-completion either joins the flight or, once the
// flight is gone, finds the stored record. There is no window in which
// it could become a second owner and re-invoke the handler.
func (c *Cache) Complete(ctx context.Context, brick, key, paramsHash string, statusCode int, envelope []byte, storeIt bool) {
	k := recordKey(brick, key)
	c.mu.Lock()
	f, ok := c.flights[k]
	c.mu.Unlock()
	if !ok {
		return
	}

	if storeIt {
		_ = c.store.Put(ctx, &Record{
			Brick:       brick,
			Key:         key,
			ParamsHash:  paramsHash,
			StatusCode:  statusCode,
			Envelope:    envelope,
			FirstSeenAt: c.clock(),
		})
	}

	f.statusCode = statusCode
	f.envelope = envelope

	c.mu.Lock()
	_, live := c.flights[k]
	if live {
		delete(c.flights, k)
	}
	c.mu.Unlock()
	if live {
		close(f.done)
	}
}

// Wait blocks until the flight owner completes or the context expires.
func (f *Flight) Wait(ctx context.Context) (int, []byte, error) {
	select {
	case <-f.done:
		return f.statusCode, f.envelope, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}
