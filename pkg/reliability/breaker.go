// Package reliability wraps every outbound dependency call with retry,
// exponential backoff with jitter, a per-dependency circuit breaker, and
// optional metered daily budgets.
package reliability

import (
	"sync/atomic"
	"time"
)

// CircuitState is the breaker state machine position.
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive failures for one dependency. All
// transitions are lock-free; concurrent callers share the same instance.
//
// Legal transitions: Closed→Open (threshold consecutive failures),
// Open→HalfOpen (cooldown elapsed, exactly one winner), HalfOpen→Closed
// (trial success), HalfOpen→Open (trial failure).
type CircuitBreaker struct {
	threshold int64
	cooldown  time.Duration

	state    int64
	failures int64
	openedAt int64 // unix nanos of the transition into Open

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &CircuitBreaker{
		threshold: int64(threshold),
		cooldown:  cooldown,
		state:     int64(StateClosed),
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns false
// without any I/O; once the cooldown elapses exactly one caller wins the
// CAS into half-open and gets the trial call. Everyone else keeps
// failing fast until the trial resolves.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		return true
	case StateOpen:
		openedAt := atomic.LoadInt64(&cb.openedAt)
		if cb.now().UnixNano()-openedAt < int64(cb.cooldown) {
			return false
		}
		return atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen))
	case StateHalfOpen:
		// The trial slot is already taken.
		return false
	default:
		return false
	}
}

// RecordSuccess resets the consecutive failure count; a half-open trial
// success closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	atomic.StoreInt64(&cb.failures, 0)
	atomic.CompareAndSwapInt64(&cb.state, int64(StateHalfOpen), int64(StateClosed))
}

// RecordFailure counts a call-level failure and reports whether it
// opened the breaker. Reaching the threshold in closed state, or failing
// the half-open trial, opens the breaker and restarts the cooldown.
func (cb *CircuitBreaker) RecordFailure() bool {
	now := cb.now().UnixNano()
	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		if atomic.AddInt64(&cb.failures, 1) >= cb.threshold {
			atomic.StoreInt64(&cb.openedAt, now)
			return atomic.CompareAndSwapInt64(&cb.state, int64(StateClosed), int64(StateOpen))
		}
	case StateHalfOpen:
		atomic.StoreInt64(&cb.openedAt, now)
		return atomic.CompareAndSwapInt64(&cb.state, int64(StateHalfOpen), int64(StateOpen))
	case StateOpen:
		// Already open; nothing to record.
	}
	return false
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}
