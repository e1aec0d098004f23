package reliability

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/brickfoundry/gateway/pkg/api"
)

// Policy configures retry and breaker behavior for all dependencies.
type Policy struct {
	// MaxAttempts bounds tries per call, first attempt included.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// BreakerThreshold is the consecutive failure count that opens a
	// dependency's circuit.
	BreakerThreshold int
	// BreakerCooldown is how long an open circuit rejects calls before
	// admitting a half-open trial.
	BreakerCooldown time.Duration
}

// DefaultPolicy mirrors the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		BaseDelay:        100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  60 * time.Second,
	}
}

// jitterFrac is the maximum fraction of a backoff delay added as jitter.
const jitterFrac = 0.10

// MetricsRecorder receives reliability events for instrumentation.
// observability.Provider satisfies it.
type MetricsRecorder interface {
	RecordRetry(ctx context.Context, dep string)
	RecordBreakerOpen(ctx context.Context, dep string)
}

// Executor runs outbound dependency calls under the reliability policy.
// One breaker exists per dependency name, shared across all callers; an
// optional Budget per dependency short-circuits metered calls.
type Executor struct {
	policy  Policy
	logger  *slog.Logger
	metrics MetricsRecorder

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	budgets  map[string]*Budget

	// sleep is injectable so tests never wait on real backoff.
	sleep func(ctx context.Context, d time.Duration) error
	randF func() float64
}

// NewExecutor creates an executor with the given policy.
func NewExecutor(policy Policy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		policy:   policy,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
		budgets:  make(map[string]*Budget),
		sleep:    sleepCtx,
		randF:    rand.Float64,
	}
}

// WithMetrics attaches a recorder for retry and breaker-open events.
func (e *Executor) WithMetrics(m MetricsRecorder) *Executor {
	e.metrics = m
	return e
}

// SetBudget attaches a metered daily budget to a dependency. Calls to
// that dependency fail with QUOTA_EXCEEDED once the budget is spent.
func (e *Executor) SetBudget(dep string, budget *Budget) {
	e.mu.Lock()
	e.budgets[dep] = budget
	e.mu.Unlock()
}

// Breaker returns the dependency's breaker, creating it on first use.
func (e *Executor) Breaker(dep string) *CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	cb, ok := e.breakers[dep]
	if !ok {
		cb = NewCircuitBreaker(e.policy.BreakerThreshold, e.policy.BreakerCooldown)
		e.breakers[dep] = cb
	}
	return cb
}

// Do executes fn under the reliability policy: breaker gate, budget
// gate, then up to MaxAttempts tries with exponential backoff and up to
// 10% jitter for retryable failures. The breaker records one outcome
// per call, not per attempt. A breaker rejection never spends budget;
// the call did no metered work.
func (e *Executor) Do(ctx context.Context, dep string, fn func(ctx context.Context) (any, error)) (any, error) {
	cb := e.Breaker(dep)
	if !cb.Allow() {
		return nil, api.NewError(api.CodeDependencyUnavailable, dep+" circuit is open")
	}

	e.mu.Lock()
	budget := e.budgets[dep]
	e.mu.Unlock()
	if budget != nil && !budget.Spend(1) {
		return nil, api.NewError(api.CodeQuotaExceeded, dep+" daily budget exhausted")
	}

	var lastErr error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoff(attempt-1)); err != nil {
				// The overall deadline elapsed while backing off; do
				// not retry further.
				e.recordFailure(ctx, dep, cb)
				return nil, api.NewError(api.CodeTimeout, dep+" call timed out")
			}
		}

		result, err := fn(ctx)
		if err == nil {
			cb.RecordSuccess()
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			// Non-retryable failures keep their own typed code;
			// unknown errors collapse into INTERNAL rather than a
			// retryable dependency code.
			e.recordFailure(ctx, dep, cb)
			return nil, api.AsError(err)
		}
		e.logger.Warn("dependency call failed, retrying",
			"dependency", dep,
			"attempt", attempt+1,
			"max_attempts", e.policy.MaxAttempts,
			"error", err)
		if e.metrics != nil && attempt+1 < e.policy.MaxAttempts {
			e.metrics.RecordRetry(ctx, dep)
		}
	}

	e.recordFailure(ctx, dep, cb)
	return nil, asDependencyError(dep, lastErr)
}

// recordFailure feeds the breaker and reports an open transition.
func (e *Executor) recordFailure(ctx context.Context, dep string, cb *CircuitBreaker) {
	if cb.RecordFailure() && e.metrics != nil {
		e.metrics.RecordBreakerOpen(ctx, dep)
	}
}

// backoff returns min(BaseDelay * 2^attempt, MaxDelay) plus jitter.
func (e *Executor) backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := e.policy.BaseDelay << uint(attempt)
	if delay <= 0 || delay > e.policy.MaxDelay {
		delay = e.policy.MaxDelay
	}
	jitter := time.Duration(float64(delay) * jitterFrac * e.randF())
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
