package reliability

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickfoundry/gateway/pkg/api"
)

// newTestExecutor disables real sleeping and jitter randomness.
func newTestExecutor(policy Policy) (*Executor, *[]time.Duration) {
	e := NewExecutor(policy, nil)
	slept := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	e.randF = func() float64 { return 0 }
	return e, slept
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	e, slept := newTestExecutor(DefaultPolicy())

	calls := 0
	result, err := e.Do(context.Background(), "dep", func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	e, slept := newTestExecutor(DefaultPolicy())

	calls := 0
	result, err := e.Do(context.Background(), "dep", func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, syscall.ECONNRESET
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
	// Exponential backoff without jitter: base, 2*base.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestDoExhaustsAttempts(t *testing.T) {
	e, _ := newTestExecutor(DefaultPolicy())

	calls := 0
	_, err := e.Do(context.Background(), "dep", func(ctx context.Context) (any, error) {
		calls++
		return nil, api.NewError(api.CodeUpstream5xx, "upstream exploded")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeUpstream5xx, apiErr.Code)
	assert.True(t, apiErr.Retryable)
}

func TestDoDoesNotRetryNonRetryable(t *testing.T) {
	e, slept := newTestExecutor(DefaultPolicy())

	calls := 0
	_, err := e.Do(context.Background(), "dep", func(ctx context.Context) (any, error) {
		calls++
		return nil, api.NewError(api.CodeValidationFailed, "bad request upstream")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeValidationFailed, apiErr.Code)
}

func TestDoUnknownErrorBecomesInternal(t *testing.T) {
	e, _ := newTestExecutor(DefaultPolicy())

	_, err := e.Do(context.Background(), "dep", func(ctx context.Context) (any, error) {
		return nil, errors.New("something odd")
	})
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeInternal, apiErr.Code)
	assert.False(t, apiErr.Retryable)
}

func TestDoBreakerOpensAfterConsecutiveCallFailures(t *testing.T) {
	policy := DefaultPolicy()
	policy.BreakerThreshold = 2
	e, _ := newTestExecutor(policy)

	fail := func(ctx context.Context) (any, error) {
		return nil, api.NewError(api.CodeUpstream5xx, "down")
	}

	// Each call exhausts its retries and counts once against the breaker.
	_, err := e.Do(context.Background(), "dep", fail)
	require.Error(t, err)
	assert.Equal(t, StateClosed, e.Breaker("dep").State())

	_, err = e.Do(context.Background(), "dep", fail)
	require.Error(t, err)
	assert.Equal(t, StateOpen, e.Breaker("dep").State())

	// Fast fail while open; the handler is never invoked.
	calls := 0
	_, err = e.Do(context.Background(), "dep", func(ctx context.Context) (any, error) {
		calls++
		return nil, nil
	})
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeDependencyUnavailable, apiErr.Code)
	assert.Equal(t, 0, calls)
}

func TestDoBreakersAreIndependentPerDependency(t *testing.T) {
	policy := DefaultPolicy()
	policy.BreakerThreshold = 1
	e, _ := newTestExecutor(policy)

	_, err := e.Do(context.Background(), "down-dep", func(ctx context.Context) (any, error) {
		return nil, api.NewError(api.CodeUpstream5xx, "down")
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, e.Breaker("down-dep").State())

	result, err := e.Do(context.Background(), "healthy-dep", func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestDoBudgetShortCircuits(t *testing.T) {
	e, _ := newTestExecutor(DefaultPolicy())
	e.SetBudget("metered", NewBudget(2))

	calls := 0
	run := func() error {
		_, err := e.Do(context.Background(), "metered", func(ctx context.Context) (any, error) {
			calls++
			return "ok", nil
		})
		return err
	}

	require.NoError(t, run())
	require.NoError(t, run())

	err := run()
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeQuotaExceeded, apiErr.Code)
	assert.Equal(t, 2, calls)
}

// countingRecorder tallies reliability events by dependency.
type countingRecorder struct {
	retries  map[string]int
	openings map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{retries: map[string]int{}, openings: map[string]int{}}
}

func (r *countingRecorder) RecordRetry(ctx context.Context, dep string)       { r.retries[dep]++ }
func (r *countingRecorder) RecordBreakerOpen(ctx context.Context, dep string) { r.openings[dep]++ }

func TestDoRecordsRetryAndBreakerOpenMetrics(t *testing.T) {
	policy := DefaultPolicy()
	policy.BreakerThreshold = 2
	e, _ := newTestExecutor(policy)
	rec := newCountingRecorder()
	e.WithMetrics(rec)

	fail := func(ctx context.Context) (any, error) {
		return nil, api.NewError(api.CodeUpstream5xx, "down")
	}

	_, err := e.Do(context.Background(), "dep", fail)
	require.Error(t, err)
	// Two retries per exhausted three-attempt call, breaker still closed.
	assert.Equal(t, 2, rec.retries["dep"])
	assert.Equal(t, 0, rec.openings["dep"])

	_, err = e.Do(context.Background(), "dep", fail)
	require.Error(t, err)
	assert.Equal(t, 4, rec.retries["dep"])
	assert.Equal(t, 1, rec.openings["dep"])

	// Fast fails while open record nothing further.
	_, err = e.Do(context.Background(), "dep", fail)
	require.Error(t, err)
	assert.Equal(t, 4, rec.retries["dep"])
	assert.Equal(t, 1, rec.openings["dep"])
}

func TestDoOpenBreakerDoesNotSpendBudget(t *testing.T) {
	policy := DefaultPolicy()
	policy.BreakerThreshold = 1
	e, _ := newTestExecutor(policy)
	e.SetBudget("metered", NewBudget(5))

	_, err := e.Do(context.Background(), "metered", func(ctx context.Context) (any, error) {
		return nil, api.NewError(api.CodeUpstream5xx, "down")
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, e.Breaker("metered").State())
	require.Equal(t, int64(4), e.budgets["metered"].Remaining())

	// Rejected calls did no metered work and must not be charged.
	for i := 0; i < 3; i++ {
		_, err = e.Do(context.Background(), "metered", func(ctx context.Context) (any, error) {
			return "ok", nil
		})
		var apiErr *api.Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, api.CodeDependencyUnavailable, apiErr.Code)
	}
	assert.Equal(t, int64(4), e.budgets["metered"].Remaining())
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	e, _ := newTestExecutor(policy)

	assert.Equal(t, time.Second, e.backoff(0))
	assert.Equal(t, 2*time.Second, e.backoff(1))
	assert.Equal(t, 3*time.Second, e.backoff(2))
	assert.Equal(t, 3*time.Second, e.backoff(10))
}

func TestBackoffJitterStaysWithinTenPercent(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	e := NewExecutor(policy, nil)

	for i := 0; i < 500; i++ {
		d := e.backoff(1)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 2200*time.Millisecond)
	}
}

func TestBudgetRollsOverAtUTCMidnight(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	b := NewBudget(1).WithClock(func() time.Time { return now })

	require.True(t, b.Spend(1))
	require.False(t, b.Spend(1))
	assert.Equal(t, int64(0), b.Remaining())

	now = time.Date(2026, 3, 2, 0, 0, 1, 0, time.UTC)
	assert.True(t, b.Spend(1))
}

func TestIsRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(syscall.ECONNRESET))
	assert.True(t, IsRetryable(syscall.ECONNREFUSED))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(api.NewError(api.CodeRateLimited, "slow down")))
	assert.True(t, IsRetryable(api.NewError(api.CodeUpstream5xx, "boom")))
	assert.True(t, IsRetryable(api.NewError(api.CodeTimeout, "deadline")))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(api.NewError(api.CodeValidationFailed, "bad input")))
	assert.False(t, IsRetryable(api.NewError(api.CodeSignatureMismatch, "nope")))
}
