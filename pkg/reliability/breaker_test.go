package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestBreakerReportsOpenTransitionExactlyOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.RecordFailure())
	// Further failures while open are not new transitions.
	assert.False(t, cb.RecordFailure())

	// A failed half-open trial is a fresh open transition.
	now = now.Add(61 * time.Second)
	require.True(t, cb.Allow())
	assert.True(t, cb.RecordFailure())
}

func TestBreakerSuccessResetsConsecutiveCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	// Failures were never consecutive past the threshold.
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.Allow())

	// Cooldown elapses: exactly one caller wins the trial slot.
	now = now.Add(61 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow())
	assert.False(t, cb.Allow())
}

func TestBreakerTrialSuccessCloses(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(61 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(61 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	// The cooldown restarted at the trial failure, not the first open.
	now = now.Add(59 * time.Second)
	assert.False(t, cb.Allow())
	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())
}
