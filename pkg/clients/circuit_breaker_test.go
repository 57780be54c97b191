package clients

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestBreaker(t *testing.T, clock Clock) *CircuitBreaker {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}, zaptest.NewLogger(t))
	cb.clock = clock
	return cb
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, StateClosed, cb.State())

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.Error(t, cb.Allow())
}

func TestBreakerProbesAfterCooldownAndCloses(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(31 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	// Only one probe at a time.
	assert.Error(t, cb.Allow())

	cb.RecordSuccess()
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(31 * time.Second)
	require.NoError(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.Error(t, cb.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
}
