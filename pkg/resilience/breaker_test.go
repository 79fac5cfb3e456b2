package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreakerSet(threshold int, cooldown time.Duration) (*BreakerSet, *time.Time) {
	now := time.Now()
	set := NewBreakerSet(BreakerConfig{
		FailureThreshold: threshold,
		RollingWindow:    time.Minute,
		Cooldown:         cooldown,
	})
	set.now = func() time.Time { return now }

	return set, &now
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	set, _ := newTestBreakerSet(3, 30*time.Second)

	require.NoError(t, set.Allow("api.example.com"))
	assert.Equal(t, BreakerClosed, set.State("api.example.com"))

	set.RecordFailure("api.example.com")
	set.RecordFailure("api.example.com")
	assert.Equal(t, BreakerClosed, set.State("api.example.com"))

	set.RecordFailure("api.example.com")
	assert.Equal(t, BreakerOpen, set.State("api.example.com"))
	assert.ErrorIs(t, set.Allow("api.example.com"), ErrCircuitOpen)
}

func TestBreaker_TargetsAreIsolated(t *testing.T) {
	set, _ := newTestBreakerSet(1, 30*time.Second)

	set.RecordFailure("bad.example.com")
	assert.ErrorIs(t, set.Allow("bad.example.com"), ErrCircuitOpen)
	assert.NoError(t, set.Allow("good.example.com"))
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	set, now := newTestBreakerSet(1, 10*time.Second)

	set.RecordFailure("api.example.com")
	require.ErrorIs(t, set.Allow("api.example.com"), ErrCircuitOpen)

	*now = now.Add(11 * time.Second)

	// First caller after cooldown gets the probe slot.
	require.NoError(t, set.Allow("api.example.com"))
	assert.Equal(t, BreakerHalfOpen, set.State("api.example.com"))

	// Concurrent callers are rejected while the probe is in flight.
	assert.ErrorIs(t, set.Allow("api.example.com"), ErrCircuitOpen)

	set.RecordSuccess("api.example.com")
	assert.Equal(t, BreakerClosed, set.State("api.example.com"))
	assert.NoError(t, set.Allow("api.example.com"))
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	set, now := newTestBreakerSet(1, 10*time.Second)

	set.RecordFailure("api.example.com")
	*now = now.Add(11 * time.Second)
	require.NoError(t, set.Allow("api.example.com"))

	set.RecordFailure("api.example.com")
	assert.Equal(t, BreakerOpen, set.State("api.example.com"))
	assert.ErrorIs(t, set.Allow("api.example.com"), ErrCircuitOpen)
}

func TestBreaker_WindowResetsFailureCount(t *testing.T) {
	set, now := newTestBreakerSet(3, 30*time.Second)

	set.RecordFailure("api.example.com")
	set.RecordFailure("api.example.com")

	// Window rolls over; stale failures no longer count.
	*now = now.Add(2 * time.Minute)

	set.RecordFailure("api.example.com")
	assert.Equal(t, BreakerClosed, set.State("api.example.com"))
}
