package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/weftlabs/weft/pkg/models"
)

func TestDelay_Fixed(t *testing.T) {
	policy := &models.RetryPolicy{Strategy: models.BackoffFixed, BaseDelayMs: 100}

	assert.Equal(t, time.Duration(0), Delay(policy, 1))
	assert.Equal(t, 100*time.Millisecond, Delay(policy, 2))
	assert.Equal(t, 100*time.Millisecond, Delay(policy, 5))
}

func TestDelay_Linear(t *testing.T) {
	policy := &models.RetryPolicy{Strategy: models.BackoffLinear, BaseDelayMs: 50}

	assert.Equal(t, 50*time.Millisecond, Delay(policy, 2))
	assert.Equal(t, 100*time.Millisecond, Delay(policy, 3))
	assert.Equal(t, 150*time.Millisecond, Delay(policy, 4))
}

func TestDelay_ExponentialCapped(t *testing.T) {
	policy := &models.RetryPolicy{
		Strategy:    models.BackoffExponential,
		BaseDelayMs: 100,
		MaxDelayMs:  1000,
	}

	assert.Equal(t, 100*time.Millisecond, Delay(policy, 2))
	assert.Equal(t, 200*time.Millisecond, Delay(policy, 3))
	assert.Equal(t, 400*time.Millisecond, Delay(policy, 4))
	assert.Equal(t, 800*time.Millisecond, Delay(policy, 5))
	assert.Equal(t, time.Second, Delay(policy, 6))
	assert.Equal(t, time.Second, Delay(policy, 20))
}

func TestDelay_NonDecreasingAndBounded(t *testing.T) {
	policy := &models.RetryPolicy{
		Strategy:    models.BackoffExponential,
		BaseDelayMs: 10,
		MaxDelayMs:  500,
	}

	previous := time.Duration(0)

	for attempt := 1; attempt <= 30; attempt++ {
		delay := Delay(policy, attempt)
		assert.GreaterOrEqual(t, delay, previous, "attempt %d", attempt)
		assert.LessOrEqual(t, delay, 500*time.Millisecond, "attempt %d", attempt)
		previous = delay
	}
}

func TestDelay_JitterWithinBounds(t *testing.T) {
	policy := &models.RetryPolicy{
		Strategy:    models.BackoffExponential,
		BaseDelayMs: 100,
		MaxDelayMs:  2000,
		Jitter:      true,
	}

	for attempt := 2; attempt <= 10; attempt++ {
		for range 50 {
			delay := Delay(policy, attempt)
			assert.GreaterOrEqual(t, delay, time.Duration(0))
			assert.LessOrEqual(t, delay, 2*time.Second)
		}
	}
}

func TestDelay_NilPolicy(t *testing.T) {
	assert.Equal(t, time.Duration(0), Delay(nil, 5))
}
