package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_UnconfiguredTypeIsUnlimited(t *testing.T) {
	limiter := NewRateLimiter()

	for range 100 {
		assert.True(t, limiter.Allow("anything"))
	}
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	now := time.Now()
	limiter := NewRateLimiter()
	limiter.now = func() time.Time { return now }

	limiter.SetLimit("http_request", 1, 2)

	assert.True(t, limiter.Allow("http_request"))
	assert.True(t, limiter.Allow("http_request"))
	assert.False(t, limiter.Allow("http_request"))

	// One second refills one token at rate 1/s.
	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("http_request"))
	assert.False(t, limiter.Allow("http_request"))
}

func TestRateLimiter_RefillCapsAtBurst(t *testing.T) {
	now := time.Now()
	limiter := NewRateLimiter()
	limiter.now = func() time.Time { return now }

	limiter.SetLimit("transform", 10, 3)

	now = now.Add(time.Minute)

	for range 3 {
		assert.True(t, limiter.Allow("transform"))
	}

	assert.False(t, limiter.Allow("transform"))
}

func TestRateLimiter_TypesAreIndependent(t *testing.T) {
	limiter := NewRateLimiter()
	limiter.SetLimit("limited", 1, 1)

	assert.True(t, limiter.Allow("limited"))
	assert.False(t, limiter.Allow("limited"))
	assert.True(t, limiter.Allow("other"))
}
