package resilience

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket keyed by action type. A zero rate means the
// action type is unlimited.
type RateLimiter struct {
	mu      sync.Mutex
	rates   map[string]float64 // tokens per second
	burst   map[string]float64
	tokens  map[string]float64
	updated map[string]time.Time
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		rates:   make(map[string]float64),
		burst:   make(map[string]float64),
		tokens:  make(map[string]float64),
		updated: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetLimit configures the per-second rate and burst size for an action type.
func (l *RateLimiter) SetLimit(actionType string, perSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rates[actionType] = perSecond
	l.burst[actionType] = float64(burst)
	l.tokens[actionType] = float64(burst)
	l.updated[actionType] = l.now()
}

// Allow consumes one token for the action type, reporting false when the
// bucket is empty.
func (l *RateLimiter) Allow(actionType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rate, ok := l.rates[actionType]
	if !ok || rate <= 0 {
		return true
	}

	now := l.now()
	elapsed := now.Sub(l.updated[actionType]).Seconds()
	l.updated[actionType] = now

	tokens := l.tokens[actionType] + elapsed*rate
	if max := l.burst[actionType]; tokens > max {
		tokens = max
	}

	if tokens < 1 {
		l.tokens[actionType] = tokens

		return false
	}

	l.tokens[actionType] = tokens - 1

	return true
}
