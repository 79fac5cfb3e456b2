package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

const (
	defaultFailureThreshold = 5
	defaultRollingWindow    = time.Minute
	defaultCooldown         = 30 * time.Second
)

// BreakerConfig tunes a breaker set. Zero values fall back to defaults.
type BreakerConfig struct {
	FailureThreshold int
	RollingWindow    time.Duration
	Cooldown         time.Duration
}

type breaker struct {
	state         BreakerState
	failures      int
	windowStart   time.Time
	openedAt      time.Time
	probeInFlight bool
}

// BreakerSet keys circuit breakers by execution target (e.g. hostname).
// State is intentionally per-process and does not survive a restart.
type BreakerSet struct {
	mu       sync.Mutex
	config   BreakerConfig
	breakers map[string]*breaker
	now      func() time.Time
}

func NewBreakerSet(config BreakerConfig) *BreakerSet {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaultFailureThreshold
	}

	if config.RollingWindow <= 0 {
		config.RollingWindow = defaultRollingWindow
	}

	if config.Cooldown <= 0 {
		config.Cooldown = defaultCooldown
	}

	return &BreakerSet{
		config:   config,
		breakers: make(map[string]*breaker),
		now:      time.Now,
	}
}

// Allow reports whether a call to the target may proceed. In half-open state
// only a single probe request is admitted until it reports an outcome.
func (s *BreakerSet) Allow(target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(target)

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if s.now().Sub(b.openedAt) >= s.config.Cooldown {
			b.state = BreakerHalfOpen
			b.probeInFlight = true

			return nil
		}

		return fmt.Errorf("%w: target %q", ErrCircuitOpen, target)
	case BreakerHalfOpen:
		if b.probeInFlight {
			return fmt.Errorf("%w: target %q (probe in flight)", ErrCircuitOpen, target)
		}

		b.probeInFlight = true

		return nil
	}

	return nil
}

// RecordSuccess closes the breaker for the target.
func (s *BreakerSet) RecordSuccess(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(target)
	b.state = BreakerClosed
	b.failures = 0
	b.probeInFlight = false
}

// RecordFailure counts a failure within the rolling window; crossing the
// threshold opens the breaker. A failed half-open probe reopens immediately.
func (s *BreakerSet) RecordFailure(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(target)
	now := s.now()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = now
		b.probeInFlight = false

		return
	}

	if now.Sub(b.windowStart) > s.config.RollingWindow {
		b.windowStart = now
		b.failures = 0
	}

	b.failures++

	if b.failures >= s.config.FailureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
	}
}

// State returns the current state for a target.
func (s *BreakerSet) State(target string) BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.get(target).state
}

func (s *BreakerSet) get(target string) *breaker {
	b, ok := s.breakers[target]
	if !ok {
		b = &breaker{state: BreakerClosed, windowStart: s.now()}
		s.breakers[target] = b
	}

	return b
}
