// Package resilience wraps action execution with retry backoff, per-target
// circuit breaking, and per-action-type rate limiting.
package resilience

import (
	"math/rand/v2"
	"time"

	"github.com/weftlabs/weft/pkg/models"
)

const defaultMaxDelay = 5 * time.Minute

// Delay computes the wait before the given retry attempt (1-based). The
// result is always capped at the policy's max delay; with jitter enabled a
// full-jitter draw in [0, delay] is returned.
func Delay(policy *models.RetryPolicy, attempt int) time.Duration {
	if policy == nil || attempt <= 1 {
		return 0
	}

	base := time.Duration(policy.BaseDelayMs) * time.Millisecond

	var delay time.Duration

	switch policy.Strategy {
	case models.BackoffLinear:
		delay = base * time.Duration(attempt-1)
	case models.BackoffExponential:
		delay = base
		for i := 1; i < attempt-1; i++ {
			delay *= 2
			if delay > maxDelay(policy) {
				break
			}
		}
	default: // fixed
		delay = base
	}

	if capped := maxDelay(policy); delay > capped {
		delay = capped
	}

	if policy.Jitter && delay > 0 {
		delay = time.Duration(rand.Int64N(int64(delay) + 1))
	}

	return delay
}

func maxDelay(policy *models.RetryPolicy) time.Duration {
	if policy.MaxDelayMs > 0 {
		return time.Duration(policy.MaxDelayMs) * time.Millisecond
	}

	return defaultMaxDelay
}
