package models

// BackoffStrategy selects how the retry delay grows between attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy configures per-node retry behavior.
type RetryPolicy struct {
	MaxAttempts int             `json:"max_attempts"            validate:"omitempty,min=1"`
	Strategy    BackoffStrategy `json:"strategy"                validate:"omitempty,oneof=fixed linear exponential"`
	BaseDelayMs int64           `json:"base_delay_ms,omitempty"`
	MaxDelayMs  int64           `json:"max_delay_ms,omitempty"`
	Jitter      bool            `json:"jitter,omitempty"`
}

// DefaultRetryPolicy applies when a node declares none.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 1,
		Strategy:    BackoffFixed,
		BaseDelayMs: 0,
		MaxDelayMs:  0,
	}
}
