package models

import "fmt"

// ErrorCategory classifies execution failures for retry policy decisions.
type ErrorCategory string

const (
	ErrorCategoryTransient ErrorCategory = "TRANSIENT"
	ErrorCategoryPermanent ErrorCategory = "PERMANENT"
	ErrorCategoryResource  ErrorCategory = "RESOURCE"
	ErrorCategoryTimeout   ErrorCategory = "TIMEOUT"
	ErrorCategoryCancelled ErrorCategory = "CANCELLED"
	ErrorCategoryPlugin    ErrorCategory = "PLUGIN"
)

// Retryable reports whether failures in this category may be retried.
// TIMEOUT retryability is policy-dependent and decided by the caller.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case ErrorCategoryTransient, ErrorCategoryResource, ErrorCategoryTimeout, ErrorCategoryPlugin:
		return true
	default:
		return false
	}
}

// ExecutionError is a categorized failure surfaced by action or condition
// execution.
type ExecutionError struct {
	Category ErrorCategory
	Message  string
	Err      error
}

func NewExecutionError(category ErrorCategory, message string, err error) *ExecutionError {
	return &ExecutionError{Category: category, Message: message, Err: err}
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
