// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Provider errors. These must stay distinguishable: the batcher's
	// per-run circuit breaker keys off timeouts and rate limits.
	ErrProviderTimeout    = errors.New("provider call timed out")
	ErrNoObjectGenerated  = errors.New("provider returned no usable object")
	ErrUnparsableResponse = errors.New("response unparsable after repair")

	// Job lifecycle errors.
	ErrJobAlreadyRunning = errors.New("job already running")
	ErrInvalidJobState   = errors.New("job is not in a startable state")

	// Configuration errors.
	ErrServiceDisabled = errors.New("ai service disabled")
	ErrNoProviders     = errors.New("no enabled providers configured")
	ErrMissingConfig   = errors.New("missing configuration")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderTimeout) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

// IsConfigError reports whether the error is a systemic configuration
// failure that should short-circuit a run with empty results.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrServiceDisabled) ||
		errors.Is(err, ErrNoProviders) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrInvalidConfig)
}
