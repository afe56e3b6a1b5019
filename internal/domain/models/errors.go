package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest rejects malformed client input synchronously; no
	// task record is created.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound means the task id is unknown or its record expired.
	ErrNotFound = errors.New("task not found")

	// ErrTerminalState means a write attempted to overwrite a terminal
	// sub-task state. Callers treat it as "already done" under redelivery.
	ErrTerminalState = errors.New("sub-task already in terminal state")
)

// TransientError marks a provider failure worth retrying (rate limits,
// upstream timeouts). The harness retries up to its attempt budget.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// FatalError marks a provider failure that retrying cannot fix
// (unknown symbol, malformed provider response).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as non-retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}
