package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrNoActiveSession     = errors.New("no active session")
	ErrActiveSessionExists = errors.New("active session already exists")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrStreamTerminated    = errors.New("stream terminated")
)

// CallError reports a failed request to the dispatch server. No local state
// is changed when one is returned.
type CallError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *CallError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Invariant builds an error wrapping ErrInvariantViolation.
func Invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
