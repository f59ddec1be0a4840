package utils

import (
	"errors"
	"fmt"
)

// Recoverable sentinels: callers log and skip the affected edge or array
// mutation, the surrounding transaction continues.
var (
	ErrTripNotFound  = errors.New("trip not found")
	ErrGroupNotFound = errors.New("trip group not found")
	ErrUserNotFound  = errors.New("user not found")

	// ErrStaleElement means an array element expected for update or removal
	// was no longer present, typically after a concurrent edit.
	ErrStaleElement = errors.New("stale array element not found")
)

// PreconditionError is fatal: it aborts the whole transaction and propagates
// to the triggering framework. No partial writes commit.
type PreconditionError struct {
	Op     string
	Detail string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed in %s: %s", e.Op, e.Detail)
}

func NewPreconditionError(op, format string, args ...interface{}) error {
	return &PreconditionError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// IsRecoverable reports whether the error may be logged and skipped without
// aborting the transaction.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrTripNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrStaleElement)
}
