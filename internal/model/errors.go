package model

import (
	"errors"
	"fmt"
)

// ─── Sentinel errors ─────────────────────────────────────────────────────────

// ErrNotFound is returned when an opportunity (or a row keyed on it) is missing.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized is returned when a mutating call carries no authenticated user.
var ErrUnauthorized = errors.New("authentication required")

// ErrForbidden is returned when the caller is authenticated but not allowed
// to perform the operation (not the owner, no NDA on record).
var ErrForbidden = errors.New("forbidden")

// ValidationError wraps a user-facing validation message. It is always
// returned before any mutation is attempted.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// Invalid builds a ValidationError from a format string.
func Invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TamperError reports a fingerprint that no longer matches its content.
type TamperError struct {
	OpportunityID int64
	Version       int
	Expected      string
	Actual        string
	Reason        string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("tamper detected on opportunity %d v%d: %s", e.OpportunityID, e.Version, e.Reason)
}
