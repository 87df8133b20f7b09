// Package retry runs idempotent store operations with bounded exponential
// backoff. Only errors marked transient by a store backend are retried.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	Attempts int           // total attempts, including the first
	Initial  time.Duration // first backoff interval
	Max      time.Duration // cap on any single interval
}

// DefaultPolicy is three attempts starting at 50ms.
var DefaultPolicy = Policy{Attempts: 3, Initial: 50 * time.Millisecond, Max: time.Second}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient flags err as safe to retry. A nil err stays nil.
func MarkTransient(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Do calls op until it succeeds, returns a non-transient error, the attempt
// budget is spent, or ctx is done. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		eb.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		eb.MaxInterval = p.Max
	}
	eb.MaxElapsedTime = 0 // bounded by attempts and ctx instead

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.Attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
