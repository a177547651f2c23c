// Package backoff provides bounded retries with exponential backoff.
package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidMaxAttempts indicates Retry was called with a non-positive attempt count.
var ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

// Permanent wraps err to mark it non-retryable. Retry stops immediately when
// an operation returns a permanent error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err (or anything it wraps) was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry runs operation up to maxAttempts times, sleeping baseDelay, 2*baseDelay,
// 4*baseDelay, ... between attempts. It stops early on success, on a permanent
// error, or when ctx is done, and returns the last error observed.
func Retry(ctx context.Context, operation func() error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) || attempt == maxAttempts {
			return lastErr
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}
