// Package embedding provides text embedding providers, caching, and retries.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Error is an embedding provider failure. Transient errors may be retried;
// permanent ones surface to the caller as a degraded result.
type Error struct {
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Transient {
		return fmt.Sprintf("embedding (transient): %v", e.Err)
	}
	return fmt.Sprintf("embedding: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable embedding error.
func Transient(err error) error { return &Error{Transient: true, Err: err} }

// Permanent wraps err as a non-retryable embedding error.
func Permanent(err error) error { return &Error{Err: err} }

// IsTransient reports whether err is a transient embedding error.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Transient
}
