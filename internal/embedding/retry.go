package embedding

import (
	"context"
	"time"

	"github.com/meridian/finrag/internal/backoff"
)

// Retrying wraps an embedder and retries transient failures a bounded number
// of times with exponential backoff. Permanent failures pass through on the
// first attempt.
type Retrying struct {
	inner       Embedder
	maxAttempts int
	baseDelay   time.Duration
}

// NewRetrying wraps inner. maxAttempts <= 0 defaults to 3.
func NewRetrying(inner Embedder, maxAttempts int, baseDelay time.Duration) *Retrying {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &Retrying{inner: inner, maxAttempts: maxAttempts, baseDelay: baseDelay}
}

// Embed embeds text, retrying transient provider failures.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := backoff.Retry(ctx, func() error {
		v, err := r.inner.Embed(ctx, text)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}, r.maxAttempts, r.baseDelay)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedBatch embeds texts, retrying transient provider failures.
func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := backoff.Retry(ctx, func() error {
		v, err := r.inner.EmbedBatch(ctx, texts)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}, r.maxAttempts, r.baseDelay)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions returns the inner embedder's dimension.
func (r *Retrying) Dimensions() int { return r.inner.Dimensions() }

// Close closes the inner embedder.
func (r *Retrying) Close() error { return r.inner.Close() }
