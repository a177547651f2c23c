// Package search runs similarity queries against the live index and packages
// the results as context bundles.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meridian/finrag/internal/embedding"
	"github.com/meridian/finrag/internal/models"
	"github.com/meridian/finrag/internal/vector"
)

// ErrQueryTimeout is returned when the caller's deadline expires before the
// index scan completes. The engine never returns a partial bundle.
var ErrQueryTimeout = errors.New("query timed out")

// Config holds query engine tunables.
type Config struct {
	DefaultTopK int
	MaxTopK     int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{DefaultTopK: 5, MaxTopK: 50}
}

// Engine answers similarity queries. Reads are lock-free against the index,
// so retrieval latency is independent of concurrent ingestion.
type Engine struct {
	index    vector.Index
	embedder embedding.Embedder
	config   Config
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for query diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a query engine over the given index and embedder.
func NewEngine(index vector.Index, embedder embedding.Embedder, cfg Config, opts ...Option) *Engine {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultConfig().DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = DefaultConfig().MaxTopK
	}
	e := &Engine{index: index, embedder: embedder, config: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve embeds the query text when no vector is supplied, runs the
// similarity scan with the query's filter, and returns the ranked bundle.
// An embedding provider failure degrades to an empty bundle with Diagnostic
// set rather than an error: the caller can still answer, just without
// retrieved context.
func (e *Engine) Retrieve(ctx context.Context, query *models.Query) (*models.ContextBundle, error) {
	start := time.Now()
	if query == nil {
		return nil, fmt.Errorf("query is required")
	}
	if err := query.Validate(e.config.DefaultTopK, e.config.MaxTopK); err != nil {
		return nil, err
	}

	qv := query.Vector
	if qv == nil {
		var err error
		qv, err = e.embedder.Embed(ctx, query.Text)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrQueryTimeout, ctxErr)
			}
			e.logger.Warn("query embedding failed, returning empty bundle",
				zap.Bool("transient", embedding.IsTransient(err)),
				zap.Error(err))
			return &models.ContextBundle{
				Records:    []models.ScoredRecord{},
				QueryTime:  time.Since(start).Milliseconds(),
				Diagnostic: fmt.Sprintf("embedding unavailable: %v", err),
			}, nil
		}
	}

	results, err := e.index.Query(ctx, qv, query.TopK, query.Filter)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", ErrQueryTimeout, err)
		}
		return nil, fmt.Errorf("index query: %w", err)
	}

	e.logger.Debug("query served",
		zap.Int("results", len(results)),
		zap.Int("top_k", query.TopK),
		zap.Duration("elapsed", time.Since(start)))
	return &models.ContextBundle{
		Records:   results,
		QueryTime: time.Since(start).Milliseconds(),
	}, nil
}
