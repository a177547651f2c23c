// Package pipeline wires sources, the normalizer, the embedder, and the
// vector index into the live write path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/meridian/finrag/internal/embedding"
	"github.com/meridian/finrag/internal/models"
	"github.com/meridian/finrag/internal/normalize"
	"github.com/meridian/finrag/internal/source"
	"github.com/meridian/finrag/internal/storage"
	"github.com/meridian/finrag/internal/vector"
)

const (
	defaultQueueSize       = 256
	defaultRetention       = time.Hour
	defaultCompactInterval = 10 * time.Minute
)

// Pipeline consumes change events from every registered source, normalizes
// and embeds them on a worker pool, and applies them to the index. When a
// record store is attached, applied writes are mirrored to it and the logical
// clock is warm-started from it on Start.
type Pipeline struct {
	sources    []source.Source
	normalizer *normalize.Normalizer
	embedder   embedding.Embedder
	index      vector.Index
	store      storage.RecordStore // optional
	pool       *ants.Pool
	metrics    Metrics
	logger     *zap.Logger

	workers         int
	queueSize       int
	retention       time.Duration
	compactInterval time.Duration

	cancel    context.CancelFunc
	wg        sync.WaitGroup // source readers and queue workers
	bg        sync.WaitGroup // compactor
	tasks     sync.WaitGroup // in-flight embedding tasks
	startOnce sync.Once
	stopOnce  sync.Once
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for pipeline events.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithStore attaches a record store for persistence and warm start.
func WithStore(s storage.RecordStore) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithWorkers sets the embedding worker pool size.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n >= 1 {
			p.workers = n
		}
	}
}

// WithQueueSize sets the per-source event queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n >= 1 {
			p.queueSize = n
		}
	}
}

// WithTombstoneRetention sets how long delete tombstones are kept before
// compaction reclaims them.
func WithTombstoneRetention(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.retention = d
		}
	}
}

// WithCompactInterval sets how often tombstone compaction runs. Zero or
// negative disables periodic compaction.
func WithCompactInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.compactInterval = d }
}

// New creates a pipeline over the given sources.
func New(normalizer *normalize.Normalizer, embedder embedding.Embedder, index vector.Index, sources []source.Source, opts ...Option) (*Pipeline, error) {
	if normalizer == nil {
		return nil, errors.New("pipeline: normalizer is required")
	}
	if embedder == nil {
		return nil, errors.New("pipeline: embedder is required")
	}
	if index == nil {
		return nil, errors.New("pipeline: index is required")
	}
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	p := &Pipeline{
		sources:         sources,
		normalizer:      normalizer,
		embedder:        embedder,
		index:           index,
		logger:          zap.NewNop(),
		workers:         workers,
		queueSize:       defaultQueueSize,
		retention:       defaultRetention,
		compactInterval: defaultCompactInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	pool, err := ants.NewPool(p.workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// Metrics returns the pipeline's counters.
func (p *Pipeline) Metrics() *Metrics { return &p.metrics }

// Start warm-starts from the store when one is attached, then starts every
// source and begins applying events. It returns once all sources are running.
func (p *Pipeline) Start(ctx context.Context) error {
	var startErr error
	p.startOnce.Do(func() {
		if p.store != nil {
			if err := p.warmStart(ctx); err != nil {
				startErr = fmt.Errorf("warm start: %w", err)
				return
			}
		}
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p.cancel = cancel
		for i, src := range p.sources {
			if err := src.Start(runCtx); err != nil {
				for _, started := range p.sources[:i] {
					started.Stop()
				}
				cancel()
				startErr = fmt.Errorf("start source %s: %w", src.Name(), err)
				return
			}
			q := newBoundedQueue(p.queueSize, &p.metrics.BacklogDrops)
			p.wg.Add(2)
			go p.readSource(src, q)
			go p.applyQueue(runCtx, src, q)
			p.logger.Info("source started",
				zap.String("source", src.Name()),
				zap.String("kind", string(src.Kind())))
		}
		if p.compactInterval > 0 {
			p.bg.Add(1)
			go p.compactLoop(runCtx)
		}
	})
	return startErr
}

// Stop stops all sources, drains queues and in-flight embeddings, and
// releases the worker pool. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		for _, src := range p.sources {
			src.Stop()
		}
		p.wg.Wait()
		p.tasks.Wait()
		if p.cancel != nil {
			p.cancel()
		}
		p.bg.Wait()
		p.pool.Release()
	})
}

// warmStart replays persisted records into the index and advances the
// logical clock past every persisted logical time, so writes after a restart
// keep ordering ahead of what was already applied.
func (p *Pipeline) warmStart(ctx context.Context) error {
	restored := 0
	err := p.store.ForEach(ctx, func(rec *models.Record) error {
		p.normalizer.Observe(rec.Source, rec.ID, rec.LogicalTime)
		if len(rec.Vector) == 0 {
			return nil
		}
		if _, err := p.index.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("restore %s: %w", rec.ID, err)
		}
		restored++
		return nil
	})
	if err != nil {
		return err
	}
	p.logger.Info("warm start complete", zap.Int("records", restored))
	return nil
}

func (p *Pipeline) readSource(src source.Source, q *boundedQueue) {
	defer p.wg.Done()
	for ev := range src.Events() {
		p.metrics.EventsIn.Add(1)
		q.push(ev)
	}
	q.close()
}

func (p *Pipeline) applyQueue(ctx context.Context, src source.Source, q *boundedQueue) {
	defer p.wg.Done()
	for ev := range q.ch {
		p.apply(ctx, src, ev)
	}
}

// apply handles one event. Deletes are applied inline; upserts are embedded
// on the worker pool. Both take their logical time here, in arrival order,
// so the index converges on the newest version no matter how embedding tasks
// interleave.
func (p *Pipeline) apply(ctx context.Context, src source.Source, ev source.Event) {
	switch ev.Kind {
	case models.EventDelete:
		lt := p.normalizer.Tick(src.Name(), ev.ID)
		if p.index.Delete(ctx, ev.ID, lt) {
			p.metrics.Deletes.Add(1)
			if p.store != nil {
				if err := p.store.Delete(ctx, ev.ID); err != nil {
					p.logger.Error("persist delete", zap.String("id", ev.ID), zap.Error(err))
				}
			}
		} else {
			p.metrics.StaleDrops.Add(1)
		}
	case models.EventUpsert:
		rec, err := p.normalizer.Normalize(src.Name(), ev, src.Kind())
		if err != nil {
			var verr *normalize.ValidationError
			if errors.As(err, &verr) {
				p.metrics.Invalid.Add(1)
				p.logger.Warn("event rejected",
					zap.String("source", src.Name()),
					zap.String("id", ev.ID),
					zap.Error(err))
				return
			}
			p.logger.Error("normalize event", zap.String("id", ev.ID), zap.Error(err))
			return
		}
		p.tasks.Add(1)
		if err := p.pool.Submit(func() {
			defer p.tasks.Done()
			p.embedAndApply(ctx, rec)
		}); err != nil {
			p.tasks.Done()
			p.logger.Error("submit embedding task", zap.String("id", rec.ID), zap.Error(err))
		}
	default:
		p.logger.Warn("unknown event kind", zap.String("kind", string(ev.Kind)))
	}
}

func (p *Pipeline) embedAndApply(ctx context.Context, rec *models.Record) {
	vec, err := p.embedder.Embed(ctx, rec.Body)
	if err != nil {
		p.metrics.EmbedFailures.Add(1)
		p.logger.Error("embed record",
			zap.String("id", rec.ID),
			zap.Bool("transient", embedding.IsTransient(err)),
			zap.Error(err))
		return
	}
	rec.Vector = vec
	applied, err := p.index.Upsert(ctx, rec)
	if err != nil {
		p.logger.Error("index upsert", zap.String("id", rec.ID), zap.Error(err))
		return
	}
	if !applied {
		p.metrics.StaleDrops.Add(1)
		return
	}
	p.metrics.Upserts.Add(1)
	if p.store != nil {
		if err := p.store.Put(ctx, rec); err != nil {
			p.logger.Error("persist record", zap.String("id", rec.ID), zap.Error(err))
		}
	}
}

func (p *Pipeline) compactLoop(ctx context.Context) {
	defer p.bg.Done()
	ticker := time.NewTicker(p.compactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.index.Compact(p.retention); n > 0 {
				p.logger.Debug("compacted tombstones", zap.Int("reclaimed", n))
			}
		}
	}
}
