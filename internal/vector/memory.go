package vector

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridian/finrag/internal/models"
)

// MemoryIndex is an in-memory incremental index over a concurrent map of
// immutable entries. All mutation is a per-entry compare-and-swap keyed on
// logical time, so writes to different records never contend and queries
// never block writers. Deletes leave tombstones so that an upsert arriving
// after the delete with a lower logical time stays rejected.
type MemoryIndex struct {
	dimensions int
	metric     Metric
	entries    sync.Map // record id -> *entry
	live       atomic.Int64
	stale      atomic.Uint64
}

// entry is an immutable index slot. Replacements swap the whole pointer,
// which is what gives per-entry atomic visibility.
type entry struct {
	rec       *models.Record
	deleted   bool
	deletedAt time.Time
}

func (e *entry) logical() uint64 { return e.rec.LogicalTime }

// NewMemoryIndex creates an index for vectors of the given dimension.
func NewMemoryIndex(dimensions int, metric Metric) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if metric == "" {
		metric = MetricCosine
	}
	return &MemoryIndex{dimensions: dimensions, metric: metric}, nil
}

// Upsert inserts or replaces the entry for rec.ID when rec.LogicalTime is
// greater than or equal to the stored logical time. A stale write returns
// (false, nil): rejection is part of the freshness contract, not an error.
func (x *MemoryIndex) Upsert(ctx context.Context, rec *models.Record) (bool, error) {
	if rec == nil || rec.ID == "" {
		return false, fmt.Errorf("record id is required")
	}
	if len(rec.Vector) != x.dimensions {
		return false, fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(rec.Vector), x.dimensions)
	}
	e := &entry{rec: rec.Clone()}
	for {
		cur, loaded := x.entries.LoadOrStore(rec.ID, e)
		if !loaded {
			x.live.Add(1)
			return true, nil
		}
		old := cur.(*entry)
		if rec.LogicalTime < old.logical() {
			x.stale.Add(1)
			return false, nil
		}
		if x.entries.CompareAndSwap(rec.ID, cur, e) {
			if old.deleted {
				x.live.Add(1)
			}
			return true, nil
		}
		// Lost the race for this entry; re-read and re-check freshness.
	}
}

// Delete marks id absent when logicalTime is greater than or equal to the
// stored logical time. Returns false for stale deletes.
func (x *MemoryIndex) Delete(ctx context.Context, id string, logicalTime uint64) bool {
	tomb := &entry{
		rec:       &models.Record{ID: id, LogicalTime: logicalTime},
		deleted:   true,
		deletedAt: time.Now(),
	}
	for {
		cur, loaded := x.entries.LoadOrStore(id, tomb)
		if !loaded {
			// Nothing stored: keep the tombstone so earlier upserts still in
			// flight cannot resurrect the record.
			return true
		}
		old := cur.(*entry)
		if logicalTime < old.logical() {
			x.stale.Add(1)
			return false
		}
		if x.entries.CompareAndSwap(id, cur, tomb) {
			if !old.deleted {
				x.live.Add(-1)
			}
			return true
		}
	}
}

// Query scans live entries passing filter and returns the topK most similar,
// sorted by descending score, ties broken by descending logical time. The
// scan honors ctx cancellation between entries.
func (x *MemoryIndex) Query(ctx context.Context, query []float32, topK int, filter *models.Filter) ([]models.ScoredRecord, error) {
	if len(query) != x.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), x.dimensions)
	}
	if topK <= 0 {
		return nil, nil
	}
	h := &resultHeap{}
	heap.Init(h)
	var scanErr error
	x.entries.Range(func(_, v any) bool {
		if err := ctx.Err(); err != nil {
			scanErr = err
			return false
		}
		e := v.(*entry)
		if e.deleted || !filter.Matches(e.rec) {
			return true
		}
		score := x.metric.Score(query, e.rec.Vector)
		if h.Len() < topK {
			heap.Push(h, scored{rec: e.rec, score: score})
		} else if worse((*h)[0], scored{rec: e.rec, score: score}) {
			(*h)[0] = scored{rec: e.rec, score: score}
			heap.Fix(h, 0)
		}
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	items := []scored(*h)
	results := make([]models.ScoredRecord, len(items))
	sort.Slice(items, func(i, j int) bool { return worse(items[j], items[i]) })
	for i, it := range items {
		results[i] = models.ScoredRecord{Record: it.rec.Clone(), Score: it.score}
	}
	return results, nil
}

// Range calls fn for every live record until fn returns false. The iteration
// order is unspecified. fn must not modify or retain the record.
func (x *MemoryIndex) Range(fn func(*models.Record) bool) {
	x.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		if e.deleted {
			return true
		}
		return fn(e.rec)
	})
}

// Get returns the live record stored for id.
func (x *MemoryIndex) Get(id string) (*models.Record, bool) {
	v, ok := x.entries.Load(id)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if e.deleted {
		return nil, false
	}
	return e.rec.Clone(), true
}

// Len returns the number of live entries.
func (x *MemoryIndex) Len() int {
	return int(x.live.Load())
}

// StaleWrites returns how many upserts and deletes were rejected as stale.
func (x *MemoryIndex) StaleWrites() uint64 {
	return x.stale.Load()
}

// Compact removes tombstones deleted more than olderThan ago and returns the
// number reclaimed. Entries deleted again concurrently are left alone by the
// conditional delete.
func (x *MemoryIndex) Compact(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	n := 0
	x.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		if e.deleted && e.deletedAt.Before(cutoff) {
			if x.entries.CompareAndDelete(k, v) {
				n++
			}
		}
		return true
	})
	return n
}

// Close is a no-op for MemoryIndex.
func (x *MemoryIndex) Close() error {
	return nil
}

type scored struct {
	rec   *models.Record
	score float64
}

// worse reports whether a ranks below b: lower score, or equal score with an
// older logical time.
func worse(a, b scored) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.rec.LogicalTime < b.rec.LogicalTime
}

// resultHeap is a min-heap keeping the current topK; the worst candidate sits at the root.
type resultHeap []scored

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(v any)         { *h = append(*h, v.(scored)) }
func (h *resultHeap) Pop() any           { old := *h; n := len(old); v := old[n-1]; *h = old[:n-1]; return v }
