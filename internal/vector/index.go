// Package vector provides the incremental vector index and similarity helpers.
package vector

import (
	"context"
	"time"

	"github.com/meridian/finrag/internal/models"
)

// Index stores record->vector mappings and answers nearest-neighbor queries.
// Implementations must be safe for concurrent use by multiple producers and
// readers, support online insertion and removal without a rebuild, and apply
// last-write-wins freshness: a write carrying a logical time lower than the
// stored one is silently dropped.
type Index interface {
	// Upsert inserts or replaces the entry for rec.ID. Returns true when the
	// write was applied, false when it was rejected as stale. Once Upsert
	// returns true, a subsequent Query on any goroutine sees the record.
	Upsert(ctx context.Context, rec *models.Record) (bool, error)

	// Delete marks the entry absent under the same freshness rule. A tombstone
	// is retained so late-arriving stale upserts stay rejected; Compact
	// reclaims it after the retention interval.
	Delete(ctx context.Context, id string, logicalTime uint64) bool

	// Query returns up to topK live entries passing filter, sorted by
	// descending similarity to query, ties broken by descending logical time.
	Query(ctx context.Context, query []float32, topK int, filter *models.Filter) ([]models.ScoredRecord, error)

	// Get returns the live record for id, if any.
	Get(id string) (*models.Record, bool)

	// Len returns the number of live entries.
	Len() int

	// Compact removes tombstones older than olderThan and returns how many
	// were reclaimed.
	Compact(olderThan time.Duration) int

	Close() error
}
