// Package storage defines persistence for records and their vectors.
package storage

import (
	"context"
	"errors"

	"github.com/meridian/finrag/internal/models"
)

// ErrNotFound indicates no record exists for the requested id.
var ErrNotFound = errors.New("record not found")

// RecordStore persists records so the index can warm-start after a restart.
// Implementations must round-trip a record and its vector exactly.
type RecordStore interface {
	// Put inserts or replaces the record for rec.ID.
	Put(ctx context.Context, rec *models.Record) error
	// Delete removes the record for id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Record, error)
	// ForEach calls fn for every stored record, stopping on the first error.
	ForEach(ctx context.Context, fn func(*models.Record) error) error
	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
	Close() error
}
