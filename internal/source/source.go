// Package source provides change-event producers over external data sources.
package source

import (
	"context"
	"time"

	"github.com/meridian/finrag/internal/models"
)

// RawItem is an un-normalized payload observed at a source.
type RawItem struct {
	ID   string
	Body string
	Meta models.Metadata
}

// Event is a single observed change. Item is nil for deletes.
type Event struct {
	ID         string
	Kind       models.EventKind
	Item       *RawItem
	ObservedAt time.Time
}

// Source produces a lazy, unbounded sequence of change events for one
// configured data source. Implementations must never deliver a partial event:
// after Stop returns (or ctx is cancelled) the Events channel is closed and
// nothing more is sent. A failure to reach the source is transient and
// retried; it never terminates the sequence.
type Source interface {
	// Name identifies the source in logs and metrics.
	Name() string
	// Kind is the source kind of every record this source produces.
	Kind() models.SourceKind
	// Events returns the event channel. Valid after Start.
	Events() <-chan Event
	// Start begins producing events until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error
	// Stop halts the source and closes the event channel.
	Stop()
}
