// Package normalize converts raw source payloads into uniform records.
package normalize

import (
	"fmt"
	"strings"

	"github.com/meridian/finrag/internal/models"
	"github.com/meridian/finrag/internal/source"
)

// ValidationError reports a raw payload that cannot become a record. The
// record is logged and skipped; validation never halts a watcher.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// Normalizer converts heterogeneous source payloads into Records and assigns
// each a logical time from a strictly increasing per-(source, id) counter.
type Normalizer struct {
	clock *LogicalClock
}

// New returns a Normalizer with a fresh logical clock.
func New() *Normalizer {
	return &Normalizer{clock: NewLogicalClock()}
}

// Normalize builds a Record from an upsert event observed at sourceName.
// Returns *ValidationError when the payload has an empty id or body.
func (n *Normalizer) Normalize(sourceName string, ev source.Event, kind models.SourceKind) (*models.Record, error) {
	if ev.Item == nil {
		return nil, &ValidationError{Field: "payload", Reason: "is missing"}
	}
	if ev.Item.ID == "" {
		return nil, &ValidationError{Field: "id", Reason: "is empty"}
	}
	if strings.TrimSpace(ev.Item.Body) == "" {
		return nil, &ValidationError{Field: "body", Reason: "is empty"}
	}
	if !kind.Valid() {
		return nil, &ValidationError{Field: "source_kind", Reason: fmt.Sprintf("unknown kind %q", kind)}
	}
	rec := &models.Record{
		ID:          ev.Item.ID,
		Body:        ev.Item.Body,
		Metadata:    ev.Item.Meta.Clone(),
		SourceKind:  kind,
		Source:      sourceName,
		LogicalTime: n.clock.Next(sourceName, ev.Item.ID),
		ObservedAt:  ev.ObservedAt,
	}
	if err := enrich(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Tick issues the logical time for a delete event: deletes participate in the
// same per-record ordering as upserts.
func (n *Normalizer) Tick(sourceName, id string) uint64 {
	return n.clock.Next(sourceName, id)
}

// Observe advances the clock past a logical time recovered from persistence.
func (n *Normalizer) Observe(sourceName, id string, t uint64) {
	n.clock.Observe(sourceName, id, t)
}

// enrich applies source-kind-specific metadata rules.
func enrich(rec *models.Record) error {
	switch rec.SourceKind {
	case models.SourceMarket:
		if _, ok := rec.Metadata.Get("symbol"); !ok {
			return &ValidationError{Field: "metadata.symbol", Reason: "is required for market records"}
		}
	case models.SourceDocument:
		if _, ok := rec.Metadata.Get("mime"); !ok {
			rec.Metadata.Set("mime", "text/plain")
		}
	case models.SourceNews:
		if _, ok := rec.Metadata.Get("headline"); !ok {
			rec.Metadata.Set("headline", firstLine(rec.Body, 120))
		}
	case models.SourceSanctions:
		if _, ok := rec.Metadata.Get("entity"); !ok {
			rec.Metadata.Set("entity", firstLine(rec.Body, 120))
		}
	}
	return nil
}

// firstLine returns the first line of s truncated to max runes.
func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}
