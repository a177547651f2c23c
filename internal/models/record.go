// Package models defines core data structures for records, change events, queries, and results.
package models

import "time"

// SourceKind identifies the kind of data source a record originated from.
type SourceKind string

const (
	SourceDocument  SourceKind = "document"
	SourceMarket    SourceKind = "market"
	SourceNews      SourceKind = "news"
	SourceSanctions SourceKind = "sanctions"
)

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceDocument, SourceMarket, SourceNews, SourceSanctions:
		return true
	}
	return false
}

// Record is the normalized unit of ingested data. The ID is unique per source,
// and LogicalTime is a per-record monotonic version counter used for
// last-write-wins conflict resolution, distinct from wall-clock time.
type Record struct {
	ID          string     `json:"id"`
	Body        string     `json:"body"`
	Metadata    Metadata   `json:"metadata,omitempty"`
	SourceKind  SourceKind `json:"source_kind"`
	Source      string     `json:"source,omitempty"`
	LogicalTime uint64     `json:"logical_time"`
	Vector      []float32  `json:"-"`
	ObservedAt  time.Time  `json:"observed_at"`
}

// Clone returns a deep copy of the record. The vector and metadata are copied
// so the clone can be stored or mutated independently.
func (r *Record) Clone() *Record {
	out := *r
	if r.Vector != nil {
		out.Vector = make([]float32, len(r.Vector))
		copy(out.Vector, r.Vector)
	}
	out.Metadata = r.Metadata.Clone()
	return &out
}
