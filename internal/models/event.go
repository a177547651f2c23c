package models

import "time"

// EventKind is the kind of change a source observed.
type EventKind string

const (
	EventUpsert EventKind = "upsert"
	EventDelete EventKind = "delete"
)

// ChangeEvent is a notification of a record's creation, update, or deletion
// at a source. Record is nil for delete events.
type ChangeEvent struct {
	RecordID   string
	Kind       EventKind
	Record     *Record
	ObservedAt time.Time
}
