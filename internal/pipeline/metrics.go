package pipeline

import "sync/atomic"

// Metrics counts pipeline activity. All counters are monotonic and safe for
// concurrent use.
type Metrics struct {
	EventsIn      atomic.Uint64
	Upserts       atomic.Uint64
	Deletes       atomic.Uint64
	StaleDrops    atomic.Uint64
	BacklogDrops  atomic.Uint64
	Invalid       atomic.Uint64
	EmbedFailures atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	EventsIn      uint64 `json:"events_in"`
	Upserts       uint64 `json:"upserts"`
	Deletes       uint64 `json:"deletes"`
	StaleDrops    uint64 `json:"stale_drops"`
	BacklogDrops  uint64 `json:"backlog_drops"`
	Invalid       uint64 `json:"invalid"`
	EmbedFailures uint64 `json:"embed_failures"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsIn:      m.EventsIn.Load(),
		Upserts:       m.Upserts.Load(),
		Deletes:       m.Deletes.Load(),
		StaleDrops:    m.StaleDrops.Load(),
		BacklogDrops:  m.BacklogDrops.Load(),
		Invalid:       m.Invalid.Load(),
		EmbedFailures: m.EmbedFailures.Load(),
	}
}
