package models

// ScoredRecord is a single retrieval hit.
type ScoredRecord struct {
	Record *Record `json:"record"`
	Score  float64 `json:"score"`
}

// ContextBundle is the ranked set of records returned for a query, used as
// grounding for generated answers. Records are sorted by descending score,
// ties broken by descending logical time (freshest wins). Diagnostic is set
// when retrieval was degraded (e.g. the embedding provider failed) and the
// bundle is empty as a result.
type ContextBundle struct {
	Records    []ScoredRecord `json:"records"`
	QueryTime  int64          `json:"query_time_ms"`
	Diagnostic string         `json:"diagnostic,omitempty"`
}

// Empty reports whether the bundle holds no records.
func (b *ContextBundle) Empty() bool {
	return b == nil || len(b.Records) == 0
}
