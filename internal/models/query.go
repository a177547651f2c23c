package models

import "fmt"

// Query is a similarity query against the index. When Vector is nil the query
// engine embeds Text first. Filter, when set, restricts the candidate set
// before ranking.
type Query struct {
	Text   string    `json:"text,omitempty"`
	Vector []float32 `json:"-"`
	TopK   int       `json:"top_k,omitempty"`
	Filter *Filter   `json:"filter,omitempty"`
}

// Validate checks the query and normalizes TopK against the given defaults.
// Returns an error when neither text nor vector is supplied or TopK is negative.
func (q *Query) Validate(defaultTopK, maxTopK int) error {
	if q.Text == "" && q.Vector == nil {
		return fmt.Errorf("query requires text or vector")
	}
	if q.TopK < 0 {
		return fmt.Errorf("top_k cannot be negative")
	}
	if q.TopK == 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return nil
}

// Filter is a predicate over record source kinds and metadata. A record
// matches when its kind is in Kinds (or Kinds is empty) and every Metadata
// entry equals the record's value for that key.
type Filter struct {
	Kinds    []SourceKind      `json:"kinds,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Matches reports whether the record passes the filter. A nil filter matches everything.
func (f *Filter) Matches(r *Record) bool {
	if f == nil {
		return true
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if r.SourceKind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for key, want := range f.Metadata {
		got, ok := r.Metadata.Get(key)
		if !ok || got != want {
			return false
		}
	}
	return true
}
