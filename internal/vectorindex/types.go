// Package vectorindex implements the persistent approximate-nearest-
// neighbour store over (embedding, text, metadata) triples: a
// coder/hnsw graph for the vectors plus a modernc.org/sqlite side table
// for text and metadata, both living under one owned directory.
package vectorindex

// Metadata is a flat key/value bag. List-valued fields (notably
// memory_types) are stored as []string here and JSON-encoded at the
// storage boundary.
type Metadata map[string]any

// Record is one stored chunk: identity, text, and metadata, without its
// embedding (the vector never needs to round-trip back to a caller).
type Record struct {
	ID       string
	Text     string
	Metadata Metadata
}

// SearchHit is a Record plus its similarity to the query vector.
type SearchHit struct {
	Record
	Similarity float32
}

// Filter is a conjunction of equality constraints over string-valued
// metadata fields. At minimum session_id and project must be
// filterable, per spec.
type Filter map[string]string

// Stats summarises the index's current contents.
type Stats struct {
	TotalChunks int
	GraphNodes  int // includes lazily-deleted orphans
	Orphans     int
}

func (f Filter) matches(m Metadata) bool {
	for k, want := range f {
		got, ok := m[k]
		if !ok {
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}
