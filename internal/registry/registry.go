// Package registry implements the session registry: a durable
// session_id -> metadata map backed by one JSON sidecar file, guarded
// by a single mutex per spec §4.6.
package registry

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/recursive-vibe/smart-fork/internal/atomicfile"
)

const fileName = "session-registry.json"

// Metadata is one session's registry entry.
type Metadata struct {
	SessionID    string            `json:"session_id"`
	Project      string            `json:"project,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastModified time.Time         `json:"last_modified"`
	LastIndexed  time.Time         `json:"last_indexed"`
	ChunkCount   int               `json:"chunk_count"`
	MessageCount int               `json:"message_count"`
	Tags         []string          `json:"tags,omitempty"`
}

// Stats mirrors spec §4.6's registry.stats() operation.
type Stats struct {
	SessionCount int
	TotalChunks  int
}

// ListFilter narrows List to sessions matching a project and/or any of
// a set of tags.
type ListFilter struct {
	Project string
	Tags    []string
}

type document struct {
	Sessions    map[string]*Metadata `json:"sessions"`
	LastUpdated time.Time            `json:"last_updated"`
}

// Registry is the session metadata store. All mutations go through mu
// and persist atomically before returning, per spec §4.6's concurrency
// rule.
type Registry struct {
	mu       sync.Mutex
	dir      string
	sessions map[string]*Metadata
}

// Open loads dir/session-registry.json if present. A corrupt or absent
// sidecar yields an empty in-memory registry; the caller should log
// that downgrade as a corruption-category warning.
func Open(dir string) (*Registry, error) {
	r := &Registry{dir: dir, sessions: make(map[string]*Metadata)}

	path := filepath.Join(dir, fileName)
	if !atomicfile.Exists(path) {
		return r, nil
	}

	var doc document
	if err := atomicfile.ReadJSON(path, &doc); err != nil {
		return r, nil
	}
	if doc.Sessions != nil {
		r.sessions = doc.Sessions
	}
	return r, nil
}

// Add inserts or overwrites a session's metadata and persists.
func (r *Registry) Add(meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := meta
	r.sessions[meta.SessionID] = &cp
	return r.persistLocked()
}

// Get returns a copy of a session's metadata, or (nil, false) if absent.
func (r *Registry) Get(id string) (Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[id]
	if !ok {
		return Metadata{}, false
	}
	return *m, true
}

// Update applies fn to a copy of the session's current metadata (or a
// zero-valued one, keyed by id, if it does not exist yet), stores the
// result, and persists it. Returns the updated metadata.
func (r *Registry) Update(id string, fn func(*Metadata)) (Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.sessions[id]
	if !ok {
		m = &Metadata{SessionID: id}
	} else {
		cp := *m
		m = &cp
	}
	fn(m)
	m.SessionID = id
	r.sessions[id] = m

	if err := r.persistLocked(); err != nil {
		return Metadata{}, err
	}
	return *m, nil
}

// Delete removes a session's entry, returning whether it existed.
func (r *Registry) Delete(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	delete(r.sessions, id)
	if err := r.persistLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// List returns every session matching filter, sorted by session_id for
// determinism. A zero-valued filter matches everything.
func (r *Registry) List(filter ListFilter) []Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Metadata, 0, len(r.sessions))
	for _, m := range r.sessions {
		if filter.Project != "" && m.Project != filter.Project {
			continue
		}
		if len(filter.Tags) > 0 && !hasAnyTag(m.Tags, filter.Tags) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// SetLastSynced stamps a session's last-indexed instant. A zero when
// means "now".
func (r *Registry) SetLastSynced(id string, when time.Time) error {
	if when.IsZero() {
		when = time.Now()
	}
	_, err := r.Update(id, func(m *Metadata) {
		m.LastIndexed = when
	})
	return err
}

// Stats summarises the registry's current contents.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{SessionCount: len(r.sessions)}
	for _, m := range r.sessions {
		stats.TotalChunks += m.ChunkCount
	}
	return stats
}

// Clear empties the registry and persists the empty state.
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*Metadata)
	return r.persistLocked()
}

// persistLocked writes the current state atomically. Callers must hold mu.
func (r *Registry) persistLocked() error {
	doc := document{Sessions: r.sessions, LastUpdated: time.Now()}
	return atomicfile.WriteJSON(filepath.Join(r.dir, fileName), &doc)
}
