// Package embedcache implements the content-addressed, persistent,
// write-once embedding cache: digest(text) -> vector. It is an
// advisory accelerator, never a source of truth — a corrupt cache
// file at open time yields an empty cache, not a failure.
package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync"

	"github.com/recursive-vibe/smart-fork/internal/atomicfile"
)

const fileName = "cache.json"

// Stats mirrors spec §4.3's cache.stats() operation.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// HitRate returns hits / (hits + misses), or 0 when there have been no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	text   string
	vector []float32
}

// Cache is the embedding cache. The in-memory map is authoritative
// between flushes; Flush writes it atomically to disk.
type Cache struct {
	dir  string
	mu   sync.Mutex
	data map[string]entry
	hits int64
	miss int64
}

// Open loads dir/cache.json if present. A corrupt or absent file
// starts the cache empty; the caller should log that downgrade as a
// corruption-category warning.
func Open(dir string) (*Cache, error) {
	c := &Cache{dir: dir, data: make(map[string]entry)}

	path := filepath.Join(dir, fileName)
	if !atomicfile.Exists(path) {
		return c, nil
	}

	var onDisk map[string][]float32
	if err := atomicfile.ReadJSON(path, &onDisk); err != nil {
		// Corruption: start empty, never fail.
		return c, nil
	}
	for digest, vec := range onDisk {
		c.data[digest] = entry{vector: vec}
	}
	return c, nil
}

// Digest returns the content-addressing key for text: a SHA-256 hash
// over its exact bytes (whitespace- and case-sensitive).
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for text, or (nil, false) on a miss.
func (c *Cache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[Digest(text)]
	if ok {
		c.hits++
		return e.vector, true
	}
	c.miss++
	return nil, false
}

// GetBatch returns one slot per text (nil where missing) plus the
// indices of the misses, preserving input order.
func (c *Cache) GetBatch(texts []string) ([][]float32, []int) {
	out := make([][]float32, len(texts))
	var missIdx []int
	for i, t := range texts {
		if v, ok := c.Get(t); ok {
			out[i] = v
		} else {
			missIdx = append(missIdx, i)
		}
	}
	return out, missIdx
}

// Put stores text's vector under its digest. On a digest collision
// with different cached text, the first writer wins and this call is
// a no-op — deliberate write-once semantics.
func (c *Cache) Put(text string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	digest := Digest(text)
	if _, ok := c.data[digest]; ok {
		// First writer wins — deliberate write-once semantics, even
		// on a hash collision against different text.
		return
	}
	c.data[digest] = entry{text: text, vector: vector}
}

// PutBatch stores every (text, vector) pair.
func (c *Cache) PutBatch(texts []string, vectors [][]float32) {
	for i := range texts {
		if i < len(vectors) && vectors[i] != nil {
			c.Put(texts[i], vectors[i])
		}
	}
}

// Flush atomically writes the in-memory map to disk.
func (c *Cache) Flush() error {
	c.mu.Lock()
	onDisk := make(map[string][]float32, len(c.data))
	for digest, e := range c.data {
		onDisk[digest] = e.vector
	}
	c.mu.Unlock()

	return atomicfile.WriteJSON(filepath.Join(c.dir, fileName), onDisk)
}

// Clear empties the in-memory cache. It does not touch the on-disk
// file until the next Flush.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]entry)
	c.hits = 0
	c.miss = 0
}

// Stats returns the current hit/miss counters and entry count.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.miss, Entries: len(c.data)}
}
