package embed

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/recursive-vibe/smart-fork/internal/embedcache"
)

// Options configures adaptive batching and memory-pressure behaviour.
type Options struct {
	MinBatch         int
	MaxBatch         int
	GCBetweenBatches bool
	// MemoryThresholdBytes is the availability level below which the
	// minimum batch size is used; at 2x this level the maximum batch
	// size is used, interpolating linearly in between.
	MemoryThresholdBytes uint64
}

func (o Options) withDefaults() Options {
	if o.MinBatch == 0 {
		o.MinBatch = MinBatchSize
	}
	if o.MaxBatch == 0 {
		o.MaxBatch = DefaultBatchSize
	}
	if o.MemoryThresholdBytes == 0 {
		o.MemoryThresholdBytes = 512 * 1024 * 1024
	}
	return o
}

// Embedder is the query-facing wrapper around an Encoder: it consults
// the persistent cache first, encodes only misses, and maintains an
// in-memory LRU accelerator for hot repeats within a process
// lifetime.
type Embedder struct {
	encoder Encoder
	cache   *embedcache.Cache
	hot     *lru.Cache[string, []float32]
	opts    Options

	mu    sync.Mutex
	group singleflight.Group
}

// New builds an Embedder. cache may be nil, in which case only the
// in-memory hot accelerator is used (useful for tests).
func New(encoder Encoder, cache *embedcache.Cache, opts Options) *Embedder {
	opts = opts.withDefaults()
	hot, _ := lru.New[string, []float32](defaultHotCacheSize)
	return &Embedder{encoder: encoder, cache: cache, hot: hot, opts: opts}
}

// Dimensions passes through to the encoder.
func (e *Embedder) Dimensions() int { return e.encoder.Dimensions() }

// Flush drains the persistent cache tier to disk. A no-op if the
// embedder was built without one.
func (e *Embedder) Flush() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Flush()
}

// Embed embeds a single text, consulting both cache tiers first.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements spec §4.4's cache-integration contract: fetch
// cached vectors, encode only the misses in batches sized by the
// current memory pressure, stitch results back in original order, and
// write misses back to both cache tiers. The encoder is never invoked
// for a wholly-cached batch.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if v, ok := e.hotGet(t); ok {
			results[i] = v
			continue
		}
		if e.cache != nil {
			if v, ok := e.cache.Get(t); ok {
				results[i] = v
				e.hotPut(t, v)
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	encoded, err := e.encodeInBatches(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		v := normalizeVector(encoded[j])
		results[idx] = v
		e.hotPut(missTexts[j], v)
		if e.cache != nil {
			e.cache.Put(missTexts[j], v)
		}
	}
	return results, nil
}

// encodeInBatches splits texts into memory-pressure-sized batches,
// single-flighting concurrent requests for the same batch so a burst
// of identical misses triggers one encoder call.
func (e *Embedder) encodeInBatches(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := e.batchSize()
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		key := batchKey(batch)
		v, err, _ := e.group.Do(key, func() (any, error) {
			return e.encoder.Encode(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, v.([][]float32)...)

		if e.opts.GCBetweenBatches {
			debug.FreeOSMemory()
		}
	}
	return out, nil
}

// batchSize picks a batch size by piecewise-linear interpolation
// between MinBatch and MaxBatch based on available memory, per spec
// §4.4: <= threshold -> min, >= 2x threshold -> max, else interpolate.
func (e *Embedder) batchSize() int {
	available := availableMemory()
	threshold := e.opts.MemoryThresholdBytes

	if available <= threshold {
		return e.opts.MinBatch
	}
	if available >= 2*threshold {
		return e.opts.MaxBatch
	}

	frac := float64(available-threshold) / float64(threshold)
	size := float64(e.opts.MinBatch) + frac*float64(e.opts.MaxBatch-e.opts.MinBatch)
	return int(size)
}

func availableMemory() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	// Go's runtime does not expose system-wide available memory
	// portably; HeapIdle approximates memory Go could still claim
	// before growing its own footprint further.
	return m.HeapIdle + m.HeapReleased + 256*1024*1024
}

func (e *Embedder) hotGet(text string) ([]float32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hot.Get(text)
}

func (e *Embedder) hotPut(text string, v []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hot.Add(text, v)
}

func batchKey(batch []string) string {
	key := ""
	for _, t := range batch {
		key += embedcache.Digest(t)
	}
	return key
}
