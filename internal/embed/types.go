// Package embed wraps the external embedding encoder: a pure function
// encode([text], {normalize:true}) -> [vector]. It applies the
// persistent embedding cache, layers an in-memory LRU accelerator in
// front of it for hot repeats, and adapts its batch size to available
// memory.
package embed

import (
	"context"
	"math"
)

// Batch size bounds, overridable via config.EmbeddingConfig.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32
	DefaultDimension = 768

	// defaultHotCacheSize bounds the in-memory LRU accelerator placed
	// in front of the persistent embedding cache.
	defaultHotCacheSize = 1000
)

// Encoder is the external collaborator: a pure function over batches
// of text producing unit-normalised fixed-dimension vectors. Model
// selection and loading live entirely outside this package.
type Encoder interface {
	// Encode returns one unit-normalised vector per input text.
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the encoder's fixed output dimension.
	Dimensions() int
	// ModelName identifies the encoder for cache/log purposes.
	ModelName() string
}

// normalizeVector scales v to unit length; a zero vector is returned
// unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}
