package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// Default dimension-768 hash encoder constants. The external
// encode([text],{normalize:true})->[vector] contract (spec §4.4) is
// satisfied without any model download: tokens and character n-grams
// are hashed into a fixed-width vector, the same shape as the
// teacher's StaticEmbedder768, adapted here for prose rather than
// source identifiers (no camelCase/snake_case splitting, no
// programming-keyword stop list).
const (
	hashEncoderDimensions = DefaultDimension
	tokenWeight           = 0.7
	ngramWeight           = 0.3
	ngramSize             = 3
)

// HashEncoder is a zero-dependency fallback Encoder: deterministic,
// offline, and dimension-compatible with whatever real model a
// deployment later swaps in.
type HashEncoder struct{}

// NewHashEncoder builds the default fallback encoder.
func NewHashEncoder() *HashEncoder {
	return &HashEncoder{}
}

// Encode hashes each text into a unit-normalised 768-dimensional
// vector. A blank (empty or whitespace-only) text yields the zero
// vector, which has no direction to normalise.
func (e *HashEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = normalizeVector(hashVector(text))
	}
	return out, nil
}

// Dimensions reports the fixed output width.
func (e *HashEncoder) Dimensions() int { return hashEncoderDimensions }

// ModelName identifies this encoder for cache/log purposes.
func (e *HashEncoder) ModelName() string { return "hash768" }

func hashVector(text string) []float32 {
	vector := make([]float32, hashEncoderDimensions)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vector
	}

	for _, tok := range tokenize(trimmed) {
		vector[hashToIndex(tok, hashEncoderDimensions)] += tokenWeight
	}
	for _, ng := range ngrams(normalizeForNgrams(trimmed), ngramSize) {
		vector[hashToIndex(ng, hashEncoderDimensions)] += ngramWeight
	}
	return vector
}

// tokenize lowercases and splits on anything that isn't a letter or
// digit.
func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func normalizeForNgrams(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func ngrams(text string, n int) []string {
	if len(text) < n {
		return nil
	}
	out := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		out = append(out, text[i:i+n])
	}
	return out
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
