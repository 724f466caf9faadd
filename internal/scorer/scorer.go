// Package scorer computes a session's rank from the set of its chunks
// that matched a query's k-NN sweep, combining per-chunk similarities
// with registry metadata into a weighted composite score.
package scorer

import (
	"sort"
	"time"

	"github.com/recursive-vibe/smart-fork/internal/chunk"
)

// Weights is the scorer's configurable weight vector. The defaults sum
// to 1.00 before the additive memory boost.
type Weights struct {
	Best         float64
	Avg          float64
	ChunkRatio   float64
	Recency      float64
	ChainQuality float64
}

// DefaultWeights returns spec's default weight vector.
func DefaultWeights() Weights {
	return Weights{Best: 0.35, Avg: 0.15, ChunkRatio: 0.10, Recency: 0.25, ChainQuality: 0.15}
}

const (
	// recencyHorizonDays is D_recency: the number of days over which
	// recency decays linearly to zero.
	recencyHorizonDays = 30

	// defaultChainQuality is the placeholder value used until a real
	// turn-graph quality signal exists.
	defaultChainQuality = 0.5

	boostPattern         = 0.05
	boostWorkingSolution = 0.08
	boostWaiting         = 0.02
)

// Candidate is one session's matched-chunk evidence, gathered by the
// orchestrator from a k-NN sweep plus a registry lookup.
type Candidate struct {
	SessionID    string
	Similarities []float64     // S: similarities of matched chunks, 0<=s<=1
	ChunkCount   int            // C: total chunks in the session, from the registry
	LastModified time.Time      // t_last, from the registry
	MemoryTypes  []chunk.Marker // union of salience markers across matched chunks
}

// Breakdown is a session's full score, including every sub-score per
// spec §4.7's output contract.
type Breakdown struct {
	SessionID         string
	Final             float64
	BestSimilarity    float64
	AvgSimilarity     float64
	ChunkRatio        float64
	Recency           float64
	ChainQuality      float64
	MemoryBoost       float64
	NumChunksMatched  int
}

// Score computes one candidate's breakdown relative to now.
func Score(c Candidate, weights Weights, now time.Time) Breakdown {
	best := maxOf(c.Similarities)
	avg := meanOf(c.Similarities)
	chunkRatio := clamp01(chunkRatio(len(c.Similarities), c.ChunkCount))
	recency := recencyScore(c.LastModified, now)
	chainQuality := defaultChainQuality
	boost := memoryBoost(c.MemoryTypes)

	final := weights.Best*best +
		weights.Avg*avg +
		weights.ChunkRatio*chunkRatio +
		weights.Recency*recency +
		weights.ChainQuality*chainQuality +
		boost
	final = clamp01(final)

	return Breakdown{
		SessionID:        c.SessionID,
		Final:            final,
		BestSimilarity:   best,
		AvgSimilarity:    avg,
		ChunkRatio:       chunkRatio,
		Recency:          recency,
		ChainQuality:     chainQuality,
		MemoryBoost:      boost,
		NumChunksMatched: len(c.Similarities),
	}
}

// Rank scores every candidate and sorts the result by spec's
// deterministic tie-break chain: final desc, then best_similarity desc,
// then t_last desc, then session_id asc.
func Rank(candidates []Candidate, weights Weights, now time.Time) []Breakdown {
	lastModified := make(map[string]time.Time, len(candidates))
	out := make([]Breakdown, 0, len(candidates))
	for _, c := range candidates {
		lastModified[c.SessionID] = c.LastModified
		out = append(out, Score(c, weights, now))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Final != b.Final {
			return a.Final > b.Final
		}
		if a.BestSimilarity != b.BestSimilarity {
			return a.BestSimilarity > b.BestSimilarity
		}
		ta, tb := lastModified[a.SessionID], lastModified[b.SessionID]
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.SessionID < b.SessionID
	})
	return out
}

func chunkRatio(matched, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

func recencyScore(lastModified, now time.Time) float64 {
	if lastModified.IsZero() {
		return 0
	}
	deltaDays := now.Sub(lastModified).Hours() / 24
	score := 1 - deltaDays/recencyHorizonDays
	if score < 0 {
		return 0
	}
	return score
}

func memoryBoost(markers []chunk.Marker) float64 {
	var boost float64
	seen := make(map[chunk.Marker]bool, len(markers))
	for _, m := range markers {
		seen[m] = true
	}
	if seen[chunk.MarkerPattern] {
		boost += boostPattern
	}
	if seen[chunk.MarkerWorkingSolution] {
		boost += boostWorkingSolution
	}
	if seen[chunk.MarkerWaiting] {
		boost += boostWaiting
	}
	return boost
}

func maxOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
