// Package orchestrator implements the single-call search pipeline:
// embed the query, sweep the vector index, group hits by session,
// score each candidate session, and return the ranked, preview-
// annotated top N.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/recursive-vibe/smart-fork/internal/chunk"
	"github.com/recursive-vibe/smart-fork/internal/config"
	"github.com/recursive-vibe/smart-fork/internal/registry"
	"github.com/recursive-vibe/smart-fork/internal/scorer"
	"github.com/recursive-vibe/smart-fork/internal/sferrors"
	"github.com/recursive-vibe/smart-fork/internal/vectorindex"
)

// Embedder is the subset of internal/embed.Embedder the orchestrator needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the subset of internal/vectorindex.Index the
// orchestrator needs to sweep candidate chunks.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k int, filter vectorindex.Filter) ([]vectorindex.SearchHit, error)
}

// SessionRegistry is the subset of internal/registry.Registry the
// orchestrator needs to enrich candidate sessions.
type SessionRegistry interface {
	Get(id string) (registry.Metadata, bool)
}

// Query is the orchestrator's input, spec §4.9.
type Query struct {
	Text    string
	TopN    int
	Project string
}

// SessionSearchResult is one ranked session, spec §4.9's output shape.
type SessionSearchResult struct {
	SessionID     string
	Score         scorer.Breakdown
	Metadata      registry.Metadata
	Preview       string
	MatchedChunks []vectorindex.SearchHit
	ResumeCommand string
	ForkCommand   string
}

// Orchestrator ties the embedder, vector index, registry, and scorer
// into the single search(query, top_n?, project?) operation.
type Orchestrator struct {
	embedder Embedder
	vindex   VectorIndex
	reg      SessionRegistry
	cfg      config.SearchConfig
	weights  scorer.Weights
}

// New builds an Orchestrator. cfg.RecencyWeight overrides the
// scorer's default recency weight, per spec §6.4's configurable weight
// vector note; the remaining sub-score weights are spec's fixed
// defaults.
func New(embedder Embedder, vindex VectorIndex, reg SessionRegistry, cfg config.SearchConfig) *Orchestrator {
	weights := scorer.DefaultWeights()
	if cfg.RecencyWeight > 0 {
		weights.Recency = cfg.RecencyWeight
	}
	return &Orchestrator{
		embedder: embedder,
		vindex:   vindex,
		reg:      reg,
		cfg:      cfg,
		weights:  weights,
	}
}

// Search runs spec §4.9's eight-step algorithm.
func (o *Orchestrator) Search(ctx context.Context, q Query) ([]SessionSearchResult, error) {
	if o == nil || o.vindex == nil {
		return nil, sferrors.Input(sferrors.CodeNotInitialised, "service not initialised", nil)
	}

	text := strings.TrimSpace(q.Text)
	if len(text) < 1 {
		return nil, sferrors.Input(sferrors.CodeEmptyQuery, "please provide a query", nil)
	}

	topN := q.TopN
	if topN <= 0 {
		topN = o.cfg.TopNSessions
	}

	vec, err := o.embedder.Embed(ctx, text)
	if err != nil {
		return nil, sferrors.Transient(sferrors.CodeEmbedderIO, "failed to embed query", err)
	}

	var filter vectorindex.Filter
	if q.Project != "" {
		filter = vectorindex.Filter{"project": q.Project}
	}

	hits, err := o.vindex.Search(ctx, vec, o.cfg.KChunks, filter)
	if err != nil {
		return nil, sferrors.Transient(sferrors.CodeVectorIndexIO, "vector search failed", err)
	}

	grouped, order := groupBySession(hits)
	candidates := o.buildCandidates(order, grouped)

	ranked := scorer.Rank(candidates, o.weights, time.Now())
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	results := make([]SessionSearchResult, 0, len(ranked))
	for _, b := range ranked {
		sessionHits := grouped[b.SessionID]
		meta, _ := o.reg.Get(b.SessionID)
		results = append(results, SessionSearchResult{
			SessionID:     b.SessionID,
			Score:         b,
			Metadata:      meta,
			Preview:       buildPreview(sessionHits, previewLength(o.cfg.PreviewLength)),
			MatchedChunks: sessionHits,
			ResumeCommand: fmt.Sprintf("smartfork resume %s", b.SessionID),
			ForkCommand:   fmt.Sprintf("/fork %s", b.SessionID),
		})
	}
	return results, nil
}

// groupBySession buckets hits by session_id, preserving first-seen
// order (which mirrors the vector index's own similarity ordering).
func groupBySession(hits []vectorindex.SearchHit) (map[string][]vectorindex.SearchHit, []string) {
	grouped := make(map[string][]vectorindex.SearchHit)
	var order []string
	for _, h := range hits {
		sid, _ := h.Metadata["session_id"].(string)
		if sid == "" {
			continue
		}
		if _, ok := grouped[sid]; !ok {
			order = append(order, sid)
		}
		grouped[sid] = append(grouped[sid], h)
	}
	return grouped, order
}

func (o *Orchestrator) buildCandidates(order []string, grouped map[string][]vectorindex.SearchHit) []scorer.Candidate {
	candidates := make([]scorer.Candidate, 0, len(order))
	for _, sid := range order {
		sessionHits := grouped[sid]
		sims := make([]float64, len(sessionHits))
		var markers []chunk.Marker
		for i, h := range sessionHits {
			sims[i] = float64(h.Similarity)
			markers = append(markers, extractMarkers(h.Metadata)...)
		}

		chunkCount := 1
		var lastModified time.Time
		if meta, ok := o.reg.Get(sid); ok {
			chunkCount = meta.ChunkCount
			lastModified = meta.LastModified
		} else {
			slog.Warn("matched session has no registry entry; surfacing as an orphan", slog.String("session_id", sid))
		}

		candidates = append(candidates, scorer.Candidate{
			SessionID:    sid,
			Similarities: sims,
			ChunkCount:   chunkCount,
			LastModified: lastModified,
			MemoryTypes:  markers,
		})
	}
	return candidates
}

func extractMarkers(m vectorindex.Metadata) []chunk.Marker {
	raw, ok := m["memory_types"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		out := make([]chunk.Marker, len(v))
		for i, s := range v {
			out[i] = chunk.Marker(s)
		}
		return out
	case []any:
		out := make([]chunk.Marker, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, chunk.Marker(s))
			}
		}
		return out
	default:
		return nil
	}
}

func previewLength(n int) int {
	if n <= 0 {
		return 200
	}
	return n
}

// buildPreview truncates the top-scoring matched chunk's text to
// maxLen characters, extended to the nearest whitespace on the right,
// per spec §4.9 step 7.
func buildPreview(hits []vectorindex.SearchHit, maxLen int) string {
	if len(hits) == 0 {
		return ""
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h.Similarity > best.Similarity {
			best = h
		}
	}
	return truncateAtWhitespace(best.Text, maxLen)
}

func truncateAtWhitespace(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	rest := s[maxLen:]
	if idx := strings.IndexFunc(rest, unicode.IsSpace); idx >= 0 {
		return s[:maxLen+idx]
	}
	return s[:maxLen]
}

// FormatFailure renders err into one of spec §4.9/§7's three
// user-visible shapes.
func FormatFailure(err error) string {
	if err == nil {
		return ""
	}
	switch sferrors.Code(err) {
	case sferrors.CodeEmptyQuery:
		return "please provide a query"
	case sferrors.CodeNotInitialised:
		return "service not initialised"
	default:
		return fmt.Sprintf("error: %s", err.Error())
	}
}
