// Package cmd provides the CLI commands for smartfork.
package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/recursive-vibe/smart-fork/internal/background"
	"github.com/recursive-vibe/smart-fork/internal/config"
	"github.com/recursive-vibe/smart-fork/internal/embed"
	"github.com/recursive-vibe/smart-fork/internal/embedcache"
	"github.com/recursive-vibe/smart-fork/internal/orchestrator"
	"github.com/recursive-vibe/smart-fork/internal/registry"
	"github.com/recursive-vibe/smart-fork/internal/vectorindex"
)

// app wires together the storage-backed components every subcommand
// needs: the vector index, the session registry, the embedding cache
// and encoder, the background indexer, and the search orchestrator.
// Built once per invocation from the resolved config.
type app struct {
	cfg    config.Config
	vindex *vectorindex.Index
	reg    *registry.Registry
	cache  *embedcache.Cache
	embed  *embed.Embedder
	orch   *orchestrator.Orchestrator
}

func newApp(cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	vectorDir := filepath.Join(cfg.StorageDir, "vector_db")
	vindex, err := vectorindex.Open(vectorDir, cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	reg, err := registry.Open(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("open session registry: %w", err)
	}

	cache, err := embedcache.Open(filepath.Join(cfg.StorageDir, "embedding_cache"))
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}

	encoder := embed.NewHashEncoder()
	embedder := embed.New(encoder, cache, embed.Options{
		MinBatch:         cfg.Embedding.MinBatch,
		MaxBatch:         cfg.Embedding.MaxBatch,
		GCBetweenBatches: cfg.Memory.GCBetweenBatches,
	})

	orch := orchestrator.New(embedder, vindex, reg, cfg.Search)

	return &app{
		cfg:    cfg,
		vindex: vindex,
		reg:    reg,
		cache:  cache,
		embed:  embedder,
		orch:   orch,
	}, nil
}

// indexer builds a background.Indexer rooted at sessionDir, sharing
// this app's vector index, registry, and embedder.
func (a *app) indexer(sessionDir string) *background.Indexer {
	return background.New(sessionDir, a.vindex, a.reg, a.embed, background.Config{
		DebounceSeconds:    a.cfg.Indexing.DebounceSeconds,
		CheckpointInterval: a.cfg.Indexing.CheckpointInterval,
		MaxWorkers:         a.cfg.Indexing.MaxWorkers,
	})
}

// Close flushes and releases every storage handle the app opened.
func (a *app) Close() error {
	var firstErr error
	if err := a.embed.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.cache.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.vindex.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
