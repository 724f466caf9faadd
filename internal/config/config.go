// Package config defines smart-fork's single configuration record:
// its shape, its defaults, a YAML file loader (Load), and its
// validation rules. Parsing the CLI flags that choose the file lives
// outside this package.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the complete smart-fork configuration.
type Config struct {
	StorageDir string         `yaml:"storage_dir" json:"storage_dir"`
	Embedding  EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Search     SearchConfig    `yaml:"search" json:"search"`
	Chunking   ChunkingConfig  `yaml:"chunking" json:"chunking"`
	Indexing   IndexingConfig  `yaml:"indexing" json:"indexing"`
	Server     ServerConfig    `yaml:"server" json:"server"`
	Memory     MemoryConfig    `yaml:"memory" json:"memory"`
}

// EmbeddingConfig configures the embedder and its batching bounds.
type EmbeddingConfig struct {
	Model     string `yaml:"model" json:"model"`
	Dimension int    `yaml:"dimension" json:"dimension"`
	MinBatch  int    `yaml:"min_batch" json:"min_batch"`
	MaxBatch  int    `yaml:"max_batch" json:"max_batch"`
}

// SearchConfig configures the search orchestrator and scorer.
type SearchConfig struct {
	KChunks             int     `yaml:"k_chunks" json:"k_chunks"`
	TopNSessions        int     `yaml:"top_n_sessions" json:"top_n_sessions"`
	PreviewLength       int     `yaml:"preview_length" json:"preview_length"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	RecencyWeight       float64 `yaml:"recency_weight" json:"recency_weight"`
	// SurfaceOrphanSessions is loaded and validated with the rest of
	// the record, but the search orchestrator does not read it: sessions
	// with no registry entry are always surfaced (scored with zero
	// recency and a chunk count of 1), whatever its value.
	SurfaceOrphanSessions bool `yaml:"surface_orphan_sessions" json:"surface_orphan_sessions"`
}

// ChunkingConfig configures the chunker's token budget.
type ChunkingConfig struct {
	TargetTokens  int `yaml:"target_tokens" json:"target_tokens"`
	OverlapTokens int `yaml:"overlap_tokens" json:"overlap_tokens"`
	MaxTokens     int `yaml:"max_tokens" json:"max_tokens"`
}

// IndexingConfig configures the background indexer.
type IndexingConfig struct {
	DebounceSeconds    float64 `yaml:"debounce_seconds" json:"debounce_seconds"`
	CheckpointInterval int     `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	MaxWorkers         int     `yaml:"max_workers" json:"max_workers"`
}

// ServerConfig configures the query endpoint's loopback listener.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// MemoryConfig configures the embedder's memory-pressure adaptation.
type MemoryConfig struct {
	MaxMemoryMB      int  `yaml:"max_memory_mb" json:"max_memory_mb"`
	GCBetweenBatches bool `yaml:"gc_between_batches" json:"gc_between_batches"`
}

// Default returns the configuration with every default from spec §6.4.
func Default() Config {
	home, err := os.UserHomeDir()
	storageDir := filepath.Join(".", ".smart-fork")
	if err == nil {
		storageDir = filepath.Join(home, ".smart-fork")
	}
	return Config{
		StorageDir: storageDir,
		Embedding: EmbeddingConfig{
			Model:     "default",
			Dimension: 768,
			MinBatch:  8,
			MaxBatch:  128,
		},
		Search: SearchConfig{
			KChunks:               200,
			TopNSessions:          5,
			PreviewLength:         200,
			SimilarityThreshold:   0.3,
			RecencyWeight:         0.25,
			SurfaceOrphanSessions: true,
		},
		Chunking: ChunkingConfig{
			TargetTokens:  750,
			OverlapTokens: 150,
			MaxTokens:     1000,
		},
		Indexing: IndexingConfig{
			DebounceSeconds:    5.0,
			CheckpointInterval: 15,
			Enabled:            true,
			MaxWorkers:         2,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8741,
		},
		Memory: MemoryConfig{
			MaxMemoryMB:      2000,
			GCBetweenBatches: true,
		},
	}
}

// Load reads a YAML config file, applying spec defaults for anything
// absent from it.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces spec §6.4's validation rules.
func (c Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be > 0, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.MinBatch < 1 || c.Embedding.MinBatch > c.Embedding.MaxBatch {
		return fmt.Errorf("embedding.min_batch must satisfy 1 <= min_batch <= max_batch, got min=%d max=%d", c.Embedding.MinBatch, c.Embedding.MaxBatch)
	}
	if c.Search.KChunks <= 0 {
		return fmt.Errorf("search.k_chunks must be > 0, got %d", c.Search.KChunks)
	}
	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("search.similarity_threshold must be in [0,1], got %f", c.Search.SimilarityThreshold)
	}
	if c.Search.RecencyWeight < 0 || c.Search.RecencyWeight > 1 {
		return fmt.Errorf("search.recency_weight must be in [0,1], got %f", c.Search.RecencyWeight)
	}
	if c.Chunking.TargetTokens > c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.target_tokens must be <= max_tokens, got target=%d max=%d", c.Chunking.TargetTokens, c.Chunking.MaxTokens)
	}
	if c.Server.Port < 1024 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in the unprivileged range, got %d", c.Server.Port)
	}
	if c.Memory.MaxMemoryMB <= 0 {
		return fmt.Errorf("memory.max_memory_mb must be > 0, got %d", c.Memory.MaxMemoryMB)
	}
	return nil
}
