// Package background keeps the vector index and session registry in
// sync with an on-disk tree of append-only session files: a watcher
// marks files as touched, a debounce monitor promotes eligible files
// to a work queue, and a fixed-size worker pool re-indexes them.
package background

import "time"

// State is a file's position in the per-file indexing state machine.
type State int

const (
	StatePending State = iota
	StateEnqueued
	StateIndexing
	StateIdle
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateEnqueued:
		return "enqueued"
	case StateIndexing:
		return "indexing"
	case StateIdle:
		return "idle"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// task is one file's indexing state. All access is guarded by
// Indexer.mu.
type task struct {
	path             string
	sessionID        string
	state            State
	lastEvent        time.Time
	messageCount     int
	lastIndexedCount int
	errorCount       int
}

// Stats mirrors spec §4.8's get_stats operation.
type Stats struct {
	FilesIndexed  int
	ChunksAdded   int
	Errors        int
	LastIndexTime time.Time
}

// Config bounds the indexer's debounce, checkpoint, and worker-pool
// behaviour. Zero values are filled from spec §6.4's defaults by
// withDefaults.
type Config struct {
	// DebounceSeconds is how long a file must be quiet before an
	// eligible PENDING task is promoted to ENQUEUED.
	DebounceSeconds float64
	// CheckpointInterval is the message-count delta that makes a task
	// eligible even without a fresh event.
	CheckpointInterval int
	// MaxWorkers is the size of the indexing worker pool.
	MaxWorkers int
	// PollInterval is how often the debounce monitor loop wakes up to
	// scan the pending-tasks map. Not part of spec's configuration
	// surface; it is an implementation constant exposed for tests.
	PollInterval time.Duration
	// SessionSuffix filters which files scan_directory considers
	// eligible session files.
	SessionSuffix string
}

const (
	defaultDebounceSeconds    = 5.0
	defaultCheckpointInterval = 15
	defaultMaxWorkers         = 2
	defaultPollInterval       = 500 * time.Millisecond
	defaultSessionSuffix      = ".jsonl"
)

func (c Config) withDefaults() Config {
	if c.DebounceSeconds == 0 {
		c.DebounceSeconds = defaultDebounceSeconds
	}
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = defaultCheckpointInterval
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = defaultMaxWorkers
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.SessionSuffix == "" {
		c.SessionSuffix = defaultSessionSuffix
	}
	return c
}
