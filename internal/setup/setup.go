// Package setup implements the one-shot resumable scan used on first
// run or whenever the index is empty: enumerate every eligible file
// under the session root, index each synchronously, and persist a
// sidecar after every file so an interrupted run can resume exactly
// where it left off.
package setup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/recursive-vibe/smart-fork/internal/atomicfile"
	"github.com/recursive-vibe/smart-fork/internal/embed"
	"github.com/recursive-vibe/smart-fork/internal/sferrors"
)

const stateFileName = "setup_state.json"

const defaultSessionSuffix = ".jsonl"

// Indexer is the subset of internal/background.Indexer the setup
// engine needs: the synchronous, single-file index path.
type Indexer interface {
	IndexFile(ctx context.Context, path string) error
}

// State is the setup sidecar, spec §6.2's setup_state.json.
type State struct {
	Total       int       `json:"total"`
	Processed   []string  `json:"processed"`
	StartedAt   time.Time `json:"started_at"`
	Interrupted bool      `json:"interrupted,omitempty"`
}

// Progress is delivered to an optional callback after every file.
type Progress struct {
	Processed int
	Total     int
	ETA       time.Duration
}

// ProgressFunc is invoked after each file is processed.
type ProgressFunc func(Progress)

// Engine runs the one-shot scan described in spec §4.10.
type Engine struct {
	root          string
	stateDir      string
	indexer       Indexer
	sessionSuffix string
}

// New builds an Engine. root is the session archive directory to
// scan; stateDir is where the sidecar and lock file live (normally the
// same directory as the session registry).
func New(root, stateDir string, indexer Indexer) *Engine {
	return &Engine{
		root:          root,
		stateDir:      stateDir,
		indexer:       indexer,
		sessionSuffix: defaultSessionSuffix,
	}
}

func (e *Engine) statePath() string {
	return filepath.Join(e.stateDir, stateFileName)
}

// Run enumerates eligible files and indexes every one not already in
// the sidecar's processed list. onProgress may be nil.
func (e *Engine) Run(ctx context.Context, onProgress ProgressFunc) error {
	lock := embed.NewFileLock(e.stateDir)
	if err := lock.Lock(); err != nil {
		return sferrors.Transient(sferrors.CodeInternal, "failed to acquire setup lock", err)
	}
	defer lock.Unlock()

	files, err := e.scanEligible()
	if err != nil {
		return sferrors.Input(sferrors.CodeParseNotFound, "failed to enumerate session files", err)
	}

	statePath := e.statePath()
	st, resuming := e.loadState(statePath)
	st.Total = len(files)
	if !resuming {
		st.Processed = []string{}
		st.StartedAt = time.Now()
	}
	if err := atomicfile.WriteJSON(statePath, &st); err != nil {
		return sferrors.Corruption(sferrors.CodeRegistryIO, "failed to write setup sidecar", err)
	}

	processed := make(map[string]bool, len(st.Processed))
	for _, p := range st.Processed {
		processed[p] = true
	}

	for _, path := range files {
		if processed[path] {
			continue
		}

		select {
		case <-ctx.Done():
			st.Interrupted = true
			if err := atomicfile.WriteJSON(statePath, &st); err != nil {
				slog.Warn("failed to persist setup sidecar on interrupt", slog.String("error", err.Error()))
			}
			return ctx.Err()
		default:
		}

		if err := e.indexer.IndexFile(ctx, path); err != nil {
			slog.Warn("setup failed to index a file, continuing", slog.String("path", path), slog.String("error", err.Error()))
		}

		st.Processed = append(st.Processed, path)
		if err := atomicfile.WriteJSON(statePath, &st); err != nil {
			return sferrors.Corruption(sferrors.CodeRegistryIO, "failed to update setup sidecar", err)
		}

		if onProgress != nil {
			elapsed := time.Since(st.StartedAt)
			onProgress(Progress{
				Processed: len(st.Processed),
				Total:     st.Total,
				ETA:       estimateETA(elapsed, len(st.Processed), st.Total),
			})
		}
	}

	if err := os.Remove(statePath); err != nil && !os.IsNotExist(err) {
		return sferrors.Corruption(sferrors.CodeRegistryIO, "failed to remove setup sidecar after completion", err)
	}
	return nil
}

func (e *Engine) loadState(statePath string) (State, bool) {
	if !atomicfile.Exists(statePath) {
		return State{}, false
	}
	var st State
	if err := atomicfile.ReadJSON(statePath, &st); err != nil {
		slog.Warn("setup sidecar is corrupt, starting a fresh scan", slog.String("error", err.Error()))
		return State{}, false
	}
	return st, true
}

func (e *Engine) scanEligible() ([]string, error) {
	entries, err := os.ReadDir(e.root)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), e.sessionSuffix) {
			continue
		}
		files = append(files, filepath.Join(e.root, ent.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// estimateETA derives a remaining-time estimate from the average
// per-file duration observed so far. No speed smoothing or
// sparkline — a one-shot scan only needs a rough number.
func estimateETA(elapsed time.Duration, processed, total int) time.Duration {
	if processed <= 0 {
		return 0
	}
	remaining := total - processed
	if remaining <= 0 {
		return 0
	}
	perFile := elapsed / time.Duration(processed)
	return perFile * time.Duration(remaining)
}
