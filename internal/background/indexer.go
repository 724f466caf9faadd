package background

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/recursive-vibe/smart-fork/internal/chunk"
	"github.com/recursive-vibe/smart-fork/internal/parser"
	"github.com/recursive-vibe/smart-fork/internal/registry"
	"github.com/recursive-vibe/smart-fork/internal/sferrors"
	"github.com/recursive-vibe/smart-fork/internal/vectorindex"
)

// Embedder is the subset of internal/embed.Embedder the indexer needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Flush() error
}

// VectorIndex is the subset of internal/vectorindex.Index the indexer
// needs to replace a session's chunks.
type VectorIndex interface {
	Add(ctx context.Context, records []vectorindex.Record, vectors [][]float32) ([]string, error)
	DeleteSession(ctx context.Context, sessionID string) (int, error)
}

// SessionRegistry is the subset of internal/registry.Registry the
// indexer needs to record per-session indexing progress.
type SessionRegistry interface {
	Update(id string, fn func(*registry.Metadata)) (registry.Metadata, error)
}

// Indexer is the Background Indexer: a watcher, a debounce monitor, and
// a worker pool that keep the vector index and registry in sync with
// the session file tree.
type Indexer struct {
	root     string
	cfg      Config
	vindex   VectorIndex
	reg      SessionRegistry
	embedder Embedder
	chunker  *chunk.SessionChunker

	mu    sync.Mutex
	tasks map[string]*task

	sessLocksMu sync.Mutex
	sessLocks   map[string]*sync.Mutex

	statsMu sync.Mutex
	stats   Stats

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher

	workersDone chan struct{}
	loopsWG     sync.WaitGroup
}

// New builds an Indexer over root, a flat directory of session files.
func New(root string, vindex VectorIndex, reg SessionRegistry, embedder Embedder, cfg Config) *Indexer {
	return &Indexer{
		root:      root,
		cfg:       cfg.withDefaults(),
		vindex:    vindex,
		reg:       reg,
		embedder:  embedder,
		chunker:   chunk.NewSessionChunker(chunk.SessionChunkerOptions{}),
		tasks:     make(map[string]*task),
		sessLocks: make(map[string]*sync.Mutex),
	}
}

// IsRunning reports whether Start has been called without a matching Stop.
func (idx *Indexer) IsRunning() bool {
	idx.runMu.Lock()
	defer idx.runMu.Unlock()
	return idx.running
}

// GetPendingCount returns the number of files awaiting or undergoing
// indexing (PENDING, ENQUEUED, or INDEXING).
func (idx *Indexer) GetPendingCount() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	count := 0
	for _, t := range idx.tasks {
		if t.state == StatePending || t.state == StateEnqueued || t.state == StateIndexing {
			count++
		}
	}
	return count
}

// GetStats returns a snapshot of the indexer's lifetime counters.
func (idx *Indexer) GetStats() Stats {
	idx.statsMu.Lock()
	defer idx.statsMu.Unlock()
	return idx.stats
}

// Start begins watching root and indexing eligible files. A second
// call while already running is a no-op, per spec's "start on a
// running indexer is a no-op" rule.
func (idx *Indexer) Start(ctx context.Context) error {
	idx.runMu.Lock()
	if idx.running {
		idx.runMu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		idx.runMu.Unlock()
		return sferrors.Transient(sferrors.CodeWatcherHiccup, "failed to create file watcher", err)
	}
	if err := watcher.Add(idx.root); err != nil {
		watcher.Close()
		idx.runMu.Unlock()
		return sferrors.Transient(sferrors.CodeWatcherHiccup, "failed to watch session root", err).WithDetail("root", idx.root)
	}

	runCtx, cancel := context.WithCancel(ctx)
	idx.watcher = watcher
	idx.cancel = cancel
	idx.running = true
	idx.runMu.Unlock()

	workCh := make(chan string, idx.cfg.MaxWorkers*4)

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < idx.cfg.MaxWorkers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case path, ok := <-workCh:
					if !ok {
						return nil
					}
					if err := idx.IndexFile(gctx, path); err != nil {
						slog.Warn("session indexing task failed", slog.String("path", path), slog.String("error", err.Error()))
					}
				}
			}
		})
	}
	idx.workersDone = make(chan struct{})
	go func() {
		g.Wait()
		close(idx.workersDone)
	}()

	idx.loopsWG.Add(2)
	go idx.watchLoop(runCtx)
	go idx.monitorLoop(runCtx, workCh)

	return nil
}

// Stop signals every goroutine to finish its current task and returns
// once they have. Safe to call when not running.
func (idx *Indexer) Stop() {
	idx.runMu.Lock()
	if !idx.running {
		idx.runMu.Unlock()
		return
	}
	idx.running = false
	cancel := idx.cancel
	watcher := idx.watcher
	idx.runMu.Unlock()

	cancel()
	idx.loopsWG.Wait()
	if idx.workersDone != nil {
		<-idx.workersDone
	}
	if watcher != nil {
		watcher.Close()
	}
	if err := idx.embedder.Flush(); err != nil {
		slog.Warn("failed to flush embedding cache on stop", slog.String("error", err.Error()))
	}
}

// ScanDirectory enumerates eligible files under root and registers
// each as a PENDING task, without indexing them. Used for the initial
// enumeration pass before the Setup Engine or watcher takes over.
func (idx *Indexer) ScanDirectory(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return sferrors.Input(sferrors.CodeParseNotFound, fmt.Sprintf("cannot read session directory: %s", path), err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), idx.cfg.SessionSuffix) {
			continue
		}
		idx.touch(filepath.Join(path, e.Name()))
	}
	return nil
}

// watchLoop converts raw filesystem events into task touches.
func (idx *Indexer) watchLoop(ctx context.Context) {
	defer idx.loopsWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-idx.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, idx.cfg.SessionSuffix) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				idx.touch(event.Name)
			}
		case err, ok := <-idx.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

// touch records a fresh event for path, creating its task if unseen.
func (idx *Indexer) touch(path string) {
	count, err := countMessages(path)
	if err != nil {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	t, ok := idx.tasks[path]
	if !ok {
		t = &task{path: path, sessionID: sessionIDFromPath(path)}
		idx.tasks[path] = t
	}
	t.lastEvent = time.Now()
	t.messageCount = count
	if !ok || t.state == StateIdle || t.state == StateFailed {
		t.state = StatePending
	}
}

// monitorLoop is the single debounce-monitor thread: it wakes
// periodically and promotes eligible PENDING tasks to ENQUEUED, per
// spec §4.8's debounce and checkpoint rules.
func (idx *Indexer) monitorLoop(ctx context.Context, workCh chan<- string) {
	defer idx.loopsWG.Done()
	ticker := time.NewTicker(idx.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idx.scanPending(ctx, workCh)
		}
	}
}

func (idx *Indexer) scanPending(ctx context.Context, workCh chan<- string) {
	now := time.Now()

	idx.mu.Lock()
	var toEnqueue []string
	for path, t := range idx.tasks {
		if t.state == StateEnqueued || t.state == StateIndexing {
			continue
		}
		count, err := countMessages(path)
		if err != nil {
			continue
		}
		t.messageCount = count

		debounceElapsed := now.Sub(t.lastEvent).Seconds() >= idx.cfg.DebounceSeconds
		debounceEligible := t.state == StatePending && debounceElapsed && count > t.lastIndexedCount
		checkpointEligible := count-t.lastIndexedCount >= idx.cfg.CheckpointInterval

		if debounceEligible || checkpointEligible {
			t.state = StateEnqueued
			toEnqueue = append(toEnqueue, path)
		}
	}
	idx.mu.Unlock()

	for _, path := range toEnqueue {
		select {
		case workCh <- path:
		case <-ctx.Done():
			return
		default:
			idx.mu.Lock()
			if t, ok := idx.tasks[path]; ok && t.state == StateEnqueued {
				t.state = StatePending
			}
			idx.mu.Unlock()
		}
	}
}

// IndexFile synchronously re-indexes one session file: parse, chunk,
// embed, delete the session's prior chunks, insert the new ones, and
// update the registry — spec §4.8's six-step worker procedure.
func (idx *Indexer) IndexFile(ctx context.Context, path string) error {
	idx.setState(path, StateIndexing)
	sessionID := sessionIDFromPath(path)

	result, err := parser.Parse(path, parser.ModeLenient)
	if err != nil {
		idx.recordFailure(path, err, false)
		return err
	}

	chunks := idx.chunker.Chunk(result.SessionID, result.Messages)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// Embedder failures are transient: retained in PENDING for
		// retry on the next eligible event, per spec §4.8.
		idx.recordFailure(path, err, true)
		return err
	}

	sessMu := idx.sessionLock(sessionID)
	sessMu.Lock()
	_, delErr := idx.vindex.DeleteSession(ctx, sessionID)
	var ids []string
	var addErr error
	if delErr == nil {
		records := make([]vectorindex.Record, len(chunks))
		for i, c := range chunks {
			records[i] = vectorindex.Record{
				Text: c.Content,
				Metadata: vectorindex.Metadata{
					"session_id":   sessionID,
					"chunk_index":  i,
					"memory_types": markerStrings(c.Markers),
				},
			}
		}
		ids, addErr = idx.vindex.Add(ctx, records, vectors)
	}
	sessMu.Unlock()

	if delErr != nil {
		idx.recordFailure(path, delErr, false)
		return delErr
	}
	if addErr != nil {
		idx.recordFailure(path, addErr, false)
		return addErr
	}

	now := time.Now()
	if _, err := idx.reg.Update(sessionID, func(m *registry.Metadata) {
		if m.SessionID == "" {
			m.SessionID = sessionID
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.ChunkCount = len(chunks)
		m.MessageCount = len(result.Messages)
		m.LastIndexed = now
		m.LastModified = result.File.ModTime
	}); err != nil {
		idx.recordFailure(path, err, false)
		return err
	}

	idx.mu.Lock()
	if t, ok := idx.tasks[path]; ok {
		t.state = StateIdle
		t.lastIndexedCount = t.messageCount
		t.errorCount = 0
	}
	idx.mu.Unlock()

	idx.statsMu.Lock()
	idx.stats.FilesIndexed++
	idx.stats.ChunksAdded += len(ids)
	idx.stats.LastIndexTime = now
	idx.statsMu.Unlock()

	return nil
}

func (idx *Indexer) setState(path string, s State) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if t, ok := idx.tasks[path]; ok {
		t.state = s
	} else {
		idx.tasks[path] = &task{path: path, sessionID: sessionIDFromPath(path), state: s, lastEvent: time.Now()}
	}
}

func (idx *Indexer) recordFailure(path string, err error, retryable bool) {
	idx.mu.Lock()
	if t, ok := idx.tasks[path]; ok {
		t.errorCount++
		if retryable {
			t.state = StatePending
		} else {
			t.state = StateFailed
		}
	}
	idx.mu.Unlock()

	idx.statsMu.Lock()
	idx.stats.Errors++
	idx.statsMu.Unlock()

	if retryable {
		slog.Warn("transient indexing failure, retained for retry", slog.String("path", path), slog.String("error", err.Error()))
	} else {
		slog.Error("indexing task aborted", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (idx *Indexer) sessionLock(sessionID string) *sync.Mutex {
	idx.sessLocksMu.Lock()
	defer idx.sessLocksMu.Unlock()
	m, ok := idx.sessLocks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		idx.sessLocks[sessionID] = m
	}
	return m
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func markerStrings(markers []chunk.Marker) []string {
	out := make([]string, len(markers))
	for i, m := range markers {
		out[i] = string(m)
	}
	return out
}

func countMessages(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	return count, scanner.Err()
}
