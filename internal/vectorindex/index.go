package vectorindex

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/recursive-vibe/smart-fork/internal/sferrors"
)

const (
	graphFileName = "vectors.hnsw"
	dbFileName    = "chunks.db"

	defaultM        = 16
	defaultEfSearch = 20
)

// Index is the vector index: an HNSW graph for approximate nearest
// neighbour search, paired with a SQLite side table holding text and
// metadata keyed by the same chunk ID.
type Index struct {
	mu         sync.RWMutex
	dir        string
	dimensions int

	graph *hnsw.Graph[uint64]
	db    *sql.DB

	idMap   map[string]uint64 // chunk ID -> HNSW key
	keyMap  map[uint64]string // HNSW key -> chunk ID
	nextKey uint64
	nextSeq int64 // insertion sequence, used to break similarity ties

	closed bool
}

type graphMetadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	NextSeq    int64
	Dimensions int
}

// Open loads or creates an index rooted at dir. Reopening a directory
// previously populated by this package reproduces its prior state.
func Open(dir string, dimensions int) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, sferrors.Fatal(sferrors.CodeVectorIndexOpen, "create vector index directory", err).WithDetail("dir", dir)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = defaultM
	graph.EfSearch = defaultEfSearch
	graph.Ml = 0.25

	ix := &Index{
		dir:        dir,
		dimensions: dimensions,
		graph:      graph,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}

	if err := ix.loadGraph(); err != nil {
		return nil, err
	}

	db, err := openDB(filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, err
	}
	ix.db = db

	return ix, nil
}

func openDB(path string) (*sql.DB, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, sferrors.Fatal(sferrors.CodeVectorIndexOpen, "open chunk store", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, sferrors.Fatal(sferrors.CodeVectorIndexOpen, "set pragma", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		seq          INTEGER NOT NULL,
		text         TEXT NOT NULL,
		session_id   TEXT NOT NULL,
		project      TEXT,
		chunk_index  INTEGER,
		memory_types TEXT,
		metadata     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, sferrors.Fatal(sferrors.CodeVectorIndexOpen, "initialise chunk store schema", err)
	}
	return db, nil
}

// Add inserts a batch of (record, vector) pairs, assigning a UUID to
// any record without an ID, and returns the final ID list in order.
func (ix *Index) Add(ctx context.Context, records []Record, vectors [][]float32) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if len(records) != len(vectors) {
		return nil, sferrors.Input(sferrors.CodeVectorIndexIO, "records and vectors length mismatch", nil)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil, sferrors.Fatal(sferrors.CodeVectorIndexIO, "index is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != ix.dimensions {
			return nil, sferrors.Input(sferrors.CodeVectorIndexIO, "vector dimension mismatch", nil).
				WithDetail("expected", fmt.Sprintf("%d", ix.dimensions)).WithDetail("got", fmt.Sprintf("%d", len(v)))
		}
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, sferrors.Fatal(sferrors.CodeVectorIndexIO, "begin transaction", err)
	}
	defer tx.Rollback()

	ids := make([]string, len(records))
	for i, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id

		// Lazy re-insert: orphan any existing key for this ID rather than
		// deleting from the graph, avoiding coder/hnsw's last-node-delete bug.
		if existingKey, exists := ix.idMap[id]; exists {
			delete(ix.keyMap, existingKey)
			delete(ix.idMap, id)
		}

		key := ix.nextKey
		ix.nextKey++
		seq := ix.nextSeq
		ix.nextSeq++

		vec := normalize(vectors[i])
		ix.graph.Add(hnsw.MakeNode(key, vec))
		ix.idMap[id] = key
		ix.keyMap[key] = id

		if err := upsertChunk(ctx, tx, id, seq, rec); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, sferrors.Fatal(sferrors.CodeVectorIndexIO, "commit chunk insert", err)
	}
	if err := ix.saveGraphLocked(); err != nil {
		return nil, err
	}
	return ids, nil
}

func upsertChunk(ctx context.Context, tx *sql.Tx, id string, seq int64, rec Record) error {
	sessionID, _ := rec.Metadata["session_id"].(string)
	project, _ := rec.Metadata["project"].(string)

	var chunkIndex any
	if ci, ok := rec.Metadata["chunk_index"]; ok {
		chunkIndex = ci
	}

	memoryTypesJSON, err := encodeMemoryTypes(rec.Metadata["memory_types"])
	if err != nil {
		return sferrors.Input(sferrors.CodeVectorIndexIO, "encode memory_types", err)
	}

	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return sferrors.Input(sferrors.CodeVectorIndexIO, "encode metadata", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunks (id, seq, text, session_id, project, chunk_index, memory_types, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seq=excluded.seq, text=excluded.text, session_id=excluded.session_id,
			project=excluded.project, chunk_index=excluded.chunk_index,
			memory_types=excluded.memory_types, metadata=excluded.metadata
	`, id, seq, rec.Text, sessionID, project, chunkIndex, memoryTypesJSON, string(metaJSON))
	if err != nil {
		return sferrors.Fatal(sferrors.CodeVectorIndexIO, "insert chunk", err)
	}
	return nil
}

func encodeMemoryTypes(v any) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Search returns the k most similar records to query, optionally
// restricted by an equality filter. Results are ordered by descending
// similarity, ties broken by ascending insertion order.
func (ix *Index) Search(ctx context.Context, query []float32, k int, filter Filter) ([]SearchHit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.closed {
		return nil, sferrors.Fatal(sferrors.CodeVectorIndexIO, "index is closed", nil)
	}
	if len(query) != ix.dimensions {
		return nil, sferrors.Input(sferrors.CodeVectorIndexIO, "query dimension mismatch", nil).
			WithDetail("expected", fmt.Sprintf("%d", ix.dimensions)).WithDetail("got", fmt.Sprintf("%d", len(query)))
	}
	if ix.graph.Len() == 0 {
		return nil, nil
	}

	// Overfetch when filtering, since the graph itself is filter-blind.
	fetchK := k
	if len(filter) > 0 {
		fetchK = k * 5
		if fetchK < k+50 {
			fetchK = k + 50
		}
	}
	if fetchK > ix.graph.Len() {
		fetchK = ix.graph.Len()
	}

	q := normalize(query)
	nodes := ix.graph.Search(q, fetchK)

	type candidate struct {
		id  string
		sim float32
	}
	candidates := make([]candidate, 0, len(nodes))
	for _, node := range nodes {
		id, ok := ix.keyMap[node.Key]
		if !ok {
			continue // lazily-deleted orphan
		}
		distance := ix.graph.Distance(q, node.Value)
		candidates = append(candidates, candidate{id: id, sim: cosineDistanceToSimilarity(distance)})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	records, seqs, err := ix.fetchRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(candidates))
	for _, c := range candidates {
		rec, ok := records[c.id]
		if !ok {
			continue
		}
		if !filter.matches(rec.Metadata) {
			continue
		}
		hits = append(hits, SearchHit{Record: rec, Similarity: c.sim})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return seqs[hits[i].ID] < seqs[hits[j].ID]
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// fetchRecords loads text/metadata for a set of IDs in one query,
// along with each ID's insertion sequence for tie-breaking.
func (ix *Index) fetchRecords(ctx context.Context, ids []string) (map[string]Record, map[string]int64, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, seq, text, metadata FROM chunks WHERE id IN (%s)`, joinPlaceholders(placeholders))

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, sferrors.Fatal(sferrors.CodeVectorIndexIO, "query chunks", err)
	}
	defer rows.Close()

	records := make(map[string]Record, len(ids))
	seqs := make(map[string]int64, len(ids))
	for rows.Next() {
		var id, text, metaJSON string
		var seq int64
		if err := rows.Scan(&id, &seq, &text, &metaJSON); err != nil {
			return nil, nil, sferrors.Fatal(sferrors.CodeVectorIndexIO, "scan chunk row", err)
		}
		var meta Metadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			meta = Metadata{}
		}
		records[id] = Record{ID: id, Text: text, Metadata: meta}
		seqs[id] = seq
	}
	return records, seqs, rows.Err()
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += "," + p
	}
	return out
}

// DeleteSession removes every record for sessionID, from both the
// graph's mappings (lazy deletion) and the chunk store, returning the
// count removed.
func (ix *Index) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return 0, sferrors.Fatal(sferrors.CodeVectorIndexIO, "index is closed", nil)
	}

	rows, err := ix.db.QueryContext(ctx, `SELECT id FROM chunks WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, sferrors.Fatal(sferrors.CodeVectorIndexIO, "query session chunks", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, sferrors.Fatal(sferrors.CodeVectorIndexIO, "scan chunk id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	if len(ids) == 0 {
		return 0, nil
	}

	for _, id := range ids {
		if key, exists := ix.idMap[id]; exists {
			delete(ix.keyMap, key)
			delete(ix.idMap, id)
		}
	}

	if _, err := ix.db.ExecContext(ctx, `DELETE FROM chunks WHERE session_id = ?`, sessionID); err != nil {
		return 0, sferrors.Fatal(sferrors.CodeVectorIndexIO, "delete session chunks", err)
	}
	if err := ix.saveGraphLocked(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// GetByID returns the record stored under id, or (zero, false) if absent.
func (ix *Index) GetByID(ctx context.Context, id string) (Record, bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	row := ix.db.QueryRowContext(ctx, `SELECT text, metadata FROM chunks WHERE id = ?`, id)
	var text, metaJSON string
	if err := row.Scan(&text, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, sferrors.Fatal(sferrors.CodeVectorIndexIO, "get chunk by id", err)
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		meta = Metadata{}
	}
	return Record{ID: id, Text: text, Metadata: meta}, true, nil
}

// GetSession returns every record for sessionID, ordered by chunk_index.
func (ix *Index) GetSession(ctx context.Context, sessionID string) ([]Record, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rows, err := ix.db.QueryContext(ctx, `
		SELECT id, text, metadata FROM chunks WHERE session_id = ? ORDER BY chunk_index ASC
	`, sessionID)
	if err != nil {
		return nil, sferrors.Fatal(sferrors.CodeVectorIndexIO, "query session", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var id, text, metaJSON string
		if err := rows.Scan(&id, &text, &metaJSON); err != nil {
			return nil, sferrors.Fatal(sferrors.CodeVectorIndexIO, "scan session row", err)
		}
		var meta Metadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			meta = Metadata{}
		}
		out = append(out, Record{ID: id, Text: text, Metadata: meta})
	}
	return out, rows.Err()
}

// Stats summarises the index's contents.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var total int
	row := ix.db.QueryRow(`SELECT COUNT(*) FROM chunks`)
	_ = row.Scan(&total)

	graphNodes := ix.graph.Len()
	return Stats{
		TotalChunks: total,
		GraphNodes:  graphNodes,
		Orphans:     graphNodes - len(ix.idMap),
	}
}

// Reset clears the graph and chunk store, leaving an empty index.
func (ix *Index) Reset() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, err := ix.db.Exec(`DELETE FROM chunks`); err != nil {
		return sferrors.Fatal(sferrors.CodeVectorIndexIO, "reset chunk store", err)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = defaultM
	graph.EfSearch = defaultEfSearch
	graph.Ml = 0.25
	ix.graph = graph
	ix.idMap = make(map[string]uint64)
	ix.keyMap = make(map[uint64]string)
	ix.nextKey = 0
	ix.nextSeq = 0

	return ix.saveGraphLocked()
}

// Close releases resources held by the index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true
	return ix.db.Close()
}

func (ix *Index) saveGraphLocked() error {
	path := filepath.Join(ix.dir, graphFileName)
	tmpPath := path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return sferrors.Fatal(sferrors.CodeVectorIndexIO, "create graph temp file", err)
	}
	if err := ix.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return sferrors.Fatal(sferrors.CodeVectorIndexIO, "export graph", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return sferrors.Fatal(sferrors.CodeVectorIndexIO, "close graph temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return sferrors.Fatal(sferrors.CodeVectorIndexIO, "rename graph file", err)
	}

	return ix.saveMetaLocked(path + ".meta")
}

func (ix *Index) saveMetaLocked(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return sferrors.Fatal(sferrors.CodeVectorIndexIO, "create graph meta temp file", err)
	}
	meta := graphMetadata{IDMap: ix.idMap, NextKey: ix.nextKey, NextSeq: ix.nextSeq, Dimensions: ix.dimensions}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return sferrors.Fatal(sferrors.CodeVectorIndexIO, "encode graph meta", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return sferrors.Fatal(sferrors.CodeVectorIndexIO, "close graph meta temp file", err)
	}
	return os.Rename(tmpPath, path)
}

func (ix *Index) loadGraph() error {
	path := filepath.Join(ix.dir, graphFileName)
	metaPath := path + ".meta"

	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		return nil // fresh start
	}

	metaFile, err := os.Open(metaPath)
	if err != nil {
		return sferrors.Fatal(sferrors.CodeVectorIndexOpen, "open graph meta", err)
	}
	defer metaFile.Close()

	var meta graphMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return sferrors.Corruption(sferrors.CodeVectorIndexOpen, "decode graph meta", err)
	}
	ix.idMap = meta.IDMap
	ix.nextKey = meta.NextKey
	ix.nextSeq = meta.NextSeq
	ix.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		ix.keyMap[key] = id
	}

	file, err := os.Open(path)
	if err != nil {
		return sferrors.Fatal(sferrors.CodeVectorIndexOpen, "open graph file", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	if err := ix.graph.Import(reader); err != nil {
		return sferrors.Corruption(sferrors.CodeVectorIndexOpen, "import graph", err)
	}
	return nil
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = val * inv
	}
	return out
}

// cosineDistanceToSimilarity converts coder/hnsw's cosine distance
// (0 = identical, 2 = opposite) into a [0,1] similarity score.
func cosineDistanceToSimilarity(distance float32) float32 {
	return 1.0 - distance/2.0
}
