package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAddGetRoundTrip(t *testing.T) {
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	meta := Metadata{SessionID: "s1", Project: "proj-a", ChunkCount: 3}
	if err := r.Add(meta); err != nil {
		t.Fatal(err)
	}

	got, ok := r.Get("s1")
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.Project != "proj-a" || got.ChunkCount != 3 {
		t.Fatalf("unexpected metadata: %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	r, _ := Open(t.TempDir())
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected miss")
	}
}

func TestUpdateCreatesIfAbsent(t *testing.T) {
	r, _ := Open(t.TempDir())
	got, err := r.Update("new-session", func(m *Metadata) {
		m.ChunkCount = 5
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "new-session" || got.ChunkCount != 5 {
		t.Fatalf("unexpected metadata: %+v", got)
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	r, _ := Open(t.TempDir())
	r.Add(Metadata{SessionID: "s1"})

	existed, err := r.Delete("s1")
	if err != nil || !existed {
		t.Fatalf("expected existed=true, got %v err=%v", existed, err)
	}

	existed, err = r.Delete("s1")
	if err != nil || existed {
		t.Fatalf("expected existed=false on second delete, got %v", existed)
	}
}

func TestListFiltersByProjectAndTags(t *testing.T) {
	r, _ := Open(t.TempDir())
	r.Add(Metadata{SessionID: "a", Project: "p1", Tags: []string{"x"}})
	r.Add(Metadata{SessionID: "b", Project: "p2", Tags: []string{"y"}})
	r.Add(Metadata{SessionID: "c", Project: "p1", Tags: []string{"y"}})

	byProject := r.List(ListFilter{Project: "p1"})
	if len(byProject) != 2 {
		t.Fatalf("expected 2 sessions in p1, got %d", len(byProject))
	}

	byTag := r.List(ListFilter{Tags: []string{"y"}})
	if len(byTag) != 2 {
		t.Fatalf("expected 2 sessions tagged y, got %d", len(byTag))
	}
}

func TestListIsSortedBySessionID(t *testing.T) {
	r, _ := Open(t.TempDir())
	r.Add(Metadata{SessionID: "zeta"})
	r.Add(Metadata{SessionID: "alpha"})

	all := r.List(ListFilter{})
	if all[0].SessionID != "alpha" || all[1].SessionID != "zeta" {
		t.Fatalf("expected sorted order, got %v", all)
	}
}

func TestSetLastSyncedDefaultsToNow(t *testing.T) {
	r, _ := Open(t.TempDir())
	r.Add(Metadata{SessionID: "s1"})

	before := time.Now()
	if err := r.SetLastSynced("s1", time.Time{}); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get("s1")
	if got.LastIndexed.Before(before) {
		t.Fatalf("expected LastIndexed >= %v, got %v", before, got.LastIndexed)
	}
}

func TestStatsSumsChunkCounts(t *testing.T) {
	r, _ := Open(t.TempDir())
	r.Add(Metadata{SessionID: "a", ChunkCount: 2})
	r.Add(Metadata{SessionID: "b", ChunkCount: 3})

	stats := r.Stats()
	if stats.SessionCount != 2 || stats.TotalChunks != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestClearEmptiesRegistry(t *testing.T) {
	r, _ := Open(t.TempDir())
	r.Add(Metadata{SessionID: "a"})
	if err := r.Clear(); err != nil {
		t.Fatal(err)
	}
	if stats := r.Stats(); stats.SessionCount != 0 {
		t.Fatalf("expected empty registry, got %+v", stats)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	r, _ := Open(dir)
	r.Add(Metadata{SessionID: "s1", ChunkCount: 7})

	r2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := r2.Get("s1")
	if !ok || got.ChunkCount != 7 {
		t.Fatalf("expected persisted entry, got %+v ok=%v", got, ok)
	}
}

func TestCorruptSidecarStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open should never fail on corruption, got %v", err)
	}
	if stats := r.Stats(); stats.SessionCount != 0 {
		t.Fatalf("expected empty registry, got %+v", stats)
	}
}
