package embedcache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	vec := []float32{0.1, 0.2, 0.3}
	c.Put("hello", vec)

	got, ok := c.Get("hello")
	if !ok {
		t.Fatal("expected a hit")
	}
	if len(got) != len(vec) {
		t.Fatalf("vector length mismatch: got %d, want %d", len(got), len(vec))
	}
}

func TestGetCountsHitsAndMisses(t *testing.T) {
	c, _ := Open(t.TempDir())
	c.Put("a", []float32{1})
	c.Get("a")
	c.Get("b")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit 1 miss", stats)
	}
}

func TestWriteOnceFirstWriterWins(t *testing.T) {
	c, _ := Open(t.TempDir())
	c.Put("x", []float32{1, 2})
	c.Put("x", []float32{9, 9})

	got, _ := c.Get("x")
	if got[0] != 1 {
		t.Fatalf("expected first write to win, got %v", got)
	}
}

func TestFlushAndReopen(t *testing.T) {
	dir := t.TempDir()
	c, _ := Open(dir)
	c.Put("persisted", []float32{0.5, 0.6})
	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}

	c2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := c2.Get("persisted")
	if !ok {
		t.Fatal("expected persisted entry after reopen")
	}
	if got[0] != 0.5 || got[1] != 0.6 {
		t.Fatalf("unexpected vector after reopen: %v", got)
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Open(dir)
	if err != nil {
		t.Fatalf("open should never fail on corruption, got %v", err)
	}
	if c.Stats().Entries != 0 {
		t.Fatalf("expected empty cache, got %d entries", c.Stats().Entries)
	}
}

func TestGetBatchPreservesOrderAndReportsMisses(t *testing.T) {
	c, _ := Open(t.TempDir())
	c.Put("a", []float32{1})
	c.Put("c", []float32{3})

	vecs, misses := c.GetBatch([]string{"a", "b", "c"})
	if vecs[0] == nil || vecs[2] == nil {
		t.Fatal("expected hits at indices 0 and 2")
	}
	if len(misses) != 1 || misses[0] != 1 {
		t.Fatalf("expected single miss at index 1, got %v", misses)
	}
}
