package server

import (
	"strings"
	"testing"
	"time"

	"github.com/recursive-vibe/smart-fork/internal/orchestrator"
	"github.com/recursive-vibe/smart-fork/internal/registry"
	"github.com/recursive-vibe/smart-fork/internal/scorer"
)

func TestFormatResults_Empty(t *testing.T) {
	got := FormatResults("retry logic", nil)
	if !strings.Contains(got, "retry logic") {
		t.Fatalf("expected the query echoed back in the no-results message, got %q", got)
	}
}

func TestFormatResults_RendersEveryField(t *testing.T) {
	results := []orchestrator.SessionSearchResult{
		{
			SessionID: "sess-1",
			Score:     scorer.Breakdown{Final: 0.73},
			Metadata: registry.Metadata{
				Project:      "smart-fork",
				LastModified: time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC),
			},
			Preview:       "we fixed the retry backoff",
			ResumeCommand: "smartfork resume sess-1",
			ForkCommand:   "smartfork fork sess-1",
		},
	}

	got := FormatResults("retry backoff", results)

	for _, want := range []string{
		"sess-1", "0.73", "smart-fork", "2026-01-02",
		"we fixed the retry backoff",
		"smartfork resume sess-1", "smartfork fork sess-1",
		"Found 1 session",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, got)
		}
	}
}

func TestFormatResults_PluralizesSessionCount(t *testing.T) {
	results := []orchestrator.SessionSearchResult{
		{SessionID: "a", Score: scorer.Breakdown{Final: 0.5}},
		{SessionID: "b", Score: scorer.Breakdown{Final: 0.4}},
	}

	got := FormatResults("q", results)

	if !strings.Contains(got, "Found 2 sessions") {
		t.Fatalf("expected pluralized count, got:\n%s", got)
	}
}
