package server

import (
	"fmt"
	"strings"

	"github.com/recursive-vibe/smart-fork/internal/orchestrator"
)

// FormatResults renders ranked session results as the single text blob
// spec §6.3's search operation returns, in the teacher's markdown-ish
// result-formatting style (internal/mcp/format.go's FormatSearchResults).
func FormatResults(query string, results []orchestrator.SessionSearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No prior sessions found for %q", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Prior sessions for %q\n\n", query))
	sb.WriteString(fmt.Sprintf("Found %d session", len(results)))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatSessionResult(&sb, i+1, r)
	}
	return sb.String()
}

func formatSessionResult(sb *strings.Builder, rank int, r orchestrator.SessionSearchResult) {
	sb.WriteString(fmt.Sprintf("%d. **%s** (score %.2f)\n", rank, r.SessionID, r.Score.Final))
	if r.Metadata.Project != "" {
		sb.WriteString(fmt.Sprintf("   project: %s\n", r.Metadata.Project))
	}
	if !r.Metadata.LastModified.IsZero() {
		sb.WriteString(fmt.Sprintf("   last modified: %s\n", r.Metadata.LastModified.Format("2006-01-02 15:04")))
	}
	if r.Preview != "" {
		sb.WriteString(fmt.Sprintf("   preview: %s\n", r.Preview))
	}
	sb.WriteString(fmt.Sprintf("   resume: `%s`  fork: `%s`\n\n", r.ResumeCommand, r.ForkCommand))
}
