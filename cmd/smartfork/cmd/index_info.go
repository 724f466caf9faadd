package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/recursive-vibe/smart-fork/internal/chunk"
	"github.com/recursive-vibe/smart-fork/internal/parser"
)

// indexInfoOutput is the JSON shape for index info --json: one
// session's chunks, each annotated with every marker occurrence found
// in it (not just presence, unlike the indexed `memory_types` tags).
type indexInfoOutput struct {
	SessionID string           `json:"session_id"`
	Chunks    []indexInfoChunk `json:"chunks"`
}

type indexInfoChunk struct {
	Index   int                    `json:"index"`
	Markers []indexInfoMarkerMatch `json:"markers"`
}

type indexInfoMarkerMatch struct {
	Marker   string `json:"marker"`
	Position int    `json:"position"`
	Context  string `json:"context"`
}

func newIndexInfoCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info <session-file>",
		Short: "Show chunk and salience-marker detail for one session file",
		Long: `info parses and chunks a single session file the way the indexer
would, then reports every salience-marker occurrence (pattern, working
solution, waiting) in each chunk with surrounding context, for
debugging why a session did or didn't surface a marker tag.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			result, err := parser.Parse(path, parser.ModeLenient)
			if err != nil {
				return err
			}

			chunker := chunk.NewSessionChunker(chunk.SessionChunkerOptions{
				TargetTokens:  cfg.Chunking.TargetTokens,
				OverlapTokens: cfg.Chunking.OverlapTokens,
				MaxTokens:     cfg.Chunking.MaxTokens,
			})
			chunks := chunker.Chunk(result.SessionID, result.Messages)

			out := indexInfoOutput{SessionID: result.SessionID}
			for i, ch := range chunks {
				matches := chunk.DetectMarkersWithContext(ch.Content)
				ic := indexInfoChunk{Index: i}
				for _, m := range matches {
					ic.Markers = append(ic.Markers, indexInfoMarkerMatch{
						Marker:   string(m.Marker),
						Position: m.Position,
						Context:  m.Context,
					})
				}
				out.Chunks = append(out.Chunks, ic)
			}

			if asJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := c.OutOrStdout()
			fmt.Fprintf(w, "session:  %s\n", out.SessionID)
			fmt.Fprintf(w, "chunks:   %d\n", len(out.Chunks))
			for _, ic := range out.Chunks {
				if len(ic.Markers) == 0 {
					continue
				}
				fmt.Fprintf(w, "\nchunk %d:\n", ic.Index)
				for _, m := range ic.Markers {
					fmt.Fprintf(w, "  [%s] @%d: %s\n", m.Marker, m.Position, m.Context)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}
