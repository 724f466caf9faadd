package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// statsOutput is the JSON shape for stats --json, combining the
// registry's and vector index's independent summaries.
type statsOutput struct {
	Sessions    int   `json:"sessions"`
	Chunks      int   `json:"chunks"`
	GraphNodes  int   `json:"graph_nodes"`
	Orphans     int   `json:"orphans"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
}

func newStatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report registry, vector index, and embedding cache statistics",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			regStats := a.reg.Stats()
			vecStats := a.vindex.Stats()
			cacheStats := a.cache.Stats()

			out := statsOutput{
				Sessions:    regStats.SessionCount,
				Chunks:      vecStats.TotalChunks,
				GraphNodes:  vecStats.GraphNodes,
				Orphans:     vecStats.Orphans,
				CacheHits:   cacheStats.Hits,
				CacheMisses: cacheStats.Misses,
			}

			if asJSON {
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := c.OutOrStdout()
			fmt.Fprintf(w, "sessions:      %d\n", out.Sessions)
			fmt.Fprintf(w, "chunks:        %d\n", out.Chunks)
			fmt.Fprintf(w, "graph nodes:   %d\n", out.GraphNodes)
			fmt.Fprintf(w, "orphans:       %d\n", out.Orphans)
			fmt.Fprintf(w, "cache hits:    %d\n", out.CacheHits)
			fmt.Fprintf(w, "cache misses:  %d (hit rate %.1f%%)\n", out.CacheMisses, cacheStats.HitRate()*100)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}
