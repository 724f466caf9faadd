package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recursive-vibe/smart-fork/internal/orchestrator"
	"github.com/recursive-vibe/smart-fork/internal/server"
)

func newSearchCmd() *cobra.Command {
	var (
		topN    int
		project string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find prior sessions matching a natural-language query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			query := args[0]
			for _, a := range args[1:] {
				query += " " + a
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.orch.Search(c.Context(), orchestrator.Query{
				Text:    query,
				TopN:    topN,
				Project: project,
			})
			if err != nil {
				return fmt.Errorf("%s", orchestrator.FormatFailure(err))
			}
			fmt.Fprintln(c.OutOrStdout(), server.FormatResults(query, results))
			return nil
		},
	}

	cmd.Flags().IntVar(&topN, "top-n", 0, "maximum number of sessions to return (defaults to config's search.top_n_sessions)")
	cmd.Flags().StringVar(&project, "project", "", "restrict results to sessions from this project")
	return cmd
}
