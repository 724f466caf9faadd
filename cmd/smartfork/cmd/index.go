package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recursive-vibe/smart-fork/internal/output"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [session-dir]",
		Short: "Index every session file under session-dir once",
		Long: `index enumerates every session file under session-dir and indexes
each one immediately. Unlike setup, it does not leave a resumable
sidecar: use setup for the first run over a large archive.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sessionDir := "."
			if len(args) > 0 {
				sessionDir = args[0]
			}
			sessionDir, err := filepath.Abs(sessionDir)
			if err != nil {
				return err
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

			files, err := eligibleSessionFiles(sessionDir)
			if err != nil {
				return err
			}

			w := output.New(c.OutOrStdout())
			idx := a.indexer(sessionDir)
			for i, path := range files {
				if ctx.Err() != nil {
					w.Warning("interrupted")
					return nil
				}
				if err := idx.IndexFile(ctx, path); err != nil {
					w.Warningf("failed to index %s: %v", filepath.Base(path), err)
					continue
				}
				w.Progress(i+1, len(files), "indexing sessions")
			}
			w.ProgressDone()
			w.Success("indexed " + filepath.Base(sessionDir))
			return nil
		},
	}
	cmd.AddCommand(newIndexInfoCmd())
	return cmd
}

func eligibleSessionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
