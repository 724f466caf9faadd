package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recursive-vibe/smart-fork/internal/output"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [session-dir]",
		Short: "Watch session-dir and keep the index in sync",
		Long: `watch starts the background indexer: it scans session-dir once,
then watches it for changes and re-indexes sessions as they quiesce.
It runs until interrupted (Ctrl+C).`,
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

			w := output.New(c.OutOrStdout())
			idx := a.indexer(sessionDir)
			if err := idx.ScanDirectory(sessionDir); err != nil {
				return err
			}
			w.Status("→", "watching "+sessionDir)
			if err := idx.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			idx.Stop()
			w.Success("stopped")
			return nil
		},
	}
	return cmd
}
