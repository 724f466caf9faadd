package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recursive-vibe/smart-fork/internal/output"
	"github.com/recursive-vibe/smart-fork/internal/setup"
)

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup [session-dir]",
		Short: "Run the one-shot resumable scan over a session archive",
		Long: `setup enumerates every session file under session-dir and indexes
each one synchronously, writing a resumable sidecar after every file.
Interrupting setup (Ctrl+C) leaves the sidecar in place; running setup
again resumes from exactly where it left off.`,
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
			engine := setup.New(sessionDir, cfg.StorageDir, idx)

			w.Status("→", "scanning "+sessionDir)
			err = engine.Run(ctx, func(p setup.Progress) {
				w.Progress(p.Processed, p.Total, "indexing sessions")
			})
			w.ProgressDone()
			if err != nil {
				if ctx.Err() != nil {
					w.Warning("interrupted; rerun setup to resume")
					return nil
				}
				return err
			}
			w.Success("setup complete")
			return nil
		},
	}
	return cmd
}
