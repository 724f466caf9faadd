package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recursive-vibe/smart-fork/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		filter  string
		noColor bool
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View smart-fork's structured log file",
		Long: `logs shows the last lines of smart-fork's JSON log
(~/.smart-fork/logs/smart-fork.log by default). Use -f to follow new
entries in real time, like 'tail -f'.`,
		RunE: func(c *cobra.Command, _ []string) error {
			path, err := logging.FindLogFile(logFile)
			if err != nil {
				return err
			}

			var pattern *regexp.Regexp
			if filter != "" {
				pattern, err = regexp.Compile(filter)
				if err != nil {
					return fmt.Errorf("invalid filter pattern: %w", err)
				}
			}

			viewer := logging.NewViewer(logging.ViewerConfig{
				Level:   level,
				Pattern: pattern,
				NoColor: noColor,
			}, c.OutOrStdout())

			fmt.Fprintf(c.ErrOrStderr(), "Log file: %s\n", path)
			if follow {
				fmt.Fprintln(c.ErrOrStderr(), "Following... (Ctrl+C to stop)")
			}
			fmt.Fprintln(c.ErrOrStderr(), "---")

			if follow {
				return runLogsFollow(c.Context(), viewer, path, c.ErrOrStderr())
			}

			entries, err := viewer.Tail(path, lines)
			if err != nil {
				return err
			}
			viewer.Print(entries)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output (like tail -f)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "filter by log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&filter, "filter", "", "filter by keyword/pattern (regex)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.Flags().StringVar(&logFile, "file", "", "path to log file (overrides the default)")

	return cmd
}

func runLogsFollow(ctx context.Context, viewer *logging.Viewer, path string, stderr io.Writer) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entries := make(chan logging.LogEntry, 100)
	errCh := make(chan error, 1)

	go func() {
		errCh <- viewer.Follow(ctx, path, entries)
	}()

	for {
		select {
		case entry := <-entries:
			viewer.Print([]logging.LogEntry{entry})
		case err := <-errCh:
			return err
		case <-ctx.Done():
			fmt.Fprintln(stderr, "\n---")
			fmt.Fprintln(stderr, "Stopped.")
			return nil
		}
	}
}
