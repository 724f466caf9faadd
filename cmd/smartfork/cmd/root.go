package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/recursive-vibe/smart-fork/internal/config"
	"github.com/recursive-vibe/smart-fork/internal/logging"
	"github.com/recursive-vibe/smart-fork/internal/profiling"
	"github.com/recursive-vibe/smart-fork/pkg/version"
)

var (
	configPath string
	debugMode  bool

	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()

	loggingCleanup func()
)

// NewRootCmd creates the root command for the smartfork CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smartfork",
		Short: "Semantic recall over prior coding assistant sessions",
		Long: `smartfork indexes a local archive of coding assistant session
transcripts and lets you recall prior work by describing it in plain
language instead of remembering exact file paths or session IDs.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("smartfork version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to spec §6.4's built-in defaults)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging to ~/.smart-fork/logs/")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "write a CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "write a memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "write an execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newSetupCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newLogsCmd())

	return cmd
}

func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	}

	if profileCPU != "" {
		cleanup, err := profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("start CPU profile: %w", err)
		}
		cpuCleanup = cleanup
	}

	if profileTrace != "" {
		cleanup, err := profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("start trace: %w", err)
		}
		traceCleanup = cleanup
	}

	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("write memory profile: %w", err)
		}
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig resolves the effective configuration: the built-in
// defaults, overridden by --config if given.
func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
