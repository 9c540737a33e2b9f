package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nvandessel/dbmon/internal/config"
	"github.com/nvandessel/dbmon/internal/logging"
	"github.com/spf13/cobra"
)

// Set by the release build.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbmon",
		Short: "Simulated database activity monitor",
		Long: `dbmon generates simulated database activity samples for a fleet of
primary and replica clusters and keeps a rolling window of the most recent
samples for each one.

The latest state is served over HTTP, a websocket feed and MCP.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newGenerateCmd(),
		newMCPServerCmd(),
		newConfigCmd(),
	)

	return rootCmd
}

// loadConfig loads configuration and applies the global --log-level flag.
func loadConfig(cmd *cobra.Command) (*config.DbmonConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}
	return cfg, nil
}

// newLogger returns a logger writing to the command's stderr.
func newLogger(cmd *cobra.Command, cfg *config.DbmonConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// newTraceLogger opens the per-tick trace log under the config directory.
// Returns nil at info level or when the directory is unavailable.
func newTraceLogger(cfg *config.DbmonConfig) *logging.TraceLogger {
	dir, err := config.Dir()
	if err != nil {
		return nil
	}
	return logging.NewTraceLogger(dir, cfg.Logging.Level)
}

// signalContext returns a context cancelled on interrupt or termination.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
