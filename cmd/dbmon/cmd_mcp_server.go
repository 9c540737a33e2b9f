package main

import (
	"fmt"

	"github.com/nvandessel/dbmon/internal/config"
	"github.com/nvandessel/dbmon/internal/mcp"
	"github.com/nvandessel/dbmon/internal/monitor"
	"github.com/nvandessel/dbmon/internal/publish"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run as an MCP server over stdio",
		Long: `Run the refresh loop in the background and serve its state to an MCP
client over stdin/stdout.

Tools: dbmon_sources, dbmon_history
Resources: dbmon://databases, dbmon://databases/{name}

Logs go to stderr; stdout carries the protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := newLogger(cmd, cfg)
			trace := newTraceLogger(cfg)
			defer trace.Close()

			latest := publish.NewLatest()
			mon, err := monitor.New(monitor.Options{
				SourceCount:  cfg.Generator.SourceCount,
				RefreshDelay: cfg.Monitor.RefreshDelay(),
				Publisher:    latest,
				Logger:       logger,
				Trace:        trace,
			})
			if err != nil {
				return err
			}

			auditDir, _ := config.Dir()
			srv, err := mcp.NewServer(&mcp.Config{
				Name:     "dbmon",
				Version:  version,
				Latest:   latest,
				AuditDir: auditDir,
				Logger:   logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return mon.Run(gctx) })
			g.Go(func() error {
				// The client disconnecting ends the session.
				defer cancel()
				return srv.Run(gctx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().Int("sources", 0, "Number of cluster/replica pairs (default from config)")
	cmd.Flags().Int("delay", 0, "Delay between ticks in milliseconds (default from config)")

	return cmd
}
