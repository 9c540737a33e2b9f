package main

import (
	"fmt"
	"net/http"

	"github.com/nvandessel/dbmon/internal/config"
	"github.com/nvandessel/dbmon/internal/metrics"
	"github.com/nvandessel/dbmon/internal/monitor"
	"github.com/nvandessel/dbmon/internal/publish"
	"github.com/nvandessel/dbmon/internal/server"
	"github.com/nvandessel/dbmon/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the refresh loop",
		Long: `Run the refresh loop: every tick generates a batch of samples, merges it
into the rolling history and publishes the result.

The latest state is served on the HTTP address unless --no-http is set.
With --json each published state is written to stdout as one JSON line;
otherwise a one-line summary is logged per tick at debug level.

Examples:
  dbmon run                          # Run until interrupted
  dbmon run --sources 5 --delay 500  # Five pairs, half a second apart
  dbmon run --ticks 10 --json --no-http`,
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

			ticks, _ := cmd.Flags().GetUint64("ticks")
			noHTTP, _ := cmd.Flags().GetBool("no-http")
			noHTTP = noHTTP || cfg.Server.Addr == ""
			jsonOut, _ := cmd.Flags().GetBool("json")

			logger := newLogger(cmd, cfg)
			trace := newTraceLogger(cfg)
			defer trace.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			met := metrics.New(reg)

			latest := publish.NewLatest()
			hub := websocket.NewHub(logger)

			var report publish.Publisher = publish.NewLog(logger)
			if jsonOut {
				report = publish.NewJSONLines(cmd.OutOrStdout())
			}
			publishers := publish.Multi{latest, report}
			if !noHTTP {
				publishers = append(publishers, hub)
			}

			mon, err := monitor.New(monitor.Options{
				SourceCount:  cfg.Generator.SourceCount,
				RefreshDelay: cfg.Monitor.RefreshDelay(),
				MaxTicks:     ticks,
				Publisher:    publishers,
				Logger:       logger,
				Metrics:      met,
				Trace:        trace,
			})
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			g, gctx := errgroup.WithContext(ctx)
			if !noHTTP {
				srv := server.New(server.Options{
					Addr:     cfg.Server.Addr,
					Latest:   latest,
					Feed:     http.HandlerFunc(hub.ServeWS),
					Gatherer: reg,
					Logger:   logger,
				})
				g.Go(func() error { return hub.Run(gctx) })
				g.Go(func() error { return srv.ListenAndServe(gctx) })
			}
			g.Go(func() error {
				// A finished loop (--ticks) takes the servers down with it.
				defer cancel()
				return mon.Run(gctx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().Int("sources", 0, "Number of cluster/replica pairs (default from config)")
	cmd.Flags().Int("delay", 0, "Delay between ticks in milliseconds (default from config)")
	cmd.Flags().Uint64("ticks", 0, "Stop after this many ticks (0 runs until interrupted)")
	cmd.Flags().String("http", "", "HTTP listen address (default from config)")
	cmd.Flags().Bool("no-http", false, "Do not start the HTTP server")

	return cmd
}

// applyRunFlags copies explicitly set flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.DbmonConfig) error {
	flags := cmd.Flags()
	if flags.Changed("sources") {
		n, err := flags.GetInt("sources")
		if err != nil {
			return err
		}
		cfg.Generator.SourceCount = n
	}
	if flags.Changed("delay") {
		n, err := flags.GetInt("delay")
		if err != nil {
			return err
		}
		cfg.Monitor.RefreshDelayMs = n
	}
	if flags.Changed("http") {
		addr, err := flags.GetString("http")
		if err != nil {
			return err
		}
		cfg.Server.Addr = addr
	}
	return nil
}
