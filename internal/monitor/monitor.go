// Package monitor runs the refresh loop: generate a batch, merge it into the
// rolling history, publish the aggregate, wait, repeat.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/nvandessel/dbmon/internal/generator"
	"github.com/nvandessel/dbmon/internal/history"
	"github.com/nvandessel/dbmon/internal/logging"
	"github.com/nvandessel/dbmon/internal/metrics"
	"github.com/nvandessel/dbmon/internal/models"
	"github.com/nvandessel/dbmon/internal/publish"
)

// Options configures a Monitor. Only SourceCount is required.
type Options struct {
	// SourceCount is the number of cluster/replica pairs generated per tick.
	SourceCount int

	// RefreshDelay is the pause between the end of one tick and the start
	// of the next.
	RefreshDelay time.Duration

	// MaxTicks stops Run after that many ticks. Zero runs until cancelled.
	MaxTicks uint64

	// Publisher receives the aggregate after every tick. Defaults to publish.Discard.
	Publisher publish.Publisher

	// Rand overrides the generator's random source.
	Rand generator.Rand

	// Clock defaults to the real clock.
	Clock quartz.Clock

	// Logger defaults to a discarding logger.
	Logger *slog.Logger

	Metrics *metrics.Metrics
	Trace   *logging.TraceLogger
}

// Monitor owns the aggregate state and the loop that refreshes it.
type Monitor struct {
	sourceCount int
	delay       time.Duration
	maxTicks    uint64
	publisher   publish.Publisher
	gen         *generator.Generator
	clock       quartz.Clock
	logger      *slog.Logger
	metrics     *metrics.Metrics
	trace       *logging.TraceLogger

	state *history.State
	ticks atomic.Uint64

	mu        sync.Mutex
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
}

// New validates opts and creates a Monitor with an empty aggregate.
func New(opts Options) (*Monitor, error) {
	if opts.SourceCount < 1 {
		return nil, fmt.Errorf("source count must be at least 1, got %d", opts.SourceCount)
	}
	if opts.RefreshDelay < 0 {
		return nil, fmt.Errorf("refresh delay must be non-negative, got %v", opts.RefreshDelay)
	}

	m := &Monitor{
		sourceCount: opts.SourceCount,
		delay:       opts.RefreshDelay,
		maxTicks:    opts.MaxTicks,
		publisher:   opts.Publisher,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		trace:       opts.Trace,
		state:       history.New(),
	}
	if m.publisher == nil {
		m.publisher = publish.Discard
	}
	if m.clock == nil {
		m.clock = quartz.NewReal()
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}

	genOpts := []generator.Option{generator.WithClock(m.clock)}
	if opts.Rand != nil {
		genOpts = append(genOpts, generator.WithRand(opts.Rand))
	}
	m.gen = generator.New(genOpts...)

	return m, nil
}

// Tick runs one generate-merge-publish cycle and returns the published
// snapshot. A failing or panicking publisher is logged and counted; Tick
// itself never fails.
func (m *Monitor) Tick(ctx context.Context) models.State {
	start := m.clock.Now("monitor", "tick")

	batch := m.gen.Generate(m.sourceCount)
	m.state.Merge(batch)
	tick := m.ticks.Add(1)
	snap := m.state.Snapshot(tick)

	pubErr := m.publish(ctx, snap)
	elapsed := m.clock.Since(start, "monitor", "tick")

	queries := 0
	for _, s := range batch.Databases {
		queries += len(s.Queries)
	}

	m.metrics.ObserveTick(elapsed.Seconds(), queries, len(snap.Databases))
	rec := logging.TickRecord{
		Tick:       tick,
		Sources:    len(batch.Databases),
		Queries:    queries,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
	}

	if pubErr != nil {
		m.metrics.PublishFailed()
		rec.PublishError = pubErr.Error()
		m.logger.WarnContext(ctx, "publish failed", "tick", tick, "error", pubErr)
	} else {
		m.logger.Log(ctx, logging.LevelTrace, "tick published", "tick", tick, "sources", len(snap.Databases), "queries", queries)
	}
	m.trace.Log(rec)

	return snap
}

// publish shields the loop from publisher panics.
func (m *Monitor) publish(ctx context.Context, snap models.State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panicked: %v", r)
		}
	}()
	return m.publisher.Publish(ctx, snap)
}

// Run ticks until ctx is cancelled or MaxTicks is reached. Cancellation is
// checked between ticks, never during a merge, and the next timer is armed
// only after the previous publish has returned. Run returns nil on a
// clean stop.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "monitor started",
		"sources", 2*m.sourceCount,
		"refresh_delay", m.delay,
	)

	for {
		if ctx.Err() != nil {
			return m.stopped(ctx, "cancelled")
		}

		m.Tick(ctx)

		if m.maxTicks > 0 && m.Ticks() >= m.maxTicks {
			return m.stopped(ctx, "max ticks reached")
		}
		if ctx.Err() != nil {
			return m.stopped(ctx, "cancelled")
		}

		timer := m.clock.NewTimer(m.delay, "monitor", "refresh")
		select {
		case <-ctx.Done():
			timer.Stop()
			return m.stopped(ctx, "cancelled")
		case <-timer.C:
		}
	}
}

func (m *Monitor) stopped(ctx context.Context, reason string) error {
	m.logger.InfoContext(context.WithoutCancel(ctx), "monitor stopped", "reason", reason, "ticks", m.Ticks())
	return nil
}

// Start runs the loop in the background. Calling Start on a running
// Monitor has no effect.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.waitGroup.Add(1)
	go func() {
		defer m.waitGroup.Done()
		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("monitor loop exited", "error", err)
		}
	}()
}

// Stop cancels a loop started with Start and waits for it to exit.
// Stop before Start is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.waitGroup.Wait()
}

// Ticks returns the number of completed ticks.
func (m *Monitor) Ticks() uint64 {
	return m.ticks.Load()
}

// State returns a detached snapshot of the current aggregate.
func (m *Monitor) State() models.State {
	return m.state.Snapshot(m.Ticks())
}
