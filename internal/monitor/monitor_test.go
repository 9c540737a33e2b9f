package monitor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/nvandessel/dbmon/internal/constants"
	"github.com/nvandessel/dbmon/internal/logging"
	"github.com/nvandessel/dbmon/internal/metrics"
	"github.com/nvandessel/dbmon/internal/models"
	"github.com/nvandessel/dbmon/internal/publish"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder is a Publisher that keeps every snapshot it receives and can be
// told to fail or panic.
type recorder struct {
	mu     sync.Mutex
	states []models.State
	err    error
	panics bool
}

func (r *recorder) Publish(_ context.Context, s models.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	if r.panics {
		panic("sink exploded")
	}
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newMonitor(t *testing.T, opts Options) *Monitor {
	t.Helper()
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) == 1 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func assertSorted(t *testing.T, name string, qs []models.QuerySample) {
	t.Helper()
	for i := 1; i < len(qs); i++ {
		if qs[i].Elapsed > qs[i-1].Elapsed {
			t.Errorf("%s: queries not sorted descending at %d", name, i)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{SourceCount: 1}, false},
		{"zero delay", Options{SourceCount: 100, RefreshDelay: 0}, false},
		{"zero sources", Options{SourceCount: 0}, true},
		{"negative sources", Options{SourceCount: -2}, true},
		{"negative delay", Options{SourceCount: 1, RefreshDelay: -time.Millisecond}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTick_SingleSource(t *testing.T) {
	rec := &recorder{}
	m := newMonitor(t, Options{SourceCount: 1, Publisher: rec, Clock: quartz.NewMock(t)})

	snap := m.Tick(testContext(t))

	if len(snap.Databases) != 2 {
		t.Fatalf("len(Databases) = %d, want 2", len(snap.Databases))
	}
	for _, name := range []string{"cluster1", "cluster1slave"} {
		h, ok := snap.Databases[name]
		if !ok {
			t.Fatalf("missing history for %q", name)
		}
		if len(h.Samples) != 1 {
			t.Fatalf("%s: len(Samples) = %d, want 1", name, len(h.Samples))
		}
		qs := h.Samples[0].Queries
		if len(qs) < 1 || len(qs) > constants.MaxQueriesPerSource {
			t.Errorf("%s: %d queries, want 1..%d", name, len(qs), constants.MaxQueriesPerSource)
		}
		assertSorted(t, name, qs)
	}

	if rec.count() != 1 {
		t.Errorf("publish calls = %d, want 1", rec.count())
	}
	if m.Ticks() != 1 || snap.Tick != 1 {
		t.Errorf("Ticks() = %d, snap.Tick = %d, want 1", m.Ticks(), snap.Tick)
	}
}

func TestTick_SevenTicksKeepsLastFive(t *testing.T) {
	clock := quartz.NewMock(t)
	m := newMonitor(t, Options{SourceCount: 1, Clock: clock})
	ctx := testContext(t)

	var times []float64
	for i := 0; i < 7; i++ {
		now := clock.Now()
		times = append(times, float64(now.UnixNano())/1e9)
		m.Tick(ctx)
		clock.Advance(time.Second)
	}

	state := m.State()
	for _, name := range []string{"cluster1", "cluster1slave"} {
		h := state.Databases[name]
		if len(h.Samples) != constants.MaxSamplesPerSource {
			t.Fatalf("%s: len(Samples) = %d, want %d", name, len(h.Samples), constants.MaxSamplesPerSource)
		}
		// Ticks 3 through 7 survive, oldest first.
		for i, sample := range h.Samples {
			if sample.Time != times[i+2] {
				t.Errorf("%s: Samples[%d].Time = %v, want tick %d time %v", name, i, sample.Time, i+3, times[i+2])
			}
		}
	}
}

func TestTick_PublishesDetachedSnapshots(t *testing.T) {
	rec := &recorder{}
	m := newMonitor(t, Options{SourceCount: 1, Publisher: rec, Clock: quartz.NewMock(t)})
	ctx := testContext(t)

	for i := 0; i < 6; i++ {
		m.Tick(ctx)
	}

	for i, s := range rec.states {
		want := min(i+1, constants.MaxSamplesPerSource)
		if got := len(s.Databases["cluster1"].Samples); got != want {
			t.Errorf("publish %d: len(Samples) = %d, want %d", i+1, got, want)
		}
		if s.Tick != uint64(i+1) {
			t.Errorf("publish %d: Tick = %d", i+1, s.Tick)
		}
	}
}

func TestTick_PublishErrorIsContained(t *testing.T) {
	var logBuf bytes.Buffer
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	rec := &recorder{err: errors.New("display offline")}

	m := newMonitor(t, Options{
		SourceCount: 2,
		Publisher:   rec,
		Clock:       quartz.NewMock(t),
		Logger:      logging.NewLogger("info", &logBuf),
		Metrics:     met,
	})

	ctx := testContext(t)
	m.Tick(ctx)
	m.Tick(ctx)

	if rec.count() != 2 {
		t.Errorf("publish calls = %d, want 2", rec.count())
	}
	if m.Ticks() != 2 {
		t.Errorf("Ticks() = %d, want 2", m.Ticks())
	}
	if !strings.Contains(logBuf.String(), "publish failed") {
		t.Errorf("expected warning in log, got %q", logBuf.String())
	}
	if got := counterValue(t, reg, "dbmon_publish_failures_total"); got != 2 {
		t.Errorf("publish failures = %f, want 2", got)
	}
	if got := counterValue(t, reg, "dbmon_ticks_total"); got != 2 {
		t.Errorf("ticks = %f, want 2", got)
	}
}

func TestTick_PublisherPanicIsRecovered(t *testing.T) {
	rec := &recorder{panics: true}
	m := newMonitor(t, Options{SourceCount: 1, Publisher: rec, Clock: quartz.NewMock(t)})

	m.Tick(testContext(t))
	m.Tick(testContext(t))

	if m.Ticks() != 2 {
		t.Errorf("Ticks() = %d, want 2", m.Ticks())
	}
	if h := m.State().Databases["cluster1"]; len(h.Samples) != 2 {
		t.Errorf("len(Samples) = %d, want 2", len(h.Samples))
	}
}

func TestTick_WritesTrace(t *testing.T) {
	dir := t.TempDir()
	trace := logging.NewTraceLogger(dir, "debug")
	defer trace.Close()

	m := newMonitor(t, Options{
		SourceCount: 1,
		Publisher:   &recorder{err: errors.New("nope")},
		Clock:       quartz.NewMock(t),
		Trace:       trace,
	})
	m.Tick(testContext(t))

	data, err := os.ReadFile(filepath.Join(dir, logging.TraceFile))
	if err != nil {
		t.Fatalf("failed to read trace: %v", err)
	}
	if !strings.Contains(string(data), `"tick":1`) || !strings.Contains(string(data), `"publish_error":"nope"`) {
		t.Errorf("unexpected trace contents: %s", data)
	}
}

func TestRun_FailingPublisherKeepsLooping(t *testing.T) {
	rec := &recorder{err: errors.New("display offline")}
	m := newMonitor(t, Options{SourceCount: 1, MaxTicks: 3, Publisher: rec})

	if err := m.Run(testContext(t)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if rec.count() != 3 {
		t.Errorf("publish calls = %d, want 3", rec.count())
	}
	if h := m.State().Databases["cluster1"]; len(h.Samples) != 3 {
		t.Errorf("len(Samples) = %d, want 3", len(h.Samples))
	}
}

func TestRun_MaxTicksWithZeroDelay(t *testing.T) {
	m := newMonitor(t, Options{SourceCount: 1, MaxTicks: 8})

	if err := m.Run(testContext(t)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if m.Ticks() != 8 {
		t.Errorf("Ticks() = %d, want 8", m.Ticks())
	}
	if h := m.State().Databases["cluster1slave"]; len(h.Samples) != constants.MaxSamplesPerSource {
		t.Errorf("len(Samples) = %d, want %d", len(h.Samples), constants.MaxSamplesPerSource)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	rec := &recorder{}
	m := newMonitor(t, Options{SourceCount: 1, Publisher: rec})

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if m.Ticks() != 0 || rec.count() != 0 {
		t.Errorf("expected no ticks, got %d ticks and %d publishes", m.Ticks(), rec.count())
	}
}

func TestRun_RearmsAfterEachTick(t *testing.T) {
	testCtx := testContext(t)
	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTimer("monitor", "refresh")
	defer trap.Close()

	const delay = 250 * time.Millisecond
	rec := &recorder{}
	m := newMonitor(t, Options{SourceCount: 1, RefreshDelay: delay, Publisher: rec, Clock: clock})

	ctx, cancel := context.WithCancel(testCtx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- m.Run(ctx)
	}()

	// The timer is only armed after the first tick has published.
	call := trap.MustWait(testCtx)
	if call.Duration != delay {
		t.Errorf("timer duration = %v, want %v", call.Duration, delay)
	}
	if m.Ticks() != 1 || rec.count() != 1 {
		t.Fatalf("before first re-arm: ticks = %d, publishes = %d, want 1 and 1", m.Ticks(), rec.count())
	}
	call.MustRelease(testCtx)

	// Nothing happens until the delay elapses.
	clock.Advance(delay).MustWait(testCtx)

	call = trap.MustWait(testCtx)
	if m.Ticks() != 2 || rec.count() != 2 {
		t.Fatalf("after one delay: ticks = %d, publishes = %d, want 2 and 2", m.Ticks(), rec.count())
	}
	call.MustRelease(testCtx)

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-testCtx.Done():
		t.Fatal("Run did not return after cancel")
	}

	if m.Ticks() != 2 {
		t.Errorf("Ticks() after cancel = %d, want 2", m.Ticks())
	}
}

func TestRun_CancelDuringTickDoesNotRearm(t *testing.T) {
	testCtx := testContext(t)
	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTimer("monitor", "refresh")
	defer trap.Close()

	ctx, cancel := context.WithCancel(testCtx)
	defer cancel()

	publishes := 0
	m := newMonitor(t, Options{
		SourceCount:  1,
		RefreshDelay: time.Hour,
		Clock:        clock,
		Publisher: publish.Func(func(context.Context, models.State) error {
			publishes++
			cancel()
			return nil
		}),
	})

	// A trapped NewTimer blocks until released, so Run can only return if
	// the timer was never armed.
	errc := make(chan error, 1)
	go func() {
		errc <- m.Run(ctx)
	}()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-testCtx.Done():
		t.Fatal("Run did not return after being cancelled mid-tick")
	}

	if m.Ticks() != 1 || publishes != 1 {
		t.Errorf("ticks = %d, publishes = %d, want 1 and 1", m.Ticks(), publishes)
	}

	waitCtx, waitCancel := context.WithTimeout(testCtx, 50*time.Millisecond)
	defer waitCancel()
	if call, err := trap.Wait(waitCtx); err == nil {
		t.Errorf("refresh timer armed after cancellation (duration %v)", call.Duration)
		call.MustRelease(testCtx)
	}
}

func TestStartStop(t *testing.T) {
	rec := &recorder{}
	m := newMonitor(t, Options{SourceCount: 1, RefreshDelay: time.Millisecond, Publisher: rec})

	m.Start()
	m.Start() // second Start is a no-op

	deadline := time.Now().Add(5 * time.Second)
	for m.Ticks() < 2 {
		if time.Now().After(deadline) {
			m.Stop()
			t.Fatal("monitor did not tick twice within 5s")
		}
		time.Sleep(time.Millisecond)
	}
	m.Stop()

	stopped := m.Ticks()
	time.Sleep(20 * time.Millisecond)
	if m.Ticks() != stopped {
		t.Errorf("ticks advanced after Stop: %d -> %d", stopped, m.Ticks())
	}
}

func TestStop_BeforeStart(t *testing.T) {
	rec := &recorder{}
	m := newMonitor(t, Options{SourceCount: 1, Publisher: rec})

	m.Stop() // Should not panic or hang

	if rec.count() != 0 {
		t.Errorf("expected no publishes, got %d", rec.count())
	}
}

func TestRun_PublishesToLatest(t *testing.T) {
	latest := publish.NewLatest()
	m := newMonitor(t, Options{SourceCount: 3, MaxTicks: 2, Publisher: latest})

	if err := m.Run(testContext(t)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	s, err := latest.Get()
	if err != nil {
		t.Fatalf("Latest.Get failed: %v", err)
	}
	if s.Tick != 2 || len(s.Databases) != 6 {
		t.Errorf("latest = tick %d with %d sources, want tick 2 with 6", s.Tick, len(s.Databases))
	}
}
