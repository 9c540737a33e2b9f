// Package generator fabricates simulated database activity.
//
// Each call to Generate produces one Batch: for every configured cluster a
// primary and a replica source, each holding between one and ten fake
// in-flight queries sorted by descending elapsed time.
package generator

import (
	"cmp"
	"math/rand/v2"
	"slices"

	"github.com/coder/quartz"
	"github.com/nvandessel/dbmon/internal/constants"
	"github.com/nvandessel/dbmon/internal/models"
)

// Rand is the source of randomness used by the generator.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	// Float64 returns a value in [0.0, 1.0).
	Float64() float64
	// IntN returns a value in [0, n).
	IntN(n int) int
}

// Generator produces simulated batches.
// It is not safe for concurrent use unless the injected Rand is.
type Generator struct {
	rng   Rand
	clock quartz.Clock
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand sets the random source.
func WithRand(r Rand) Option {
	return func(g *Generator) {
		g.rng = r
	}
}

// WithClock sets the clock used to timestamp batches.
func WithClock(c quartz.Clock) Option {
	return func(g *Generator) {
		g.clock = c
	}
}

// New creates a Generator. Without options it uses the process-wide
// random source and the real clock.
func New(opts ...Option) *Generator {
	g := &Generator{
		rng:   globalRand{},
		clock: quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces one batch with 2*sourceCount sources.
// A sourceCount below 1 yields an empty batch.
func (g *Generator) Generate(sourceCount int) models.Batch {
	now := g.clock.Now("generator", "batch")
	batch := models.Batch{
		StartAt:   float64(now.UnixNano()) / 1e9,
		Databases: make(map[string]models.SourceSnapshot, 2*max(sourceCount, 0)),
		Order:     SourceNames(sourceCount),
	}

	for _, name := range batch.Order {
		batch.Databases[name] = models.SourceSnapshot{
			Name:    name,
			Queries: g.queries(),
		}
	}

	return batch
}

// queries draws a random-length list sorted by descending elapsed time.
func (g *Generator) queries() []models.QuerySample {
	n := g.rng.IntN(constants.MaxQueriesPerSource) + 1
	qs := make([]models.QuerySample, 0, n)
	for range n {
		qs = append(qs, g.query())
	}

	slices.SortFunc(qs, func(a, b models.QuerySample) int {
		return cmp.Compare(b.Elapsed, a.Elapsed)
	})
	return qs
}

// query draws a single sample. The marker draws cascade: the vacuum draw
// runs after the idle draw, so vacuum wins when both succeed.
func (g *Generator) query() models.QuerySample {
	q := models.QuerySample{
		Elapsed: g.rng.Float64() * constants.MaxElapsedSeconds,
		Query:   constants.GenericQuery,
		Waiting: g.rng.Float64() < constants.WaitingProbability,
	}

	if g.rng.Float64() < constants.IdleProbability {
		q.Query = constants.IdleQuery
	}
	if g.rng.Float64() < constants.VacuumProbability {
		q.Query = constants.VacuumQuery
	}

	return q
}

// SourceNames returns the names generated for sourceCount clusters, in
// generation order: cluster1, cluster1slave, cluster2, ...
func SourceNames(sourceCount int) []string {
	if sourceCount < 1 {
		return nil
	}
	names := make([]string, 0, 2*sourceCount)
	for i := 1; i <= sourceCount; i++ {
		names = append(names, models.SourceName(i, false), models.SourceName(i, true))
	}
	return names
}

// globalRand adapts the math/rand/v2 top-level functions to Rand.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }
