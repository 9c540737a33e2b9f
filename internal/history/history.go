// Package history keeps the rolling per-source window of generated samples.
package history

import (
	"sync"

	"github.com/nvandessel/dbmon/internal/constants"
	"github.com/nvandessel/dbmon/internal/models"
)

// State is the aggregate of every source's rolling history.
// It has a single writer (Merge); Snapshot, Get, Names and Len may be
// called from other goroutines.
type State struct {
	mu      sync.RWMutex
	sources map[string]*models.SourceHistory
	order   []string
	depth   int
}

// New creates an empty State that keeps constants.MaxSamplesPerSource
// samples per source.
func New() *State {
	return &State{
		sources: make(map[string]*models.SourceHistory),
		depth:   constants.MaxSamplesPerSource,
	}
}

// Merge appends one sample per source in the batch, creating histories for
// sources seen for the first time, then trims each touched history to the
// retention depth, dropping the oldest samples first.
func (s *State) Merge(batch models.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range batchOrder(batch) {
		snap := batch.Databases[name]

		h, ok := s.sources[name]
		if !ok {
			h = &models.SourceHistory{Name: name, Samples: []models.HistorySample{}}
			s.sources[name] = h
			s.order = append(s.order, name)
		}

		h.Samples = append(h.Samples, models.HistorySample{
			Time:    batch.StartAt,
			Queries: snap.Queries,
		})
		h.Samples = retain(h.Samples, s.depth)
	}
}

// retain keeps the newest depth samples. The backing array is reused so a
// long-running history does not grow without bound.
func retain(samples []models.HistorySample, depth int) []models.HistorySample {
	if len(samples) <= depth {
		return samples
	}
	n := copy(samples, samples[len(samples)-depth:])
	clear(samples[n:])
	return samples[:n]
}

// batchOrder returns the batch's source names in Order, skipping names with
// no snapshot, followed by any snapshots Order does not mention.
func batchOrder(batch models.Batch) []string {
	names := make([]string, 0, len(batch.Databases))
	seen := make(map[string]bool, len(batch.Databases))
	for _, name := range batch.Order {
		if _, ok := batch.Databases[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range batch.Databases {
		if !seen[name] {
			names = append(names, name)
		}
	}
	return names
}

// Get returns a copy of the history for name.
func (s *State) Get(name string) (models.SourceHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.sources[name]
	if !ok {
		return models.SourceHistory{}, false
	}
	return copyHistory(h), true
}

// Names returns source names in first-seen order.
func (s *State) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of tracked sources.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sources)
}

// Snapshot returns a detached copy of the aggregate tagged with tick.
// Query slices are shared; they are never modified after generation.
func (s *State) Snapshot(tick uint64) models.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := models.State{
		Tick:      tick,
		Databases: make(map[string]models.SourceHistory, len(s.sources)),
		Order:     make([]string, len(s.order)),
	}
	copy(out.Order, s.order)
	for name, h := range s.sources {
		out.Databases[name] = copyHistory(h)
	}
	return out
}

func copyHistory(h *models.SourceHistory) models.SourceHistory {
	samples := make([]models.HistorySample, len(h.Samples))
	copy(samples, h.Samples)
	return models.SourceHistory{Name: h.Name, Samples: samples}
}
