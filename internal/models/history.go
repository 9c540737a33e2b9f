package models

// HistorySample is one retained snapshot of a source
type HistorySample struct {
	// Time is the batch timestamp in fractional seconds since the epoch
	Time float64 `json:"time"`

	Queries []QuerySample `json:"queries"`
}

// SourceHistory is the rolling window of samples kept for one source
type SourceHistory struct {
	Name string `json:"name"`

	// Samples are insertion-ordered, oldest first
	Samples []HistorySample `json:"samples"`
}

// Latest returns the most recent sample and false if there is none.
func (h SourceHistory) Latest() (HistorySample, bool) {
	if len(h.Samples) == 0 {
		return HistorySample{}, false
	}
	return h.Samples[len(h.Samples)-1], true
}

// State is the published aggregate of every source's history
type State struct {
	// Tick is the number of completed ticks when the state was published
	Tick uint64 `json:"tick"`

	// Databases maps source name to its history
	Databases map[string]SourceHistory `json:"databases"`

	// Order lists source names in the order they were first seen
	Order []string `json:"order"`
}

// Source returns the history for name.
func (s State) Source(name string) (SourceHistory, bool) {
	h, ok := s.Databases[name]
	return h, ok
}
