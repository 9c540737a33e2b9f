package mcp

import "github.com/nvandessel/dbmon/internal/models"

// SourcesInput defines the input for the dbmon_sources tool.
type SourcesInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of sources to return, busiest first. Zero returns every source in generation order."`
}

// SourcesOutput defines the output for the dbmon_sources tool.
type SourcesOutput struct {
	Tick    uint64          `json:"tick" jsonschema:"Refresh tick the snapshot was taken at"`
	Sources []SourceSummary `json:"sources" jsonschema:"Per-source summaries"`
	Count   int             `json:"count" jsonschema:"Number of sources returned"`
}

// SourceSummary condenses one source's most recent sample.
type SourceSummary struct {
	Name           string  `json:"name"`
	Role           string  `json:"role"`
	Samples        int     `json:"samples"`
	Queries        int     `json:"queries"`
	LongestElapsed float64 `json:"longest_elapsed"`
	Waiting        int     `json:"waiting"`
	Idle           int     `json:"idle"`
	Vacuum         int     `json:"vacuum"`
}

// HistoryInput defines the input for the dbmon_history tool.
type HistoryInput struct {
	Name string `json:"name" jsonschema:"Source name such as cluster1 or cluster1slave"`
}

// HistoryOutput defines the output for the dbmon_history tool.
type HistoryOutput struct {
	Tick    uint64               `json:"tick" jsonschema:"Refresh tick the snapshot was taken at"`
	History models.SourceHistory `json:"history" jsonschema:"Rolling sample window, oldest first"`
}
