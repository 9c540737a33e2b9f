// Package constants provides named constants used throughout the dbmon codebase.
// This centralizes magic numbers for better maintainability and documentation.
package constants

// Generation defaults
const (
	// DefaultSourceCount is the number of cluster/replica pairs generated per tick.
	// Each pair yields two sources: "cluster<i>" and "cluster<i>slave".
	DefaultSourceCount = 100

	// DefaultRefreshDelayMs is the delay between ticks in milliseconds.
	// Zero means the next tick is scheduled immediately.
	DefaultRefreshDelayMs = 0
)

// Query sample constants
const (
	// MaxQueriesPerSource is the upper bound (inclusive) of queries per snapshot.
	// The lower bound is always 1.
	MaxQueriesPerSource = 10

	// MaxElapsedSeconds is the exclusive upper bound for a query's elapsed time.
	MaxElapsedSeconds = 15.0

	// WaitingProbability is the chance a query is marked as waiting.
	WaitingProbability = 0.5

	// IdleProbability is the chance a query is rewritten to the idle marker.
	IdleProbability = 0.2

	// VacuumProbability is the chance a query is rewritten to the vacuum marker.
	// Drawn after the idle draw, so vacuum overrides idle.
	VacuumProbability = 0.1
)

// Query text markers
const (
	// GenericQuery is the placeholder text for an ordinary query.
	GenericQuery = "SELECT blah FROM something"

	// IdleQuery marks a connection idling inside an open transaction.
	IdleQuery = "<IDLE> in transaction"

	// VacuumQuery marks a maintenance vacuum.
	VacuumQuery = "vacuum"
)

// History retention
const (
	// MaxSamplesPerSource is the rolling window depth kept for each source.
	// Older samples are evicted first.
	MaxSamplesPerSource = 5
)

// Source naming
const (
	// SourcePrefix is the prefix of every generated source name.
	SourcePrefix = "cluster"

	// ReplicaSuffix is appended to the primary name to form its replica.
	ReplicaSuffix = "slave"
)
