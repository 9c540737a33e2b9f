package models

import (
	"fmt"

	"github.com/nvandessel/dbmon/internal/constants"
)

// QuerySample represents one simulated in-flight database query
type QuerySample struct {
	// Identifiers reported by the application layer. The simulation never
	// fills them in, so they always serialize as null.
	Action     *string `json:"action"`
	ContextID  *string `json:"context_id"`
	Controller *string `json:"controller"`
	Hostname   *string `json:"hostname"`
	JobTag     *string `json:"job_tag"`
	PID        *int    `json:"pid"`

	// Elapsed is how long the query has been running, in seconds
	Elapsed float64 `json:"elapsed"`

	// Query is the statement text or one of the idle/vacuum markers
	Query string `json:"query"`

	// Waiting is true when the query is blocked on a lock
	Waiting bool `json:"waiting"`
}

// IsIdle reports whether the sample is an idle-in-transaction connection.
func (q QuerySample) IsIdle() bool {
	return q.Query == constants.IdleQuery
}

// IsVacuum reports whether the sample is a maintenance vacuum.
func (q QuerySample) IsVacuum() bool {
	return q.Query == constants.VacuumQuery
}

// SourceSnapshot is one tick's query list for a single source
type SourceSnapshot struct {
	Name string `json:"name"`

	// Queries are ordered by descending elapsed time
	Queries []QuerySample `json:"queries"`
}

// Batch is everything produced by one generation pass
type Batch struct {
	// StartAt is the generation time in fractional seconds since the epoch
	StartAt float64 `json:"start_at"`

	// Databases maps source name to its snapshot
	Databases map[string]SourceSnapshot `json:"databases"`

	// Order lists source names in generation order
	Order []string `json:"-"`
}

// SourceName returns the name of the i-th primary source, or its replica.
func SourceName(i int, replica bool) string {
	if replica {
		return fmt.Sprintf("%s%d%s", constants.SourcePrefix, i, constants.ReplicaSuffix)
	}
	return fmt.Sprintf("%s%d", constants.SourcePrefix, i)
}
