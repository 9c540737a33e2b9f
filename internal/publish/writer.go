package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nvandessel/dbmon/internal/models"
)

// JSONLines writes each snapshot as one JSON document per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines creates a JSONLines publisher writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

// Publish encodes state to the underlying writer.
func (j *JSONLines) Publish(_ context.Context, state models.State) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.enc.Encode(state); err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return nil
}

// Log summarizes each snapshot on a slog.Logger at debug level. With a zero
// refresh delay it emits one line per tick.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log publisher.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Publish logs the tick number, source count and the busiest source.
func (l *Log) Publish(ctx context.Context, state models.State) error {
	busiest, queries := "", 0
	for _, name := range state.Order {
		latest, ok := state.Databases[name].Latest()
		if ok && len(latest.Queries) > queries {
			busiest, queries = name, len(latest.Queries)
		}
	}

	l.logger.DebugContext(ctx, "state published",
		"tick", state.Tick,
		"sources", len(state.Databases),
		"busiest", busiest,
		"busiest_queries", queries,
	)
	return nil
}
