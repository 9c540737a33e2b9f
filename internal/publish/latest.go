package publish

import (
	"context"
	"sync/atomic"

	"github.com/nvandessel/dbmon/internal/models"
)

// Latest keeps the most recent snapshot for pull-based readers such as the
// HTTP API and the MCP server. It is safe for concurrent use.
type Latest struct {
	state atomic.Pointer[models.State]
}

// NewLatest creates an empty Latest.
func NewLatest() *Latest {
	return &Latest{}
}

// Publish replaces the held snapshot.
func (l *Latest) Publish(_ context.Context, state models.State) error {
	l.state.Store(&state)
	return nil
}

// Get returns the most recent snapshot, or ErrNoState.
func (l *Latest) Get() (models.State, error) {
	s := l.state.Load()
	if s == nil {
		return models.State{}, ErrNoState
	}
	return *s, nil
}
