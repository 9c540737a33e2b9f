// Package publish delivers aggregate state snapshots to their consumers.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/nvandessel/dbmon/internal/models"
)

// ErrNoState is returned by readers before anything has been published.
var ErrNoState = errors.New("no state published yet")

// Publisher receives the aggregate state after every tick.
// Implementations must return promptly; the refresh loop waits for Publish
// to return before arming its next timer.
type Publisher interface {
	Publish(ctx context.Context, state models.State) error
}

// Func adapts an ordinary function to Publisher.
type Func func(ctx context.Context, state models.State) error

// Publish calls f.
func (f Func) Publish(ctx context.Context, state models.State) error {
	return f(ctx, state)
}

// Multi fans a snapshot out to several publishers.
type Multi []Publisher

// Publish calls every publisher in order, even after a failure, and joins
// their errors.
func (m Multi) Publish(ctx context.Context, state models.State) error {
	var errs []error
	for i, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, state); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Discard accepts and drops every snapshot.
var Discard Publisher = Func(func(context.Context, models.State) error { return nil })
