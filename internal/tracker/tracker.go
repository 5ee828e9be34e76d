package tracker

import (
	"context"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// Tracker receives workflow snapshots after every state mutation.
// Implementations must never block workflow progress and must never panic;
// sink failures are logged and swallowed.
type Tracker interface {
	Track(ctx context.Context, workflowID string, snap *schema.Snapshot)
}

// Noop is the default Tracker. It discards every snapshot.
type Noop struct{}

// NewNoop creates a no-op tracker.
func NewNoop() Noop {
	return Noop{}
}

// Track discards the snapshot.
func (Noop) Track(context.Context, string, *schema.Snapshot) {}

// Func adapts a plain function to the Tracker interface.
type Func func(ctx context.Context, workflowID string, snap *schema.Snapshot)

// Track calls the wrapped function.
func (f Func) Track(ctx context.Context, workflowID string, snap *schema.Snapshot) {
	f(ctx, workflowID, snap)
}
