package tracker

import (
	"context"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// Multi fans snapshots out to several trackers in order.
func Multi(trackers ...Tracker) Tracker {
	return multi(trackers)
}

type multi []Tracker

func (m multi) Track(ctx context.Context, workflowID string, snap *schema.Snapshot) {
	for _, t := range m {
		if t != nil {
			t.Track(ctx, workflowID, snap)
		}
	}
}
