package tracker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/flowline-dev/flowline/pkg/schema"
)

const defaultChannelBuffer = 64

// Filter restricts which snapshots a subscriber receives.
type Filter struct {
	// WorkflowID limits delivery to one workflow. Empty matches all.
	WorkflowID string
	// Statuses limits delivery to the given workflow statuses. Empty
	// matches all.
	Statuses []schema.WorkflowStatus
}

// subscriber holds a channel and filter for a single subscriber.
type subscriber struct {
	ch     chan *schema.Snapshot
	filter Filter
}

// MemoryHub is an in-memory Tracker that fans snapshots out to channel
// subscribers. Embedders use it for live monitoring without an external
// store; tests use it to observe snapshot streams.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uint64]*subscriber),
	}
}

// Track sends the snapshot to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the snapshot is dropped.
func (h *MemoryHub) Track(ctx context.Context, workflowID string, snap *schema.Snapshot) {
	if ctx.Err() != nil || snap == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, workflowID, snap) {
			continue
		}
		select {
		case sub.ch <- snap:
		default:
			// backpressure: drop snapshot for slow subscriber
		}
	}
}

// Subscribe creates a new subscription for snapshots passing the filter.
// Returns a receive-only channel and a cancel function.
func (h *MemoryHub) Subscribe(filter Filter) (<-chan *schema.Snapshot, func()) {
	id := h.seq.Add(1)
	ch := make(chan *schema.Snapshot, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel
}

// matchFilter returns true if the snapshot passes the filter criteria.
func matchFilter(f Filter, workflowID string, snap *schema.Snapshot) bool {
	if f.WorkflowID != "" && f.WorkflowID != workflowID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if s == snap.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var _ Tracker = (*MemoryHub)(nil)
