package tracker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/flowline-dev/flowline/pkg/schema"
)

const dispatchBuffer = 256

// Dispatcher decouples snapshot emission from tracker I/O. The engine hands
// snapshots to Enqueue synchronously, preserving mutation order; a single
// drain goroutine delivers them to the underlying tracker so network
// latency does not stall scheduling while the buffer has room.
//
// When the buffer is full Enqueue blocks until the drain goroutine frees a
// slot instead of dropping, so every mutation still reaches the tracker
// exactly once and in order.
type Dispatcher struct {
	tracker Tracker
	logger  *slog.Logger

	mu     sync.Mutex
	queue  chan delivery
	done   chan struct{}
	closed bool
}

type delivery struct {
	workflowID string
	snap       *schema.Snapshot
}

// NewDispatcher starts the drain goroutine for the given tracker.
func NewDispatcher(t Tracker, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		tracker: t,
		logger:  logger,
		queue:   make(chan delivery, dispatchBuffer),
		done:    make(chan struct{}),
	}
	go d.drain()
	return d
}

func (d *Dispatcher) drain() {
	defer close(d.done)
	for item := range d.queue {
		d.deliver(item)
	}
}

func (d *Dispatcher) deliver(item delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("tracker panic recovered",
				"workflow_id", item.workflowID, "panic", r)
		}
	}()
	d.tracker.Track(context.Background(), item.workflowID, item.snap)
}

// Enqueue hands a snapshot to the drain goroutine. Called from the engine's
// mutation path, so it must stay cheap; it only blocks when the buffer is
// full, which keeps ordering intact under bursts.
func (d *Dispatcher) Enqueue(workflowID string, snap *schema.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue <- delivery{workflowID: workflowID, snap: snap}
}

// Close flushes pending deliveries and stops the drain goroutine. Safe to
// call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}
