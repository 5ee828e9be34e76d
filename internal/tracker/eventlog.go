package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// EventLog appends one JSON line per snapshot to a log file, with a
// monotonically increasing per-workflow sequence. The resulting file can be
// replayed to reconstruct the run's state progression.
type EventLog struct {
	mu     sync.Mutex
	f      *os.File
	seqs   map[string]int64
	logger *slog.Logger
}

// LogEntry is one line of the event log.
type LogEntry struct {
	Sequence   int64            `json:"sequence"`
	Timestamp  float64          `json:"timestamp"`
	WorkflowID string           `json:"workflow_id"`
	Snapshot   *schema.Snapshot `json:"snapshot"`
}

// NewEventLog opens (or creates) the log file in append mode.
func NewEventLog(path string, logger *slog.Logger) (*EventLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &EventLog{f: f, seqs: make(map[string]int64), logger: logger}, nil
}

// Track appends the snapshot. Write failures are logged and swallowed.
func (el *EventLog) Track(_ context.Context, workflowID string, snap *schema.Snapshot) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.f == nil {
		return
	}

	el.seqs[workflowID]++
	entry := LogEntry{
		Sequence:   el.seqs[workflowID],
		Timestamp:  float64(time.Now().UnixNano()) / float64(time.Second),
		WorkflowID: workflowID,
		Snapshot:   snap,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		el.logger.Warn("event log marshal failed",
			slog.String("workflow_id", workflowID), slog.Any("error", err))
		return
	}
	if _, err := el.f.Write(append(raw, '\n')); err != nil {
		el.logger.Warn("event log write failed",
			slog.String("workflow_id", workflowID), slog.Any("error", err))
	}
}

// Close flushes and closes the log file.
func (el *EventLog) Close() error {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.f == nil {
		return nil
	}
	err := el.f.Close()
	el.f = nil
	return err
}

// ReplayEventLog reads a log file back and returns the entries of one
// workflow in sequence order. A gap in the sequence is reported as an error.
func ReplayEventLog(path, workflowID string) ([]LogEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}

	var entries []LogEntry
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var e LogEntry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode event log entry: %w", err)
		}
		if e.WorkflowID == workflowID {
			entries = append(entries, e)
		}
	}

	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in workflow %s: expected %d, got %d", workflowID, i+1, e.Sequence)
		}
	}
	return entries, nil
}
