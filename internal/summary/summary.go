package summary

import (
	"context"
	"encoding/json"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// Callback receives the final snapshot once a workflow reaches a terminal
// status. Errors are reported to the caller but never fail the run itself.
type Callback func(ctx context.Context, snap *schema.Snapshot) error

// Sink persists completed runs for later inspection.
type Sink interface {
	Record(ctx context.Context, snap *schema.Snapshot) error
	Close() error
}

// RunRecord is one persisted workflow run.
type RunRecord struct {
	WorkflowID    string
	Name          string
	Status        schema.WorkflowStatus
	StartedAt     *float64
	CompletedAt   *float64
	ExecutionTime float64
	MemoryUsed    uint64
	PeakMemory    uint64
	Snapshot      json.RawMessage
}

// StepRecord is one persisted step execution within a run.
type StepRecord struct {
	WorkflowID    string
	StepID        string
	Status        schema.StepStatus
	Attempts      int
	ExecutionTime float64
	SkipReason    string
	Errors        []string
	Logs          []string
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Name   string
	Status *schema.WorkflowStatus
	Limit  int
}
