// Package flowline is the public entry point of the workflow engine. A
// Workflow is assembled with a fluent builder, executed by the internal
// scheduler, and observed through trackers and summary callbacks.
package flowline

import (
	"time"

	"github.com/flowline-dev/flowline/internal/routing"
	"github.com/flowline-dev/flowline/internal/runner"
	"github.com/flowline-dev/flowline/internal/summary"
	"github.com/flowline-dev/flowline/internal/tracker"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// Re-exported building blocks so callers only import this package and
// pkg/schema.
type (
	// Decider routes a successful step to its next steps based on output.
	Decider = routing.Decider
	// Tracker receives a snapshot after every context mutation.
	Tracker = tracker.Tracker
	// TrackerFunc adapts a plain function to the Tracker interface.
	TrackerFunc = tracker.Func
	// Runner executes job batches in or out of process.
	Runner = runner.Runner
	// SummaryCallback receives the final snapshot of a finished run.
	SummaryCallback = summary.Callback
	// SubprocessOption configures the subprocess runner.
	SubprocessOption = runner.SubprocessOption
)

// Comparison operators accepted by Decider conditions.
const (
	OpEq       = routing.OpEq
	OpNe       = routing.OpNe
	OpStrictEq = routing.OpStrictEq
	OpStrictNe = routing.OpStrictNe
	OpLt       = routing.OpLt
	OpLe       = routing.OpLe
	OpGt       = routing.OpGt
	OpGe       = routing.OpGe
	OpIn       = routing.OpIn
	OpContains = routing.OpContains
)

// NewDecider creates an empty decider; chain When/WhenExpr/Default on it.
func NewDecider() *Decider { return routing.NewDecider() }

// NewInlineRunner returns the default in-process runner.
func NewInlineRunner() Runner { return runner.NewInlineRunner(nil) }

// NewMemoryHub returns an in-memory tracker whose Subscribe channels receive
// the snapshots that pass their filter; a snapshot is dropped for a
// subscriber whose channel is full.
func NewMemoryHub() *tracker.MemoryHub { return tracker.NewMemoryHub() }

// NewEventLog returns a tracker that appends every snapshot as one JSON line
// to the file at path. Close it after the run to flush.
func NewEventLog(path string) (*tracker.EventLog, error) {
	return tracker.NewEventLog(path, nil)
}

// NewSubprocessRunner returns a runner that executes portable jobs through
// the worker binary at workerPath.
func NewSubprocessRunner(workerPath string, opts ...SubprocessOption) (Runner, error) {
	return runner.NewSubprocessRunner(workerPath, opts...)
}

// WithWorkerArgs prepends extra arguments to every worker invocation.
func WithWorkerArgs(args ...string) SubprocessOption { return runner.WithWorkerArgs(args...) }

// WithProcessTimeout caps how long one worker process may run.
func WithProcessTimeout(d time.Duration) SubprocessOption { return runner.WithProcessTimeout(d) }

// NewRetryPolicy builds a clamped retry policy. Delays are in seconds.
func NewRetryPolicy(maxAttempts int, baseDelay, multiplier, maxDelay float64) schema.RetryPolicy {
	return schema.NewRetryPolicy(maxAttempts, baseDelay, multiplier, maxDelay)
}

// Input spec helpers, re-exported for builder ergonomics.

// Inputs assembles an ordered input spec.
func Inputs(params ...schema.Param) schema.InputSpec { return schema.Inputs(params...) }

// In names one input parameter.
func In(name string, ref schema.Ref) schema.Param { return schema.In(name, ref) }

// Lit references a literal value.
func Lit(v any) schema.Ref { return schema.Lit(v) }

// Dep references one output key of another step.
func Dep(source, key string) schema.Ref { return schema.Dep(source, key) }

// JQ extracts from another step's whole output with a jq program.
func JQ(source, program string) schema.Ref { return schema.JQRef(source, program) }
