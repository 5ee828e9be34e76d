package flowline

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowline-dev/flowline/internal/diagram"
	"github.com/flowline-dev/flowline/internal/engine"
	"github.com/flowline-dev/flowline/internal/routing"
	"github.com/flowline-dev/flowline/internal/runner"
	"github.com/flowline-dev/flowline/internal/tracker"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// Workflow is a fluent builder around the execution context. Builder methods
// never fail in place; the first error is remembered and surfaced by Execute.
type Workflow struct {
	ctx            *engine.Context
	runner         Runner
	trackers       []tracker.Tracker
	summaries      []SummaryCallback
	maxParallelism int
	logger         *slog.Logger

	lastStep string
	descOpt  string
	err      error
}

// WorkflowOption configures a Workflow at construction time.
type WorkflowOption func(*Workflow)

// WithDescription sets a human readable workflow description.
func WithDescription(description string) WorkflowOption {
	return func(w *Workflow) { w.descOpt = description }
}

// WithLogger sets the logger used by the scheduler and trackers.
func WithLogger(logger *slog.Logger) WorkflowOption {
	return func(w *Workflow) { w.logger = logger }
}

// New creates an empty workflow with the given name.
func New(name string, opts ...WorkflowOption) *Workflow {
	w := &Workflow{logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	ctxOpts := []engine.ContextOption{engine.WithContextLogger(w.logger)}
	if w.descOpt != "" {
		ctxOpts = append(ctxOpts, engine.WithDescription(w.descOpt))
	}
	w.ctx = engine.NewContext(name, ctxOpts...)
	return w
}

// WorkflowID returns the run identifier assigned at construction.
func (w *Workflow) WorkflowID() string { return w.ctx.WorkflowID() }

// AddStep registers a step. A final failure of the step aborts the whole
// workflow unless AllowFail is chained. Subsequent WithRetry, WithTimeout,
// WithDecider, OnOutput, AllowFail and Route calls modify this step until
// the next AddStep.
func (w *Workflow) AddStep(id string, job schema.Job, inputs schema.InputSpec) *Workflow {
	if w.err != nil {
		return w
	}
	if err := w.ctx.AddStep(id, job, inputs, true); err != nil {
		w.err = err
		return w
	}
	w.lastStep = id
	return w
}

// WithRetry attaches a retry policy to the most recently added step.
func (w *Workflow) WithRetry(policy schema.RetryPolicy) *Workflow {
	return w.modifyLast(func(id string) error { return w.ctx.SetRetry(id, policy) })
}

// WithTimeout sets a per-attempt timeout on the most recently added step.
func (w *Workflow) WithTimeout(timeout time.Duration) *Workflow {
	return w.modifyLast(func(id string) error { return w.ctx.SetTimeout(id, timeout) })
}

// WithDecider attaches a condition-based router to the most recently added
// step. Mutually exclusive with OnOutput.
func (w *Workflow) WithDecider(d *Decider) *Workflow {
	return w.modifyLast(func(id string) error { return w.ctx.SetDecider(id, d) })
}

// OnOutput attaches a routing callback to the most recently added step. The
// callback receives the step output and returns the next step ids; returning
// nil keeps the static edges. Mutually exclusive with WithDecider.
func (w *Workflow) OnOutput(fn func(output schema.Output) ([]string, error)) *Workflow {
	return w.modifyLast(func(id string) error {
		return w.ctx.SetRoutingCallback(id, engine.RoutingCallback(fn))
	})
}

// StopOnFail makes a final failure of the most recently added step abort the
// whole workflow. This is already the default; use it to undo AllowFail.
func (w *Workflow) StopOnFail() *Workflow {
	return w.modifyLast(func(id string) error { return w.ctx.SetStopOnFail(id, true) })
}

// AllowFail lets the workflow continue when the most recently added step
// exhausts its attempts.
func (w *Workflow) AllowFail() *Workflow {
	return w.modifyLast(func(id string) error { return w.ctx.SetStopOnFail(id, false) })
}

// Route starts a condition chain on the most recently added step. Terminate
// the chain with Else or EndRoute.
func (w *Workflow) Route(key, op string, value any, target string) *RouteBuilder {
	rb := &RouteBuilder{w: w, decider: routing.NewDecider()}
	rb.When(key, op, value, target)
	return rb
}

// Connect adds a static edge between two steps.
func (w *Workflow) Connect(from, to string) *Workflow {
	if w.err != nil {
		return w
	}
	if err := w.ctx.Connect(from, to); err != nil {
		w.err = err
	}
	return w
}

// SetGlobals replaces the workflow-level globals visible to every step.
func (w *Workflow) SetGlobals(globals map[string]any) *Workflow {
	if w.err != nil {
		return w
	}
	w.ctx.SetGlobals(globals)
	return w
}

// SetTracker registers a tracker; may be called multiple times.
func (w *Workflow) SetTracker(t Tracker) *Workflow {
	if w.err != nil || t == nil {
		return w
	}
	w.trackers = append(w.trackers, t)
	return w
}

// SetRunner replaces the default in-process runner.
func (w *Workflow) SetRunner(r Runner) *Workflow {
	if w.err != nil {
		return w
	}
	w.runner = r
	return w
}

// SetMaxParallelism caps how many steps of one layer run concurrently.
// Zero or negative means unbounded.
func (w *Workflow) SetMaxParallelism(n int) *Workflow {
	if w.err != nil {
		return w
	}
	w.maxParallelism = n
	return w
}

// SetSummaryCallback registers a callback invoked with the final snapshot
// once the run reaches a terminal status. Callback errors are logged, never
// returned. May be called multiple times.
func (w *Workflow) SetSummaryCallback(cb SummaryCallback) *Workflow {
	if w.err != nil || cb == nil {
		return w
	}
	w.summaries = append(w.summaries, cb)
	return w
}

// Execute runs the workflow to completion and returns the outputs of every
// successful step keyed by step id.
func (w *Workflow) Execute(ctx context.Context) (map[string]schema.Output, error) {
	if w.err != nil {
		return nil, w.err
	}

	var dispatcher *tracker.Dispatcher
	if len(w.trackers) > 0 {
		dispatcher = tracker.NewDispatcher(tracker.Multi(w.trackers...), w.logger)
		w.ctx.SetNotifier(dispatcher.Enqueue)
	}

	r := w.runner
	if r == nil {
		r = runner.NewInlineRunner(w.logger)
	}
	sched := engine.NewScheduler(r,
		engine.WithMaxParallelism(w.maxParallelism),
		engine.WithSchedulerLogger(w.logger),
	)
	results, err := sched.Execute(ctx, w.ctx)

	if dispatcher != nil {
		dispatcher.Close()
	}

	if len(w.summaries) > 0 {
		final := w.ctx.Snapshot()
		for _, cb := range w.summaries {
			if cbErr := cb(ctx, final); cbErr != nil {
				w.logger.Error("summary callback failed",
					slog.String("workflow_id", w.ctx.WorkflowID()),
					slog.Any("error", cbErr))
			}
		}
	}
	return results, err
}

// Snapshot returns a point-in-time copy of the run state.
func (w *Workflow) Snapshot() *schema.Snapshot { return w.ctx.Snapshot() }

// Mermaid renders the current graph as a Mermaid flowchart with step
// statuses.
func (w *Workflow) Mermaid() string {
	return diagram.RenderMermaid(diagram.FromSnapshot(w.ctx.Snapshot()))
}

// DOT renders the current graph in Graphviz dot syntax.
func (w *Workflow) DOT() string {
	return diagram.RenderDOT(diagram.FromSnapshot(w.ctx.Snapshot()))
}

func (w *Workflow) modifyLast(fn func(id string) error) *Workflow {
	if w.err != nil {
		return w
	}
	if w.lastStep == "" {
		w.err = schema.NewError(schema.ErrCodeValidation, "no step added yet")
		return w
	}
	if err := fn(w.lastStep); err != nil {
		w.err = err
	}
	return w
}

// RouteBuilder accumulates decider conditions for one step.
type RouteBuilder struct {
	w       *Workflow
	decider *routing.Decider
}

// When adds another condition branch.
func (rb *RouteBuilder) When(key, op string, value any, target string) *RouteBuilder {
	rb.decider.When(key, op, value, target)
	return rb
}

// WhenExpr adds a branch guarded by an expr-lang expression over the output.
func (rb *RouteBuilder) WhenExpr(expression, target string) *RouteBuilder {
	rb.decider.WhenExpr(expression, target)
	return rb
}

// Else sets the fallback target and attaches the decider to the step.
func (rb *RouteBuilder) Else(target string) *Workflow {
	rb.decider.Default(target)
	return rb.attach()
}

// EndRoute attaches the decider without a fallback; an unmatched output
// keeps the step's static edges.
func (rb *RouteBuilder) EndRoute() *Workflow {
	return rb.attach()
}

func (rb *RouteBuilder) attach() *Workflow {
	return rb.w.modifyLast(func(id string) error { return rb.w.ctx.SetDecider(id, rb.decider) })
}
