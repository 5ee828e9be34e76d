package engine

import (
	gocontext "context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowline-dev/flowline/internal/logging"
	"github.com/flowline-dev/flowline/internal/runner"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// SkipReasonValidation marks steps skipped because their resolved inputs
// failed the job's own validation.
const SkipReasonValidation = "validation_failed"

// Scheduler drives a workflow context to completion: it layers the graph,
// runs each ready wave through the runner, applies retry and timeout policy,
// evaluates dynamic routing and prunes branches routing left unreachable.
type Scheduler struct {
	runner         runner.Runner
	maxParallelism int
	logger         *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithMaxParallelism bounds how many steps of one layer run concurrently.
// Zero or less means unbounded.
func WithMaxParallelism(n int) SchedulerOption {
	return func(s *Scheduler) { s.maxParallelism = n }
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler creates a scheduler executing jobs through the given runner.
func NewScheduler(r runner.Runner, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner: r,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// stepResult is the deferred terminal mark for one executed step. Results
// are applied in insertion order after the whole layer finished, so snapshot
// consumers observe deterministic completion order inside a wave.
type stepResult struct {
	id         string
	status     schema.StepStatus
	output     schema.Output
	logs       []string
	errors     []string
	perf       schema.StepPerformance
	skipReason string
}

// Execute runs the workflow to a terminal status and returns the results of
// every succeeded step. The returned error is non-nil only when the workflow
// itself failed: an unresolvable cycle, a stop-on-fail step exhausting its
// attempts, an unknown dynamic route or external cancellation.
func (s *Scheduler) Execute(ctx gocontext.Context, c *Context) (map[string]schema.Output, error) {
	ctx = logging.WithWorkflowID(ctx, c.WorkflowID())
	if err := c.MarkWorkflowStarted(); err != nil {
		return nil, err
	}

	order, parents := c.GraphView()
	if len(order) == 0 {
		if err := c.MarkWorkflowEnded(schema.WorkflowStatusSuccess); err != nil {
			return nil, err
		}
		return map[string]schema.Output{}, nil
	}

	// Roots are fixed at start: dynamic routing may rewrite edges later, but
	// reachability for pruning always re-grows from the original entry points.
	originalRoots := make(map[string]bool, len(order))
	for _, id := range order {
		if len(parents[id]) == 0 {
			originalRoots[id] = true
		}
	}

	initial := BuildLayers(order, parents)
	if initial.AcyclicLayers == 0 {
		_ = c.MarkWorkflowEnded(schema.WorkflowStatusFail)
		return nil, schema.NewError(schema.ErrCodeCycleDetected,
			"workflow has no runnable step: every step waits on another")
	}

	executed := make(map[string]bool, len(order))
	pruned := make(map[string]bool)

	for c.Running() {
		if err := ctx.Err(); err != nil {
			c.Abort()
			_ = c.MarkWorkflowEnded(schema.WorkflowStatusFail)
			return nil, schema.NewError(schema.ErrCodeTimeout,
				"workflow canceled").WithCause(err)
		}

		currentOrder, currentParents := c.GraphView()
		remaining := make([]string, 0, len(currentOrder))
		for _, id := range currentOrder {
			if !executed[id] && !pruned[id] {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			break
		}

		// Relayer the remaining subgraph every wave: routing may have
		// rewritten edges since the last one. Parents already executed or
		// pruned fall out of the subgraph, which is exactly what marks their
		// children ready.
		layering := BuildLayers(remaining, currentParents)
		if len(layering.Layers) == 0 {
			break
		}
		layer := layering.Layers[0]

		cycleMembers := make(map[string]bool, len(layering.CycleMembers))
		for _, id := range layering.CycleMembers {
			cycleMembers[id] = true
		}
		for _, id := range layer {
			if cycleMembers[id] {
				s.logger.Warn("running cycle member without ordering guarantees",
					"workflow_id", c.WorkflowID(), "step_id", id)
				_ = c.AppendStepLog(id, "step is part of a dependency cycle; upstream results may be incomplete")
			}
		}

		results := s.runLayer(ctx, c, layer)

		// Terminal marks land in insertion order regardless of which
		// goroutine finished first.
		for _, id := range layer {
			res, ok := results[id]
			if !ok {
				continue
			}
			switch res.status {
			case schema.StepStatusSuccess:
				_ = c.MarkStepCompleted(id, res.output, res.logs, res.perf)
			case schema.StepStatusFail:
				_ = c.MarkStepFailed(id, res.errors, res.logs, res.perf)
			case schema.StepStatusSkipped:
				_ = c.MarkStepSkipped(id, res.skipReason)
			}
			executed[id] = true
		}

		// A stop-on-fail failure ends the run after the whole wave's results
		// are recorded, so sibling outcomes are not lost.
		for _, id := range layer {
			res, ok := results[id]
			if !ok || res.status != schema.StepStatusFail {
				continue
			}
			step, found := c.Step(id)
			if found && step.StopOnFail {
				c.Abort()
				_ = c.MarkWorkflowEnded(schema.WorkflowStatusFail)
				return nil, schema.NewErrorf(schema.ErrCodeExecution,
					"step %q failed after %d attempt(s) and stop_on_fail is set",
					id, s.attemptsOf(c, id)).WithStep(id)
			}
		}

		if err := s.applyRouting(ctx, c, layer, results); err != nil {
			c.Abort()
			_ = c.MarkWorkflowEnded(schema.WorkflowStatusFail)
			return nil, err
		}

		s.pruneUnreachable(c, executed, pruned, originalRoots)
	}

	if err := c.MarkWorkflowEnded(schema.WorkflowStatusSuccess); err != nil {
		return nil, err
	}
	return c.Results(), nil
}

// runLayer executes every step of one wave concurrently, bounded by the
// scheduler's parallelism, and returns the deferred terminal marks.
func (s *Scheduler) runLayer(ctx gocontext.Context, c *Context, layer []string) map[string]stepResult {
	results := make(map[string]stepResult, len(layer))
	done := make(chan stepResult, len(layer))

	pool := NewPool(s.maxParallelism, s.logger)
	for _, id := range layer {
		id := id
		pool.Go(func() {
			done <- s.runStep(ctx, c, id)
		})
	}
	pool.Wait()
	close(done)

	for res := range done {
		results[res.id] = res
	}
	return results
}

// runStep resolves inputs, validates them, and drives the retry loop for a
// single step. It mutates the context only through live markers (started,
// attempts, logs); the terminal mark is returned for ordered application.
func (s *Scheduler) runStep(ctx gocontext.Context, c *Context, id string) stepResult {
	ctx = logging.WithStepID(ctx, id)
	step, ok := c.Step(id)
	if !ok {
		return stepResult{id: id, status: schema.StepStatusFail,
			errors: []string{fmt.Sprintf("step %q disappeared from the graph", id)}}
	}

	inputs, err := c.ResolveInputs(id)
	if err != nil {
		return stepResult{id: id, status: schema.StepStatusFail, errors: []string{err.Error()}}
	}

	if validator, ok := step.Job.(schema.InputValidator); ok {
		if verr := validator.ValidateInputs(inputs); verr != nil {
			s.logger.Warn("step inputs rejected",
				"workflow_id", c.WorkflowID(), "step_id", id, "error", verr)
			return stepResult{id: id, status: schema.StepStatusSkipped,
				skipReason: SkipReasonValidation}
		}
	}

	if err := c.MarkStepStarted(id, inputs); err != nil {
		return stepResult{id: id, status: schema.StepStatusFail, errors: []string{err.Error()}}
	}

	policy := schema.DefaultRetryPolicy()
	if step.Retry != nil {
		policy = *step.Retry
	}

	span := startMemSpan()
	started := time.Now()

	var lastOutcome schema.StepOutcome
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		_ = c.IncrementStepAttempts(id)

		if attempt > 1 {
			// Later attempts re-resolve so they observe results that landed
			// since the first try.
			if fresh, rerr := c.ResolveInputs(id); rerr == nil {
				inputs = fresh
			}
		}

		lastOutcome = s.runAttempt(ctx, c, step, id, inputs)
		if lastOutcome.Success {
			perf := s.perfFrom(span, started, lastOutcome)
			return stepResult{
				id:     id,
				status: schema.StepStatusSuccess,
				output: lastOutcome.Result,
				logs:   lastOutcome.Logs,
				perf:   perf,
			}
		}

		msg := lastOutcome.Error
		if msg == "" && len(lastOutcome.Errors) > 0 {
			msg = lastOutcome.Errors[0]
		}
		if msg == "" {
			msg = "unknown error"
		}
		_ = c.AppendStepLog(id, fmt.Sprintf("[Error] Attempt %d failed: %s", attempt, msg))

		if attempt < policy.MaxAttempts {
			if !sleepCtx(ctx, policy.Delay(attempt)) {
				break
			}
		}
	}

	perf := s.perfFrom(span, started, lastOutcome)
	errs := lastOutcome.Errors
	if len(errs) == 0 && lastOutcome.Error != "" {
		errs = []string{lastOutcome.Error}
	}
	return stepResult{
		id:     id,
		status: schema.StepStatusFail,
		logs:   lastOutcome.Logs,
		errors: errs,
		perf:   perf,
	}
}

// runAttempt performs one runner invocation under the step's per-attempt
// timeout.
func (s *Scheduler) runAttempt(ctx gocontext.Context, c *Context, step *StepDefinition, id string, inputs map[string]any) schema.StepOutcome {
	attemptCtx := ctx
	if step.Timeout > 0 {
		var cancel gocontext.CancelFunc
		attemptCtx, cancel = gocontext.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	batch := []runner.Request{{StepID: id, Job: step.Job, Inputs: inputs}}
	outcomes := s.runner.Run(attemptCtx, batch, c.View(id))

	outcome, ok := outcomes[id]
	if !ok {
		return schema.FailureOutcome(fmt.Sprintf("runner %q returned no outcome for step %q", s.runner.Name(), id))
	}
	return outcome
}

// applyRouting evaluates deciders and routing callbacks for the wave's
// succeeded steps, in insertion order, and splices the chosen edges in.
func (s *Scheduler) applyRouting(ctx gocontext.Context, c *Context, layer []string, results map[string]stepResult) error {
	for _, id := range layer {
		res, ok := results[id]
		if !ok || res.status != schema.StepStatusSuccess {
			continue
		}
		step, found := c.Step(id)
		if !found {
			continue
		}

		var targets []string

		switch {
		case step.Decider != nil:
			routed, matched := step.Decider.Route(ctx, res.output)
			// No matching condition and no default keeps the static edges.
			if !matched {
				continue
			}
			targets = routed
		case step.Routing != nil:
			routed, err := step.Routing(res.output)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeExecution,
					"routing callback for step %q: %s", id, err.Error()).WithStep(id).WithCause(err)
			}
			if routed == nil {
				continue
			}
			targets = routed
		default:
			continue
		}

		unknown := ""
		for _, target := range targets {
			if !c.HasStep(target) {
				unknown = target
				break
			}
		}
		if unknown != "" {
			if step.StopOnFail {
				return schema.NewErrorf(schema.ErrCodeUnknownRoute,
					"step %q routed to unknown step %q", id, unknown).WithStep(id)
			}
			// A tolerant step keeps the graph as declared.
			s.logger.Warn("dynamic route names unknown step; keeping static edges",
				"workflow_id", c.WorkflowID(), "step_id", id, "target", unknown)
			continue
		}

		if err := c.ClearOutgoingEdges(id); err != nil {
			return err
		}
		for _, target := range targets {
			if err := c.Connect(id, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// pruneUnreachable drops pending steps no longer reachable from an executed
// step or an original root. Pruned steps keep their pending status.
func (s *Scheduler) pruneUnreachable(c *Context, executed, pruned, originalRoots map[string]bool) {
	order, parents := c.GraphView()

	children := make(map[string][]string, len(order))
	for child, ps := range parents {
		for _, parent := range ps {
			children[parent] = append(children[parent], child)
		}
	}

	reachable := make(map[string]bool, len(order))
	var frontier []string
	for _, id := range order {
		if executed[id] || (originalRoots[id] && !pruned[id]) {
			reachable[id] = true
			frontier = append(frontier, id)
		}
	}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, child := range children[id] {
			if !reachable[child] {
				reachable[child] = true
				frontier = append(frontier, child)
			}
		}
	}

	for _, id := range order {
		if executed[id] || pruned[id] || reachable[id] {
			continue
		}
		s.logger.Debug("pruning unreachable step",
			"workflow_id", c.WorkflowID(), "step_id", id)
		pruned[id] = true
	}
}

func (s *Scheduler) perfFrom(span memSpan, started time.Time, outcome schema.StepOutcome) schema.StepPerformance {
	perf := schema.StepPerformance{
		ExecutionTime: time.Since(started).Seconds(),
		MemoryUsed:    outcome.MemoryUsed,
		PeakMemory:    outcome.PeakMemory,
	}
	if perf.MemoryUsed == 0 && perf.PeakMemory == 0 {
		perf.MemoryUsed, perf.PeakMemory = span.end()
	}
	return perf
}

func (s *Scheduler) attemptsOf(c *Context, id string) int {
	rec, ok := c.Execution(id)
	if !ok {
		return 0
	}
	return rec.Attempts
}

// sleepCtx waits for d unless the context ends first. Reports whether the
// full delay elapsed.
func sleepCtx(ctx gocontext.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
