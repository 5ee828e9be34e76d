package engine

import (
	gocontext "context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowline-dev/flowline/internal/routing"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// Notifier receives a snapshot after every Context mutation.
type Notifier func(workflowID string, snap *schema.Snapshot)

// Context is the single source of truth for one workflow execution: step
// definitions, edges, globals, results, execution records and lifecycle
// timestamps. The scheduler is its only writer during execution; all
// mutations are serialized through one mutex and each mutation emits exactly
// one snapshot to the notifier.
type Context struct {
	mu sync.Mutex

	workflowID  string
	name        string
	description *string
	status      schema.WorkflowStatus
	running     bool

	globals    map[string]any
	steps      map[string]*StepDefinition
	order      []string
	results    map[string]schema.Output
	executions map[string]*ExecutionRecord

	startedAt time.Time
	endedAt   time.Time
	perf      schema.WorkflowPerformance
	memStart  memSpan

	notify Notifier
	logger *slog.Logger
	jq     *routing.GoJQEngine
}

// ContextOption configures a Context at construction.
type ContextOption func(*Context)

// WithDescription sets the workflow description.
func WithDescription(description string) ContextOption {
	return func(c *Context) { c.description = &description }
}

// WithNotifier sets the snapshot notifier.
func WithNotifier(n Notifier) ContextOption {
	return func(c *Context) { c.notify = n }
}

// WithContextLogger sets the logger used for resolution warnings.
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(c *Context) { c.logger = logger }
}

// NewContext creates a pending workflow context with a fresh UUID.
func NewContext(name string, opts ...ContextOption) *Context {
	c := &Context{
		workflowID: uuid.NewString(),
		name:       name,
		status:     schema.WorkflowStatusPending,
		globals:    map[string]any{},
		steps:      map[string]*StepDefinition{},
		results:    map[string]schema.Output{},
		executions: map[string]*ExecutionRecord{},
		logger:     slog.Default(),
		jq:         routing.SharedJQEngine(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WorkflowID returns the workflow's identifier.
func (c *Context) WorkflowID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workflowID
}

// Name returns the workflow name.
func (c *Context) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Status returns the current workflow status.
func (c *Context) Status() schema.WorkflowStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetNotifier replaces the snapshot notifier.
func (c *Context) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = n
}

// --- Graph construction ---

// AddStep registers a step. Duplicate ids are rejected unless the existing
// entry is a placeholder created by Connect, which is upgraded in place.
func (c *Context) AddStep(id string, job schema.Job, inputs schema.InputSpec, stopOnFail bool) error {
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "step id must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.steps[id]; ok {
		if !existing.Placeholder {
			return schema.NewErrorf(schema.ErrCodeConflict, "step %q already exists", id)
		}
		existing.Job = job
		existing.Inputs = inputs
		existing.StopOnFail = stopOnFail
		existing.Placeholder = false
		c.emitLocked()
		return nil
	}

	c.steps[id] = &StepDefinition{
		ID:         id,
		Job:        job,
		Inputs:     inputs,
		StopOnFail: stopOnFail,
	}
	c.order = append(c.order, id)
	c.executions[id] = &ExecutionRecord{Status: schema.StepStatusPending}
	c.emitLocked()
	return nil
}

// Connect adds a precedence edge. The from step must exist; an unknown to
// step is created as a no-op placeholder. Duplicate edges are ignored.
func (c *Context) Connect(from, to string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(from, to)
}

func (c *Context) connectLocked(from, to string) error {
	src, ok := c.steps[from]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", from)
	}
	if to == "" {
		return schema.NewError(schema.ErrCodeValidation, "edge target must not be empty")
	}
	if _, ok := c.steps[to]; !ok {
		c.steps[to] = &StepDefinition{ID: to, Placeholder: true}
		c.order = append(c.order, to)
		c.executions[to] = &ExecutionRecord{Status: schema.StepStatusPending}
	}
	for _, existing := range src.Outgoing {
		if existing == to {
			return nil
		}
	}
	src.Outgoing = append(src.Outgoing, to)
	c.emitLocked()
	return nil
}

// SetRetry attaches a retry policy to a step. Last writer wins.
func (c *Context) SetRetry(id string, policy schema.RetryPolicy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	step, ok := c.steps[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	step.Retry = &policy
	c.emitLocked()
	return nil
}

// SetTimeout attaches a per-attempt timeout to a step. Last writer wins.
func (c *Context) SetTimeout(id string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	step, ok := c.steps[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	step.Timeout = timeout
	c.emitLocked()
	return nil
}

// SetDecider attaches a decider to a step, displacing any routing callback.
func (c *Context) SetDecider(id string, d *routing.Decider) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	step, ok := c.steps[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	step.Decider = d
	step.Routing = nil
	c.emitLocked()
	return nil
}

// SetRoutingCallback attaches a routing callback, displacing any decider.
func (c *Context) SetRoutingCallback(id string, fn RoutingCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	step, ok := c.steps[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	step.Routing = fn
	step.Decider = nil
	c.emitLocked()
	return nil
}

// ClearOutgoingEdges removes a step's outgoing edges; dynamic routing uses
// this before splicing in the chosen targets.
func (c *Context) ClearOutgoingEdges(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	step, ok := c.steps[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	step.Outgoing = nil
	c.emitLocked()
	return nil
}

// SetStopOnFail toggles whether a step's failure aborts the workflow.
func (c *Context) SetStopOnFail(id string, stop bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	step, ok := c.steps[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	step.StopOnFail = stop
	c.emitLocked()
	return nil
}

// SetGlobals overwrites the workflow globals.
func (c *Context) SetGlobals(globals map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globals = map[string]any{}
	for k, v := range globals {
		c.globals[k] = v
	}
	c.emitLocked()
}

// --- Read access ---

// StepOrder returns the step ids in insertion order.
func (c *Context) StepOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Step returns the definition for a step id.
func (c *Context) Step(id string) (*StepDefinition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	step, ok := c.steps[id]
	return step, ok
}

// HasStep reports whether the id names a known step.
func (c *Context) HasStep(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.steps[id]
	return ok
}

// Execution returns a copy of a step's execution record.
func (c *Context) Execution(id string) (ExecutionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.executions[id]
	if !ok {
		return ExecutionRecord{}, false
	}
	out := *rec
	out.Inputs = deepCopyMap(rec.Inputs)
	out.Output = deepCopyMap(rec.Output)
	out.Errors = append([]string(nil), rec.Errors...)
	out.Logs = append([]string(nil), rec.Logs...)
	return out, true
}

// Result returns a copy of a step's output, if it succeeded.
func (c *Context) Result(id string) (schema.Output, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.results[id]
	if !ok {
		return nil, false
	}
	return deepCopyMap(out), true
}

// Results returns a deep copy of the full results map.
func (c *Context) Results() map[string]schema.Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]schema.Output, len(c.results))
	for id, res := range c.results {
		out[id] = deepCopyMap(res)
	}
	return out
}

// Globals returns a copy of the workflow globals.
func (c *Context) Globals() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deepCopyMap(c.globals)
}

// View builds the read-only slice of state handed to a job run.
func (c *Context) View(stepID string) schema.ContextView {
	c.mu.Lock()
	defer c.mu.Unlock()
	results := make(map[string]schema.Output, len(c.results))
	for id, res := range c.results {
		results[id] = deepCopyMap(res)
	}
	return schema.ContextView{
		WorkflowID: c.workflowID,
		StepID:     stepID,
		Globals:    deepCopyMap(c.globals),
		Results:    results,
	}
}

// GraphView returns the insertion order and the parent sets of the union
// graph: explicit edges plus implicit input-spec dependencies, each distinct
// parent counted once.
func (c *Context) GraphView() (order []string, parents map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order = make([]string, len(c.order))
	copy(order, c.order)

	parents = make(map[string][]string, len(c.order))
	seen := make(map[string]map[string]bool, len(c.order))
	add := func(child, parent string) {
		if child == parent {
			return
		}
		if _, ok := c.steps[parent]; !ok {
			return
		}
		if seen[child] == nil {
			seen[child] = map[string]bool{}
		}
		if seen[child][parent] {
			return
		}
		seen[child][parent] = true
		parents[child] = append(parents[child], parent)
	}

	for _, id := range c.order {
		step := c.steps[id]
		for _, to := range step.Outgoing {
			add(to, id)
		}
		for _, dep := range step.Inputs.Dependencies() {
			add(id, dep)
		}
	}
	return order, parents
}

// --- Input resolution ---

// ResolveInputs builds a step's input map by walking its input spec in
// order: literals pass through, dependency references read the producing
// step's output key (nil when absent), jq references extract from the whole
// output. Globals fill only keys the spec did not produce; resolved inputs
// win on collision.
func (c *Context) ResolveInputs(id string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	step, ok := c.steps[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}

	resolved := make(map[string]any, len(step.Inputs)+len(c.globals))
	for _, p := range step.Inputs {
		switch p.Ref.Kind {
		case schema.RefLiteral:
			resolved[p.Name] = deepCopyValue(p.Ref.Literal)
		case schema.RefDependency:
			source := c.results[p.Ref.Source]
			if source == nil {
				resolved[p.Name] = nil
				continue
			}
			resolved[p.Name] = deepCopyValue(source[p.Ref.Key])
		case schema.RefJQ:
			source := c.results[p.Ref.Source]
			if source == nil {
				resolved[p.Name] = nil
				continue
			}
			val, err := c.jq.Evaluate(gocontext.Background(), p.Ref.Program, source)
			if err != nil {
				c.logger.Warn("input extraction failed",
					"workflow_id", c.workflowID, "step_id", id,
					"param", p.Name, "error", err)
				resolved[p.Name] = nil
				continue
			}
			resolved[p.Name] = val
		}
	}

	for k, v := range c.globals {
		if _, exists := resolved[k]; !exists {
			resolved[k] = deepCopyValue(v)
		}
	}
	return resolved, nil
}

// --- Lifecycle markers ---

// MarkWorkflowStarted moves the workflow to running and samples start memory.
func (c *Context) MarkWorkflowStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !schema.CanTransitionWorkflow(c.status, schema.WorkflowStatusRunning) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid workflow transition: %s -> %s", c.status, schema.WorkflowStatusRunning)
	}
	c.status = schema.WorkflowStatusRunning
	c.running = true
	c.startedAt = time.Now()
	c.memStart = startMemSpan()
	c.perf.StartMemory = c.memStart.start
	c.emitLocked()
	return nil
}

// MarkWorkflowEnded closes the run with the given terminal status and fills
// the workflow performance block.
func (c *Context) MarkWorkflowEnded(status schema.WorkflowStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !schema.CanTransitionWorkflow(c.status, status) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid workflow transition: %s -> %s", c.status, status)
	}
	c.status = status
	c.running = false
	c.endedAt = time.Now()
	used, peak := c.memStart.end()
	c.perf.MemoryUsed = used
	c.perf.PeakMemory = peak
	if !c.startedAt.IsZero() {
		c.perf.ExecutionTime = c.endedAt.Sub(c.startedAt).Seconds()
	}
	c.emitLocked()
	return nil
}

// MarkStepStarted moves a step to running and records the inputs it will
// run with.
func (c *Context) MarkStepStarted(id string, inputs map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	if !schema.CanTransitionStep(rec.Status, schema.StepStatusRunning) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", rec.Status, schema.StepStatusRunning).WithStep(id)
	}
	rec.Status = schema.StepStatusRunning
	rec.StartedAt = time.Now()
	rec.Inputs = deepCopyMap(inputs)
	c.emitLocked()
	return nil
}

// IncrementStepAttempts bumps a step's attempt counter.
func (c *Context) IncrementStepAttempts(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	rec.Attempts++
	c.emitLocked()
	return nil
}

// AppendStepLog appends a log line to a step's execution record.
func (c *Context) AppendStepLog(id, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	rec.Logs = append(rec.Logs, line)
	c.emitLocked()
	return nil
}

// MarkStepCompleted records a successful step: output stored in results,
// record closed with the step performance block.
func (c *Context) MarkStepCompleted(id string, output schema.Output, logs []string, perf schema.StepPerformance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	if !schema.CanTransitionStep(rec.Status, schema.StepStatusSuccess) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", rec.Status, schema.StepStatusSuccess).WithStep(id)
	}
	if output == nil {
		output = schema.Output{}
	}
	rec.Status = schema.StepStatusSuccess
	rec.EndedAt = time.Now()
	rec.Output = deepCopyMap(output)
	rec.Logs = append(rec.Logs, logs...)
	rec.ExecutionTime = perf.ExecutionTime
	rec.MemoryUsed = perf.MemoryUsed
	rec.PeakMemory = perf.PeakMemory
	c.results[id] = deepCopyMap(output)
	c.emitLocked()
	return nil
}

// MarkStepFailed records a failed step. The errors list must carry at least
// one entry; an empty list is padded so the record explains itself.
func (c *Context) MarkStepFailed(id string, errs []string, logs []string, perf schema.StepPerformance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	if !schema.CanTransitionStep(rec.Status, schema.StepStatusFail) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", rec.Status, schema.StepStatusFail).WithStep(id)
	}
	if len(errs) == 0 {
		errs = []string{"step failed without reported error"}
	}
	rec.Status = schema.StepStatusFail
	rec.EndedAt = time.Now()
	rec.Errors = append(rec.Errors, errs...)
	rec.Logs = append(rec.Logs, logs...)
	rec.ExecutionTime = perf.ExecutionTime
	rec.MemoryUsed = perf.MemoryUsed
	rec.PeakMemory = perf.PeakMemory
	c.emitLocked()
	return nil
}

// MarkStepSkipped records a skipped step with its reason.
func (c *Context) MarkStepSkipped(id, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.executions[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %q", id)
	}
	if !schema.CanTransitionStep(rec.Status, schema.StepStatusSkipped) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", rec.Status, schema.StepStatusSkipped).WithStep(id)
	}
	rec.Status = schema.StepStatusSkipped
	rec.EndedAt = time.Now()
	rec.SkipReason = reason
	c.emitLocked()
	return nil
}

// Running reports whether the workflow is still scheduling new work.
func (c *Context) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Abort stops further scheduling. In-flight steps complete and their
// results are still recorded.
func (c *Context) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

// --- Snapshot ---

// Snapshot produces a serializable deep copy of the current state. Pure:
// two calls without interleaved mutation yield identical output.
func (c *Context) Snapshot() *schema.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Context) snapshotLocked() *schema.Snapshot {
	snap := &schema.Snapshot{
		WorkflowID:   c.workflowID,
		Name:         c.name,
		Status:       c.status,
		StartedAt:    schema.UnixSeconds(c.startedAt),
		CompletedAt:  schema.UnixSeconds(c.endedAt),
		Globals:      deepCopyMap(c.globals),
		Performance:  c.perf,
		Steps:        make([]schema.StepSnapshot, 0, len(c.order)),
		Results:      make(map[string]schema.Output, len(c.results)),
		ExecutedJobs: make(map[string]schema.ExecutionSnapshot, len(c.executions)),
	}
	if c.description != nil {
		desc := *c.description
		snap.Description = &desc
	}

	for _, id := range c.order {
		step := c.steps[id]
		ss := schema.StepSnapshot{
			ID:          id,
			Name:        step.JobName(),
			Description: step.JobDescription(),
			Inputs:      step.Inputs.Render(),
			StopOnFail:  step.StopOnFail,
			Connections: append([]string(nil), step.Outgoing...),
		}
		if step.Retry != nil {
			ss.Retry = &schema.RetrySnapshot{
				MaxAttempts: step.Retry.MaxAttempts,
				BaseDelay:   step.Retry.BaseDelay,
				Multiplier:  step.Retry.Multiplier,
			}
		}
		if step.Timeout > 0 {
			t := step.Timeout.Seconds()
			ss.Timeout = &t
		}
		snap.Steps = append(snap.Steps, ss)
	}

	for id, res := range c.results {
		snap.Results[id] = deepCopyMap(res)
	}

	for id, rec := range c.executions {
		es := schema.ExecutionSnapshot{
			Status:      rec.Status,
			StartedAt:   schema.UnixSeconds(rec.StartedAt),
			CompletedAt: schema.UnixSeconds(rec.EndedAt),
			Inputs:      deepCopyMap(rec.Inputs),
			Outputs:     deepCopyMap(rec.Output),
			Logs:        append([]string(nil), rec.Logs...),
			Errors:      append([]string(nil), rec.Errors...),
			SkipReason:  rec.SkipReason,
			Attempts:    rec.Attempts,
			Performance: schema.StepPerformance{
				ExecutionTime: rec.ExecutionTime,
				MemoryUsed:    rec.MemoryUsed,
				PeakMemory:    rec.PeakMemory,
			},
		}
		snap.ExecutedJobs[id] = es
	}
	return snap
}

// emitLocked hands a fresh snapshot to the notifier. Caller holds the mutex,
// which is what keeps emission order aligned with mutation order.
func (c *Context) emitLocked() {
	if c.notify == nil {
		return
	}
	c.notify(c.workflowID, c.snapshotLocked())
}
