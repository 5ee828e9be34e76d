package schema

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
)

// Output is the free-form result mapping a job produces.
type Output = map[string]any

// ContextView is the read-only slice of workflow state handed to a job for
// the duration of a single Run call. Jobs must not retain it.
type ContextView struct {
	WorkflowID string
	StepID     string
	Globals    map[string]any
	Results    map[string]Output
}

// Job is the unit of work executed by a step.
type Job interface {
	// ID returns the job's own identifier, usually the step id it was
	// registered under.
	ID() string
	// Name returns the human-readable job name. Empty means the step id is
	// used when reporting.
	Name() string
	// Description returns a short description of what the job does.
	Description() string
	// Run executes the job with the resolved inputs. A nil error with a
	// non-empty Errors() collection still counts as a failed run.
	Run(ctx context.Context, inputs map[string]any, view ContextView) (Output, error)
	// Logs returns log lines accumulated during the last Run.
	Logs() []string
	// Errors returns error strings accumulated during the last Run.
	Errors() []string
}

// InputValidator is an optional job capability. When implemented, the engine
// calls ValidateInputs before Run; a non-nil error marks the step skipped
// with reason "validation_failed".
type InputValidator interface {
	ValidateInputs(inputs map[string]any) error
}

// PortableJob is an optional job capability enabling out-of-process
// execution. ToSpec and the registry's FromSpec must round-trip class and id.
type PortableJob interface {
	Job
	ToSpec() JobSpec
}

// JobSpec is the serialized form of a portable job.
type JobSpec struct {
	Class string         `json:"class"`
	ID    string         `json:"id"`
	Data  map[string]any `json:"data,omitempty"`
}

// Encode serializes the spec as base64-wrapped JSON for the worker payload.
func (s JobSpec) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", NewErrorf(ErrCodeValidation, "encode job spec: %s", err.Error()).WithCause(err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeJobSpec reverses JobSpec.Encode.
func DecodeJobSpec(encoded string) (JobSpec, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return JobSpec{}, NewErrorf(ErrCodeValidation, "decode job spec: %s", err.Error()).WithCause(err)
	}
	var spec JobSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return JobSpec{}, NewErrorf(ErrCodeValidation, "unmarshal job spec: %s", err.Error()).WithCause(err)
	}
	return spec, nil
}

// StepOutcome is the normalized result of one job invocation, produced at
// the runner boundary regardless of how the job terminated.
type StepOutcome struct {
	Success    bool     `json:"success"`
	Result     Output   `json:"result,omitempty"`
	Error      string   `json:"error,omitempty"`
	Logs       []string `json:"logs,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	MemoryUsed uint64   `json:"memory_used"`
	PeakMemory uint64   `json:"peak_memory"`
}

// FailureOutcome builds a failed StepOutcome from a single error message.
func FailureOutcome(message string) StepOutcome {
	return StepOutcome{Success: false, Error: message, Errors: []string{message}}
}

// WorkerPayload is the temp-file hand-off document for the out-of-process
// worker. Job carries the base64 JobSpec produced by JobSpec.Encode.
type WorkerPayload struct {
	StepID     string         `json:"step_id"`
	Job        string         `json:"job"`
	Inputs     map[string]any `json:"inputs"`
	Globals    map[string]any `json:"globals"`
	WorkflowID string         `json:"workflow_id"`
}

// Recorder collects logs and errors during a job run. Embed it in job
// implementations to satisfy the Logs/Errors half of the Job interface.
type Recorder struct {
	mu     sync.Mutex
	logs   []string
	errors []string
}

// Log appends a log line.
func (r *Recorder) Log(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, line)
}

// Error appends an error string. Jobs reporting errors this way are treated
// as failed even when Run returns nil.
func (r *Recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

// Reset clears accumulated logs and errors before a fresh attempt.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = nil
	r.errors = nil
}

// Logs returns a copy of the accumulated log lines.
func (r *Recorder) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.logs))
	copy(out, r.logs)
	return out
}

// Errors returns a copy of the accumulated error strings.
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.errors))
	copy(out, r.errors)
	return out
}
