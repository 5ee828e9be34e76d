package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/flowline-dev/flowline/internal/validation"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// DefaultProcessTimeout bounds a single worker process when the step carries
// no timeout of its own.
const DefaultProcessTimeout = 300 * time.Second

// stderrTailBytes caps how much captured stderr is attached to a failure.
const stderrTailBytes = 2048

// Compile-time interface check.
var _ Runner = (*SubprocessRunner)(nil)

// SubprocessRunner executes portable jobs in a separate worker process. Each
// request is serialized to a temp-file payload, handed to the worker binary,
// and the worker's stdout is validated against the outcome schema before the
// engine trusts it.
type SubprocessRunner struct {
	workerPath string
	workerArgs []string
	timeout    time.Duration
	logger     *slog.Logger
	validator  *validation.OutcomeValidator
}

// SubprocessOption configures a SubprocessRunner.
type SubprocessOption func(*SubprocessRunner)

// WithWorkerArgs sets extra arguments passed to the worker before the
// payload path.
func WithWorkerArgs(args ...string) SubprocessOption {
	return func(r *SubprocessRunner) { r.workerArgs = args }
}

// WithProcessTimeout overrides the per-process timeout.
func WithProcessTimeout(timeout time.Duration) SubprocessOption {
	return func(r *SubprocessRunner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithSubprocessLogger sets the runner's logger.
func WithSubprocessLogger(logger *slog.Logger) SubprocessOption {
	return func(r *SubprocessRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewSubprocessRunner creates an out-of-process runner driving the worker
// binary at workerPath.
func NewSubprocessRunner(workerPath string, opts ...SubprocessOption) (*SubprocessRunner, error) {
	if workerPath == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "worker path must not be empty")
	}
	validator, err := validation.NewOutcomeValidator()
	if err != nil {
		return nil, err
	}
	r := &SubprocessRunner{
		workerPath: workerPath,
		timeout:    DefaultProcessTimeout,
		logger:     slog.Default(),
		validator:  validator,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Name identifies the runner in logs.
func (r *SubprocessRunner) Name() string { return "subprocess" }

// Run launches one worker process per request, all started before any is
// awaited, and collects the validated outcomes.
func (r *SubprocessRunner) Run(ctx context.Context, batch []Request, view schema.ContextView) map[string]schema.StepOutcome {
	outcomes := make(map[string]schema.StepOutcome, len(batch))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, req := range batch {
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			out := r.runOne(ctx, req, view)
			mu.Lock()
			outcomes[req.StepID] = out
			mu.Unlock()
		}(req)
	}
	wg.Wait()
	return outcomes
}

func (r *SubprocessRunner) runOne(ctx context.Context, req Request, view schema.ContextView) schema.StepOutcome {
	if req.Job == nil {
		return schema.StepOutcome{Success: true, Result: schema.Output{}}
	}

	portable, ok := req.Job.(schema.PortableJob)
	if !ok {
		return schema.FailureOutcome(fmt.Sprintf(
			"job for step %q is not portable and cannot run out of process", req.StepID))
	}
	encoded, err := portable.ToSpec().Encode()
	if err != nil {
		return schema.FailureOutcome(fmt.Sprintf("encode job spec: %s", err.Error()))
	}

	payload := schema.WorkerPayload{
		StepID:     req.StepID,
		Job:        encoded,
		Inputs:     req.Inputs,
		Globals:    view.Globals,
		WorkflowID: view.WorkflowID,
	}
	payloadPath, err := writePayload(payload)
	if err != nil {
		return schema.FailureOutcome(fmt.Sprintf("write worker payload: %s", err.Error()))
	}
	defer os.Remove(payloadPath)

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(append([]string(nil), r.workerArgs...), payloadPath)
	cmd := exec.CommandContext(execCtx, r.workerPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Kill the process on context cancellation and allow 5s for pipe drain.
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	runErr := cmd.Run()

	if execCtx.Err() == context.DeadlineExceeded {
		r.logger.Warn("worker process timed out",
			"step_id", req.StepID, "timeout", r.timeout)
		return schema.FailureOutcome(fmt.Sprintf(
			"worker process exceeded %s timeout", r.timeout))
	}
	if runErr != nil {
		msg := fmt.Sprintf("worker process failed: %s", runErr.Error())
		if tail := tailString(stderr.Bytes()); tail != "" {
			msg = fmt.Sprintf("%s; stderr: %s", msg, tail)
		}
		return schema.FailureOutcome(msg)
	}

	outcome, err := r.validator.ValidateOutcome(stdout.Bytes())
	if err != nil {
		msg := fmt.Sprintf("invalid worker output: %s", err.Error())
		if tail := tailString(stderr.Bytes()); tail != "" {
			msg = fmt.Sprintf("%s; stderr: %s", msg, tail)
		}
		return schema.FailureOutcome(msg)
	}
	return outcome
}

func writePayload(payload schema.WorkerPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "flowline-payload-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// tailString returns the last chunk of captured stderr, trimmed.
func tailString(b []byte) string {
	if len(b) > stderrTailBytes {
		b = b[len(b)-stderrTailBytes:]
	}
	return string(bytes.TrimSpace(b))
}
