package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/flowline-dev/flowline/internal/runner"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// runWorker executes one job payload and writes the outcome JSON to out.
// A returned error means the payload itself was unusable; job-level failures
// are reported through the outcome instead.
func runWorker(ctx context.Context, payloadPath string, reg *runner.Registry, cfg Config, out io.Writer, logger *slog.Logger) error {
	raw, err := os.ReadFile(payloadPath)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	var payload schema.WorkerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if payload.StepID == "" || payload.Job == "" {
		return schema.NewError(schema.ErrCodeValidation, "payload missing step_id or job")
	}

	job, err := reg.Decode(payload.Job)
	if err != nil {
		logger.Error("job reconstruction failed",
			slog.String("step_id", payload.StepID),
			slog.Any("error", err))
		return emitOutcome(out, schema.FailureOutcome(err.Error()), cfg)
	}

	view := schema.ContextView{
		WorkflowID: payload.WorkflowID,
		StepID:     payload.StepID,
		Globals:    payload.Globals,
	}
	outcome := executeJob(ctx, job, payload.Inputs, view)
	return emitOutcome(out, outcome, cfg)
}

// executeJob runs the job and converts its result, reported errors or panic
// into a StepOutcome.
func executeJob(ctx context.Context, job schema.Job, inputs map[string]any, view schema.ContextView) (outcome schema.StepOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = schema.FailureOutcome(fmt.Sprintf("job panicked: %v", r))
		}
	}()

	startMem := heapAlloc()
	output, err := job.Run(ctx, inputs, view)
	endMem := heapAlloc()

	outcome = schema.StepOutcome{
		Logs:   job.Logs(),
		Errors: job.Errors(),
	}
	if endMem > startMem {
		outcome.MemoryUsed = endMem - startMem
	}
	outcome.PeakMemory = endMem

	switch {
	case err != nil:
		outcome.Success = false
		outcome.Error = err.Error()
		outcome.Errors = append(outcome.Errors, err.Error())
	case len(outcome.Errors) > 0:
		outcome.Success = false
		outcome.Error = outcome.Errors[0]
	default:
		outcome.Success = true
		if output == nil {
			output = schema.Output{}
		}
		outcome.Result = output
	}
	return outcome
}

// emitOutcome serializes the outcome to out, replacing oversized results
// with a failure so stdout stays bounded.
func emitOutcome(out io.Writer, outcome schema.StepOutcome, cfg Config) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		raw, _ = json.Marshal(schema.FailureOutcome(fmt.Sprintf("marshal outcome: %v", err)))
	}
	if cfg.ResultMaxBytes > 0 && len(raw) > cfg.ResultMaxBytes {
		capped := schema.FailureOutcome(fmt.Sprintf(
			"result size %d exceeds limit of %d bytes", len(raw), cfg.ResultMaxBytes))
		capped.Logs = nil
		raw, _ = json.Marshal(capped)
	}
	if _, err := out.Write(raw); err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	return nil
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
