package runner

import (
	"context"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// Request is one job invocation handed to a runner.
type Request struct {
	StepID string
	Job    schema.Job
	Inputs map[string]any
}

// Runner executes a batch of job invocations and returns one outcome per
// step id. Runners never return errors: every failure mode collapses into a
// failed StepOutcome so the scheduler has a single result path.
type Runner interface {
	// Name identifies the runner in logs.
	Name() string
	// Run executes the batch. The returned map carries exactly one outcome
	// per request, keyed by step id. Cancellation of ctx bounds the whole
	// batch.
	Run(ctx context.Context, batch []Request, view schema.ContextView) map[string]schema.StepOutcome
}
