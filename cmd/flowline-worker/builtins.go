package main

import (
	"context"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/flowline-dev/flowline/internal/runner"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// registerBuiltins installs the job classes the stock worker understands.
// Embedders that need custom classes build their own worker binary around
// runWorker with an extended registry.
func registerBuiltins(reg *runner.Registry) {
	reg.Register("noop", func(spec schema.JobSpec) (schema.Job, error) {
		return &noopJob{id: spec.ID}, nil
	})
	reg.Register("transform", newTransformJob)
	reg.Register("http", newHTTPJob)
}

// noopJob succeeds with an empty output. Useful as a join point.
type noopJob struct {
	schema.Recorder
	id string
}

func (j *noopJob) ID() string          { return j.id }
func (j *noopJob) Name() string        { return "noop" }
func (j *noopJob) Description() string { return "succeeds with an empty output" }

func (j *noopJob) Run(context.Context, map[string]any, schema.ContextView) (schema.Output, error) {
	return schema.Output{}, nil
}

func (j *noopJob) ToSpec() schema.JobSpec {
	return schema.JobSpec{Class: "noop", ID: j.id}
}

// transformJob applies a jq program to its resolved inputs and returns the
// resulting object as output. The program lives in spec data under "program".
type transformJob struct {
	schema.Recorder
	id   string
	prog string
	code *gojq.Code
}

func newTransformJob(spec schema.JobSpec) (schema.Job, error) {
	prog, _ := spec.Data["program"].(string)
	if prog == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform job requires a \"program\" string")
	}
	parsed, err := gojq.Parse(prog)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse jq program: %s", err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "compile jq program: %s", err.Error()).WithCause(err)
	}
	return &transformJob{id: spec.ID, prog: prog, code: code}, nil
}

func (j *transformJob) ID() string          { return j.id }
func (j *transformJob) Name() string        { return "transform" }
func (j *transformJob) Description() string { return "applies a jq program to the step inputs" }

func (j *transformJob) Run(ctx context.Context, inputs map[string]any, _ schema.ContextView) (schema.Output, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	iter := j.code.RunWithContext(ctx, map[string]any(inputs))
	v, ok := iter.Next()
	if !ok {
		return schema.Output{}, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("jq evaluation: %w", err)
	}
	if obj, isObj := v.(map[string]any); isObj {
		return obj, nil
	}
	return schema.Output{"value": v}, nil
}

func (j *transformJob) ToSpec() schema.JobSpec {
	return schema.JobSpec{Class: "transform", ID: j.id, Data: map[string]any{"program": j.prog}}
}
