package routing

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// CELEngine evaluates Common Expression Language conditions. The environment
// exposes a single top-level variable:
//   - output: map(string, dyn), the producing step's output map
//
// so a condition reads like "output.score >= 0.8". Safe for concurrent use.
type CELEngine struct {
	env      *cel.Env
	programs programCache[cel.Program]
}

// NewCELEngine creates an engine with a sandboxed environment.
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string { return "cel" }

// Evaluate runs the condition with the data map bound to "output". Each
// distinct condition is compiled once and reused for the life of the engine.
func (e *CELEngine) Evaluate(_ context.Context, src string, data map[string]any) (any, error) {
	if src == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "CEL condition is empty")
	}

	prg, err := e.programs.lookup(src, func() (cel.Program, error) { return e.compile(src) })
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{"output": data})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"evaluate CEL condition %q: %s", src, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": src})
	}
	return out.Value(), nil
}

func (e *CELEngine) compile(src string) (cel.Program, error) {
	ast, issues := e.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"compile CEL condition %q: %s", src, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": src})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"build CEL program for %q: %s", src, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": src})
	}
	return prg, nil
}

var _ Engine = (*CELEngine)(nil)
