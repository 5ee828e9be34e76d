package routing

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// ExprEngine evaluates expr-lang conditions. Output keys are bound as
// top-level variables, so a condition reads like "score >= 0.8"; variables
// the output does not carry resolve to nil instead of failing. Safe for
// concurrent use.
type ExprEngine struct {
	programs programCache[*vm.Program]
}

// NewExprEngine returns an engine with an empty program cache.
func NewExprEngine() *ExprEngine { return &ExprEngine{} }

// Name returns the engine identifier.
func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs the condition against the data map. Each distinct condition
// is compiled once and reused for the life of the engine.
func (e *ExprEngine) Evaluate(_ context.Context, src string, data map[string]any) (any, error) {
	if src == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expr condition is empty")
	}

	prog, err := e.programs.lookup(src, func() (*vm.Program, error) {
		p, cerr := expr.Compile(src,
			expr.Env(map[string]any{}),
			expr.AllowUndefinedVariables(),
		)
		if cerr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"compile expr condition %q: %s", src, cerr.Error()).
				WithCause(cerr).
				WithDetails(map[string]any{"expression": src})
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prog, data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"evaluate expr condition %q: %s", src, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": src})
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
