package routing

import (
	"context"

	"github.com/itchyny/gojq"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// GoJQEngine evaluates jq programs against step outputs for dependency
// references. Safe for concurrent use.
type GoJQEngine struct {
	programs programCache[*gojq.Code]
}

// NewGoJQEngine returns an engine with an empty program cache.
func NewGoJQEngine() *GoJQEngine { return &GoJQEngine{} }

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs the program with the data map as its input document. Go
// integers are coerced to float64 first, the only numeric type jq knows.
// A program emitting one value returns it directly; several values come
// back as a []any, none as nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, src string, data map[string]any) (any, error) {
	if src == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq program is empty")
	}

	code, err := e.programs.lookup(src, func() (*gojq.Code, error) { return compileJQ(src) })
	if err != nil {
		return nil, err
	}

	input, _ := toJQValue(data).(map[string]any)
	if input == nil {
		input = map[string]any{}
	}

	var out []any
	iter := code.RunWithContext(ctx, input)
	for v, ok := iter.Next(); ok; v, ok = iter.Next() {
		if rerr, failed := v.(error); failed {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"run jq program %q: %s", src, rerr.Error()).
				WithCause(rerr).
				WithDetails(map[string]any{"expression": src})
		}
		out = append(out, v)
	}

	if len(out) == 1 {
		return out[0], nil
	}
	if out == nil {
		return nil, nil
	}
	return out, nil
}

func compileJQ(src string) (*gojq.Code, error) {
	query, err := gojq.Parse(src)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"parse jq program %q: %s", src, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": src})
	}

	// $ENV and env are cut off from the host environment.
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"compile jq program %q: %s", src, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": src})
	}
	return code, nil
}

// toJQValue rewrites Go integers into float64 so comparisons inside jq
// behave like jq numbers.
func toJQValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = toJQValue(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = toJQValue(elem)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
