package routing

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Comparison operators supported by declarative conditions.
const (
	OpEq          = "=="
	OpNe          = "!="
	OpStrictEq    = "==="
	OpStrictNe    = "!=="
	OpLt          = "<"
	OpLe          = "<="
	OpGt          = ">"
	OpGe          = ">="
	OpIn          = "in"
	OpContains    = "contains"
)

// Condition is one routing rule. Either the declarative triple
// (Key, Op, Expected) or the Predicate is set, never both.
type Condition struct {
	Key      string
	Op       string
	Expected any
	Target   string

	Predicate func(ctx context.Context, output map[string]any) (bool, error)
	// Label describes predicate conditions in snapshots and logs, e.g. the
	// source expression.
	Label string
}

// Decider is an ordered list of conditions evaluated against a step's output
// map. The first matching condition wins; when none matches the default
// target is used, and with no default the step keeps its static edges.
//
// Evaluation never panics and never returns an error: a condition whose
// operator is unknown, whose predicate fails, or whose operands cannot be
// compared simply does not match.
type Decider struct {
	conditions    []Condition
	defaultTarget string
	hasDefault    bool
}

// NewDecider creates an empty Decider.
func NewDecider() *Decider {
	return &Decider{}
}

// When appends a declarative condition on an output key.
func (d *Decider) When(key, op string, expected any, target string) *Decider {
	d.conditions = append(d.conditions, Condition{Key: key, Op: op, Expected: expected, Target: target})
	return d
}

// WhenExpr appends a condition backed by an expr-lang expression evaluated
// with the output keys as top-level variables. The expression must yield a
// boolean; anything else does not match.
func (d *Decider) WhenExpr(expression, target string) *Decider {
	engine := sharedExprEngine()
	d.conditions = append(d.conditions, Condition{
		Target: target,
		Label:  "expr:" + expression,
		Predicate: func(ctx context.Context, output map[string]any) (bool, error) {
			out, err := engine.Evaluate(ctx, expression, output)
			if err != nil {
				return false, err
			}
			b, ok := out.(bool)
			return ok && b, nil
		},
	})
	return d
}

// WhenCEL appends a condition backed by a CEL expression with the output map
// bound to the "output" variable. The expression must yield a boolean;
// anything else does not match.
func (d *Decider) WhenCEL(expression, target string) *Decider {
	d.conditions = append(d.conditions, Condition{
		Target: target,
		Label:  "cel:" + expression,
		Predicate: func(ctx context.Context, output map[string]any) (bool, error) {
			engine, err := sharedCELEngine()
			if err != nil {
				return false, err
			}
			out, err := engine.Evaluate(ctx, expression, output)
			if err != nil {
				return false, err
			}
			b, ok := out.(bool)
			return ok && b, nil
		},
	})
	return d
}

// Default sets the target chosen when no condition matches.
func (d *Decider) Default(target string) *Decider {
	d.defaultTarget = target
	d.hasDefault = true
	return d
}

// Conditions returns the registered conditions for inspection.
func (d *Decider) Conditions() []Condition {
	return d.conditions
}

// Evaluate applies the conditions in order against the output map. It
// returns the chosen target and true, or ("", false) when the step should
// keep its static edges.
func (d *Decider) Evaluate(ctx context.Context, output map[string]any) (string, bool) {
	for _, c := range d.conditions {
		if c.Predicate != nil {
			ok, err := c.Predicate(ctx, output)
			if err == nil && ok {
				return c.Target, true
			}
			continue
		}

		var actual any
		if output != nil {
			actual = output[c.Key]
		}
		if evalOp(c.Op, actual, c.Expected) {
			return c.Target, true
		}
	}

	if d.hasDefault {
		return d.defaultTarget, true
	}
	return "", false
}

// Route adapts Evaluate to the scheduler's routing contract: a nil slice
// keeps static edges, otherwise the slice replaces the step's outgoing edges.
func (d *Decider) Route(ctx context.Context, output map[string]any) ([]string, bool) {
	target, ok := d.Evaluate(ctx, output)
	if !ok {
		return nil, false
	}
	return []string{target}, true
}

func evalOp(op string, actual, expected any) bool {
	switch op {
	case OpEq:
		return looseEqual(actual, expected)
	case OpNe:
		return !looseEqual(actual, expected)
	case OpStrictEq:
		return strictEqual(actual, expected)
	case OpStrictNe:
		return !strictEqual(actual, expected)
	case OpLt, OpLe, OpGt, OpGe:
		cmp, ok := compare(actual, expected)
		if !ok {
			return false
		}
		switch op {
		case OpLt:
			return cmp < 0
		case OpLe:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case OpIn:
		return memberOf(actual, expected)
	case OpContains:
		s, sok := actual.(string)
		sub, subok := expected.(string)
		return sok && subok && strings.Contains(s, sub)
	default:
		// Unknown operator never matches.
		return false
	}
}

// looseEqual compares with implicit numeric and string coercion.
func looseEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// strictEqual requires matching dynamic types and equal values.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values: numerically when both coerce to numbers,
// lexically when both are strings.
func compare(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

// memberOf reports whether actual is an element of the expected list.
func memberOf(actual, expected any) bool {
	rv := reflect.ValueOf(expected)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if looseEqual(actual, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Shared engines: compiled-program caches are process-wide so every decider
// benefits from prior compilations.
var (
	exprEngineOnce sync.Once
	exprEngine     *ExprEngine

	celEngineOnce sync.Once
	celEngine     *CELEngine
	celEngineErr  error
)

func sharedExprEngine() *ExprEngine {
	exprEngineOnce.Do(func() {
		exprEngine = NewExprEngine()
	})
	return exprEngine
}

func sharedCELEngine() (*CELEngine, error) {
	celEngineOnce.Do(func() {
		celEngine, celEngineErr = NewCELEngine()
	})
	return celEngine, celEngineErr
}

// SharedJQEngine returns the process-wide jq engine used for input
// references.
var (
	jqEngineOnce sync.Once
	jqEngine     *GoJQEngine
)

func SharedJQEngine() *GoJQEngine {
	jqEngineOnce.Do(func() {
		jqEngine = NewGoJQEngine()
	})
	return jqEngine
}
