package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprEngineEvaluate(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "len(items) > 2", map[string]any{
		"items": []any{1, 2, 3},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	// Cached second evaluation.
	out, err = e.Evaluate(context.Background(), "len(items) > 2", map[string]any{
		"items": []any{1},
	})
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

func TestExprEngineUndefinedVariable(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "missing == nil", map[string]any{"present": 1})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprEngineEmptyExpression(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestProgramCacheCompilesOnce(t *testing.T) {
	var cache programCache[int]
	calls := 0
	for range 3 {
		v, err := cache.lookup("x", func() (int, error) {
			calls++
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, calls)
}

func TestCELEngineEvaluate(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "output.score >= 0.8", map[string]any{"score": 0.9})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngineCompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "output.score >=", map[string]any{"score": 1})
	require.Error(t, err)
}

func TestGoJQEngineEvaluate(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".items | length", map[string]any{
		"items": []any{1, 2, 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestGoJQEngineNormalizesIntegers(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".items | add", map[string]any{
		"items": []any{1, 2, 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 6.0, out)
}

func TestGoJQEngineMultipleOutputs(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), ".items[]", map[string]any{
		"items": []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestGoJQEngineParseError(t *testing.T) {
	e := NewGoJQEngine()
	_, err := e.Evaluate(context.Background(), ".items |", nil)
	require.Error(t, err)
}
