package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeTimeout, "attempt timed out")
	assert.Equal(t, "[TIMEOUT_ERROR] attempt timed out", err.Error())

	err = err.WithStep("fetch")
	assert.Equal(t, "[TIMEOUT_ERROR] step fetch: attempt timed out", err.Error())
}

func TestFlowErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewErrorf(ErrCodeTrackerFailure, "publish failed: %s", cause.Error()).WithCause(cause)

	assert.True(t, errors.Is(err, cause))

	var fe *FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrCodeTrackerFailure, fe.Code)
}

func TestFlowErrorDetails(t *testing.T) {
	err := NewError(ErrCodeUnknownRoute, "no such step").
		WithDetails(map[string]any{"target": "ghost"})
	assert.Equal(t, "ghost", err.Details["target"])
}
