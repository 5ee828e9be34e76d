package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowTransitions(t *testing.T) {
	assert.True(t, CanTransitionWorkflow(WorkflowStatusPending, WorkflowStatusRunning))
	assert.True(t, CanTransitionWorkflow(WorkflowStatusRunning, WorkflowStatusSuccess))
	assert.True(t, CanTransitionWorkflow(WorkflowStatusRunning, WorkflowStatusFail))

	assert.False(t, CanTransitionWorkflow(WorkflowStatusPending, WorkflowStatusSuccess))
	assert.False(t, CanTransitionWorkflow(WorkflowStatusSuccess, WorkflowStatusRunning))
	assert.False(t, CanTransitionWorkflow(WorkflowStatusFail, WorkflowStatusRunning))
}

func TestStepTransitions(t *testing.T) {
	assert.True(t, CanTransitionStep(StepStatusPending, StepStatusRunning))
	assert.True(t, CanTransitionStep(StepStatusPending, StepStatusSkipped))
	assert.True(t, CanTransitionStep(StepStatusRunning, StepStatusSuccess))
	assert.True(t, CanTransitionStep(StepStatusRunning, StepStatusFail))

	assert.False(t, CanTransitionStep(StepStatusRunning, StepStatusSkipped))
	assert.False(t, CanTransitionStep(StepStatusSuccess, StepStatusRunning))
	assert.False(t, CanTransitionStep(StepStatusSkipped, StepStatusRunning))
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminalStep(StepStatusSuccess))
	assert.True(t, IsTerminalStep(StepStatusFail))
	assert.True(t, IsTerminalStep(StepStatusSkipped))
	assert.False(t, IsTerminalStep(StepStatusRunning))

	assert.True(t, IsTerminalWorkflow(WorkflowStatusFail))
	assert.False(t, IsTerminalWorkflow(WorkflowStatusRunning))
}
