package schema

import "time"

// Snapshot is the wire format streamed to trackers and handed to the summary
// callback. Timestamps are unix epoch seconds with fractional precision.
type Snapshot struct {
	WorkflowID   string                       `json:"workflow_id"`
	Name         string                       `json:"name"`
	Description  *string                      `json:"description"`
	Status       WorkflowStatus               `json:"status"`
	StartedAt    *float64                     `json:"started_at"`
	CompletedAt  *float64                     `json:"completed_at"`
	Globals      map[string]any               `json:"globals"`
	Performance  WorkflowPerformance          `json:"performance"`
	Steps        []StepSnapshot               `json:"steps"`
	Results      map[string]Output            `json:"results"`
	ExecutedJobs map[string]ExecutionSnapshot `json:"executed_jobs"`
}

// WorkflowPerformance summarizes memory and timing for the whole run.
type WorkflowPerformance struct {
	StartMemory   uint64  `json:"start_memory"`
	PeakMemory    uint64  `json:"peak_memory"`
	MemoryUsed    uint64  `json:"memory_used"`
	ExecutionTime float64 `json:"execution_time"`
}

// StepSnapshot is the declarative view of one step definition.
type StepSnapshot struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Inputs      map[string]any `json:"inputs"`
	Retry       *RetrySnapshot `json:"retry"`
	Timeout     *float64       `json:"timeout"`
	StopOnFail  bool           `json:"stop_on_fail"`
	Connections []string       `json:"connections"`
}

// RetrySnapshot is the wire form of a step's retry policy.
type RetrySnapshot struct {
	MaxAttempts int     `json:"max_attempts"`
	BaseDelay   float64 `json:"base_delay"`
	Multiplier  float64 `json:"multiplier"`
}

// ExecutionSnapshot is the wire form of one step's execution record.
type ExecutionSnapshot struct {
	Status      StepStatus       `json:"status"`
	StartedAt   *float64         `json:"started_at"`
	CompletedAt *float64         `json:"completed_at"`
	Inputs      map[string]any   `json:"inputs"`
	Outputs     Output           `json:"outputs"`
	Logs        []string         `json:"logs"`
	Errors      []string         `json:"errors"`
	SkipReason  string           `json:"skip_reason,omitempty"`
	Attempts    int              `json:"attempts"`
	Performance StepPerformance  `json:"performance"`
}

// StepPerformance summarizes memory and timing for one step.
type StepPerformance struct {
	ExecutionTime float64 `json:"execution_time"`
	MemoryUsed    uint64  `json:"memory_used"`
	PeakMemory    uint64  `json:"peak_memory"`
}

// UnixSeconds converts a time to fractional epoch seconds for the wire
// format. Returns nil for the zero time.
func UnixSeconds(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	s := float64(t.UnixNano()) / float64(time.Second)
	return &s
}
