package engine

import (
	"time"

	"github.com/flowline-dev/flowline/internal/routing"
	"github.com/flowline-dev/flowline/pkg/schema"
)

// RoutingCallback decides the next steps after a successful run. A nil slice
// keeps the step's static edges; a non-nil slice (possibly empty) replaces
// them.
type RoutingCallback func(output schema.Output) ([]string, error)

// StepDefinition is one node of the workflow graph.
type StepDefinition struct {
	ID         string
	Job        schema.Job
	Inputs     schema.InputSpec
	Retry      *schema.RetryPolicy
	Timeout    time.Duration
	StopOnFail bool
	Outgoing   []string
	Decider    *routing.Decider
	Routing    RoutingCallback

	// Placeholder marks a step created implicitly by Connect before its
	// definition arrived. Placeholders without a job run as no-ops.
	Placeholder bool
}

// JobName reports the name used for the step's job: the declared job name
// when present, the step id otherwise.
func (s *StepDefinition) JobName() string {
	if s.Job != nil {
		if name := s.Job.Name(); name != "" {
			return name
		}
	}
	return s.ID
}

// JobDescription reports the declared job description, if any.
func (s *StepDefinition) JobDescription() string {
	if s.Job != nil {
		return s.Job.Description()
	}
	return ""
}

// ExecutionRecord tracks one step's execution within a single run.
type ExecutionRecord struct {
	Status        schema.StepStatus
	Attempts      int
	StartedAt     time.Time
	EndedAt       time.Time
	ExecutionTime float64
	MemoryUsed    uint64
	PeakMemory    uint64
	Inputs        map[string]any
	Output        schema.Output
	Errors        []string
	Logs          []string
	SkipReason    string
}
