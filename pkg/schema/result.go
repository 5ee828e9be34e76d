package schema

import "time"

// JobResultStatus is the status of a single execution attempt record.
type JobResultStatus string

const (
	JobResultPending JobResultStatus = "PENDING"
	JobResultSuccess JobResultStatus = "SUCCESS"
	JobResultFailed  JobResultStatus = "FAILED"
)

// JobResult records one step execution attempt.
type JobResult struct {
	StepID        string          `json:"step_id"`
	JobName       string          `json:"job_name"`
	AttemptNumber int             `json:"attempt_number"`
	Status        JobResultStatus `json:"status"`
	Output        Output          `json:"output,omitempty"`
	Errors        []string        `json:"errors,omitempty"`
	Logs          []string        `json:"logs,omitempty"`
	Input         map[string]any  `json:"input,omitempty"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time,omitempty"`
	Duration      time.Duration   `json:"duration"`
}

// NewJobResult starts a PENDING attempt record with StartTime set to now.
func NewJobResult(stepID, jobName string, attempt int, input map[string]any) *JobResult {
	return &JobResult{
		StepID:        stepID,
		JobName:       jobName,
		AttemptNumber: attempt,
		Status:        JobResultPending,
		Input:         input,
		StartTime:     time.Now(),
	}
}

// AddError appends an error string to the record.
func (r *JobResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// AddLog appends a log line to the record.
func (r *JobResult) AddLog(line string) {
	r.Logs = append(r.Logs, line)
}

// Finish closes the record: sets EndTime and Duration, stores the output
// (wrapping non-mapping values as {"result": v}) and derives the status from
// the accumulated errors.
func (r *JobResult) Finish(output any) {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)

	switch v := output.(type) {
	case nil:
		r.Output = nil
	case Output:
		r.Output = v
	default:
		r.Output = Output{"result": v}
	}

	if len(r.Errors) == 0 {
		r.Status = JobResultSuccess
	} else {
		r.Status = JobResultFailed
	}
}
