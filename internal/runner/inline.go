package runner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// Compile-time interface check.
var _ Runner = (*InlineRunner)(nil)

// InlineRunner executes jobs on goroutines inside the engine process. Panics
// and job-reported errors become failed outcomes; a context deadline turns
// into a timeout outcome while the job goroutine is left to finish on its
// own, since Go offers no way to kill it.
type InlineRunner struct {
	logger *slog.Logger
}

// NewInlineRunner creates an in-process runner.
func NewInlineRunner(logger *slog.Logger) *InlineRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineRunner{logger: logger}
}

// Name identifies the runner in logs.
func (r *InlineRunner) Name() string { return "inline" }

// Run executes every request concurrently and collects the outcomes.
func (r *InlineRunner) Run(ctx context.Context, batch []Request, view schema.ContextView) map[string]schema.StepOutcome {
	outcomes := make(map[string]schema.StepOutcome, len(batch))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, req := range batch {
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			out := r.runOne(ctx, req, view)
			mu.Lock()
			outcomes[req.StepID] = out
			mu.Unlock()
		}(req)
	}
	wg.Wait()
	return outcomes
}

func (r *InlineRunner) runOne(ctx context.Context, req Request, view schema.ContextView) schema.StepOutcome {
	if req.Job == nil {
		// Placeholder steps run as no-ops with an empty result.
		return schema.StepOutcome{Success: true, Result: schema.Output{}}
	}

	stepView := view
	stepView.StepID = req.StepID

	// Clear any logs and errors left over from a previous attempt.
	if resetter, ok := req.Job.(interface{ Reset() }); ok {
		resetter.Reset()
	}

	done := make(chan schema.StepOutcome, 1)
	memBefore := heapAlloc()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("job panic recovered",
					"step_id", req.StepID, "panic", rec)
				msg := fmt.Sprintf("job panicked: %v", rec)
				out := schema.FailureOutcome(msg)
				out.Logs = req.Job.Logs()
				done <- out
			}
		}()
		output, err := req.Job.Run(ctx, req.Inputs, stepView)
		done <- r.outcomeFromRun(req, output, err, memBefore)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		msg := "step execution timed out"
		if ctx.Err() == context.Canceled {
			msg = "step execution canceled"
		}
		out := schema.FailureOutcome(msg)
		out.Logs = req.Job.Logs()
		return out
	}
}

func (r *InlineRunner) outcomeFromRun(req Request, output schema.Output, err error, memBefore uint64) schema.StepOutcome {
	memAfter := heapAlloc()
	out := schema.StepOutcome{
		Logs:       req.Job.Logs(),
		Errors:     req.Job.Errors(),
		PeakMemory: max(memBefore, memAfter),
	}
	if memAfter > memBefore {
		out.MemoryUsed = memAfter - memBefore
	}

	if err != nil {
		out.Error = err.Error()
		out.Errors = append(out.Errors, err.Error())
		return out
	}
	if len(out.Errors) > 0 {
		out.Error = out.Errors[0]
		return out
	}

	out.Success = true
	if output == nil {
		output = schema.Output{}
	}
	out.Result = output
	return out
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
