package flowline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// taskJob is the test job used across the builder and acceptance tests.
type taskJob struct {
	schema.Recorder
	id  string
	run func(ctx context.Context, inputs map[string]any, view schema.ContextView) (schema.Output, error)

	mu    sync.Mutex
	calls int
}

func newTask(id string, run func(ctx context.Context, inputs map[string]any, view schema.ContextView) (schema.Output, error)) *taskJob {
	return &taskJob{id: id, run: run}
}

func (j *taskJob) ID() string          { return j.id }
func (j *taskJob) Name() string        { return j.id }
func (j *taskJob) Description() string { return "" }

func (j *taskJob) Run(ctx context.Context, inputs map[string]any, view schema.ContextView) (schema.Output, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	if j.run == nil {
		return schema.Output{}, nil
	}
	return j.run(ctx, inputs, view)
}

func (j *taskJob) Calls() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

func constJob(id string, out schema.Output) *taskJob {
	return newTask(id, func(context.Context, map[string]any, schema.ContextView) (schema.Output, error) {
		return out, nil
	})
}

func TestLinearChainPassesOutputs(t *testing.T) {
	fetch := constJob("fetch", schema.Output{"items": []any{1.0, 2.0, 3.0}})
	sum := newTask("sum", func(_ context.Context, inputs map[string]any, _ schema.ContextView) (schema.Output, error) {
		items, _ := inputs["items"].([]any)
		total := 0.0
		for _, it := range items {
			total += it.(float64)
		}
		return schema.Output{"total": total}, nil
	})

	results, err := New("linear").
		AddStep("fetch", fetch, nil).
		AddStep("sum", sum, Inputs(In("items", Dep("fetch", "items")))).
		Connect("fetch", "sum").
		Execute(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, 6.0, results["sum"]["total"])
	assert.Equal(t, []any{1.0, 2.0, 3.0}, results["fetch"]["items"])
}

func TestParallelFanOutAndJoin(t *testing.T) {
	var mu sync.Mutex
	var order []string
	mark := func(id string) *taskJob {
		return newTask(id, func(_ context.Context, _ map[string]any, _ schema.ContextView) (schema.Output, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return schema.Output{"id": id}, nil
		})
	}

	results, err := New("fanout").
		AddStep("a", mark("a"), nil).
		AddStep("b", mark("b"), nil).
		AddStep("c", mark("c"), nil).
		AddStep("d", mark("d"), nil).
		Connect("a", "d").
		Connect("b", "d").
		Connect("c", "d").
		SetMaxParallelism(3).
		Execute(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 4)
	// d must observe a, b and c already done.
	require.Len(t, order, 4)
	assert.Equal(t, "d", order[3])
}

func TestRetryWithBackoffSucceedsOnThirdAttempt(t *testing.T) {
	attempts := 0
	flaky := newTask("flaky", func(_ context.Context, _ map[string]any, _ schema.ContextView) (schema.Output, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return schema.Output{"ok": true}, nil
	})

	wf := New("retry").
		AddStep("flaky", flaky, nil).
		WithRetry(NewRetryPolicy(3, 0.01, 2, 1))
	results, err := wf.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, true, results["flaky"]["ok"])

	snap := wf.Snapshot()
	exec := snap.ExecutedJobs["flaky"]
	assert.Equal(t, schema.StepStatusSuccess, exec.Status)
	assert.Equal(t, 3, exec.Attempts)
	require.GreaterOrEqual(t, len(exec.Logs), 2)
	assert.Contains(t, exec.Logs[0], "[Error] Attempt 1 failed: transient")
}

func TestStopOnFailAbortsWorkflow(t *testing.T) {
	boom := newTask("boom", func(context.Context, map[string]any, schema.ContextView) (schema.Output, error) {
		return nil, errors.New("broken")
	})
	never := constJob("never", schema.Output{"ran": true})

	// Aborting on a final step failure is the default.
	wf := New("strict").
		AddStep("boom", boom, nil).
		AddStep("never", never, nil).
		Connect("boom", "never")
	results, err := wf.Execute(context.Background())
	require.Error(t, err)
	assert.Empty(t, results)

	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "boom", ferr.StepID)

	snap := wf.Snapshot()
	assert.Equal(t, schema.WorkflowStatusFail, snap.Status)
	assert.Equal(t, schema.StepStatusFail, snap.ExecutedJobs["boom"].Status)
	assert.Equal(t, schema.StepStatusPending, snap.ExecutedJobs["never"].Status)
	assert.Zero(t, never.Calls())
}

func TestAllowFailContinuesWorkflow(t *testing.T) {
	boom := newTask("boom", func(context.Context, map[string]any, schema.ContextView) (schema.Output, error) {
		return nil, errors.New("broken")
	})
	ok := constJob("ok", schema.Output{"ran": true})

	wf := New("tolerant").
		AddStep("boom", boom, nil).AllowFail().
		AddStep("ok", ok, nil)
	results, err := wf.Execute(context.Background())
	require.NoError(t, err)

	assert.Contains(t, results, "ok")
	assert.NotContains(t, results, "boom")

	snap := wf.Snapshot()
	assert.Equal(t, schema.WorkflowStatusSuccess, snap.Status)
	assert.Equal(t, schema.StepStatusFail, snap.ExecutedJobs["boom"].Status)
}

func TestDeciderRoutesByScore(t *testing.T) {
	classify := constJob("classify", schema.Output{"score": 0.9})
	high := constJob("high", schema.Output{"tier": "high"})
	low := constJob("low", schema.Output{"tier": "low"})

	wf := New("routed").
		AddStep("classify", classify, nil).
		Route("score", OpGe, 0.8, "high").Else("low").
		AddStep("high", high, nil).
		AddStep("low", low, nil).
		Connect("classify", "high").
		Connect("classify", "low")
	results, err := wf.Execute(context.Background())
	require.NoError(t, err)

	assert.Contains(t, results, "high")
	assert.NotContains(t, results, "low")

	snap := wf.Snapshot()
	assert.Equal(t, schema.StepStatusPending, snap.ExecutedJobs["low"].Status)
	assert.Zero(t, low.Calls())
}

func TestDeciderNoMatchKeepsStaticEdges(t *testing.T) {
	classify := constJob("classify", schema.Output{"score": 0.5})
	high := constJob("high", schema.Output{"tier": "high"})
	low := constJob("low", schema.Output{"tier": "low"})

	results, err := New("unrouted").
		AddStep("classify", classify, nil).
		Route("score", OpGe, 0.8, "high").EndRoute().
		AddStep("high", high, nil).
		AddStep("low", low, nil).
		Connect("classify", "high").
		Connect("classify", "low").
		Execute(context.Background())
	require.NoError(t, err)

	// No branch matched and no fallback was set: both static edges survive.
	assert.Contains(t, results, "high")
	assert.Contains(t, results, "low")
}

func TestTimeoutThenRecovery(t *testing.T) {
	attempts := 0
	slowThenFast := newTask("slow", func(ctx context.Context, _ map[string]any, _ schema.ContextView) (schema.Output, error) {
		attempts++
		if attempts == 1 {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return schema.Output{"done": true}, nil
	})

	wf := New("timeout").
		AddStep("slow", slowThenFast, nil).
		WithTimeout(100 * time.Millisecond).
		WithRetry(NewRetryPolicy(2, 0.01, 1, 1))
	results, err := wf.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, true, results["slow"]["done"])

	exec := wf.Snapshot().ExecutedJobs["slow"]
	assert.Equal(t, schema.StepStatusSuccess, exec.Status)
	assert.Equal(t, 2, exec.Attempts)
}

func TestBuilderErrorSurfacesAtExecute(t *testing.T) {
	_, err := New("bad").
		AddStep("a", constJob("a", nil), nil).
		AddStep("a", constJob("a", nil), nil).
		Execute(context.Background())
	require.Error(t, err)

	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeConflict, ferr.Code)
}

func TestModifierWithoutStepFails(t *testing.T) {
	_, err := New("empty").
		WithTimeout(time.Second).
		Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no step added yet")
}

func TestGlobalsReachSteps(t *testing.T) {
	echo := newTask("echo", func(_ context.Context, inputs map[string]any, _ schema.ContextView) (schema.Output, error) {
		return schema.Output{"region": inputs["region"]}, nil
	})

	results, err := New("globals").
		SetGlobals(map[string]any{"region": "eu"}).
		AddStep("echo", echo, nil).
		Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eu", results["echo"]["region"])
}

func TestTrackerReceivesSnapshots(t *testing.T) {
	var mu sync.Mutex
	var statuses []schema.WorkflowStatus
	track := TrackerFunc(func(_ context.Context, _ string, snap *schema.Snapshot) {
		mu.Lock()
		statuses = append(statuses, snap.Status)
		mu.Unlock()
	})

	_, err := New("tracked").
		AddStep("a", constJob("a", schema.Output{"v": 1}), nil).
		SetTracker(track).
		Execute(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, statuses)
	assert.Equal(t, schema.WorkflowStatusRunning, statuses[0])
	assert.Equal(t, schema.WorkflowStatusSuccess, statuses[len(statuses)-1])
}

func TestSummaryCallbackGetsFinalSnapshot(t *testing.T) {
	var got *schema.Snapshot
	cb := func(_ context.Context, snap *schema.Snapshot) error {
		got = snap
		return nil
	}

	_, err := New("summarized").
		AddStep("a", constJob("a", schema.Output{"v": 1}), nil).
		SetSummaryCallback(cb).
		Execute(context.Background())
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, schema.WorkflowStatusSuccess, got.Status)
	assert.Contains(t, got.Results, "a")
}

func TestSummaryCallbackErrorDoesNotFailRun(t *testing.T) {
	cb := func(context.Context, *schema.Snapshot) error { return errors.New("sink down") }

	results, err := New("tolerant-summary").
		AddStep("a", constJob("a", schema.Output{"v": 1}), nil).
		SetSummaryCallback(cb).
		Execute(context.Background())
	require.NoError(t, err)
	assert.Contains(t, results, "a")
}

func TestMermaidRendersGraph(t *testing.T) {
	wf := New("viz").
		AddStep("a", constJob("a", nil), nil).
		AddStep("b", constJob("b", nil), nil).
		Connect("a", "b")

	out := wf.Mermaid()
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "a --> b")

	dot := wf.DOT()
	assert.Contains(t, dot, `"a" -> "b";`)
}

func TestRoutingCallbackOverridesEdges(t *testing.T) {
	pick := constJob("pick", schema.Output{"choice": "b"})
	a := constJob("a", schema.Output{})
	b := constJob("b", schema.Output{})

	results, err := New("callback-routed").
		AddStep("pick", pick, nil).
		OnOutput(func(output schema.Output) ([]string, error) {
			return []string{output["choice"].(string)}, nil
		}).
		AddStep("a", a, nil).
		AddStep("b", b, nil).
		Connect("pick", "a").
		Connect("pick", "b").
		Execute(context.Background())
	require.NoError(t, err)

	assert.Contains(t, results, "b")
	assert.NotContains(t, results, "a")
}
