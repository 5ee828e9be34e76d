package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/internal/runner"
	"github.com/flowline-dev/flowline/pkg/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writePayload(t *testing.T, payload schema.WorkerPayload) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func encodeSpec(t *testing.T, spec schema.JobSpec) string {
	t.Helper()
	encoded, err := spec.Encode()
	require.NoError(t, err)
	return encoded
}

func runPayload(t *testing.T, payload schema.WorkerPayload, cfg Config) (schema.StepOutcome, error) {
	t.Helper()
	reg := runner.NewRegistry()
	registerBuiltins(reg)

	var out bytes.Buffer
	err := runWorker(context.Background(), writePayload(t, payload), reg, cfg, &out, testLogger())
	if err != nil {
		return schema.StepOutcome{}, err
	}
	var outcome schema.StepOutcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &outcome))
	return outcome, nil
}

func TestWorkerRunsTransformJob(t *testing.T) {
	spec := schema.JobSpec{
		Class: "transform",
		ID:    "shape",
		Data:  map[string]any{"program": `{total: (.a + .b)}`},
	}
	outcome, err := runPayload(t, schema.WorkerPayload{
		StepID:     "shape",
		Job:        encodeSpec(t, spec),
		Inputs:     map[string]any{"a": 2.0, "b": 3.0},
		WorkflowID: "wf-1",
	}, defaultConfig())
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, 5.0, outcome.Result["total"])
}

func TestWorkerRunsNoopJob(t *testing.T) {
	outcome, err := runPayload(t, schema.WorkerPayload{
		StepID: "join",
		Job:    encodeSpec(t, schema.JobSpec{Class: "noop", ID: "join"}),
	}, defaultConfig())
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Empty(t, outcome.Result)
}

func TestWorkerUnknownClassEmitsFailureOutcome(t *testing.T) {
	outcome, err := runPayload(t, schema.WorkerPayload{
		StepID: "x",
		Job:    encodeSpec(t, schema.JobSpec{Class: "missing", ID: "x"}),
	}, defaultConfig())
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "missing")
}

func TestWorkerMalformedPayloadErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	reg := runner.NewRegistry()
	var out bytes.Buffer
	err := runWorker(context.Background(), path, reg, defaultConfig(), &out, testLogger())
	require.Error(t, err)
	assert.Zero(t, out.Len())
}

func TestWorkerMissingPayloadFileErrors(t *testing.T) {
	reg := runner.NewRegistry()
	var out bytes.Buffer
	err := runWorker(context.Background(), "/nonexistent/payload.json", reg, defaultConfig(), &out, testLogger())
	require.Error(t, err)
}

func TestWorkerEmptyStepIDErrors(t *testing.T) {
	_, err := runPayload(t, schema.WorkerPayload{Job: "e30="}, defaultConfig())
	require.Error(t, err)
}

func TestWorkerCapsOversizedResult(t *testing.T) {
	spec := schema.JobSpec{
		Class: "transform",
		ID:    "big",
		Data:  map[string]any{"program": `{blob: (.seed * 100)}`},
	}
	cfg := defaultConfig()
	cfg.ResultMaxBytes = 128

	outcome, err := runPayload(t, schema.WorkerPayload{
		StepID: "big",
		Job:    encodeSpec(t, spec),
		Inputs: map[string]any{"seed": "0123456789"},
	}, cfg)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "exceeds limit")
}

func TestWorkerInvalidProgramEmitsFailure(t *testing.T) {
	spec := schema.JobSpec{
		Class: "transform",
		ID:    "bad",
		Data:  map[string]any{"program": `{{{`},
	}
	outcome, err := runPayload(t, schema.WorkerPayload{
		StepID: "bad",
		Job:    encodeSpec(t, spec),
	}, defaultConfig())
	require.NoError(t, err)

	assert.False(t, outcome.Success)
}

func TestExecuteJobRecoversPanic(t *testing.T) {
	job := &panicJob{}
	outcome := executeJob(context.Background(), job, nil, schema.ContextView{})
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "job panicked")
}

type panicJob struct{ schema.Recorder }

func (*panicJob) ID() string          { return "panic" }
func (*panicJob) Name() string        { return "panic" }
func (*panicJob) Description() string { return "" }
func (*panicJob) Run(context.Context, map[string]any, schema.ContextView) (schema.Output, error) {
	panic("kaboom")
}

func TestConfigLayering(t *testing.T) {
	t.Setenv("FLOWLINE_LOG_LEVEL", "debug")
	t.Setenv("FLOWLINE_RESULT_MAX_BYTES", "2048")

	cfg := loadConfig()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2048, cfg.ResultMaxBytes)
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv("FLOWLINE_LOG_LEVEL", "")
	t.Setenv("FLOWLINE_RESULT_MAX_BYTES", "")

	cfg := defaultConfig()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1<<20, cfg.ResultMaxBytes)
}
