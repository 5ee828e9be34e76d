package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/pkg/schema"
)

func newTestHTTPJob(t *testing.T, data map[string]any) *httpJob {
	t.Helper()
	job, err := newHTTPJob(schema.JobSpec{Class: "http", ID: "fetch", Data: data})
	require.NoError(t, err)
	return job.(*httpJob)
}

func TestHTTPJobGetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[1,2,3]}`))
	}))
	defer srv.Close()

	job := newTestHTTPJob(t, nil)
	out, err := job.Run(context.Background(), map[string]any{"url": srv.URL}, schema.ContextView{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, out["status_code"])
	body := out["body"].(map[string]any)
	assert.Len(t, body["items"], 3)
	assert.Empty(t, job.Errors())
}

func TestHTTPJobPostSendsBody(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		got = string(raw)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	job := newTestHTTPJob(t, nil)
	out, err := job.Run(context.Background(), map[string]any{
		"url":    srv.URL,
		"method": "post",
		"body":   map[string]any{"name": "flow"},
	}, schema.ContextView{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, out["status_code"])
	assert.JSONEq(t, `{"name":"flow"}`, got)
}

func TestHTTPJobErrorStatusReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	job := newTestHTTPJob(t, nil)
	out, err := job.Run(context.Background(), map[string]any{"url": srv.URL}, schema.ContextView{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadGateway, out["status_code"])
	require.Len(t, job.Errors(), 1)
	assert.Contains(t, job.Errors()[0], "502")
}

func TestHTTPJobValidateInputs(t *testing.T) {
	job := newTestHTTPJob(t, nil)
	require.Error(t, job.ValidateInputs(map[string]any{}))
	require.Error(t, job.ValidateInputs(map[string]any{"url": "ftp://host/file"}))
	require.NoError(t, job.ValidateInputs(map[string]any{"url": "https://example.com"}))
}

func TestHTTPJobSpecRoundTrip(t *testing.T) {
	job := newTestHTTPJob(t, map[string]any{"timeout": "5s", "max_response_body": 1024.0})
	spec := job.ToSpec()

	rebuilt, err := newHTTPJob(spec)
	require.NoError(t, err)
	assert.Equal(t, job.timeout, rebuilt.(*httpJob).timeout)
	assert.Equal(t, job.maxBody, rebuilt.(*httpJob).maxBody)
}

func TestHTTPJobBadTimeoutSpec(t *testing.T) {
	_, err := newHTTPJob(schema.JobSpec{Class: "http", ID: "x", Data: map[string]any{"timeout": "soon"}})
	require.Error(t, err)
}
