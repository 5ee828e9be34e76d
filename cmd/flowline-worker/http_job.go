package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowline-dev/flowline/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 << 20
	defaultHTTPTimeout     = 30 * time.Second
)

// httpJob performs one HTTP request. Method, url, headers and body come
// from the resolved step inputs; timeout and response cap from spec data.
type httpJob struct {
	schema.Recorder
	id      string
	timeout time.Duration
	maxBody int64
	client  *http.Client
}

func newHTTPJob(spec schema.JobSpec) (schema.Job, error) {
	j := &httpJob{id: spec.ID, timeout: defaultHTTPTimeout, maxBody: defaultMaxResponseBody}
	if v, ok := spec.Data["timeout"].(string); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse timeout: %s", err.Error()).WithCause(err)
		}
		j.timeout = d
	}
	if v, ok := spec.Data["max_response_body"].(float64); ok && v > 0 {
		j.maxBody = int64(v)
	}
	j.client = &http.Client{Timeout: j.timeout}
	return j, nil
}

func (j *httpJob) ID() string          { return j.id }
func (j *httpJob) Name() string        { return "http" }
func (j *httpJob) Description() string { return "performs an HTTP request and decodes the response" }

func (j *httpJob) ValidateInputs(inputs map[string]any) error {
	url, _ := inputs["url"].(string)
	if url == "" {
		return schema.NewError(schema.ErrCodeValidation, "http job requires a \"url\" input")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return schema.NewErrorf(schema.ErrCodeValidation, "unsupported url scheme in %q", url)
	}
	return nil
}

func (j *httpJob) Run(ctx context.Context, inputs map[string]any, _ schema.ContextView) (schema.Output, error) {
	url, _ := inputs["url"].(string)
	method, _ := inputs["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if raw, ok := inputs["body"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := inputs["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, isStr := v.(string); isStr {
				req.Header.Set(k, s)
			}
		}
	}

	start := time.Now()
	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, j.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	out := schema.Output{
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"duration_ms":  time.Since(start).Milliseconds(),
	}
	var decoded any
	if json.Unmarshal(raw, &decoded) == nil {
		out["body"] = decoded
	} else {
		out["body"] = string(raw)
	}
	if resp.StatusCode >= 400 {
		j.Error(fmt.Sprintf("http status %d from %s", resp.StatusCode, url))
	}
	return out, nil
}

func (j *httpJob) ToSpec() schema.JobSpec {
	data := map[string]any{}
	if j.timeout != defaultHTTPTimeout {
		data["timeout"] = j.timeout.String()
	}
	if j.maxBody != defaultMaxResponseBody {
		data["max_response_body"] = float64(j.maxBody)
	}
	return schema.JobSpec{Class: "http", ID: j.id, Data: data}
}
