//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalkit/evalkit/evaluation/batch"
	"github.com/evalkit/evalkit/evaluation/item"
	"github.com/evalkit/evalkit/evaluation/orchestrator"
	"github.com/evalkit/evalkit/evaluation/store/inmemory"
)

type stubLoader struct{}

func (stubLoader) Load(ctx context.Context, path, modelName string) ([]*item.Item, error) {
	return []*item.Item{{Question: "q", Answer: modelName + " answer"}}, nil
}

type stubMetrics struct{}

func (stubMetrics) CalculateBatch(ctx context.Context, req *batch.Request) (*batch.Response, error) {
	results := make([]*batch.ItemResult, len(req.Items))
	for i, it := range req.Items {
		results[i] = &batch.ItemResult{
			ItemID:       it.ItemID,
			Question:     it.Data.Question,
			MetricScores: map[string]float64{"answer_relevancy": 0.7},
			Success:      true,
		}
	}
	return &batch.Response{
		Success: true, Results: results,
		TotalProcessed: len(results), SuccessfulCount: len(results),
	}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	orch, err := orchestrator.New(
		orchestrator.WithStore(inmemory.New()),
		orchestrator.WithLoader(stubLoader{}),
		orchestrator.WithMetricsClient(stubMetrics{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Close(ctx)
	})
	srv, err := New("127.0.0.1:0", orch, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func startProcess(t *testing.T, ts *httptest.Server, user string) string {
	t.Helper()
	body, err := json.Marshal(&orchestrator.Request{
		UserID:      user,
		Models:      []string{"model-a"},
		DatasetPath: "data.yaml",
		MetricNames: []string{"answer_relevancy"},
	})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/v1/evaluations", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["process_id"])
	return out["process_id"]
}

func getStatus(t *testing.T, ts *httptest.Server, id, query string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(ts.URL + "/v1/evaluations/" + id + "/status" + query)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestStartAndStatus(t *testing.T) {
	ts := newTestServer(t)
	id := startProcess(t, ts, "u1")

	// Long-poll until terminal.
	deadline := time.Now().Add(5 * time.Second)
	var state string
	for time.Now().Before(deadline) {
		code, st := getStatus(t, ts, id, "?wait=1")
		require.Equal(t, http.StatusOK, code)
		state, _ = st["overall_state"].(string)
		if state == "Completed" || state == "Failed" || state == "Stopped" {
			break
		}
	}
	assert.Equal(t, "Completed", state)

	// Status stays queryable after the terminal state.
	code, st := getStatus(t, ts, id, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Completed", st["overall_state"])
}

func TestStartInvalidBody(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/v1/evaluations", "application/json",
		bytes.NewReader([]byte(`{"user_id":"u1"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusUnknownProcess(t *testing.T) {
	ts := newTestServer(t)
	code, _ := getStatus(t, ts, "nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStopEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := startProcess(t, ts, "u1")

	resp, err := http.Post(ts.URL+"/v1/evaluations/"+id+"/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Stopping twice stays 200.
	resp, err = http.Post(ts.URL+"/v1/evaluations/"+id+"/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/v1/evaluations/unknown/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProcessResultsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	id := startProcess(t, ts, "u1")
	for {
		code, st := getStatus(t, ts, id, "?wait=1")
		require.Equal(t, http.StatusOK, code)
		if s, _ := st["overall_state"].(string); s == "Completed" {
			break
		}
	}

	resp, err := http.Get(ts.URL + "/v1/evaluations/" + id + "/results")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Results []json.RawMessage `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Len(t, out.Results, 1)

	resp, err = http.Get(ts.URL + "/v1/evaluations/unknown/results")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUserResultsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/results")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/results?user_id=u1&page=1&page_size=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.EqualValues(t, 1, out["page"])
	assert.EqualValues(t, 5, out["page_size"])
}

func TestCatalogAndHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
}
