//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalkit/evalkit/evaluation/batch"
	engcore "github.com/evalkit/evalkit/evaluation/engine"
	"github.com/evalkit/evalkit/evaluation/item"
	"github.com/evalkit/evalkit/evaluation/metric"
	"github.com/evalkit/evalkit/evaluation/metric/registry"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := registry.New()
	eng, err := engcore.New(reg)
	require.NoError(t, err)
	srv, err := New("127.0.0.1:0", eng, reg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postBatch(t *testing.T, ts *httptest.Server, req *batch.Request) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/v1/metrics/batch", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestBatchEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := postBatch(t, ts, &batch.Request{
		Items: []*batch.Item{
			{Data: &item.Item{Question: "what is go", Answer: "go is a language"}},
		},
		MetricNames: []string{metric.MetricAnswerRelevancy},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out batch.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.TotalProcessed)
	require.Len(t, out.Results, 1)
	assert.Contains(t, out.Results[0].MetricScores, metric.MetricAnswerRelevancy)
}

func TestBatchEndpointUnknownMetric(t *testing.T) {
	ts := newTestServer(t)
	resp := postBatch(t, ts, &batch.Request{
		Items:       []*batch.Item{{Data: &item.Item{Question: "q", Answer: "a"}}},
		MetricNames: []string{"nonsense_metric"},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out["error"], "nonsense_metric")
}

func TestBatchEndpointMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/v1/metrics/batch", "application/json",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalogEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var catalog metric.Catalog
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&catalog))
	assert.Contains(t, catalog.RAGMetrics, metric.MetricAnswerRelevancy)
	assert.Contains(t, catalog.SafetyEthics, metric.MetricToxicity)
	assert.Contains(t, catalog.TaskSpecific, metric.MetricSummarization)
	assert.Contains(t, catalog.CustomMetrics, metric.MetricGEval)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
