//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalkit/evalkit/evaluation/batch"
	"github.com/evalkit/evalkit/evaluation/item"
	"github.com/evalkit/evalkit/evaluation/metric"
)

func testRequest() *batch.Request {
	return &batch.Request{
		Items: []*batch.Item{
			{Data: &item.Item{Question: "what is go", Answer: "go is a language"}},
			{Data: &item.Item{Question: "what is rust", Answer: "rust is a language"}},
		},
		MetricNames: []string{metric.MetricAnswerRelevancy},
		ProcessID:   "p1",
	}
}

func okResponse() *batch.Response {
	return &batch.Response{
		Success:         true,
		Results:         []*batch.ItemResult{{ItemID: "0", Success: true}, {ItemID: "1", Success: true}},
		TotalProcessed:  2,
		SuccessfulCount: 2,
	}
}

func TestCalculateBatchRetriesThenSucceeds(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		n := len(times)
		mu.Unlock()
		if n < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(okResponse()))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithRetryDelay(20*time.Millisecond), WithoutFallback())
	require.NoError(t, err)

	resp, err := c.CalculateBatch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, resp.Success)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 3)
	// Linear backoff: the second gap is roughly twice the first.
	gap1 := times[1].Sub(times[0])
	gap2 := times[2].Sub(times[1])
	assert.GreaterOrEqual(t, gap1, 20*time.Millisecond)
	assert.GreaterOrEqual(t, gap2, 35*time.Millisecond)
	assert.Greater(t, gap2, gap1)
}

func TestCalculateBatchBadRequestNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown metric nope"})
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = c.CalculateBatch(context.Background(), testRequest())
	require.ErrorIs(t, err, batch.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "unknown metric nope")
	assert.Equal(t, 1, calls)
}

func TestCalculateBatchFallsBackToLocalHeuristics(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithAttempts(2), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	resp, err := c.CalculateBatch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.TotalProcessed)
	assert.Equal(t, 2, resp.SuccessfulCount)
	assert.Equal(t, "true", resp.SummaryStats["fallback_mode"])
	assert.NotEmpty(t, resp.SummaryStats["fallback_reason"])
}

func TestCalculateBatchFallbackIsDeterministic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithAttempts(1))
	require.NoError(t, err)

	first, err := c.CalculateBatch(context.Background(), testRequest())
	require.NoError(t, err)
	second, err := c.CalculateBatch(context.Background(), testRequest())
	require.NoError(t, err)
	for i := range first.Results {
		assert.Equal(t, first.Results[i].MetricScores, second.Results[i].MetricScores)
	}
}

func TestCalculateBatchUnreachableWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithAttempts(2), WithRetryDelay(time.Millisecond), WithoutFallback())
	require.NoError(t, err)

	_, err = c.CalculateBatch(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestCalculateBatchValidatesLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server")
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.CalculateBatch(context.Background(), &batch.Request{})
	require.ErrorIs(t, err, batch.ErrInvalidRequest)
}

func TestHealth(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		if !healthy {
			http.Error(w, "sick", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	require.NoError(t, c.Health(context.Background()))

	healthy = false
	require.ErrorIs(t, c.Health(context.Background()), ErrUnreachable)
}

func TestNewValidation(t *testing.T) {
	_, err := New("")
	require.Error(t, err)

	_, err = New("http://localhost:1", WithAttempts(0))
	require.Error(t, err)
}
