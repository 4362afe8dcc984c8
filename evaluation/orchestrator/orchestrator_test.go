//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalkit/evalkit/evaluation/batch"
	"github.com/evalkit/evalkit/evaluation/item"
	"github.com/evalkit/evalkit/evaluation/status"
	"github.com/evalkit/evalkit/evaluation/store"
	"github.com/evalkit/evalkit/evaluation/store/inmemory"
)

type fakeLoader struct {
	fn func(ctx context.Context, path, modelName string) ([]*item.Item, error)
}

func (l *fakeLoader) Load(ctx context.Context, path, modelName string) ([]*item.Item, error) {
	return l.fn(ctx, path, modelName)
}

type fakeMetrics struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req *batch.Request) (*batch.Response, error)
}

func (m *fakeMetrics) CalculateBatch(ctx context.Context, req *batch.Request) (*batch.Response, error) {
	m.calls.Add(1)
	return m.fn(ctx, req)
}

func okItems(ctx context.Context, path, modelName string) ([]*item.Item, error) {
	return []*item.Item{
		{Question: "q1", Answer: modelName + " a1"},
		{Question: "q2", Answer: modelName + " a2"},
	}, nil
}

func okMetricsResponse(req *batch.Request) *batch.Response {
	results := make([]*batch.ItemResult, len(req.Items))
	for i, it := range req.Items {
		results[i] = &batch.ItemResult{
			ItemID:       it.ItemID,
			Question:     it.Data.Question,
			MetricScores: map[string]float64{"answer_relevancy": 0.8},
			Success:      true,
		}
	}
	return &batch.Response{
		Success:         true,
		Results:         results,
		TotalProcessed:  len(results),
		SuccessfulCount: len(results),
		SummaryStats:    map[string]string{"avg_answer_relevancy": "0.8000"},
		ProcessID:       req.ProcessID,
	}
}

func newTestOrchestrator(t *testing.T, st store.Store, loader *fakeLoader, metrics *fakeMetrics, opt ...Option) *Orchestrator {
	t.Helper()
	opts := append([]Option{
		WithStore(st),
		WithLoader(loader),
		WithMetricsClient(metrics),
	}, opt...)
	orch, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Close(ctx)
	})
	return orch
}

func testStartRequest(user string) *Request {
	return &Request{
		UserID:      user,
		Models:      []string{"model-a", "model-b"},
		DatasetPath: "data.yaml",
		MetricNames: []string{"answer_relevancy"},
	}
}

func waitTerminal(t *testing.T, orch *Orchestrator, id string) *store.ProcessStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := orch.Wait(context.Background(), id, time.Second)
		require.NoError(t, err)
		switch st.OverallState {
		case status.ProcessStateCompleted.String(),
			status.ProcessStateFailed.String(),
			status.ProcessStateStopped.String():
			return st
		}
	}
	t.Fatal("process never reached a terminal state")
	return nil
}

func TestStartValidation(t *testing.T) {
	orch := newTestOrchestrator(t, inmemory.New(),
		&fakeLoader{fn: okItems},
		&fakeMetrics{fn: func(ctx context.Context, req *batch.Request) (*batch.Response, error) {
			return okMetricsResponse(req), nil
		}})

	_, err := orch.Start(context.Background(), &Request{})
	require.Error(t, err)
	_, err = orch.Start(context.Background(), &Request{UserID: "u", Models: []string{"m"}})
	require.Error(t, err)
}

func TestRunCompletes(t *testing.T) {
	st := inmemory.New()
	metrics := &fakeMetrics{fn: func(ctx context.Context, req *batch.Request) (*batch.Response, error) {
		return okMetricsResponse(req), nil
	}}
	orch := newTestOrchestrator(t, st, &fakeLoader{fn: okItems}, metrics)

	id, err := orch.Start(context.Background(), testStartRequest("u1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	final := waitTerminal(t, orch, id)
	assert.Equal(t, "Completed", final.OverallState)
	require.Len(t, final.Models, 2)
	for _, m := range final.Models {
		assert.Equal(t, "Completed", m.State)
		assert.NotEmpty(t, m.ConfigID)
		assert.False(t, m.EndTime.IsZero())
	}
	assert.False(t, final.EndTime.IsZero())

	// One batch call covered both models.
	assert.EqualValues(t, 1, metrics.calls.Load())

	results, err := st.ListResults(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "u1", r.UserID)
		assert.Len(t, r.Results, 2)
		assert.Equal(t, 2, r.SuccessfulCount)
	}

	records, err := st.ListMetrics(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	cfg, err := st.GetConfig(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"model-a", "model-b"}, cfg.Models)
}

func TestStartConflict(t *testing.T) {
	release := make(chan struct{})
	loader := &fakeLoader{fn: func(ctx context.Context, path, modelName string) ([]*item.Item, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return okItems(ctx, path, modelName)
	}}
	metrics := &fakeMetrics{fn: func(ctx context.Context, req *batch.Request) (*batch.Response, error) {
		return okMetricsResponse(req), nil
	}}
	orch := newTestOrchestrator(t, inmemory.New(), loader, metrics)

	first, err := orch.Start(context.Background(), testStartRequest("u1"))
	require.NoError(t, err)

	_, err = orch.Start(context.Background(), testStartRequest("u1"))
	require.ErrorIs(t, err, ErrConflict)

	// A different user is unaffected.
	_, err = orch.Start(context.Background(), testStartRequest("u2"))
	require.NoError(t, err)

	close(release)
	waitTerminal(t, orch, first)

	// Once terminal, the same user can start again.
	_, err = orch.Start(context.Background(), testStartRequest("u1"))
	require.NoError(t, err)
}

func TestModelFailureIsolation(t *testing.T) {
	loader := &fakeLoader{fn: func(ctx context.Context, path, modelName string) ([]*item.Item, error) {
		if modelName == "model-a" {
			return nil, errors.New("dataset corrupt for this model")
		}
		return okItems(ctx, path, modelName)
	}}
	metrics := &fakeMetrics{fn: func(ctx context.Context, req *batch.Request) (*batch.Response, error) {
		return okMetricsResponse(req), nil
	}}
	st := inmemory.New()
	orch := newTestOrchestrator(t, st, loader, metrics)

	id, err := orch.Start(context.Background(), testStartRequest("u1"))
	require.NoError(t, err)

	final := waitTerminal(t, orch, id)
	assert.Equal(t, "Failed", final.OverallState)
	assert.Contains(t, final.ErrorMessage, "model-a")

	states := map[string]string{}
	for _, m := range final.Models {
		states[m.ModelName] = m.State
	}
	assert.Equal(t, "Failed", states["model-a"])
	assert.Equal(t, "Completed", states["model-b"])

	// The healthy model still got scored and stored.
	results, err := st.ListResults(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "model-b", results[0].ModelName)
}

func TestMetricsFailureDoesNotFailProcess(t *testing.T) {
	metrics := &fakeMetrics{fn: func(ctx context.Context, req *batch.Request) (*batch.Response, error) {
		return nil, errors.New("engine exploded")
	}}
	st := inmemory.New()
	orch := newTestOrchestrator(t, st, &fakeLoader{fn: okItems}, metrics)

	id, err := orch.Start(context.Background(), testStartRequest("u1"))
	require.NoError(t, err)

	final := waitTerminal(t, orch, id)
	assert.Equal(t, "Completed", final.OverallState)

	results, err := st.ListResults(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStopIsIdempotent(t *testing.T) {
	started := make(chan struct{}, 1)
	loader := &fakeLoader{fn: func(ctx context.Context, path, modelName string) ([]*item.Item, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	metrics := &fakeMetrics{fn: func(ctx context.Context, req *batch.Request) (*batch.Response, error) {
		return okMetricsResponse(req), nil
	}}
	orch := newTestOrchestrator(t, inmemory.New(), loader, metrics)

	id, err := orch.Start(context.Background(), testStartRequest("u1"))
	require.NoError(t, err)
	<-started

	require.NoError(t, orch.Stop(context.Background(), id))
	require.NoError(t, orch.Stop(context.Background(), id))

	final := waitTerminal(t, orch, id)
	assert.Equal(t, "Stopped", final.OverallState)
	// Stopping a terminal process stays a no-op.
	require.NoError(t, orch.Stop(context.Background(), id))
	// No metrics call happened for a stopped run.
	assert.Zero(t, metrics.calls.Load())
}

func TestStopUnknownProcess(t *testing.T) {
	orch := newTestOrchestrator(t, inmemory.New(),
		&fakeLoader{fn: okItems},
		&fakeMetrics{fn: func(ctx context.Context, req *batch.Request) (*batch.Response, error) {
			return okMetricsResponse(req), nil
		}})
	err := orch.Stop(context.Background(), "no-such-process")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStatusCacheAndStoreAgree(t *testing.T) {
	st := inmemory.New()
	metrics := &fakeMetrics{fn: func(ctx context.Context, req *batch.Request) (*batch.Response, error) {
		return okMetricsResponse(req), nil
	}}
	orch := newTestOrchestrator(t, st, &fakeLoader{fn: okItems}, metrics,
		WithRetention(20*time.Millisecond))

	id, err := orch.Start(context.Background(), testStartRequest("u1"))
	require.NoError(t, err)
	final := waitTerminal(t, orch, id)

	stored, err := st.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, final.OverallState, stored.OverallState)

	// After the retention window the cache entry is purged and reads fall
	// through to the store with the same terminal state.
	time.Sleep(50 * time.Millisecond)
	after, err := orch.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, stored.OverallState, after.OverallState)
}

func TestStatusUnknownProcess(t *testing.T) {
	orch := newTestOrchestrator(t, inmemory.New(),
		&fakeLoader{fn: okItems},
		&fakeMetrics{fn: func(ctx context.Context, req *batch.Request) (*batch.Response, error) {
			return okMetricsResponse(req), nil
		}})
	_, err := orch.Status(context.Background(), "no-such-process")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = orch.ProcessResults(context.Background(), "no-such-process")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResultsPagination(t *testing.T) {
	st := inmemory.New()
	metrics := &fakeMetrics{fn: func(ctx context.Context, req *batch.Request) (*batch.Response, error) {
		return okMetricsResponse(req), nil
	}}
	orch := newTestOrchestrator(t, st, &fakeLoader{fn: okItems}, metrics)

	id, err := orch.Start(context.Background(), testStartRequest("u1"))
	require.NoError(t, err)
	waitTerminal(t, orch, id)

	page, total, err := orch.Results(context.Background(), "u1", 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, page, 1)
}
