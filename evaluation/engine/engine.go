//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package engine applies a set of metrics to a batch of items concurrently
// and aggregates the outcomes into a batch response.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/evalkit/evalkit/evaluation/batch"
	"github.com/evalkit/evalkit/evaluation/metric"
	"github.com/evalkit/evalkit/evaluation/metric/registry"
	"github.com/evalkit/evalkit/log"
)

// DefaultConcurrency is the worker pool size when none is configured.
const DefaultConcurrency = 4

var tracer = otel.Tracer("github.com/evalkit/evalkit/evaluation/engine")

// Engine scores batches of items against named metrics.
type Engine interface {
	// CalculateBatch applies every requested metric to every item. It returns
	// an error only when the request itself is unusable; per-item and
	// per-metric failures are folded into the response.
	CalculateBatch(ctx context.Context, req *batch.Request) (*batch.Response, error)
}

// Options holds the engine configuration.
type Options struct {
	Concurrency int
}

// Option configures the engine.
type Option func(*Options)

// WithConcurrency sets the worker pool size for one batch.
func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

type engine struct {
	registry    registry.Registry
	concurrency int
}

// New creates an engine over the given metric registry.
func New(reg registry.Registry, opt ...Option) (Engine, error) {
	if reg == nil {
		return nil, errors.New("metric registry is nil")
	}
	opts := &Options{Concurrency: DefaultConcurrency}
	for _, o := range opt {
		o(opts)
	}
	if opts.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", opts.Concurrency)
	}
	return &engine{registry: reg, concurrency: opts.Concurrency}, nil
}

// CalculateBatch validates the request, resolves all metrics before scoring
// starts and fans the item-metric pairs out over a worker pool.
func (e *engine) CalculateBatch(ctx context.Context, req *batch.Request) (*batch.Response, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "engine.CalculateBatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.items", len(req.Items)),
		attribute.Int("batch.metrics", len(req.MetricNames)),
		attribute.String("batch.process_id", req.ProcessID),
	)

	// Fail fast: an unknown metric rejects the batch before any item is
	// scored, so callers never get a half-evaluated matrix.
	metrics := make([]metric.Metric, len(req.MetricNames))
	for i, name := range req.MetricNames {
		m, err := e.registry.Resolve(name)
		if err != nil {
			if errors.Is(err, metric.ErrUnknownMetric) {
				return nil, fmt.Errorf("%w: %v", batch.ErrInvalidRequest, err)
			}
			return nil, err
		}
		metrics[i] = m
	}
	cfg := metricConfig(req.GlobalConfig)

	pool, err := createScorePool(e.concurrency)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	// Flat result matrix, one cell per item-metric pair, indexed
	// row-major so workers never contend.
	results := make([]*metric.Result, len(req.Items)*len(metrics))
	var wg sync.WaitGroup
	for i, it := range req.Items {
		for j, m := range metrics {
			param := scoreParamPool.Get().(*scoreParam)
			param.ctx = ctx
			param.met = m
			param.it = it.Data
			param.cfg = cfg
			param.results = results
			param.idx = i*len(metrics) + j
			param.wg = &wg
			wg.Add(1)
			if err := pool.Invoke(param); err != nil {
				wg.Done()
				param.reset()
				scoreParamPool.Put(param)
				results[i*len(metrics)+j] = &metric.Result{
					MetricName:   m.Name(),
					ErrorMessage: fmt.Sprintf("submit scoring task: %v", err),
				}
			}
		}
	}
	wg.Wait()

	resp := e.aggregate(req, metrics, results)
	resp.TotalExecutionTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
	log.Infof("batch evaluated: process=%s items=%d metrics=%d ok=%d failed=%d",
		req.ProcessID, resp.TotalProcessed, len(metrics), resp.SuccessfulCount, resp.FailedCount)
	return resp, nil
}

// aggregate folds the result matrix into per-item results and batch summary
// statistics.
func (e *engine) aggregate(req *batch.Request, metrics []metric.Metric, results []*metric.Result) *batch.Response {
	resp := &batch.Response{
		Success:   true,
		Results:   make([]*batch.ItemResult, 0, len(req.Items)),
		ProcessID: req.ProcessID,
	}
	sums := make(map[string]float64, len(metrics))
	counts := make(map[string]int, len(metrics))
	fallback := false
	for i, it := range req.Items {
		// Items without an identifier get the zero-based index.
		itemID := it.ItemID
		if itemID == "" {
			itemID = strconv.Itoa(i)
		}
		ir := &batch.ItemResult{
			ItemID:       itemID,
			Question:     it.Data.Question,
			MetricScores: make(map[string]float64, len(metrics)),
		}
		var failures []string
		for j, m := range metrics {
			r := results[i*len(metrics)+j]
			if r == nil {
				r = &metric.Result{MetricName: m.Name(), ErrorMessage: "no result produced"}
			}
			// Failed metrics keep their key with a zero score so the score
			// map always covers every requested metric.
			ir.MetricScores[m.Name()] = r.Score
			if r.Success {
				ir.Success = true
				sums[m.Name()] += r.Score
				counts[m.Name()]++
				if r.Metadata["calculation_method"] == metric.MethodHeuristicFallback {
					fallback = true
				}
				continue
			}
			failures = append(failures, fmt.Sprintf("%s: %s", m.Name(), r.ErrorMessage))
		}
		ir.ErrorMessage = strings.Join(failures, "; ")
		if ir.Success {
			resp.SuccessfulCount++
		} else {
			resp.FailedCount++
		}
		resp.Results = append(resp.Results, ir)
	}
	resp.TotalProcessed = len(resp.Results)
	resp.SummaryStats = summaryStats(sums, counts, fallback)
	resp.SummaryStats["total_items"] = strconv.Itoa(len(req.Items))
	resp.SummaryStats["total_metrics"] = strconv.Itoa(len(metrics))
	return resp
}

// summaryStats builds per-metric averages over successful scores plus the
// degraded-mode flag.
func summaryStats(sums map[string]float64, counts map[string]int, fallback bool) map[string]string {
	stats := make(map[string]string, len(counts)+3)
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		avg := sums[name] / float64(counts[name])
		stats["avg_"+name] = strconv.FormatFloat(avg, 'f', 4, 64)
	}
	if fallback {
		stats["fallback_mode"] = "true"
	}
	return stats
}

// metricConfig widens the flat wire configuration into the metric config
// shape.
func metricConfig(global map[string]string) metric.Config {
	if len(global) == 0 {
		return nil
	}
	cfg := make(metric.Config, len(global))
	for k, v := range global {
		cfg[k] = v
	}
	return cfg
}
