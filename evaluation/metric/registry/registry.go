//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package registry manages construction and caching of metric instances.
// The name-to-constructor table is built once at startup so lookups are a
// pure function with no hidden side effects.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evalkit/evalkit/evaluation/item"
	"github.com/evalkit/evalkit/evaluation/metric"
	"github.com/evalkit/evalkit/evaluation/metric/heuristic"
	"github.com/evalkit/evalkit/evaluation/metric/judge"
)

// healthCheckMetric is the representative metric used by HealthCheck.
const healthCheckMetric = metric.MetricAnswerRelevancy

// Constructor builds a metric instance. Construction may fail when an
// underlying dependency is missing; failures are not cached.
type Constructor func() (metric.Metric, error)

// Registry resolves metric names to cached metric instances.
type Registry interface {
	// Resolve returns the metric registered under name. The instance is a
	// cached singleton; construction failures are retried on later calls.
	Resolve(name string) (metric.Metric, error)
	// Catalog returns the static metric catalog.
	Catalog() *metric.Catalog
	// List returns all registered metric names sorted lexicographically.
	List() []string
	// HealthCheck succeeds iff a representative metric can be constructed.
	HealthCheck(ctx context.Context) error
}

// Options holds the configuration for the registry.
type Options struct {
	Judge        judge.Scorer
	Constructors map[string]Constructor
}

// Option configures the registry.
type Option func(*Options)

// WithJudge wires an external judge scorer into the judged metric family.
// Without a judge those metrics run on their heuristic fallback and label
// scores accordingly.
func WithJudge(j judge.Scorer) Option {
	return func(o *Options) { o.Judge = j }
}

// WithConstructor registers or overrides a metric constructor. The name is
// added to the custom category of the catalog if not already known.
func WithConstructor(name string, c Constructor) Option {
	return func(o *Options) {
		if o.Constructors == nil {
			o.Constructors = make(map[string]Constructor)
		}
		o.Constructors[name] = c
	}
}

// registry is the default Registry implementation.
type registry struct {
	mu           sync.Mutex
	constructors map[string]Constructor
	instances    map[string]metric.Metric
	catalog      *metric.Catalog
}

// New builds a registry over the default catalog plus any overrides.
func New(opt ...Option) Registry {
	opts := &Options{}
	for _, o := range opt {
		o(opts)
	}
	catalog := metric.DefaultCatalog()
	constructors := make(map[string]Constructor)
	for _, def := range builtinDefinitions(opts.Judge) {
		def := def
		constructors[def.Name] = func() (metric.Metric, error) { return metric.New(def) }
	}
	for name, c := range opts.Constructors {
		if _, known := constructors[name]; !known {
			catalog.CustomMetrics = append(catalog.CustomMetrics, name)
		}
		constructors[name] = c
	}
	return &registry{
		constructors: constructors,
		instances:    make(map[string]metric.Metric),
		catalog:      catalog,
	}
}

// Resolve returns a cached singleton instance per metric name. Only
// successful constructions are cached, so a later resolve of a previously
// unavailable metric retries construction.
func (r *registry) Resolve(name string) (metric.Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.instances[name]; ok {
		return m, nil
	}
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("resolve metric %s: %w", name, metric.ErrUnknownMetric)
	}
	m, err := ctor()
	if err != nil {
		if errors.Is(err, metric.ErrUnavailable) {
			return nil, fmt.Errorf("resolve metric %s: %w", name, err)
		}
		return nil, fmt.Errorf("resolve metric %s: %v: %w", name, err, metric.ErrUnavailable)
	}
	r.instances[name] = m
	return m, nil
}

// Catalog returns the static metric catalog.
func (r *registry) Catalog() *metric.Catalog {
	return r.catalog
}

// List returns all registered metric names sorted lexicographically.
func (r *registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheck succeeds iff the representative metric can be constructed.
func (r *registry) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := r.Resolve(healthCheckMetric); err != nil {
		return fmt.Errorf("registry health check: %w", err)
	}
	return nil
}

// definitionSpec describes one built-in metric row.
type definitionSpec struct {
	name     string
	category string
	polarity metric.Polarity
	timeout  time.Duration
	required []metric.Field
	judged   bool
}

// builtinSpecs is the static metric table. Judged rows use the external
// scorer when one is configured and their heuristic otherwise.
var builtinSpecs = []definitionSpec{
	{metric.MetricAnswerRelevancy, metric.CategoryRAG, metric.HigherIsBetter, 90 * time.Second,
		[]metric.Field{metric.FieldQuestion, metric.FieldAnswer}, true},
	{metric.MetricFaithfulness, metric.CategoryRAG, metric.HigherIsBetter, 120 * time.Second,
		[]metric.Field{metric.FieldQuestion, metric.FieldAnswer, metric.FieldContext}, true},
	{metric.MetricContextualPrecision, metric.CategoryRAG, metric.HigherIsBetter, 90 * time.Second,
		[]metric.Field{metric.FieldQuestion, metric.FieldExpectedAnswer, metric.FieldContext}, true},
	{metric.MetricContextualRecall, metric.CategoryRAG, metric.HigherIsBetter, 90 * time.Second,
		[]metric.Field{metric.FieldExpectedAnswer, metric.FieldContext}, true},
	{metric.MetricContextualRelevancy, metric.CategoryRAG, metric.HigherIsBetter, 90 * time.Second,
		[]metric.Field{metric.FieldQuestion, metric.FieldContext}, true},
	{metric.MetricBias, metric.CategorySafetyEthics, metric.LowerIsBetter, 60 * time.Second,
		[]metric.Field{metric.FieldAnswer}, true},
	{metric.MetricToxicity, metric.CategorySafetyEthics, metric.LowerIsBetter, 60 * time.Second,
		[]metric.Field{metric.FieldAnswer}, true},
	{metric.MetricHallucination, metric.CategorySafetyEthics, metric.LowerIsBetter, 90 * time.Second,
		[]metric.Field{metric.FieldAnswer, metric.FieldContext}, true},
	{metric.MetricSummarization, metric.CategoryTaskSpecific, metric.HigherIsBetter, 150 * time.Second,
		[]metric.Field{metric.FieldAnswer, metric.FieldContext}, true},
	{metric.MetricClassification, metric.CategoryTaskSpecific, metric.HigherIsBetter, 30 * time.Second,
		[]metric.Field{metric.FieldAnswer, metric.FieldExpectedAnswer}, false},
	{metric.MetricGeneration, metric.CategoryTaskSpecific, metric.HigherIsBetter, 120 * time.Second,
		[]metric.Field{metric.FieldAnswer, metric.FieldReferenceOutput}, true},
	{metric.MetricGEval, metric.CategoryCustom, metric.HigherIsBetter, 180 * time.Second,
		[]metric.Field{metric.FieldQuestion, metric.FieldAnswer}, true},
	{metric.MetricCustomDomain, metric.CategoryCustom, metric.HigherIsBetter, 120 * time.Second,
		[]metric.Field{metric.FieldAnswer}, false},
}

// builtinDefinitions expands the built-in table into metric definitions bound
// to the configured judge.
func builtinDefinitions(j judge.Scorer) []metric.Definition {
	defs := make([]metric.Definition, 0, len(builtinSpecs))
	for _, spec := range builtinSpecs {
		local, err := heuristic.Scorer(spec.name)
		if err != nil {
			// Every built-in row has a heuristic form; reaching this is a
			// programming error surfaced at first resolve.
			local = nil
		}
		def := metric.Definition{
			Name:     spec.name,
			Category: spec.category,
			Polarity: spec.polarity,
			Timeout:  spec.timeout,
			Required: spec.required,
		}
		switch {
		case spec.judged && j != nil:
			def.Scorer = judgeScoreFunc(j, spec.name)
			def.Fallback = local
			def.Method = metric.MethodJudge
		case spec.judged:
			// Judge not configured: serve the heuristic but label it as a
			// fallback so batch summaries expose the degraded mode.
			def.Scorer = local
			def.Method = metric.MethodHeuristicFallback
		default:
			def.Scorer = local
			def.Method = metric.MethodHeuristic
		}
		defs = append(defs, def)
	}
	return defs
}

// judgeScoreFunc adapts the judge scorer to a metric ScoreFunc.
func judgeScoreFunc(j judge.Scorer, name string) metric.ScoreFunc {
	return func(ctx context.Context, it *item.Item, cfg metric.Config) (float64, error) {
		return j.Score(ctx, name, it, cfg)
	}
}
