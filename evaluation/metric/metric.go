//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package metric provides evaluation metrics and the scoring envelope shared
// by all of them.
package metric

import (
	"context"
	"errors"
	"strings"

	"github.com/evalkit/evalkit/evaluation/item"
)

var (
	// ErrUnknownMetric indicates a metric name that is not in the catalog.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrUnavailable indicates a metric whose underlying scorer dependency is
	// missing or misconfigured.
	ErrUnavailable = errors.New("metric unavailable")
)

// Polarity declares how a metric's score is to be interpreted. Scores are
// never inverted by the engine; callers consult the polarity.
type Polarity int

const (
	// HigherIsBetter marks metrics where 1.0 is the best outcome.
	HigherIsBetter Polarity = iota
	// LowerIsBetter marks metrics where 0.0 is the best outcome, such as
	// bias, toxicity and hallucination.
	LowerIsBetter
)

// String returns the wire form of the polarity.
func (p Polarity) String() string {
	if p == LowerIsBetter {
		return "lower_is_better"
	}
	return "higher_is_better"
}

// Calculation method labels recorded in Result.Metadata.
const (
	// MethodJudge marks scores produced by the external judge scorer.
	MethodJudge = "llm_judge"
	// MethodHeuristic marks scores produced by a natively heuristic metric.
	MethodHeuristic = "heuristic"
	// MethodHeuristicFallback marks scores produced by the heuristic fallback
	// of a metric whose primary scorer failed or is unavailable.
	MethodHeuristicFallback = "heuristic_fallback"
)

// Result is the outcome of calculating one metric for one item. It is never
// mutated after creation.
type Result struct {
	// MetricName identifies the metric.
	MetricName string `json:"metric_name"`
	// Score is the normalized score in [0,1]. Zero when Success is false.
	Score float64 `json:"score"`
	// Success reports whether the calculation produced a usable score.
	Success bool `json:"success"`
	// ErrorMessage describes the failure when Success is false.
	ErrorMessage string `json:"error_message,omitempty"`
	// ExecutionTimeMS is the wall time spent on the calculation.
	ExecutionTimeMS float64 `json:"execution_time_ms"`
	// Metadata carries diagnostics such as the calculation method.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Metric is one named scoring strategy. Calculate never returns an error:
// every failure is converted into a failed Result so one bad item or metric
// cannot abort a batch.
type Metric interface {
	// Name returns the canonical metric name.
	Name() string
	// Polarity returns the declared score polarity.
	Polarity() Polarity
	// Calculate scores the item under the given configuration.
	Calculate(ctx context.Context, it *item.Item, cfg Config) *Result
}

// Config carries metric-specific configuration.
type Config map[string]any

// String returns the string value for key, or empty when absent.
func (c Config) String(key string) string {
	if c == nil {
		return ""
	}
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Strings returns the string slice value for key. []string, []any and
// comma-separated string forms are accepted, matching how JSON decodes
// configuration maps and how flat string configs encode lists.
func (c Config) Strings(key string) []string {
	if c == nil {
		return nil
	}
	switch v := c[key].(type) {
	case []string:
		return v
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Float returns the float value for key and whether it was present.
func (c Config) Float(key string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	switch v := c[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
