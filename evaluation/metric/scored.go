//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

package metric

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evalkit/evalkit/evaluation/item"
	"github.com/evalkit/evalkit/log"
)

// Field identifies an item field a metric may require.
type Field string

// Required-field constants.
const (
	FieldQuestion        Field = "question"
	FieldAnswer          Field = "answer"
	FieldContext         Field = "context"
	FieldExpectedAnswer  Field = "expected_answer"
	FieldReferenceOutput Field = "reference_output"
)

// DefaultTimeout bounds metrics that do not declare their own timeout.
const DefaultTimeout = 60 * time.Second

// ScoreFunc computes a raw score for an item. The returned score may use any
// native range; the envelope clamps it into [0,1].
type ScoreFunc func(ctx context.Context, it *item.Item, cfg Config) (float64, error)

// Definition describes a metric as data: the envelope applies validation,
// timeout, normalization and fallback uniformly, so concrete metrics are a
// name plus one or two scoring functions rather than a subclass hierarchy.
type Definition struct {
	// Name is the canonical metric name.
	Name string
	// Category is the catalog category the metric belongs to.
	Category string
	// Polarity declares score interpretation.
	Polarity Polarity
	// Timeout bounds one scoring call. DefaultTimeout when zero.
	Timeout time.Duration
	// Required lists item fields that must be non-blank after trimming.
	Required []Field
	// Scorer is the primary scoring function.
	Scorer ScoreFunc
	// Fallback is an optional local scorer used when Scorer fails.
	Fallback ScoreFunc
	// Method labels successful primary scores in result metadata.
	Method string
	// FallbackMethod labels fallback scores in result metadata.
	FallbackMethod string
}

// New builds a Metric from the definition.
func New(def Definition) (Metric, error) {
	if def.Name == "" {
		return nil, errors.New("metric name is empty")
	}
	if def.Scorer == nil {
		return nil, fmt.Errorf("metric %s has no scorer: %w", def.Name, ErrUnavailable)
	}
	if def.Timeout <= 0 {
		def.Timeout = DefaultTimeout
	}
	if def.Method == "" {
		def.Method = MethodHeuristic
	}
	if def.FallbackMethod == "" {
		def.FallbackMethod = MethodHeuristicFallback
	}
	return &scoredMetric{def: def}, nil
}

// scoredMetric is the single Metric implementation: a definition evaluated
// under the shared envelope.
type scoredMetric struct {
	def Definition
}

// Name returns the canonical metric name.
func (m *scoredMetric) Name() string { return m.def.Name }

// Polarity returns the declared score polarity.
func (m *scoredMetric) Polarity() Polarity { return m.def.Polarity }

// Calculate validates the item, runs the scorer under the metric timeout and
// normalizes the outcome. Failures of any kind become a failed Result.
func (m *scoredMetric) Calculate(ctx context.Context, it *item.Item, cfg Config) *Result {
	start := time.Now()
	if it == nil {
		return m.failed(start, "item is nil")
	}
	// Validation short-circuits: no timing window, no attempted score.
	if missing := m.missingField(it); missing != "" {
		return m.failedValidation(start, missing)
	}
	score, method, err := m.score(ctx, it, cfg)
	if err != nil {
		return m.failed(start, err.Error())
	}
	return &Result{
		MetricName:      m.def.Name,
		Score:           clamp(score),
		Success:         true,
		ExecutionTimeMS: elapsedMS(start),
		Metadata: map[string]string{
			"calculation_method": method,
			"polarity":           m.def.Polarity.String(),
		},
	}
}

// score runs the primary scorer and, when it fails, the fallback. The string
// return is the method label of the scorer that produced the score.
func (m *scoredMetric) score(ctx context.Context, it *item.Item, cfg Config) (float64, string, error) {
	score, err := m.runScorer(ctx, m.def.Scorer, it, cfg)
	if err == nil {
		return score, m.def.Method, nil
	}
	if m.def.Fallback == nil {
		return 0, "", err
	}
	// Fall back silently: degraded fidelity beats a failed batch. The error
	// is logged so operators can see the primary scorer misbehaving.
	log.Errorf("metric %s primary scorer failed, using heuristic fallback: %v", m.def.Name, err)
	score, fallbackErr := m.runScorer(ctx, m.def.Fallback, it, cfg)
	if fallbackErr != nil {
		return 0, "", fmt.Errorf("scorer failed (%v); fallback failed: %w", err, fallbackErr)
	}
	return score, m.def.FallbackMethod, nil
}

type scoreOutcome struct {
	score float64
	err   error
}

// runScorer executes one scoring function under the metric timeout. On
// timeout the in-flight call is abandoned, not killed; it may complete later
// into a buffered channel nobody reads.
func (m *scoredMetric) runScorer(ctx context.Context, fn ScoreFunc, it *item.Item, cfg Config) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.def.Timeout)
	defer cancel()
	outcome := make(chan scoreOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcome <- scoreOutcome{err: fmt.Errorf("scorer panic: %v", r)}
			}
		}()
		score, err := fn(ctx, it, cfg)
		outcome <- scoreOutcome{score: score, err: err}
	}()
	select {
	case out := <-outcome:
		return out.score, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("metric calculation timed out after %s", m.def.Timeout)
		}
		return 0, ctx.Err()
	}
}

// missingField returns the name of the first required field that is blank.
func (m *scoredMetric) missingField(it *item.Item) string {
	for _, field := range m.def.Required {
		var value string
		switch field {
		case FieldQuestion:
			value = it.Question
		case FieldAnswer:
			value = it.Answer
		case FieldContext:
			value = it.Context
		case FieldExpectedAnswer:
			value = it.ExpectedAnswer
		case FieldReferenceOutput:
			value = it.ReferenceOutput
		}
		if strings.TrimSpace(value) == "" {
			return string(field)
		}
	}
	return ""
}

func (m *scoredMetric) failedValidation(start time.Time, field string) *Result {
	r := m.failed(start, fmt.Sprintf("validation failed: %s is required for %s", field, m.def.Name))
	r.Metadata = map[string]string{"error_type": "validation"}
	return r
}

func (m *scoredMetric) failed(start time.Time, message string) *Result {
	return &Result{
		MetricName:      m.def.Name,
		Score:           0,
		Success:         false,
		ErrorMessage:    message,
		ExecutionTimeMS: elapsedMS(start),
	}
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
