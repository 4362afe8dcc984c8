//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package batch defines the wire types of the batch evaluation protocol.
// Requests and responses are plain data; scoring lives in the engine and the
// transport lives in the client and server packages.
package batch

import (
	"errors"
	"fmt"

	"github.com/evalkit/evalkit/evaluation/item"
)

// ErrInvalidRequest reports a request the engine refuses to start on.
var ErrInvalidRequest = errors.New("invalid batch request")

// Item is one evaluation item within a batch.
type Item struct {
	// ItemID identifies the item within the batch. When blank the engine
	// assigns the zero-based index as a string.
	ItemID string `json:"item_id,omitempty"`
	// Data holds the item fields the metrics read.
	Data *item.Item `json:"data"`
}

// Request is one batch evaluation call: every metric named is applied to
// every item listed.
type Request struct {
	Items       []*Item  `json:"items"`
	MetricNames []string `json:"metric_names"`
	// ProcessID ties the batch to the owning evaluation process, if any.
	ProcessID string `json:"process_id,omitempty"`
	// UserID identifies the caller for attribution in stored results.
	UserID string `json:"user_id,omitempty"`
	// GlobalConfig carries per-metric configuration shared by all items.
	GlobalConfig map[string]string `json:"global_config,omitempty"`
}

// Validate checks the request shape without resolving metric names.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidRequest)
	}
	if len(r.MetricNames) == 0 {
		return fmt.Errorf("%w: no metric names", ErrInvalidRequest)
	}
	for i, it := range r.Items {
		if it == nil || it.Data == nil {
			return fmt.Errorf("%w: item %d has no data", ErrInvalidRequest, i)
		}
	}
	return nil
}

// ItemResult is the per-item outcome within a batch response.
type ItemResult struct {
	ItemID string `json:"item_id"`
	// Question echoes the item question for readable result listings.
	Question string `json:"question"`
	// MetricScores maps every requested metric name to its score. Failed
	// metrics keep their key with a zero score.
	MetricScores map[string]float64 `json:"metric_scores"`
	// Success is true when at least one requested metric scored the item.
	Success bool `json:"success"`
	// ErrorMessage aggregates per-metric failure reasons, each prefixed with
	// the metric name.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Response is the outcome of one batch evaluation call.
type Response struct {
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Results      []*ItemResult `json:"results"`
	// TotalProcessed always equals len(Results); SuccessfulCount and
	// FailedCount partition it.
	TotalProcessed       int               `json:"total_processed"`
	SuccessfulCount      int               `json:"successful_count"`
	FailedCount          int               `json:"failed_count"`
	TotalExecutionTimeMS float64           `json:"total_execution_time_ms"`
	SummaryStats         map[string]string `json:"summary_stats,omitempty"`
	ProcessID            string            `json:"process_id,omitempty"`
}
