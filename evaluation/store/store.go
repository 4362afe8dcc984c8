//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package store defines the persistence contracts of the evaluation
// orchestrator: process status, per-model results, batch metrics summaries
// and the originating request configuration.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/evalkit/evalkit/evaluation/batch"
)

// ErrNotFound reports a lookup for a record that does not exist.
var ErrNotFound = errors.New("record not found")

// ModelStatus is the persisted state of one model within a process.
type ModelStatus struct {
	// ConfigID identifies the model configuration within the process.
	ConfigID     string    `json:"config_id" bson:"config_id"`
	ModelName    string    `json:"model_name" bson:"model_name"`
	State        string    `json:"state" bson:"state"`
	StartTime    time.Time `json:"start_time,omitempty" bson:"start_time,omitempty"`
	EndTime      time.Time `json:"end_time,omitempty" bson:"end_time,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
}

// ProcessStatus is the persisted state of one evaluation process. States are
// stored as their wire strings so the documents stay readable.
type ProcessStatus struct {
	ProcessID    string         `json:"process_id" bson:"process_id"`
	UserID       string         `json:"user_id" bson:"user_id"`
	OverallState string         `json:"overall_state" bson:"overall_state"`
	Models       []*ModelStatus `json:"models" bson:"models"`
	StartTime    time.Time      `json:"start_time" bson:"start_time"`
	EndTime      time.Time      `json:"end_time,omitempty" bson:"end_time,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty" bson:"error_message,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at" bson:"updated_at"`
}

// ModelResult holds the evaluation outcome of one model in one process.
type ModelResult struct {
	ProcessID       string              `json:"process_id" bson:"process_id"`
	UserID          string              `json:"user_id" bson:"user_id"`
	ModelName       string              `json:"model_name" bson:"model_name"`
	Results         []*batch.ItemResult `json:"results" bson:"results"`
	SuccessfulCount int                 `json:"successful_count" bson:"successful_count"`
	FailedCount     int                 `json:"failed_count" bson:"failed_count"`
	CreatedAt       time.Time           `json:"created_at" bson:"created_at"`
}

// MetricsRecord holds the batch-level metrics summary of one model run.
type MetricsRecord struct {
	ProcessID            string            `json:"process_id" bson:"process_id"`
	ModelName            string            `json:"model_name" bson:"model_name"`
	MetricNames          []string          `json:"metric_names" bson:"metric_names"`
	SummaryStats         map[string]string `json:"summary_stats" bson:"summary_stats"`
	TotalExecutionTimeMS float64           `json:"total_execution_time_ms" bson:"total_execution_time_ms"`
	CreatedAt            time.Time         `json:"created_at" bson:"created_at"`
}

// ConfigRecord holds the request configuration a process was started with.
type ConfigRecord struct {
	ProcessID    string            `json:"process_id" bson:"process_id"`
	UserID       string            `json:"user_id" bson:"user_id"`
	Models       []string          `json:"models" bson:"models"`
	DatasetPath  string            `json:"dataset_path" bson:"dataset_path"`
	MetricNames  []string          `json:"metric_names" bson:"metric_names"`
	GlobalConfig map[string]string `json:"global_config,omitempty" bson:"global_config,omitempty"`
	CreatedAt    time.Time         `json:"created_at" bson:"created_at"`
}

// StatusStore persists process status documents.
type StatusStore interface {
	// SaveStatus upserts the status document keyed by process ID.
	SaveStatus(ctx context.Context, status *ProcessStatus) error
	// GetStatus returns the status for the process, or ErrNotFound.
	GetStatus(ctx context.Context, processID string) (*ProcessStatus, error)
}

// ResultStore persists per-model evaluation results.
type ResultStore interface {
	// SaveResult upserts the result document keyed by process ID and model.
	SaveResult(ctx context.Context, result *ModelResult) error
	// ListResults returns all model results for the process, insertion order.
	ListResults(ctx context.Context, processID string) ([]*ModelResult, error)
	// ListResultsByUser returns one page of the user's results, newest first,
	// and the total count. Page numbers start at 1.
	ListResultsByUser(ctx context.Context, userID string, page, pageSize int) ([]*ModelResult, int64, error)
}

// MetricsStore persists batch metrics summaries.
type MetricsStore interface {
	// SaveMetrics upserts the metrics document keyed by process ID and model.
	SaveMetrics(ctx context.Context, record *MetricsRecord) error
	// ListMetrics returns all metrics records for the process.
	ListMetrics(ctx context.Context, processID string) ([]*MetricsRecord, error)
}

// ConfigStore persists process request configurations.
type ConfigStore interface {
	// SaveConfig stores the configuration a process was started with.
	SaveConfig(ctx context.Context, record *ConfigRecord) error
	// GetConfig returns the configuration for the process, or ErrNotFound.
	GetConfig(ctx context.Context, processID string) (*ConfigRecord, error)
}

// Store is the full persistence surface used by the orchestrator.
type Store interface {
	StatusStore
	ResultStore
	MetricsStore
	ConfigStore
	// Close releases the underlying connections.
	Close(ctx context.Context) error
}
