//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a process-local Store for tests and single-node
// deployments. All reads and writes deep-copy so callers can never mutate
// stored state through shared pointers.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/evalkit/evalkit/evaluation/store"
	"github.com/evalkit/evalkit/internal/clone"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu       sync.RWMutex
	statuses map[string]*store.ProcessStatus
	results  map[string][]*store.ModelResult
	metrics  map[string][]*store.MetricsRecord
	configs  map[string]*store.ConfigRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		statuses: make(map[string]*store.ProcessStatus),
		results:  make(map[string][]*store.ModelResult),
		metrics:  make(map[string][]*store.MetricsRecord),
		configs:  make(map[string]*store.ConfigRecord),
	}
}

// SaveStatus upserts the status document keyed by process ID.
func (s *Store) SaveStatus(ctx context.Context, status *store.ProcessStatus) error {
	cp, err := clone.Clone(status)
	if err != nil {
		return fmt.Errorf("clone status: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.ProcessID] = cp
	return nil
}

// GetStatus returns the status for the process, or store.ErrNotFound.
func (s *Store) GetStatus(ctx context.Context, processID string) (*store.ProcessStatus, error) {
	s.mu.RLock()
	status, ok := s.statuses[processID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("status %s: %w", processID, store.ErrNotFound)
	}
	return clone.Clone(status)
}

// SaveResult upserts the result document keyed by process ID and model.
func (s *Store) SaveResult(ctx context.Context, result *store.ModelResult) error {
	cp, err := clone.Clone(result)
	if err != nil {
		return fmt.Errorf("clone result: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	results := s.results[result.ProcessID]
	for i, existing := range results {
		if existing.ModelName == result.ModelName {
			results[i] = cp
			return nil
		}
	}
	s.results[result.ProcessID] = append(results, cp)
	return nil
}

// ListResults returns all model results for the process, insertion order.
func (s *Store) ListResults(ctx context.Context, processID string) ([]*store.ModelResult, error) {
	// Hold the lock through the clone: upserts replace elements of the same
	// backing slice in place.
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := s.results[processID]
	out := make([]*store.ModelResult, 0, len(results))
	for _, r := range results {
		cp, err := clone.Clone(r)
		if err != nil {
			return nil, fmt.Errorf("clone result: %w", err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// ListResultsByUser returns one page of the user's results, newest first.
func (s *Store) ListResultsByUser(ctx context.Context, userID string, page, pageSize int) ([]*store.ModelResult, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	s.mu.RLock()
	var matched []*store.ModelResult
	for _, results := range s.results {
		for _, r := range results {
			if r.UserID == userID {
				matched = append(matched, r)
			}
		}
	}
	s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*store.ModelResult, 0, end-start)
	for _, r := range matched[start:end] {
		cp, err := clone.Clone(r)
		if err != nil {
			return nil, 0, fmt.Errorf("clone result: %w", err)
		}
		out = append(out, cp)
	}
	return out, total, nil
}

// SaveMetrics upserts the metrics document keyed by process ID and model.
func (s *Store) SaveMetrics(ctx context.Context, record *store.MetricsRecord) error {
	cp, err := clone.Clone(record)
	if err != nil {
		return fmt.Errorf("clone metrics: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.metrics[record.ProcessID]
	for i, existing := range records {
		if existing.ModelName == record.ModelName {
			records[i] = cp
			return nil
		}
	}
	s.metrics[record.ProcessID] = append(records, cp)
	return nil
}

// ListMetrics returns all metrics records for the process.
func (s *Store) ListMetrics(ctx context.Context, processID string) ([]*store.MetricsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.metrics[processID]
	out := make([]*store.MetricsRecord, 0, len(records))
	for _, r := range records {
		cp, err := clone.Clone(r)
		if err != nil {
			return nil, fmt.Errorf("clone metrics: %w", err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// SaveConfig stores the configuration a process was started with.
func (s *Store) SaveConfig(ctx context.Context, record *store.ConfigRecord) error {
	cp, err := clone.Clone(record)
	if err != nil {
		return fmt.Errorf("clone config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[record.ProcessID] = cp
	return nil
}

// GetConfig returns the configuration for the process, or store.ErrNotFound.
func (s *Store) GetConfig(ctx context.Context, processID string) (*store.ConfigRecord, error) {
	s.mu.RLock()
	record, ok := s.configs[processID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("config %s: %w", processID, store.ErrNotFound)
	}
	return clone.Clone(record)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close(ctx context.Context) error { return nil }
