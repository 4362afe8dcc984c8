//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package client calls a remote batch evaluation engine over HTTP and
// degrades to a local heuristic engine when the remote stays unreachable.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/evalkit/evalkit/evaluation/batch"
	"github.com/evalkit/evalkit/evaluation/engine"
	"github.com/evalkit/evalkit/evaluation/metric/registry"
	"github.com/evalkit/evalkit/log"
)

// ErrUnreachable reports that every attempt against the remote engine failed
// and no local fallback was available.
var ErrUnreachable = errors.New("metrics engine unreachable")

// batchPath and healthPath are the remote engine routes.
const (
	batchPath  = "/v1/metrics/batch"
	healthPath = "/healthz"
)

// Options holds the client configuration.
type Options struct {
	HTTPClient *http.Client
	Attempts   int
	RetryDelay time.Duration
	Fallback   bool
}

// Option configures the client.
type Option func(*Options)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Options) { o.HTTPClient = hc }
}

// WithAttempts sets how many times a batch call is tried before giving up.
func WithAttempts(n int) Option {
	return func(o *Options) { o.Attempts = n }
}

// WithRetryDelay sets the base delay between attempts. The wait before
// attempt n is n times this delay.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.RetryDelay = d }
}

// WithoutFallback disables the local heuristic engine: exhausted retries
// surface ErrUnreachable instead of a degraded response.
func WithoutFallback() Option {
	return func(o *Options) { o.Fallback = false }
}

// Client evaluates batches against a remote engine.
type Client struct {
	baseURL    string
	httpClient *http.Client
	attempts   int
	retryDelay time.Duration
	fallback   engine.Engine
}

// New creates a client for the engine at baseURL.
func New(baseURL string, opt ...Option) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, errors.New("engine base URL is empty")
	}
	opts := &Options{
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Attempts:   3,
		RetryDelay: time.Second,
		Fallback:   true,
	}
	for _, o := range opt {
		o(opts)
	}
	if opts.Attempts <= 0 {
		return nil, fmt.Errorf("attempts must be positive, got %d", opts.Attempts)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: opts.HTTPClient,
		attempts:   opts.Attempts,
		retryDelay: opts.RetryDelay,
	}
	if opts.Fallback {
		// Heuristic-only local engine. Deterministic and dependency-free, so
		// the orchestrator keeps producing comparable scores while the remote
		// is down.
		local, err := engine.New(registry.New())
		if err != nil {
			return nil, fmt.Errorf("create fallback engine: %w", err)
		}
		c.fallback = local
	}
	return c, nil
}

// CalculateBatch posts the batch to the remote engine, retrying transient
// failures with linearly increasing delays. Invalid requests are never
// retried. When all attempts fail the local heuristic engine answers instead,
// with the degradation recorded in the response summary.
func (c *Client) CalculateBatch(ctx context.Context, req *batch.Request) (*batch.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, c.retryDelay*time.Duration(attempt-1)); err != nil {
				return nil, err
			}
		}
		resp, err := c.post(ctx, body)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, batch.ErrInvalidRequest) {
			return nil, err
		}
		lastErr = err
		log.Warnf("batch attempt %d/%d failed: %v", attempt, c.attempts, err)
	}
	if c.fallback == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
	}
	log.Errorf("metrics engine unreachable after %d attempts, using local heuristics: %v",
		c.attempts, lastErr)
	resp, err := c.fallback.CalculateBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.SummaryStats == nil {
		resp.SummaryStats = make(map[string]string, 2)
	}
	resp.SummaryStats["fallback_mode"] = "true"
	resp.SummaryStats["fallback_reason"] = lastErr.Error()
	return resp, nil
}

// Health checks the remote engine health endpoint. It never falls back.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// post performs one attempt against the batch route.
func (c *Client) post(ctx context.Context, body []byte) (*batch.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+batchPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post batch: %w", err)
	}
	defer httpResp.Body.Close()
	switch {
	case httpResp.StatusCode == http.StatusOK:
		var resp batch.Response
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return nil, fmt.Errorf("decode batch response: %w", err)
		}
		return &resp, nil
	case httpResp.StatusCode == http.StatusBadRequest:
		// The request itself is broken; retrying cannot help.
		return nil, fmt.Errorf("%w: %s", batch.ErrInvalidRequest, errorBody(httpResp.Body))
	default:
		return nil, fmt.Errorf("engine returned status %d: %s",
			httpResp.StatusCode, errorBody(httpResp.Body))
	}
}

// errorBody extracts the error message from an error response, falling back
// to the raw body.
func errorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}

// sleep waits for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
