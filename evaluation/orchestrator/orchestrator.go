//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package orchestrator runs evaluation processes: one background run per
// process, models evaluated strictly in order, one batch metrics call over
// everything the models produced. Process status lives in an in-process
// cache owned by the orchestrator and is mirrored to the store; the cache
// copy stays authoritative while the process is held.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalkit/evalkit/evaluation/batch"
	"github.com/evalkit/evalkit/evaluation/dataset"
	"github.com/evalkit/evalkit/evaluation/status"
	"github.com/evalkit/evalkit/evaluation/store"
	"github.com/evalkit/evalkit/log"
)

var (
	// ErrConflict reports a start attempt while the user already has a
	// non-terminal process.
	ErrConflict = errors.New("user already has an active evaluation process")
	// ErrNotFound reports an unknown process ID.
	ErrNotFound = errors.New("evaluation process not found")
	// ErrClosed reports use of a closed orchestrator.
	ErrClosed = errors.New("orchestrator is closed")
)

// DefaultRetention is how long finalized processes stay in the status cache.
const DefaultRetention = 30 * time.Minute

// MetricsClient is the surface the orchestrator needs from the metrics
// engine; both the HTTP client and an in-process engine satisfy it.
type MetricsClient interface {
	CalculateBatch(ctx context.Context, req *batch.Request) (*batch.Response, error)
}

// Request describes one evaluation process to start.
type Request struct {
	UserID       string            `json:"user_id"`
	Models       []string          `json:"models"`
	DatasetPath  string            `json:"dataset_path"`
	MetricNames  []string          `json:"metric_names"`
	GlobalConfig map[string]string `json:"global_config,omitempty"`
}

// Validate checks the request shape.
func (r *Request) Validate() error {
	if r == nil {
		return errors.New("request is nil")
	}
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if len(r.Models) == 0 {
		return errors.New("at least one model is required")
	}
	if r.DatasetPath == "" {
		return errors.New("dataset_path is required")
	}
	if len(r.MetricNames) == 0 {
		return errors.New("at least one metric is required")
	}
	return nil
}

// Options holds the orchestrator configuration.
type Options struct {
	Store     store.Store
	Loader    dataset.Loader
	Metrics   MetricsClient
	Retention time.Duration
}

// Option configures the orchestrator.
type Option func(*Options)

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(o *Options) { o.Store = s }
}

// WithLoader sets the dataset loader.
func WithLoader(l dataset.Loader) Option {
	return func(o *Options) { o.Loader = l }
}

// WithMetricsClient sets the metrics engine client.
func WithMetricsClient(m MetricsClient) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithRetention sets how long finalized processes stay cached.
func WithRetention(d time.Duration) Option {
	return func(o *Options) { o.Retention = d }
}

// process is one cached evaluation process.
type process struct {
	status      *store.ProcessStatus
	request     *Request
	cancel      context.CancelFunc
	stopped     bool
	finalizedAt time.Time
	done        chan struct{}
}

func (p *process) terminal() bool {
	return !p.finalizedAt.IsZero()
}

// Orchestrator starts, tracks and stops evaluation processes.
type Orchestrator struct {
	store     store.Store
	loader    dataset.Loader
	metrics   MetricsClient
	retention time.Duration

	mu     sync.Mutex
	procs  map[string]*process
	closed bool
	wg     sync.WaitGroup
}

// New creates an orchestrator. Store, loader and metrics client are all
// required.
func New(opt ...Option) (*Orchestrator, error) {
	opts := &Options{Retention: DefaultRetention}
	for _, o := range opt {
		o(opts)
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Loader == nil {
		return nil, errors.New("dataset loader is required")
	}
	if opts.Metrics == nil {
		return nil, errors.New("metrics client is required")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Orchestrator{
		store:     opts.Store,
		loader:    opts.Loader,
		metrics:   opts.Metrics,
		retention: opts.Retention,
		procs:     make(map[string]*process),
	}, nil
}

// Start validates the request, persists its configuration and initial status
// and launches the background run. It returns the new process ID immediately.
// A user can hold at most one non-terminal process at a time.
func (o *Orchestrator) Start(ctx context.Context, req *Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	o.purgeLocked(time.Now())
	for _, p := range o.procs {
		if p.status.UserID == req.UserID && !p.terminal() {
			o.mu.Unlock()
			return "", fmt.Errorf("%w: process %s", ErrConflict, p.status.ProcessID)
		}
	}
	processID := uuid.NewString()
	now := time.Now().UTC()
	models := make([]*store.ModelStatus, 0, len(req.Models))
	for _, name := range req.Models {
		models = append(models, &store.ModelStatus{
			ConfigID:  uuid.NewString(),
			ModelName: name,
			State:     status.ModelStateNotStarted.String(),
		})
	}
	proc := &process{
		status: &store.ProcessStatus{
			ProcessID:    processID,
			UserID:       req.UserID,
			OverallState: status.ProcessStatePending.String(),
			Models:       models,
			StartTime:    now,
			UpdatedAt:    now,
		},
		request: req,
		done:    make(chan struct{}),
	}
	o.procs[processID] = proc
	o.mu.Unlock()

	// Config and initial status are durable before the run starts, so a
	// crash between Start and the first transition leaves a visible Pending
	// record rather than nothing.
	cfg := &store.ConfigRecord{
		ProcessID:    processID,
		UserID:       req.UserID,
		Models:       req.Models,
		DatasetPath:  req.DatasetPath,
		MetricNames:  req.MetricNames,
		GlobalConfig: req.GlobalConfig,
		CreatedAt:    now,
	}
	if err := o.store.SaveConfig(ctx, cfg); err != nil {
		o.remove(processID)
		return "", fmt.Errorf("persist process config: %w", err)
	}
	if err := o.saveStatus(ctx, proc.status); err != nil {
		o.remove(processID)
		return "", fmt.Errorf("persist initial status: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	if o.closed {
		delete(o.procs, processID)
		o.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	proc.cancel = cancel
	o.wg.Add(1)
	o.mu.Unlock()
	go o.run(runCtx, proc)
	log.Infof("evaluation process started: id=%s user=%s models=%d metrics=%d",
		processID, req.UserID, len(req.Models), len(req.MetricNames))
	return processID, nil
}

// Status returns the current process status, cache first, store second.
func (o *Orchestrator) Status(ctx context.Context, processID string) (*store.ProcessStatus, error) {
	o.mu.Lock()
	o.purgeLocked(time.Now())
	if proc, ok := o.procs[processID]; ok {
		st := copyStatus(proc.status)
		o.mu.Unlock()
		return st, nil
	}
	o.mu.Unlock()
	st, err := o.store.GetStatus(ctx, processID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("process %s: %w", processID, ErrNotFound)
	}
	return st, err
}

// Wait blocks until the process reaches a terminal state or the timeout
// elapses, then returns the current status. Processes not held in the cache
// return their stored status immediately.
func (o *Orchestrator) Wait(ctx context.Context, processID string, timeout time.Duration) (*store.ProcessStatus, error) {
	o.mu.Lock()
	proc, cached := o.procs[processID]
	o.mu.Unlock()
	if cached && timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-proc.done:
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.Status(ctx, processID)
}

// Stop requests cancellation of a running process. It is idempotent:
// stopping a terminal or already-stopped process succeeds without effect.
func (o *Orchestrator) Stop(ctx context.Context, processID string) error {
	o.mu.Lock()
	proc, ok := o.procs[processID]
	if !ok {
		o.mu.Unlock()
		// Not cached: the process either finished long ago or never existed.
		if _, err := o.store.GetStatus(ctx, processID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("process %s: %w", processID, ErrNotFound)
			}
			return err
		}
		return nil
	}
	if proc.terminal() || proc.stopped {
		o.mu.Unlock()
		return nil
	}
	proc.stopped = true
	proc.status.OverallState = status.ProcessStateStopped.String()
	proc.status.UpdatedAt = time.Now().UTC()
	cancel := proc.cancel
	st := copyStatus(proc.status)
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	log.Infof("evaluation process stop requested: id=%s", processID)
	return o.saveStatus(ctx, st)
}

// Results returns one page of the user's model results plus the total count.
func (o *Orchestrator) Results(ctx context.Context, userID string, page, pageSize int) ([]*store.ModelResult, int64, error) {
	return o.store.ListResultsByUser(ctx, userID, page, pageSize)
}

// ProcessResults returns all model results of one process.
func (o *Orchestrator) ProcessResults(ctx context.Context, processID string) ([]*store.ModelResult, error) {
	if _, err := o.Status(ctx, processID); err != nil {
		return nil, err
	}
	return o.store.ListResults(ctx, processID)
}

// Close stops accepting new processes, cancels running ones and waits for
// their goroutines to drain.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, proc := range o.procs {
		if proc.cancel != nil && !proc.terminal() {
			proc.cancel()
		}
	}
	o.mu.Unlock()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the background body of one process.
func (o *Orchestrator) run(ctx context.Context, proc *process) {
	defer o.wg.Done()
	o.transitionOverall(proc, status.ProcessStateInProgress)

	type modelItems struct {
		model *store.ModelStatus
		start int
		count int
	}
	var (
		allItems  []*batch.Item
		completed []modelItems
	)
	for _, model := range proc.status.Models {
		if o.stopRequested(proc) || ctx.Err() != nil {
			break
		}
		o.transitionModel(proc, model, status.ModelStateInProgress, "")
		items, err := o.loader.Load(ctx, proc.request.DatasetPath, model.ModelName)
		if err != nil {
			// One broken model never takes the rest of the run down.
			log.Errorf("process %s model %s failed: %v", proc.status.ProcessID, model.ModelName, err)
			o.transitionModel(proc, model, status.ModelStateFailed, err.Error())
			continue
		}
		start := len(allItems)
		for i, it := range items {
			allItems = append(allItems, &batch.Item{
				ItemID: strconv.Itoa(start + i),
				Data:   it,
			})
		}
		completed = append(completed, modelItems{model: model, start: start, count: len(items)})
		o.transitionModel(proc, model, status.ModelStateCompleted, "")
	}

	// Metrics stage. Failures here are logged and leave no results, but the
	// process outcome is decided by the model stages alone.
	if len(allItems) > 0 && !o.stopRequested(proc) && ctx.Err() == nil {
		resp, err := o.metrics.CalculateBatch(ctx, &batch.Request{
			Items:        allItems,
			MetricNames:  proc.request.MetricNames,
			ProcessID:    proc.status.ProcessID,
			UserID:       proc.status.UserID,
			GlobalConfig: proc.request.GlobalConfig,
		})
		if err != nil {
			log.Errorf("process %s metrics stage failed: %v", proc.status.ProcessID, err)
		} else {
			for _, mi := range completed {
				o.saveModelOutcome(proc, mi.model, resp, mi.start, mi.count)
			}
		}
	}
	o.finalize(proc)
}

// saveModelOutcome stores the slice of the batch response belonging to one
// model, plus its metrics summary record.
func (o *Orchestrator) saveModelOutcome(proc *process, model *store.ModelStatus, resp *batch.Response, start, count int) {
	if start+count > len(resp.Results) {
		log.Errorf("process %s model %s: response shorter than expected", proc.status.ProcessID, model.ModelName)
		return
	}
	results := resp.Results[start : start+count]
	var ok, failed int
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			failed++
		}
	}
	ctx := context.Background()
	now := time.Now().UTC()
	err := o.store.SaveResult(ctx, &store.ModelResult{
		ProcessID:       proc.status.ProcessID,
		UserID:          proc.status.UserID,
		ModelName:       model.ModelName,
		Results:         results,
		SuccessfulCount: ok,
		FailedCount:     failed,
		CreatedAt:       now,
	})
	if err != nil {
		log.Errorf("process %s model %s: save result: %v", proc.status.ProcessID, model.ModelName, err)
	}
	err = o.store.SaveMetrics(ctx, &store.MetricsRecord{
		ProcessID:            proc.status.ProcessID,
		ModelName:            model.ModelName,
		MetricNames:          proc.request.MetricNames,
		SummaryStats:         resp.SummaryStats,
		TotalExecutionTimeMS: resp.TotalExecutionTimeMS,
		CreatedAt:            now,
	})
	if err != nil {
		log.Errorf("process %s model %s: save metrics: %v", proc.status.ProcessID, model.ModelName, err)
	}
}

// finalize computes the terminal overall state and persists it.
func (o *Orchestrator) finalize(proc *process) {
	o.mu.Lock()
	now := time.Now().UTC()
	switch {
	case proc.stopped:
		proc.status.OverallState = status.ProcessStateStopped.String()
	case allModelsCompleted(proc.status.Models):
		proc.status.OverallState = status.ProcessStateCompleted.String()
	default:
		proc.status.OverallState = status.ProcessStateFailed.String()
		proc.status.ErrorMessage = firstModelError(proc.status.Models)
	}
	proc.status.EndTime = now
	proc.status.UpdatedAt = now
	proc.finalizedAt = now
	st := copyStatus(proc.status)
	close(proc.done)
	o.mu.Unlock()
	if err := o.saveStatus(context.Background(), st); err != nil {
		// The cache copy stays authoritative; readers of this orchestrator
		// still see the terminal state.
		log.Errorf("process %s: persist final status: %v", st.ProcessID, err)
	}
	log.Infof("evaluation process finished: id=%s state=%s", st.ProcessID, st.OverallState)
}

// transitionOverall advances the overall state unless a stop already won.
func (o *Orchestrator) transitionOverall(proc *process, next status.ProcessState) {
	o.mu.Lock()
	if proc.stopped {
		o.mu.Unlock()
		return
	}
	proc.status.OverallState = next.String()
	proc.status.UpdatedAt = time.Now().UTC()
	st := copyStatus(proc.status)
	o.mu.Unlock()
	if err := o.saveStatus(context.Background(), st); err != nil {
		log.Errorf("process %s: persist status: %v", st.ProcessID, err)
	}
}

// transitionModel advances one model's state and mirrors it to the store.
func (o *Orchestrator) transitionModel(proc *process, model *store.ModelStatus, next status.ModelState, errMsg string) {
	o.mu.Lock()
	now := time.Now().UTC()
	model.State = next.String()
	model.ErrorMessage = errMsg
	switch next {
	case status.ModelStateInProgress:
		model.StartTime = now
	case status.ModelStateCompleted, status.ModelStateFailed:
		model.EndTime = now
	}
	proc.status.UpdatedAt = now
	st := copyStatus(proc.status)
	o.mu.Unlock()
	if err := o.saveStatus(context.Background(), st); err != nil {
		log.Errorf("process %s: persist status: %v", st.ProcessID, err)
	}
}

func (o *Orchestrator) stopRequested(proc *process) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return proc.stopped
}

// saveStatus writes the status document with one retry.
func (o *Orchestrator) saveStatus(ctx context.Context, st *store.ProcessStatus) error {
	err := o.store.SaveStatus(ctx, st)
	if err == nil {
		return nil
	}
	log.Warnf("process %s: status write failed, retrying once: %v", st.ProcessID, err)
	return o.store.SaveStatus(ctx, st)
}

// purgeLocked drops finalized processes older than the retention window.
// Callers must hold the lock.
func (o *Orchestrator) purgeLocked(now time.Time) {
	for id, proc := range o.procs {
		if proc.terminal() && now.Sub(proc.finalizedAt) > o.retention {
			delete(o.procs, id)
		}
	}
}

func (o *Orchestrator) remove(processID string) {
	o.mu.Lock()
	delete(o.procs, processID)
	o.mu.Unlock()
}

func allModelsCompleted(models []*store.ModelStatus) bool {
	for _, m := range models {
		if m.State != status.ModelStateCompleted.String() {
			return false
		}
	}
	return true
}

func firstModelError(models []*store.ModelStatus) string {
	for _, m := range models {
		if m.ErrorMessage != "" {
			return fmt.Sprintf("%s: %s", m.ModelName, m.ErrorMessage)
		}
	}
	return ""
}

// copyStatus deep-copies a status document so cache state never escapes.
func copyStatus(st *store.ProcessStatus) *store.ProcessStatus {
	cp := *st
	cp.Models = make([]*store.ModelStatus, len(st.Models))
	for i, m := range st.Models {
		mc := *m
		cp.Models[i] = &mc
	}
	return &cp
}
