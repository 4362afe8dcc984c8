//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package evaluator exposes the evaluation orchestrator over HTTP: starting
// processes, polling status, reading results and stopping runs.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/evalkit/evalkit/evaluation/metric"
	"github.com/evalkit/evalkit/evaluation/orchestrator"
	"github.com/evalkit/evalkit/log"
)

// maxWaitSeconds caps the status long-poll duration.
const maxWaitSeconds = 60

// healthChecker is satisfied by clients that can probe the remote engine.
type healthChecker interface {
	Health(ctx context.Context) error
}

// Server is the HTTP surface of the evaluation orchestrator.
type Server struct {
	orch       *orchestrator.Orchestrator
	engine     healthChecker
	httpServer *http.Server
}

// New creates the evaluator server listening on addr. The engine health
// checker is optional; without it /healthz reports only local liveness.
func New(addr string, orch *orchestrator.Orchestrator, engine healthChecker) (*Server, error) {
	if orch == nil {
		return nil, errors.New("orchestrator is nil")
	}
	s := &Server{orch: orch, engine: engine}
	router := mux.NewRouter()
	router.HandleFunc("/v1/evaluations", s.handleStart).Methods(http.MethodPost)
	router.HandleFunc("/v1/evaluations/{id}/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/v1/evaluations/{id}/results", s.handleProcessResults).Methods(http.MethodGet)
	router.HandleFunc("/v1/evaluations/{id}/stop", s.handleStop).Methods(http.MethodPost)
	router.HandleFunc("/v1/results", s.handleUserResults).Methods(http.MethodGet)
	router.HandleFunc("/v1/metrics", s.handleCatalog).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           cors.AllowAll().Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start serves until Shutdown or listener failure.
func (s *Server) Start() error {
	log.Infof("evaluator listening on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	processID, err := s.orch.Start(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrConflict):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, orchestrator.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"process_id": processID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wait := parseWait(r.URL.Query().Get("wait"))
	var (
		st  any
		err error
	)
	if wait > 0 {
		st, err = s.orch.Wait(r.Context(), id, wait)
	} else {
		st, err = s.orch.Status(r.Context(), id)
	}
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleProcessResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.orch.ProcessResults(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Stop(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleUserResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	page := parseIntDefault(q.Get("page"), 1)
	pageSize := parseIntDefault(q.Get("page_size"), 10)
	results, total, err := s.orch.Results(r.Context(), userID, page, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metric.DefaultCatalog())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if s.engine != nil {
		if err := s.engine.Health(r.Context()); err != nil {
			// The orchestrator still works through its local fallback, so a
			// down engine degrades rather than fails the service.
			resp["engine"] = "unreachable"
			writeJSON(w, http.StatusOK, resp)
			return
		}
		resp["engine"] = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeOrchestratorError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestrator.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func parseWait(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	if seconds > maxWaitSeconds {
		seconds = maxWaitSeconds
	}
	return time.Duration(seconds) * time.Second
}

func parseIntDefault(raw string, def int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
