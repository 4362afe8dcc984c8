//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// Package engine exposes the metrics engine over HTTP: batch calculation,
// the metric catalog and a health probe.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/evalkit/evalkit/evaluation/batch"
	engcore "github.com/evalkit/evalkit/evaluation/engine"
	"github.com/evalkit/evalkit/evaluation/metric/registry"
	"github.com/evalkit/evalkit/log"
)

// Server is the HTTP surface of the metrics engine.
type Server struct {
	engine     engcore.Engine
	registry   registry.Registry
	httpServer *http.Server
}

// New creates the engine server listening on addr.
func New(addr string, eng engcore.Engine, reg registry.Registry) (*Server, error) {
	if eng == nil {
		return nil, errors.New("engine is nil")
	}
	if reg == nil {
		return nil, errors.New("registry is nil")
	}
	s := &Server{engine: eng, registry: reg}
	router := mux.NewRouter()
	router.HandleFunc("/v1/metrics/batch", s.handleBatch).Methods(http.MethodPost)
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
	log.Infof("metrics engine listening on %s", s.httpServer.Addr)
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

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	resp, err := s.engine.CalculateBatch(r.Context(), &req)
	if err != nil {
		if errors.Is(err, batch.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Errorf("batch calculation failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Catalog())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
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
