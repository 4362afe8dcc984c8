//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// evaluatord serves the evaluation orchestrator over HTTP.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/evalkit/evalkit/evaluation/batch/client"
	"github.com/evalkit/evalkit/evaluation/dataset"
	"github.com/evalkit/evalkit/evaluation/orchestrator"
	evalsrv "github.com/evalkit/evalkit/evaluation/server/evaluator"
	"github.com/evalkit/evalkit/evaluation/store"
	"github.com/evalkit/evalkit/evaluation/store/inmemory"
	"github.com/evalkit/evalkit/evaluation/store/mongodb"
	"github.com/evalkit/evalkit/log"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "listen address")
		engineURL  = flag.String("engine-url", "http://localhost:8081", "metrics engine base URL")
		mongoURI   = flag.String("mongo-uri", "", "MongoDB connection string; in-memory stores when empty")
		mongoDB    = flag.String("mongo-db", "evaluation", "MongoDB database name")
		datasetDir = flag.String("dataset-dir", ".", "base directory for relative dataset paths")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()
	log.SetLevel(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if *mongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		mongoStore, err := mongodb.New(connectCtx,
			mongodb.WithURI(*mongoURI), mongodb.WithDatabase(*mongoDB))
		cancel()
		if err != nil {
			log.Fatalf("connect mongodb: %v", err)
		}
		st = mongoStore
		log.Infof("using mongodb store: db=%s", *mongoDB)
	} else {
		st = inmemory.New()
		log.Infof("using in-memory store")
	}

	metricsClient, err := client.New(*engineURL)
	if err != nil {
		log.Fatalf("create metrics client: %v", err)
	}
	orch, err := orchestrator.New(
		orchestrator.WithStore(st),
		orchestrator.WithLoader(dataset.NewFileLoader(dataset.WithBaseDir(*datasetDir))),
		orchestrator.WithMetricsClient(metricsClient),
	)
	if err != nil {
		log.Fatalf("create orchestrator: %v", err)
	}
	srv, err := evalsrv.New(*addr, orch, metricsClient)
	if err != nil {
		log.Fatalf("create server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("serve: %v", err)
		}
	case <-ctx.Done():
		log.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown server: %v", err)
		}
		if err := orch.Close(shutdownCtx); err != nil {
			log.Errorf("close orchestrator: %v", err)
		}
		if err := st.Close(shutdownCtx); err != nil {
			log.Errorf("close store: %v", err)
		}
	}
}
