//
// Copyright (C) 2025 evalkit authors. All rights reserved.
//
// evalkit is licensed under the Apache License Version 2.0.
//
//

// metricsd serves the batch metrics engine over HTTP.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evalkit/evalkit/evaluation/engine"
	"github.com/evalkit/evalkit/evaluation/metric/judge"
	"github.com/evalkit/evalkit/evaluation/metric/registry"
	engsrv "github.com/evalkit/evalkit/evaluation/server/engine"
	"github.com/evalkit/evalkit/log"
)

func main() {
	var (
		addr        = flag.String("addr", ":8081", "listen address")
		concurrency = flag.Int("concurrency", engine.DefaultConcurrency, "worker pool size per batch")
		judgeModel  = flag.String("judge-model", "", "judge model name; heuristic-only when empty")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()
	log.SetLevel(*logLevel)

	var regOpts []registry.Option
	apiKey := os.Getenv("OPENAI_API_KEY")
	if *judgeModel != "" && apiKey != "" {
		judgeOpts := []judge.Option{judge.WithAPIKey(apiKey)}
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			judgeOpts = append(judgeOpts, judge.WithBaseURL(baseURL))
		}
		j, err := judge.NewOpenAI(*judgeModel, judgeOpts...)
		if err != nil {
			log.Fatalf("create judge: %v", err)
		}
		regOpts = append(regOpts, registry.WithJudge(j))
		log.Infof("judge enabled: model=%s", *judgeModel)
	} else {
		log.Infof("judge disabled, running heuristic-only")
	}

	reg := registry.New(regOpts...)
	eng, err := engine.New(reg, engine.WithConcurrency(*concurrency))
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}
	srv, err := engsrv.New(*addr, eng, reg)
	if err != nil {
		log.Fatalf("create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("serve: %v", err)
		}
	case <-ctx.Done():
		log.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}
}
