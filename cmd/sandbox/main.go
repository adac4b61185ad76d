// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sandbox serves an in-memory reputation audit backend for local
// development of auditctl.
//
// Environment:
//
//	SANDBOX_PORT              listen port (default 8000)
//	SANDBOX_QUEUE_WEBSITES    "false" answers website scans synchronously
//	SANDBOX_PROCESSING_DELAY  pending → processing delay (default 5s)
//	SANDBOX_COMPLETE_DELAY    processing → success delay (default 15s)
//	SANDBOX_LOG_LEVEL         debug, info, warn or error
//	SANDBOX_TRACE             "true" writes spans to stderr
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AleutianAI/auditflow/pkg/logging"
	"github.com/AleutianAI/auditflow/pkg/observability"
	"github.com/AleutianAI/auditflow/services/sandbox"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("sandbox: %v", err)
	}
}

func run() error {
	level, err := logging.ParseLevel(os.Getenv("SANDBOX_LOG_LEVEL"))
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Level: level, Service: "sandbox", JSON: true, Console: os.Stdout})
	if err != nil {
		return err
	}
	defer logger.Close()

	if envBool("SANDBOX_TRACE", false) {
		shutdown, err := observability.SetupStdoutTracing(os.Stderr, sandbox.ServiceName)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("failed to flush traces", "error", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cfg := sandbox.DefaultConfig()
	cfg.QueueWebsiteScans = envBool("SANDBOX_QUEUE_WEBSITES", cfg.QueueWebsiteScans)
	cfg.ProcessingDelay = envDuration("SANDBOX_PROCESSING_DELAY", cfg.ProcessingDelay)
	cfg.CompleteDelay = envDuration("SANDBOX_COMPLETE_DELAY", cfg.CompleteDelay)
	cfg.Logger = logger.Slog()
	cfg.Metrics = sandbox.NewMetrics(reg)
	backend := sandbox.NewBackend(cfg)
	defer backend.Close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	sandbox.SetupRoutes(router, backend, reg)

	port := os.Getenv("SANDBOX_PORT")
	if port == "" {
		port = "8000"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sandbox listening", "addr", srv.Addr, "queue_websites", cfg.QueueWebsiteScans)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("sandbox shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d < 0 {
		return def
	}
	return d
}
