// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/promptlab/services/experiments"
	"github.com/AleutianAI/promptlab/services/experiments/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the experiments HTTP API",
		Long: `Starts the HTTP API under /v1/experiments with Prometheus metrics on
/metrics. SIGINT or SIGTERM drains in-flight requests and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx)
		},
	}
	f := cmd.Flags()
	f.String("host", "127.0.0.1", "listen host")
	f.Int("port", 8090, "listen port")
	f.String("seed", "", "YAML seed file of A/B experiments to register at startup")
	f.Bool("watch-seed", false, "re-apply the seed file when it changes")
	return cmd
}

// runServe runs the server until ctx is cancelled.
//
// Description:
//
//	Initialises telemetry, opens the backend, applies the seed file, then
//	runs the HTTP server, its shutdown watcher and the optional seed
//	watcher in one errgroup. The first failure cancels the rest.
func (a *app) runServe(ctx context.Context) error {
	logger := a.logger.Slog()
	cfg := a.cfg
	if path := a.rootLogger.FilePath(); path != "" {
		logger.Info("Writing logs to file", "path", path)
	}

	tcfg := cfg.Telemetry
	tcfg.ServiceVersion = experiments.ServiceVersion
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	be, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	if cfg.Seed.Path != "" {
		if _, err := applyStartupSeed(ctx, be.svc, cfg.Seed.Path, logger); err != nil {
			return err
		}
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(be.svc, logger, tcfg.ServiceName)
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var watcher *experiments.SeedWatcher
	if cfg.Seed.Path != "" && cfg.Seed.Watch {
		watcher, err = experiments.NewSeedWatcher(cfg.Seed.Path, be.svc, logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting promptlab server",
			"address", addr,
			"storage", cfg.Storage.Backend,
			"epsilon", cfg.Bandit.Epsilon)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down promptlab server")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	return g.Wait()
}

// applyStartupSeed registers the experiments in the seed file at path.
//
// Description:
//
//	A missing or malformed file is fatal. Entries that fail validation or
//	creation are logged and counted in the report; the remaining entries
//	are still applied and the server starts.
func applyStartupSeed(ctx context.Context, svc *experiments.Service, path string, logger *slog.Logger) (experiments.SeedReport, error) {
	seed, err := experiments.LoadSeedFile(path)
	if err != nil {
		return experiments.SeedReport{}, fmt.Errorf("load seed: %w", err)
	}
	report, err := experiments.ApplySeed(ctx, svc, seed, logger)
	if err != nil {
		logger.Warn("Some seed experiments were not registered",
			"path", path,
			"failed", report.Failed,
			"error", err)
	}
	return report, nil
}

// newRouter builds the gin engine with tracing, recovery, request logging,
// the experiments API and /metrics.
func newRouter(svc *experiments.Service, logger *slog.Logger, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(otelgin.Middleware(serviceName))
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	v1 := router.Group("/v1")
	experiments.RegisterRoutes(v1, experiments.NewHandlers(svc).WithLogger(logger))

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return router
}

// requestLogger logs one line per request at Debug, or Warn for 5xx.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.Writer.Header().Get("X-Request-ID"),
			"trace_id", telemetry.TraceID(c.Request.Context()))
	}
}
