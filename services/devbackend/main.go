// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command devbackend runs a local stand-in for the Toledot backend. It
// speaks the same REST and SSE protocol with cookie credentials, CSRF
// and scripted tutor replies, so the CLI can be driven without the real
// service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	pkgobs "github.com/sunggeunkim/church-history/pkg/observability"
	"github.com/sunggeunkim/church-history/pkg/logging"
	"github.com/sunggeunkim/church-history/services/devbackend/audit"
	"github.com/sunggeunkim/church-history/services/devbackend/handlers"
	"github.com/sunggeunkim/church-history/services/devbackend/observability"
	"github.com/sunggeunkim/church-history/services/devbackend/routes"
	"github.com/sunggeunkim/church-history/services/devbackend/script"
	"github.com/sunggeunkim/church-history/services/devbackend/store"
)

const serviceName = "toledot-devbackend"

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "devbackend: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level, err := logging.ParseLevel(getenv("TOLEDOT_LOG_LEVEL", "info"))
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  os.Getenv("TOLEDOT_DEV_LOG_DIR"),
		Service: serviceName,
		JSON:    true,
	})
	defer logger.Close()
	log := logger.Slog()

	shutdownTracer, err := pkgobs.InitTracer(ctx, pkgobs.TracingConfig{
		Exporter:    getenv("TOLEDOT_TRACE_EXPORTER", pkgobs.ExporterNone),
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName: serviceName,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			log.Error("failed to shut down tracer", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	accessTTL := getenvDuration("TOLEDOT_DEV_ACCESS_TTL", store.DefaultAccessTTL)
	refreshTTL := getenvDuration("TOLEDOT_DEV_REFRESH_TTL", store.DefaultRefreshTTL)
	st := store.New(store.Options{AccessTTL: accessTTL, RefreshTTL: refreshTTL})
	user := st.AddUser(getenv("TOLEDOT_DEV_EMAIL", "student@toledot.dev"), "Dev Student")

	access, refresh := os.Getenv("TOLEDOT_DEV_ACCESS_TOKEN"), os.Getenv("TOLEDOT_DEV_REFRESH_TOKEN")
	if access == "" || refresh == "" {
		access, refresh, err = st.IssueTokens(user.ID)
	} else {
		err = st.SeedTokens(user.ID, access, refresh)
	}
	if err != nil {
		return fmt.Errorf("issue dev tokens: %w", err)
	}

	lib, err := script.NewLibrary(os.Getenv("TOLEDOT_DEV_SCRIPT"), log, metrics.RecordScriptReload)
	if err != nil {
		return err
	}
	if err := lib.Watch(ctx); err != nil {
		log.Warn("script hot reload disabled", "error", err)
	}

	gin.SetMode(getenv(gin.EnvGinMode, gin.ReleaseMode))
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, routes.Deps{
		Store:    st,
		Library:  lib,
		Metrics:  metrics,
		Logger:   log,
		Audit:    audit.NewRecorder(log, audit.DefaultCapacity),
		Gatherer: reg,
		Cookies:  handlers.CookieConfig{AccessTTL: accessTTL, RefreshTTL: refreshTTL},
		Stream: handlers.StreamConfig{
			DeltaDelay: getenvDuration("TOLEDOT_DEV_DELTA_DELAY", 0),
			KeepAlive:  15 * time.Second,
			PerMinute:  getenvInt("TOLEDOT_DEV_STREAMS_PER_MINUTE", handlers.DefaultStreamsPerMinute),
			PerHour:    getenvInt("TOLEDOT_DEV_STREAMS_PER_HOUR", handlers.DefaultStreamsPerHour),
		},
		DevRoutes: getenvBool("TOLEDOT_DEV_ROUTES", true),
	})

	port := getenv("TOLEDOT_DEV_PORT", "8000")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Credentials go to stdout so they can be captured by a shell, never
	// to the log.
	fmt.Printf("export TOLEDOT_ORIGIN=http://localhost:%s\n", port)
	fmt.Printf("export TOLEDOT_ACCESS_TOKEN=%s\n", access)
	fmt.Printf("export TOLEDOT_REFRESH_TOKEN=%s\n", refresh)

	errCh := make(chan error, 1)
	go func() {
		log.Info("dev backend listening", "port", port, "user_email", user.Email)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
