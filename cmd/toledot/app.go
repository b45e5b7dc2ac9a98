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
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sunggeunkim/church-history/pkg/api"
	"github.com/sunggeunkim/church-history/pkg/chat"
	"github.com/sunggeunkim/church-history/pkg/config"
	"github.com/sunggeunkim/church-history/pkg/logging"
	"github.com/sunggeunkim/church-history/pkg/observability"
	"github.com/sunggeunkim/church-history/pkg/stream"
	"github.com/sunggeunkim/church-history/pkg/ux"
)

const serviceName = "toledot-cli"

// errClosed is returned when the coordinator shuts down while a command
// is waiting on it.
var errClosed = errors.New("conversation closed")

// app is everything a command needs, built once per invocation.
type app struct {
	cfg     config.Config
	logger  *logging.Logger
	log     *slog.Logger
	printer *ux.Printer
	client  *api.Client
	streams *stream.Client
	coord   *chat.Coordinator

	registry       *prometheus.Registry
	metricsServer  *http.Server
	shutdownTracer observability.ShutdownFunc

	in          io.Reader
	interactive bool
	invalidated atomic.Bool
}

// newApp loads configuration and wires the clients and the coordinator.
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	path, err := opts.resolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: serviceName,
		JSON:    cfg.Logging.JSON,
		Quiet:   opts.quietLogs,
		Stderr:  opts.errOut,
	})

	a := &app{
		cfg:         cfg,
		logger:      logger,
		log:         logger.Slog(),
		printer:     ux.NewPrinter(opts.out, opts.errOut, opts.mode()),
		registry:    prometheus.NewRegistry(),
		in:          opts.in,
		interactive: opts.interactive(),
	}

	a.shutdownTracer, err = observability.InitTracer(ctx, observability.TracingConfig{
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: serviceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	metrics := observability.NewClientMetrics(a.registry)
	a.client, err = api.NewClient(api.ClientConfig{
		BaseURL:              cfg.BaseURL(),
		Timeout:              cfg.API.Timeout,
		RateLimit:            cfg.API.RateLimit,
		RateBurst:            cfg.API.RateBurst,
		RefreshTimeout:       cfg.API.RefreshTimeout,
		OnSessionInvalidated: a.onSessionInvalidated,
		AccessToken:          cfg.Credentials.AccessToken,
		RefreshToken:         cfg.Credentials.RefreshToken,
		UserAgent:            "toledot/" + version,
		Logger:               a.log,
		Metrics:              metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	// Streams share the cookie jar so refreshed credentials apply to
	// them. The stream timeout bounds each stream instead of the client.
	a.streams, err = stream.NewClient(stream.Config{
		BaseURL:    a.client.BaseURL(),
		HTTPClient: &http.Client{Jar: a.client.Jar()},
		Timeout:    cfg.Stream.Timeout,
		Buffer:     cfg.Stream.Buffer,
		Logger:     a.log,
		Metrics:    metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.coord = chat.NewCoordinator(a.client, chat.NewStreamer(a.streams), chat.Options{
		CancelStreamOnSwitch: cfg.Chat.CancelStreamOnSwitch,
		LoadTimeout:          cfg.Chat.LoadTimeout,
		Logger:               a.log,
	})

	if opts.metricsAddr != "" {
		if err := a.serveMetrics(opts.metricsAddr); err != nil {
			a.Close()
			return nil, err
		}
	}

	// A missing CSRF token only matters for writes, which will fail with
	// a clear 403 on their own.
	if err := a.client.FetchCSRFToken(ctx); err != nil {
		a.log.Debug("continuing without csrf token", "error", err)
	}
	return a, nil
}

// onSessionInvalidated runs once when credentials cannot be refreshed.
func (a *app) onSessionInvalidated(err error) {
	a.invalidated.Store(true)
	a.log.Warn("session invalidated", "error", err)
	a.printer.Warning("Your session has expired. Set fresh TOLEDOT_ACCESS_TOKEN and TOLEDOT_REFRESH_TOKEN values and try again.")
}

// serveMetrics exposes the client metrics on addr until Close.
func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server stopped", "error", err)
		}
	}()
	a.log.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

// Close stops the coordinator and flushes telemetry. Safe on a partly
// built app.
func (a *app) Close() {
	if a.coord != nil {
		a.coord.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.metricsServer != nil {
		_ = a.metricsServer.Shutdown(ctx)
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.log.Warn("failed to flush traces", "error", err)
		}
	}
	if err := a.logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}

// waitFor blocks until done accepts the coordinator's state.
func (a *app) waitFor(ctx context.Context, done func(chat.State) bool) (chat.State, error) {
	updates, unsubscribe := a.coord.Subscribe()
	defer unsubscribe()
	for {
		s := a.coord.Snapshot()
		if done(s) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case _, ok := <-updates:
			if !ok {
				return a.coord.Snapshot(), errClosed
			}
		}
	}
}

// openSession makes id active and waits for its history.
func (a *app) openSession(ctx context.Context, id string) (chat.State, error) {
	a.coord.SetActiveSession(id)
	s, err := a.waitFor(ctx, func(s chat.State) bool { return !s.IsLoadingMessages })
	if err != nil {
		return s, err
	}
	if s.Error != "" {
		return s, errors.New(s.Error)
	}
	return s, nil
}
