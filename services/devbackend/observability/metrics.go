// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the dev backend's Prometheus metrics.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "toledot"
	backendSubsystem = "devbackend"
)

// Stream outcomes.
const (
	StreamCompleted    = "completed"
	StreamFailed       = "failed"
	StreamDisconnected = "disconnected"
	StreamRateLimited  = "rate_limited"
)

// Metrics are the dev backend's collectors.
//
// # Thread Safety
//
// Prometheus collectors are safe for concurrent use. A nil *Metrics is
// valid and records nothing, so handlers can run without a registry.
type Metrics struct {
	// RequestsTotal counts HTTP requests by method, route template and status.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes request latency by route template.
	RequestDuration *prometheus.HistogramVec

	// StreamsTotal counts finished streams by outcome.
	StreamsTotal *prometheus.CounterVec

	// ActiveStreams is the number of open SSE responses.
	ActiveStreams prometheus.Gauge

	// DeltasTotal counts delta frames written.
	DeltasTotal prometheus.Counter

	// RefreshTotal counts token refresh attempts by result.
	RefreshTotal *prometheus.CounterVec

	// ScriptReloadsTotal counts reply script reloads by result.
	ScriptReloadsTotal *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"route"},
		),
		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "streams_total",
				Help:      "Finished chat streams by outcome",
			},
			[]string{"outcome"},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "active_streams",
				Help:      "Currently open chat streams",
			},
		),
		DeltasTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "deltas_total",
				Help:      "Delta frames written to chat streams",
			},
		),
		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "token_refresh_total",
				Help:      "Token refresh attempts by result",
			},
			[]string{"result"},
		),
		ScriptReloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "script_reloads_total",
				Help:      "Reply script reloads by result",
			},
			[]string{"result"},
		),
	}
}

// Middleware records request count and latency per route template.
// Unmatched routes are recorded as "unmatched" to bound cardinality.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded balances StreamStarted and counts the outcome.
func (m *Metrics) StreamEnded(outcome string) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.StreamsTotal.WithLabelValues(outcome).Inc()
}

// StreamRejected counts a stream refused before it opened.
func (m *Metrics) StreamRejected(outcome string) {
	if m == nil {
		return
	}
	m.StreamsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordDelta() {
	if m == nil {
		return
	}
	m.DeltasTotal.Inc()
}

func (m *Metrics) RecordRefresh(ok bool) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) RecordScriptReload(ok bool) {
	if m == nil {
		return
	}
	m.ScriptReloadsTotal.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
