// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the chat client.
//
// # Description
//
// Prometheus metrics cover the REST client (request counts, latency, auth
// refreshes) and the streaming client (active streams, outcomes, deltas,
// time to first delta). Tracing is OpenTelemetry with either a stdout
// exporter for local debugging or an OTLP/gRPC exporter for a collector.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method on *ClientMetrics is safe to call on a nil receiver, so
// components can be built without metrics.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "toledot"

const (
	apiSubsystem    = "api"
	streamSubsystem = "stream"
)

// ClientMetrics holds the Prometheus metrics of the REST and streaming clients.
//
// # Fields
//
//   - RequestsTotal: REST requests by method and status class
//   - RequestDurationSeconds: REST request latency by method
//   - RefreshTotal: auth refreshes by outcome
//   - RefreshWaiters: callers currently blocked behind a refresh
//   - ActiveStreams: open chat streams
//   - StreamsTotal: finished streams by outcome
//   - DeltasTotal: delta events received
//   - TimeToFirstDeltaSeconds: latency from stream start to first delta
//   - StreamDurationSeconds: stream duration by outcome
type ClientMetrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
	RefreshTotal           *prometheus.CounterVec
	RefreshWaiters         prometheus.Gauge

	ActiveStreams           prometheus.Gauge
	StreamsTotal            *prometheus.CounterVec
	DeltasTotal             prometheus.Counter
	TimeToFirstDeltaSeconds prometheus.Histogram
	StreamDurationSeconds   *prometheus.HistogramVec
}

// NewClientMetrics creates and registers the client metrics on reg.
//
// # Description
//
// Pass prometheus.DefaultRegisterer in a binary and a fresh
// prometheus.NewRegistry() in tests so registrations never collide.
//
// # Limitations
//
//   - Panics if the same metrics are registered twice on one registry.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	factory := promauto.With(reg)

	return &ClientMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "requests_total",
				Help:      "Total REST requests by method and status class",
			},
			[]string{"method", "status"},
		),

		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "request_duration_seconds",
				Help:      "REST request latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),

		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "auth_refresh_total",
				Help:      "Total credential refresh attempts by outcome",
			},
			[]string{"outcome"},
		),

		RefreshWaiters: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "auth_refresh_waiters",
				Help:      "Requests currently waiting on an in-flight credential refresh",
			},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open chat streams",
			},
		),

		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "streams_total",
				Help:      "Total chat streams by outcome",
			},
			[]string{"outcome"},
		),

		DeltasTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "deltas_total",
				Help:      "Total delta events received",
			},
		),

		TimeToFirstDeltaSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "time_to_first_delta_seconds",
				Help:      "Time from stream start to first delta in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
	}
}

// =============================================================================
// Label values
// =============================================================================

// Outcome labels a finished refresh or stream.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeAborted   Outcome = "aborted"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeServer    Outcome = "server_error"
	OutcomeHTTP      Outcome = "http_error"
	OutcomeTransport Outcome = "transport_error"
)

// StatusClass maps an HTTP status to "2xx", "4xx" and so on. Zero means the
// request never got a response.
func StatusClass(status int) string {
	if status <= 0 {
		return "network_error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// =============================================================================
// Helper Methods
// =============================================================================

// ObserveRequest records a finished REST request.
func (m *ClientMetrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, StatusClass(status)).Inc()
	m.RequestDurationSeconds.WithLabelValues(method).Observe(d.Seconds())
}

// RecordRefresh records a settled credential refresh.
func (m *ClientMetrics) RecordRefresh(outcome Outcome) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(string(outcome)).Inc()
}

// SetRefreshWaiters sets the number of callers blocked behind a refresh.
func (m *ClientMetrics) SetRefreshWaiters(n int) {
	if m == nil {
		return
	}
	m.RefreshWaiters.Set(float64(n))
}

// StreamStarted increments the active streams gauge.
func (m *ClientMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active streams gauge and records the outcome.
func (m *ClientMetrics) StreamEnded(outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.StreamsTotal.WithLabelValues(string(outcome)).Inc()
	m.StreamDurationSeconds.WithLabelValues(string(outcome)).Observe(d.Seconds())
}

// RecordDelta counts one delta event.
func (m *ClientMetrics) RecordDelta() {
	if m == nil {
		return
	}
	m.DeltasTotal.Inc()
}

// RecordTimeToFirstDelta records the latency to the first delta.
func (m *ClientMetrics) RecordTimeToFirstDelta(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstDeltaSeconds.Observe(d.Seconds())
}
