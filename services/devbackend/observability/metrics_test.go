// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/chat/sessions/:id/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/api/chat/sessions/1/", "/api/chat/sessions/2/", "/nowhere"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/chat/sessions/:id/", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestStreamLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.StreamStarted()
	m.StreamStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveStreams))

	m.RecordDelta()
	m.StreamEnded(StreamCompleted)
	m.StreamEnded(StreamDisconnected)
	m.StreamRejected(StreamRateLimited)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveStreams))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeltasTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsTotal.WithLabelValues(StreamCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsTotal.WithLabelValues(StreamRateLimited)))
}

func TestRecordResults(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordRefresh(true)
	m.RecordRefresh(false)
	m.RecordScriptReload(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScriptReloadsTotal.WithLabelValues("failure")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.StreamStarted()
		m.StreamEnded(StreamFailed)
		m.RecordDelta()
		m.RecordRefresh(true)
		m.RecordScriptReload(true)
	})
}
