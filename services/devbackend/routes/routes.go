// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the dev backend's endpoints onto a gin engine.
package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sunggeunkim/church-history/services/devbackend/audit"
	"github.com/sunggeunkim/church-history/services/devbackend/handlers"
	"github.com/sunggeunkim/church-history/services/devbackend/middleware"
	"github.com/sunggeunkim/church-history/services/devbackend/observability"
	"github.com/sunggeunkim/church-history/services/devbackend/script"
	"github.com/sunggeunkim/church-history/services/devbackend/store"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Store   *store.Store
	Library *script.Library
	Metrics *observability.Metrics
	Logger  *slog.Logger

	// Audit receives logout, refresh failure and delete events. Nil
	// discards them.
	Audit audit.Logger

	// Gatherer backs /metrics. Nil leaves /metrics unmounted.
	Gatherer prometheus.Gatherer

	Cookies handlers.CookieConfig
	Stream  handlers.StreamConfig

	// DevRoutes mounts /api/dev/ helpers such as forced token expiry.
	DevRoutes bool
}

// SetupRoutes registers every endpoint under router. Stream settings
// left nil in deps.Stream are filled from deps.
func SetupRoutes(router *gin.Engine, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopLogger{}
	}
	router.Use(middleware.RequestID(), deps.Metrics.Middleware(), middleware.Logger(deps.Logger))

	router.GET("/health", handlers.HealthCheck)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	streamCfg := deps.Stream
	streamCfg.Store = deps.Store
	streamCfg.Library = deps.Library
	streamCfg.Metrics = deps.Metrics
	if streamCfg.Logger == nil {
		streamCfg.Logger = deps.Logger
	}
	stream := handlers.NewStreamHandler(streamCfg)

	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.GET("/csrf/", handlers.GetCSRFToken(deps.Cookies))
			auth.POST("/token/refresh/", handlers.RefreshToken(deps.Store, deps.Cookies, deps.Metrics, deps.Audit))
		}

		private := api.Group("", middleware.Authenticate(deps.Store), middleware.CSRF())
		{
			private.GET("/accounts/me/", handlers.Me)
			private.POST("/accounts/logout/", handlers.Logout(deps.Store, deps.Cookies, deps.Audit))

			sessions := private.Group("/chat/sessions")
			{
				sessions.GET("/", handlers.ListSessions(deps.Store))
				sessions.POST("/", handlers.CreateSession(deps.Store))
				sessions.GET("/:id/", handlers.GetSession(deps.Store))
				sessions.PATCH("/:id/", handlers.UpdateSession(deps.Store))
				sessions.DELETE("/:id/", handlers.DeleteSession(deps.Store, deps.Audit))
				sessions.GET("/:id/messages/", handlers.ListMessages(deps.Store))
			}
			private.POST("/chat/stream/", stream.Handle)
		}

		if deps.DevRoutes {
			dev := api.Group("/dev")
			dev.POST("/expire-tokens/", handlers.ExpireTokens(deps.Store))
			dev.GET("/audit/", handlers.AuditEvents(deps.Audit))
		}
	}
}
