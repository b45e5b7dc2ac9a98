// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the dev backend's HTTP endpoints.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
	"github.com/sunggeunkim/church-history/services/devbackend/audit"
	"github.com/sunggeunkim/church-history/services/devbackend/middleware"
	"github.com/sunggeunkim/church-history/services/devbackend/observability"
	"github.com/sunggeunkim/church-history/services/devbackend/store"
)

// CookieConfig controls the credential cookies the backend sets.
type CookieConfig struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (cfg CookieConfig) withDefaults() CookieConfig {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = store.DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = store.DefaultRefreshTTL
	}
	return cfg
}

func (cfg CookieConfig) setCredentials(c *gin.Context, access, refresh string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessCookie, access, int(cfg.AccessTTL.Seconds()), "/", "", cfg.Secure, true)
	c.SetCookie(middleware.RefreshCookie, refresh, int(cfg.RefreshTTL.Seconds()), "/", "", cfg.Secure, true)
}

func (cfg CookieConfig) setCSRF(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.CSRFCookie, token, int((365 * 24 * time.Hour).Seconds()), "/", "", cfg.Secure, false)
}

func newCSRFToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetCSRFToken returns the CSRF token, issuing a cookie when the caller
// has none.
func GetCSRFToken(cfg CookieConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(middleware.CSRFCookie)
		if err != nil || token == "" {
			token = newCSRFToken()
		}
		cfg.setCSRF(c, token)
		c.JSON(http.StatusOK, datatypes.CSRFResponse{CSRFToken: token})
	}
}

// RefreshToken exchanges the refresh cookie for new credentials. The
// refresh token and the CSRF token are both rotated.
func RefreshToken(s *store.Store, cfg CookieConfig, metrics *observability.Metrics, auditor audit.Logger) gin.HandlerFunc {
	cfg = cfg.withDefaults()
	return func(c *gin.Context) {
		refresh, err := c.Cookie(middleware.RefreshCookie)
		if err != nil || refresh == "" {
			metrics.RecordRefresh(false)
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Refresh token not found."})
			return
		}
		access, rotated, err := s.Refresh(refresh)
		if err != nil {
			metrics.RecordRefresh(false)
			detail := "Token is invalid"
			if errors.Is(err, store.ErrTokenExpired) {
				detail = "Token is expired"
			}
			_ = auditor.Log(c.Request.Context(), audit.Event{
				Type:      audit.EventRefreshFailed,
				RequestID: middleware.GetRequestID(c),
				Outcome:   audit.OutcomeFailure,
				Detail:    map[string]any{"reason": detail},
			})
			c.JSON(http.StatusUnauthorized, gin.H{"detail": detail, "code": middleware.CodeTokenInvalid})
			return
		}
		metrics.RecordRefresh(true)
		cfg.setCredentials(c, access, rotated)
		cfg.setCSRF(c, newCSRFToken())
		c.JSON(http.StatusOK, gin.H{"detail": "Token refreshed."})
	}
}

// Me returns the authenticated user's profile.
func Me(c *gin.Context) {
	u, ok := middleware.GetUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": middleware.DetailNoCredentials})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           u.ID,
		"email":        u.Email,
		"username":     u.Username,
		"display_name": u.DisplayName,
		"avatar_url":   u.AvatarURL,
		"date_joined":  datatypes.FormatTime(u.DateJoined),
	})
}

// Logout revokes the caller's tokens and clears the credential cookies.
func Logout(s *store.Store, cfg CookieConfig, auditor audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		access, _ := c.Cookie(middleware.AccessCookie)
		refresh, _ := c.Cookie(middleware.RefreshCookie)
		s.Revoke(access, refresh)

		event := audit.Event{
			Type:      audit.EventLogout,
			RequestID: middleware.GetRequestID(c),
			Outcome:   audit.OutcomeSuccess,
		}
		if u, ok := middleware.GetUser(c); ok {
			event.UserID = string(formatID(u.ID))
		}
		_ = auditor.Log(c.Request.Context(), event)

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(middleware.AccessCookie, "", -1, "/", "", cfg.Secure, true)
		c.SetCookie(middleware.RefreshCookie, "", -1, "/", "", cfg.Secure, true)
		c.JSON(http.StatusOK, gin.H{"detail": "Successfully logged out."})
	}
}

// ExpireTokens drops every access token so clients must refresh. It is
// mounted only on the dev routes.
func ExpireTokens(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.ExpireAccessTokens()
		c.Status(http.StatusNoContent)
	}
}

// AuditEvents lists recent audit events, newest first. The optional
// "type" query parameter narrows by event type. Dev routes only.
func AuditEvents(auditor audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := audit.Filter{Limit: 100}
		if t := c.Query("type"); t != "" {
			filter.Types = []string{t}
		}
		events, err := auditor.Query(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not read the audit log."})
			return
		}
		if events == nil {
			events = []audit.Event{}
		}
		c.JSON(http.StatusOK, events)
	}
}

func formatID(id int64) datatypes.FlexString {
	return datatypes.FlexString(strconv.FormatInt(id, 10))
}
