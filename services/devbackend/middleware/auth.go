// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the dev backend's gin middleware: cookie
// authentication, CSRF checks, request IDs and access logging.
package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sunggeunkim/church-history/services/devbackend/store"
)

// Cookie and header names shared with the client.
const (
	AccessCookie  = "toledot_access"
	RefreshCookie = "toledot_refresh"
	CSRFCookie    = "csrftoken"
	CSRFHeader    = "X-CSRFToken"
	RequestHeader = "X-Request-ID"
)

const (
	userKey      = "toledot_user"
	requestIDKey = "toledot_request_id"
)

// Response bodies match the production backend so the client's error
// mapping is exercised for real.
const (
	DetailNoCredentials = "Authentication credentials were not provided."
	DetailTokenInvalid  = "Given token not valid for any token type"
	CodeTokenInvalid    = "token_not_valid"
	DetailCSRFMissing   = "CSRF Failed: CSRF token missing."
	DetailCSRFMismatch  = "CSRF Failed: CSRF token incorrect."
)

// =============================================================================
// Authentication
// =============================================================================

// SetUser stores the authenticated user in the gin context.
func SetUser(c *gin.Context, u store.User) {
	c.Set(userKey, u)
}

// GetUser returns the authenticated user. ok is false on routes that
// did not run Authenticate.
func GetUser(c *gin.Context) (store.User, bool) {
	v, exists := c.Get(userKey)
	if !exists {
		return store.User{}, false
	}
	u, ok := v.(store.User)
	return u, ok
}

// Authenticate resolves the access cookie to a user or aborts with 401.
//
// # Description
//
// A missing cookie yields {"detail": DetailNoCredentials}. An unknown or
// expired token yields {"detail": DetailTokenInvalid, "code":
// "token_not_valid"}, which the client treats as a signal to refresh.
func Authenticate(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		access, err := c.Cookie(AccessCookie)
		if err != nil || access == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": DetailNoCredentials})
			return
		}
		user, err := s.Authenticate(access)
		if err != nil {
			if !errors.Is(err, store.ErrTokenExpired) && !errors.Is(err, store.ErrTokenInvalid) {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "A server error occurred."})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"detail": DetailTokenInvalid,
				"code":   CodeTokenInvalid,
			})
			return
		}
		SetUser(c, user)
		c.Next()
	}
}

// =============================================================================
// CSRF
// =============================================================================

// CSRF enforces the double-submit check on unsafe methods: the
// X-CSRFToken header must equal the csrftoken cookie.
func CSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			c.Next()
			return
		}
		cookie, err := c.Cookie(CSRFCookie)
		if err != nil || cookie == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "CSRF Failed: CSRF cookie not set."})
			return
		}
		header := c.GetHeader(CSRFHeader)
		if header == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": DetailCSRFMissing})
			return
		}
		if subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": DetailCSRFMismatch})
			return
		}
		c.Next()
	}
}

// =============================================================================
// Request ID and logging
// =============================================================================

// RequestID tags each request with an ID, reusing the caller's
// X-Request-ID when present, and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestHeader, id)
		c.Next()
	}
}

// GetRequestID returns the ID assigned by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Logger writes one structured line per request.
func Logger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", GetRequestID(c),
		}
		if u, ok := GetUser(c); ok {
			attrs = append(attrs, "user_id", u.ID)
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request failed", attrs...)
		case status >= http.StatusBadRequest:
			logger.Warn("request rejected", attrs...)
		default:
			logger.Info("request served", attrs...)
		}
	}
}
