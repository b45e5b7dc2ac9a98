// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
)

// csrfStore holds the session-protection token. It is written only by
// FetchCSRFToken and by the refresh flow.
type csrfStore struct {
	mu    sync.RWMutex
	token string
}

func (s *csrfStore) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *csrfStore) set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// CSRFToken returns the current session-protection token, or "" if none has
// been fetched.
func (c *Client) CSRFToken() string {
	return c.csrf.get()
}

// FetchCSRFToken fetches the session-protection token from the backend.
//
// # Description
//
// Call once at startup. The token is attached as X-CSRFToken to every
// mutating request. A failure is logged at warn level and returned, but it
// is not fatal: requests still go out and the backend rejects the ones
// that needed the token.
func (c *Client) FetchCSRFToken(ctx context.Context) error {
	var resp datatypes.CSRFResponse
	if err := c.Get(ctx, pathCSRF, &resp); err != nil {
		c.logger.Warn("failed to fetch csrf token", "error", err)
		return fmt.Errorf("fetch csrf token: %w", err)
	}
	if resp.CSRFToken == "" {
		c.logger.Warn("csrf endpoint returned an empty token")
		return fmt.Errorf("fetch csrf token: empty token")
	}
	c.csrf.set(resp.CSRFToken)
	c.logger.Debug("csrf token stored", "csrf_present", true)
	return nil
}

// adoptCSRFCookie picks up a csrftoken cookie rotated by the backend.
func (c *Client) adoptCSRFCookie() {
	for _, cookie := range c.http.Jar.Cookies(c.baseURL) {
		if cookie.Name == CSRFCookieName && cookie.Value != "" && cookie.Value != c.csrf.get() {
			c.csrf.set(cookie.Value)
			c.logger.Debug("adopted rotated csrf token", "csrf_present", true)
			return
		}
	}
}
