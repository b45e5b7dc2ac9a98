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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response body is kept on HTTPError.
const maxErrorBody = 4096

// ErrAuthExpired is matched by every *AuthExpiredError.
//
//	if errors.Is(err, api.ErrAuthExpired) {
//	    // send the user back to login
//	}
var ErrAuthExpired = errors.New("authentication expired")

// =============================================================================
// NetworkError
// =============================================================================

// NetworkError reports a request that never produced a response.
//
// # Description
//
// Dial failures, TLS errors, connection resets and context cancellation all
// surface as NetworkError. The client never retries these.
type NetworkError struct {
	// Method and Path identify the failed request.
	Method string
	Path   string

	// Err is the transport error.
	Err error
}

// Error returns a formatted error message.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Method, e.Path, e.Err)
}

// Unwrap returns the transport error so context.Canceled can be matched.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// =============================================================================
// HTTPError
// =============================================================================

// HTTPError reports a response with a non-2xx status.
//
// # Example
//
//	var httpErr *api.HTTPError
//	if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
//	    // session already gone
//	}
type HTTPError struct {
	Method string
	Path   string

	// Status is the HTTP status code.
	Status int

	// Body is the (possibly truncated) response body.
	Body string
}

// Error returns a formatted error message.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Status)
}

// Detail extracts the "detail" message Django REST framework puts in error
// bodies, falling back to the status text.
func (e *HTTPError) Detail() string {
	if d := extractDetail(e.Body); d != "" {
		return d
	}
	return http.StatusText(e.Status)
}

// IsStatus reports whether err is an *HTTPError with the given status.
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == status
}

// =============================================================================
// AuthExpiredError
// =============================================================================

// AuthExpiredError reports that credentials could not be recovered: either the
// refresh call failed or a request that was already retried after a refresh
// was rejected again.
type AuthExpiredError struct {
	Method string
	Path   string

	// Cause is the refresh failure, nil for a retry-of-retry rejection.
	Cause error
}

// Error returns a formatted error message.
func (e *AuthExpiredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v: %v", e.Method, e.Path, ErrAuthExpired, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, ErrAuthExpired)
}

// Is makes errors.Is(err, ErrAuthExpired) hold.
func (e *AuthExpiredError) Is(target error) bool {
	return target == ErrAuthExpired
}

// Unwrap returns the refresh failure, if any.
func (e *AuthExpiredError) Unwrap() error {
	return e.Cause
}

var (
	_ error = (*NetworkError)(nil)
	_ error = (*HTTPError)(nil)
	_ error = (*AuthExpiredError)(nil)
)

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func extractDetail(body string) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	return payload.Error
}
