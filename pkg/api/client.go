// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api is the REST client for the Toledot backend.
//
// # Description
//
// Client performs authenticated JSON calls. Credentials live in httpOnly
// cookies held by the client's cookie jar. When a call is rejected with 401
// the client refreshes credentials once through a shared
// RefreshCoordinator and replays the call; concurrent callers that hit 401
// during the refresh wait for it instead of starting their own.
//
// # Architecture
//
//	Client.Do → rate limiter → http.Client (cookie jar) → backend
//	                ↓ 401
//	     RefreshCoordinator (single flight, FIFO waiters)
//	                ↓ success
//	        replay once, marked retried
//
// # Thread Safety
//
// Client is safe for concurrent use and is meant to be shared process-wide.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/sunggeunkim/church-history/pkg/observability"
)

// Cookie names used by the backend.
const (
	AccessCookieName  = "toledot_access"
	RefreshCookieName = "toledot_refresh"
	CSRFCookieName    = "csrftoken"
)

// CSRFHeader carries the session-protection token on mutating requests.
const CSRFHeader = "X-CSRFToken"

// DefaultTimeout bounds each REST call.
const DefaultTimeout = 30 * time.Second

const tracerName = "github.com/sunggeunkim/church-history/pkg/api"

const (
	pathCSRF    = "/auth/csrf/"
	pathRefresh = "/auth/token/refresh/"
)

// =============================================================================
// Configuration
// =============================================================================

// ClientConfig configures a Client.
//
// # Fields
//
//   - BaseURL: API root including the /api prefix (e.g. http://localhost:8000/api).
//   - Timeout: Per-request timeout. Defaults to DefaultTimeout.
//   - RateLimit: Requests per second; zero disables limiting.
//   - RateBurst: Limiter burst. Defaults to 1 when RateLimit is set.
//   - RefreshTimeout: Bound on a credential refresh call.
//   - OnSessionInvalidated: Called once per failed refresh.
//   - AccessToken, RefreshToken: Optional cookies seeded into the jar.
//   - UserAgent: Sent on every request when set.
type ClientConfig struct {
	BaseURL              string
	Timeout              time.Duration
	RateLimit            float64
	RateBurst            int
	RefreshTimeout       time.Duration
	OnSessionInvalidated func(err error)
	AccessToken          string
	RefreshToken         string
	UserAgent            string
	Logger               *slog.Logger
	Metrics              *observability.ClientMetrics
}

// =============================================================================
// Client
// =============================================================================

// Client performs authenticated REST calls against the backend.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	limiter   *rate.Limiter
	refresher *RefreshCoordinator
	csrf      *csrfStore
	userAgent string
	logger    *slog.Logger
	metrics   *observability.ClientMetrics
	tracer    trace.Tracer
}

// NewClient creates a Client with its own cookie jar.
//
// # Examples
//
//	client, err := api.NewClient(api.ClientConfig{
//	    BaseURL: "http://localhost:8000/api",
//	    OnSessionInvalidated: func(err error) {
//	        fmt.Fprintln(os.Stderr, "session expired, sign in again")
//	    },
//	})
func NewClient(cfg ClientConfig) (*Client, error) {
	return NewClientWithHTTPClient(&http.Client{}, cfg)
}

// NewClientWithHTTPClient creates a Client on top of hc.
//
// # Description
//
// hc is copied; if it has no cookie jar a fresh one is attached to the copy.
// Tests use this to route requests to an httptest server or a custom
// transport.
func NewClientWithHTTPClient(hc *http.Client, cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	httpClient := *hc
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = cfg.Timeout
		if httpClient.Timeout <= 0 {
			httpClient.Timeout = DefaultTimeout
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:   base,
		http:      &httpClient,
		csrf:      &csrfStore{},
		userAgent: cfg.UserAgent,
		logger:    logger.With("component", "api"),
		metrics:   cfg.Metrics,
		tracer:    otel.Tracer(tracerName),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	c.refresher = NewRefreshCoordinator(c.refreshCredentials, RefreshConfig{
		Timeout:       cfg.RefreshTimeout,
		OnInvalidated: cfg.OnSessionInvalidated,
		Logger:        c.logger,
		Metrics:       cfg.Metrics,
	})

	c.seedCookies(cfg.AccessToken, cfg.RefreshToken)
	return c, nil
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Jar returns the cookie jar holding the backend credentials. The streaming
// client shares it so streams authenticate with the same cookies.
func (c *Client) Jar() http.CookieJar {
	return c.http.Jar
}

// Refresher exposes the refresh coordinator.
func (c *Client) Refresher() *RefreshCoordinator {
	return c.refresher
}

// Do performs a JSON request and decodes the response body into out.
//
// # Description
//
// body, when non-nil, is encoded as JSON. out, when non-nil, receives the
// decoded response; empty and 204 responses leave it untouched.
//
// # Outputs
//
//   - *NetworkError: no response was received.
//   - *HTTPError: the backend answered with a non-2xx status.
//   - *AuthExpiredError: a 401 could not be recovered by refreshing.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s body: %w", method, path, err)
		}
		payload = data
	}
	return c.do(ctx, method, path, payload, out, false)
}

// Get is shorthand for Do with GET and no body.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any, retried bool) error {
	status, respBody, err := c.send(ctx, method, path, payload, retried)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		if retried {
			c.logger.Warn("request rejected after credential refresh",
				"method", method,
				"path", path,
			)
			return &AuthExpiredError{Method: method, Path: path}
		}

		c.logger.Debug("credentials expired, refreshing",
			"method", method,
			"path", path,
		)
		if err := c.refresher.Refresh(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return &NetworkError{Method: method, Path: path, Err: err}
			}
			return &AuthExpiredError{Method: method, Path: path, Cause: err}
		}
		return c.do(ctx, method, path, payload, out, true)
	}

	if status < 200 || status > 299 {
		return &HTTPError{Method: method, Path: path, Status: status, Body: truncateBody(respBody)}
	}

	if out == nil || status == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// send performs one HTTP exchange and returns the status and full body.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, retried bool) (int, []byte, error) {
	ctx, span := c.tracer.Start(ctx, "api.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
			attribute.Bool("api.retried", retried),
		))
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rate limiter")
			return 0, nil, &NetworkError{Method: method, Path: path, Err: err}
		}
	}

	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return 0, nil, err
	}
	requestID := req.Header.Get("X-Request-ID")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(method, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		c.logger.Error("request failed",
			"request_id", requestID,
			"method", method,
			"path", path,
			"error", err,
		)
		return 0, nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	c.metrics.ObserveRequest(method, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return 0, nil, &NetworkError{Method: method, Path: path, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	c.logger.Debug("request completed",
		"request_id", requestID,
		"method", method,
		"path", path,
		"status_code", resp.StatusCode,
		"retried", retried,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp.StatusCode, body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if isMutating(method) {
		if token := c.csrf.get(); token != "" {
			req.Header.Set(CSRFHeader, token)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// endpoint joins path (which starts with "/") onto the base URL.
func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// refreshCredentials calls the refresh endpoint directly, outside the 401
// handling in do, so a rejected refresh is a plain failure.
func (c *Client) refreshCredentials(ctx context.Context) error {
	status, body, err := c.send(ctx, http.MethodPost, pathRefresh, nil, false)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &HTTPError{Method: http.MethodPost, Path: pathRefresh, Status: status, Body: truncateBody(body)}
	}
	c.adoptCSRFCookie()
	return nil
}

func (c *Client) seedCookies(access, refresh string) {
	var cookies []*http.Cookie
	if access != "" {
		cookies = append(cookies, &http.Cookie{Name: AccessCookieName, Value: access, Path: "/"})
	}
	if refresh != "" {
		cookies = append(cookies, &http.Cookie{Name: RefreshCookieName, Value: refresh, Path: "/"})
	}
	if len(cookies) > 0 {
		c.http.Jar.SetCookies(c.baseURL, cookies)
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
