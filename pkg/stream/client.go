// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
	"github.com/sunggeunkim/church-history/pkg/observability"
)

// DefaultTimeout bounds a whole stream, from request to terminal event.
const DefaultTimeout = 5 * time.Minute

// DefaultBuffer is the number of events buffered between the connection
// and the consumer.
const DefaultBuffer = 64

const (
	streamPath = "/chat/stream/"
	csrfHeader = "X-CSRFToken"
	tracerName = "github.com/sunggeunkim/church-history/pkg/stream"
	maxErrBody = 1024
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Client.
//
// # Fields
//
//   - BaseURL: API root including the /api prefix.
//   - HTTPClient: Client carrying the credential cookie jar. Its Timeout
//     must be zero; stream lifetime is bounded by Timeout instead.
//   - Timeout: Bound on a whole stream. Defaults to DefaultTimeout.
//   - Buffer: Event channel capacity. Defaults to DefaultBuffer.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Buffer     int
	Logger     *slog.Logger
	Metrics    *observability.ClientMetrics
}

// Request is one outgoing chat message.
type Request struct {
	SessionID string
	Message   string

	// CSRFToken is sent as X-CSRFToken when set.
	CSRFToken string
}

// =============================================================================
// Client
// =============================================================================

// Client opens chat streams.
//
// # Description
//
// Each Start opens one POST /chat/stream/ connection and returns a Stream
// handle immediately. The client never retries: a failed stream reports a
// single *StreamError and stops its transport.
//
// # Examples
//
//	client, _ := stream.NewClient(stream.Config{
//	    BaseURL:    apiClient.BaseURL(),
//	    HTTPClient: &http.Client{Jar: apiClient.Jar()},
//	})
//	s := client.Start(ctx, stream.Request{SessionID: "12", Message: "Who was Arius?"})
//	for {
//	    ev, ok := s.Next(ctx)
//	    if !ok {
//	        break
//	    }
//	    if ev.Type == stream.EventDelta {
//	        fmt.Print(ev.Content)
//	    }
//	}
//
// # Thread Safety
//
// Safe for concurrent use; streams are independent.
type Client struct {
	url     string
	http    *http.Client
	timeout time.Duration
	buffer  int
	reader  *Reader
	logger  *slog.Logger
	metrics *observability.ClientMetrics
	tracer  trace.Tracer
}

// NewClient creates a streaming client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("stream client: base url is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout != 0 {
		return nil, errors.New("stream client: http client must not set Timeout; use Config.Timeout")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "stream")

	return &Client{
		url:     base + streamPath,
		http:    httpClient,
		timeout: timeout,
		buffer:  buffer,
		reader:  NewReader(logger),
		logger:  logger,
		metrics: cfg.Metrics,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Start opens a stream and returns its handle without waiting for the
// connection.
//
// # Description
//
// ctx bounds the stream together with the configured timeout. Cancelling
// ctx fails the stream with a transport error; use Stream.Abort to stop
// it silently.
func (c *Client) Start(ctx context.Context, req Request) *Stream {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	s := newStream(uuid.New().String(), c.buffer, cancel)
	go c.run(ctx, s, req)
	return s
}

// StartWithCallbacks opens a stream and delivers its events to cb.
//
// # Description
//
// Callbacks run one at a time, in arrival order, on a goroutine owned by
// the stream. At most one of OnDone and OnError fires. None fires once
// Abort has returned.
func (c *Client) StartWithCallbacks(ctx context.Context, req Request, cb Callbacks) *Stream {
	s := c.Start(ctx, req)
	go s.dispatch(cb)
	return s
}

// run is the producer goroutine of s.
func (c *Client) run(ctx context.Context, s *Stream, req Request) {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()

	ctx, span := c.tracer.Start(ctx, "stream.chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("stream.id", s.id),
			attribute.String("chat.session_id", req.SessionID),
		))
	defer span.End()

	start := time.Now()
	c.metrics.StreamStarted()
	outcome := observability.OutcomeSuccess
	defer func() {
		c.metrics.StreamEnded(outcome, time.Since(start))
		span.SetAttributes(attribute.String("stream.outcome", string(outcome)))
	}()

	logger := c.logger.With("request_id", s.id, "session_id", req.SessionID)

	fail := func(streamErr *StreamError) {
		if s.Aborted() {
			outcome = observability.OutcomeAborted
			return
		}
		outcome = outcomeFor(streamErr.Kind)
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, string(streamErr.Kind))
		logger.Error("chat stream failed",
			"kind", streamErr.Kind,
			"status_code", streamErr.Status,
			"error", streamErr,
		)
		s.emit(Event{Type: EventError, Err: streamErr})
	}

	wire := datatypes.StreamRequest{SessionID: datatypes.FlexString(req.SessionID), Message: req.Message}
	if err := wire.Validate(); err != nil {
		fail(&StreamError{Kind: KindRequest, Err: err})
		return
	}

	resp, err := c.post(ctx, s.id, req.CSRFToken, wire)
	if err != nil {
		fail(c.transportError(ctx, err))
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Debug("failed to close stream body", "error", err)
		}
	}()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		fail(&StreamError{
			Kind:    KindHTTP,
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(body)),
		})
		return
	}

	s.markStreaming()
	logger.Debug("chat stream connected")

	firstDelta := true
	var terminal Event
	err = c.reader.Read(ctx, resp.Body, func(event Event) error {
		if event.Type == EventDelta {
			c.metrics.RecordDelta()
			if firstDelta {
				firstDelta = false
				c.metrics.RecordTimeToFirstDelta(time.Since(start))
			}
		}
		if event.IsTerminal() {
			terminal = event
			if event.Type == EventError {
				// Routed through fail for logging and metrics.
				return nil
			}
		}
		if !s.emit(event) {
			return ErrAborted
		}
		return nil
	})

	switch {
	case s.Aborted():
		outcome = observability.OutcomeAborted
		logger.Debug("chat stream aborted")
	case err == nil && terminal.Type == EventError:
		var streamErr *StreamError
		if !errors.As(terminal.Err, &streamErr) {
			streamErr = &StreamError{Kind: KindServer, Err: terminal.Err}
		}
		fail(streamErr)
	case err == nil:
		logger.Debug("chat stream completed",
			"message_id", terminal.MessageID,
			"citations", len(terminal.Citations),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	case errors.Is(err, io.ErrUnexpectedEOF):
		fail(&StreamError{Kind: KindIncomplete, Message: "stream ended before completion"})
	default:
		fail(c.transportError(ctx, err))
	}
}

func (c *Client) post(ctx context.Context, requestID, csrfToken string, wire datatypes.StreamRequest) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Request-ID", requestID)
	if csrfToken != "" {
		req.Header.Set(csrfHeader, csrfToken)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", streamPath, err)
	}
	return resp, nil
}

// transportError classifies a connection failure, separating the stream
// timeout from other failures.
func (c *Client) transportError(ctx context.Context, err error) *StreamError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &StreamError{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("no completion within %s", c.timeout),
			Err:     err,
		}
	}
	return &StreamError{Kind: KindTransport, Err: err}
}

func outcomeFor(kind ErrorKind) observability.Outcome {
	switch kind {
	case KindTimeout:
		return observability.OutcomeTimeout
	case KindServer:
		return observability.OutcomeServer
	case KindHTTP:
		return observability.OutcomeHTTP
	case KindTransport:
		return observability.OutcomeTransport
	}
	return observability.OutcomeFailure
}
