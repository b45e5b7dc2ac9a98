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
	"errors"
	"fmt"
)

// ErrAborted is the terminal error of a stream that was aborted by its owner.
var ErrAborted = errors.New("stream aborted")

// ErrorKind classifies a StreamError.
type ErrorKind string

const (
	// KindRequest means the request was rejected before it was sent.
	KindRequest ErrorKind = "request"

	// KindHTTP means the backend answered the stream request with a non-2xx status.
	KindHTTP ErrorKind = "http"

	// KindTransport means the connection failed or dropped.
	KindTransport ErrorKind = "transport"

	// KindTimeout means the configured stream timeout expired.
	KindTimeout ErrorKind = "timeout"

	// KindServer means the backend sent an error event.
	KindServer ErrorKind = "server"

	// KindIncomplete means the stream ended without a done event.
	KindIncomplete ErrorKind = "incomplete"
)

// StreamError is the terminal failure of a stream.
//
// # Example
//
//	var streamErr *stream.StreamError
//	if errors.As(err, &streamErr) && streamErr.Kind == stream.KindHTTP {
//	    fmt.Println("backend said", streamErr.Status)
//	}
type StreamError struct {
	Kind ErrorKind

	// Status is the HTTP status for KindHTTP, zero otherwise.
	Status int

	// Message is a human-readable description: the server's error text for
	// KindServer, the response body for KindHTTP.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error returns a formatted error message.
func (e *StreamError) Error() string {
	switch {
	case e.Kind == KindHTTP && e.Message != "":
		return fmt.Sprintf("stream %s error: HTTP %d: %s", e.Kind, e.Status, e.Message)
	case e.Kind == KindHTTP:
		return fmt.Sprintf("stream %s error: HTTP %d", e.Kind, e.Status)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("stream %s error: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("stream %s error: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("stream %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("stream %s error", e.Kind)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// MalformedEventError describes an event payload that could not be used.
// The reader skips such events; this error is only ever logged.
type MalformedEventError struct {
	// Data is the raw payload, truncated.
	Data string

	// Reason says why the payload was rejected.
	Reason string

	Err error
}

// Error returns a formatted error message.
func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed event (%s)", e.Reason)
}

// Unwrap returns the decode error, if any.
func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

var (
	_ error = (*StreamError)(nil)
	_ error = (*MalformedEventError)(nil)
)
