// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// =============================================================================
// Wire events
// =============================================================================

// Event types written on the chat stream.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// EventCitation is a citation as carried by the done event.
type EventCitation struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
}

type deltaEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type doneEvent struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Citations []EventCitation `json:"citations"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes chat stream events as Server-Sent Events.
//
// # Description
//
// Every event is one "data: {json}\n\n" frame flushed immediately. The
// stream has no event: or id: fields; the payload's "type" member names
// the event.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use so a heartbeat can
// share the writer with the reply loop.
type SSEWriter interface {
	// WriteDelta sends a fragment of the assistant's reply.
	WriteDelta(content string) error

	// WriteDone ends the stream successfully. citations may be empty but
	// is always encoded as a list.
	WriteDone(messageID string, citations []EventCitation) error

	// WriteError ends the stream with a human-readable failure.
	WriteError(message string) error

	// WriteKeepAlive sends an SSE comment that clients ignore.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter wraps w. It fails when w cannot flush, since buffered
// events would defeat streaming.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) writeData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteDelta(content string) error {
	return w.writeData(deltaEvent{Type: EventDelta, Content: content})
}

func (w *sseWriter) WriteDone(messageID string, citations []EventCitation) error {
	if citations == nil {
		citations = []EventCitation{}
	}
	return w.writeData(doneEvent{Type: EventDone, MessageID: messageID, Citations: citations})
}

func (w *sseWriter) WriteError(message string) error {
	return w.writeData(errorEvent{Type: EventError, Content: message})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, ": keep-alive\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders prepares a response for streaming. Call before the
// first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
