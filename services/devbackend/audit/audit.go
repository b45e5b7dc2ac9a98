// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit records security-relevant actions taken against the dev
// backend, such as logouts, failed refreshes and session deletes.
//
// Events are written to a structured log and kept in a bounded in-memory
// ring so tests and the dev routes can inspect them.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event types.
const (
	EventLogout        = "auth.logout"
	EventRefreshFailed = "auth.refresh_failed"
	EventSessionDelete = "chat.session_delete"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// DefaultCapacity is the ring size used when none is given.
const DefaultCapacity = 256

// Event is one audited action.
//
// UserID and ResourceID are empty when unknown, for example a refresh
// with an unrecognised token.
type Event struct {
	Type       string         `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"user_id,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Outcome    string         `json:"outcome"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	Types  []string
	UserID string
	Since  time.Time
	Limit  int
}

func (f Filter) matches(e Event) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// Logger accepts audit events.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Logger interface {
	Log(ctx context.Context, event Event) error
	Query(ctx context.Context, filter Filter) ([]Event, error)
}

// NopLogger discards events.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) error { return nil }

func (NopLogger) Query(context.Context, Filter) ([]Event, error) { return nil, nil }

// Recorder logs events through slog and keeps the most recent ones.
type Recorder struct {
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

// NewRecorder creates a Recorder holding up to capacity events. A nil
// logger uses slog.Default().
func NewRecorder(logger *slog.Logger, capacity int) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		logger: logger.With("component", "audit"),
		now:    time.Now,
		events: make([]Event, capacity),
	}
}

// Log stores event, stamping it when Timestamp is zero.
func (r *Recorder) Log(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}

	r.mu.Lock()
	r.events[r.next] = event
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	level := slog.LevelInfo
	if event.Outcome != OutcomeSuccess {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "audit event",
		"event_type", event.Type,
		"user_id", event.UserID,
		"resource_id", event.ResourceID,
		"request_id", event.RequestID,
		"outcome", event.Outcome,
	)
	return nil
}

// Query returns matching events, newest first.
func (r *Recorder) Query(_ context.Context, filter Filter) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.events)
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		e := r.events[(r.next-i+len(r.events))%len(r.events)]
		if !filter.matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

var (
	_ Logger = NopLogger{}
	_ Logger = (*Recorder)(nil)
)
