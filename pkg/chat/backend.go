// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chat

import (
	"context"

	"github.com/sunggeunkim/church-history/pkg/api"
	"github.com/sunggeunkim/church-history/pkg/datatypes"
	"github.com/sunggeunkim/church-history/pkg/stream"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Backend is the REST surface the coordinator needs. *api.Client
// implements it.
type Backend interface {
	ListSessions(ctx context.Context) ([]datatypes.Session, error)
	CreateSession(ctx context.Context, eraID *string) (datatypes.Session, error)
	UpdateSession(ctx context.Context, id string, update datatypes.SessionUpdate) (datatypes.Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListMessages(ctx context.Context, sessionID string) ([]datatypes.Message, error)
	CSRFToken() string
}

// Streamer starts a chat stream that reports to cb and returns its abort
// handle. After abort returns no callback may begin.
type Streamer interface {
	Stream(ctx context.Context, req stream.Request, cb stream.Callbacks) (abort func())
}

// StreamerFunc adapts a function to Streamer.
type StreamerFunc func(ctx context.Context, req stream.Request, cb stream.Callbacks) func()

// Stream implements Streamer.
func (f StreamerFunc) Stream(ctx context.Context, req stream.Request, cb stream.Callbacks) func() {
	return f(ctx, req, cb)
}

// NewStreamer adapts a *stream.Client to Streamer.
func NewStreamer(client *stream.Client) Streamer {
	return StreamerFunc(func(ctx context.Context, req stream.Request, cb stream.Callbacks) func() {
		return client.StartWithCallbacks(ctx, req, cb).Abort
	})
}

var _ Backend = (*api.Client)(nil)
