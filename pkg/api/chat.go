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
	"net/http"
	"net/url"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
)

// maxSessionPages bounds how many pages ListSessions follows.
const maxSessionPages = 50

const (
	pathSessions = "/chat/sessions/"
)

func sessionPath(id string) string {
	return pathSessions + url.PathEscape(id) + "/"
}

// ListSessions returns the user's chat sessions, newest first as the backend
// orders them, following pagination.
func (c *Client) ListSessions(ctx context.Context) ([]datatypes.Session, error) {
	var all []datatypes.SessionWire
	for page := 1; page <= maxSessionPages; page++ {
		path := pathSessions
		if page > 1 {
			path = fmt.Sprintf("%s?page=%d", pathSessions, page)
		}

		var resp datatypes.SessionPage
		if err := c.Get(ctx, path, &resp); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		all = append(all, resp.Results...)
		if resp.Next == nil || *resp.Next == "" {
			break
		}
	}
	return datatypes.ToSessions(all), nil
}

// CreateSession creates a session, optionally tied to an era.
func (c *Client) CreateSession(ctx context.Context, eraID *string) (datatypes.Session, error) {
	req := datatypes.CreateSessionRequest{}
	if eraID != nil {
		era := datatypes.FlexString(*eraID)
		req.Era = &era
	}

	var resp datatypes.SessionWire
	if err := c.Do(ctx, http.MethodPost, pathSessions, req, &resp); err != nil {
		return datatypes.Session{}, fmt.Errorf("create session: %w", err)
	}
	return datatypes.ToSession(resp), nil
}

// UpdateSession patches a session's title and/or archived flag.
func (c *Client) UpdateSession(ctx context.Context, id string, update datatypes.SessionUpdate) (datatypes.Session, error) {
	var resp datatypes.SessionWire
	if err := c.Do(ctx, http.MethodPatch, sessionPath(id), update, &resp); err != nil {
		return datatypes.Session{}, fmt.Errorf("update session %s: %w", id, err)
	}
	return datatypes.ToSession(resp), nil
}

// DeleteSession deletes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if err := c.Do(ctx, http.MethodDelete, sessionPath(id), nil, nil); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// ListMessages returns a session's full message history in order.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]datatypes.Message, error) {
	var resp []datatypes.MessageWire
	if err := c.Get(ctx, sessionPath(sessionID)+"messages/", &resp); err != nil {
		return nil, fmt.Errorf("list messages for session %s: %w", sessionID, err)
	}
	return datatypes.ToMessages(resp), nil
}
