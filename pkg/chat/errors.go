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
	"errors"
	"net/http"

	"github.com/sunggeunkim/church-history/pkg/api"
	"github.com/sunggeunkim/church-history/pkg/stream"
)

// Fallback messages, used when an error carries nothing better to show.
const (
	msgLoadSessions  = "Failed to load chat sessions"
	msgCreateSession = "Failed to create chat session"
	msgDeleteSession = "Failed to delete chat session"
	msgRenameSession = "Failed to rename chat session"
	msgLoadMessages  = "Failed to load messages"
	msgStream        = "Failed to get response"
)

// ErrorMessage turns an error from the api or stream packages into the
// human-readable string shown in the error banner. fallback is used when
// the error has no better description.
func ErrorMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, api.ErrAuthExpired) {
		return "Your session has expired. Please sign in again."
	}

	var streamErr *stream.StreamError
	if errors.As(err, &streamErr) {
		switch streamErr.Kind {
		case stream.KindServer:
			if streamErr.Message != "" {
				return streamErr.Message
			}
		case stream.KindTimeout:
			return "The tutor took too long to respond. Please try again."
		case stream.KindIncomplete:
			return "The response was interrupted. Please try again."
		case stream.KindTransport:
			return "Unable to reach the server. Check your connection and try again."
		case stream.KindHTTP:
			return statusMessage(streamErr.Status, fallback)
		}
		return fallback
	}

	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Status == http.StatusTooManyRequests || httpErr.Status >= 500 {
			return statusMessage(httpErr.Status, fallback)
		}
		if d := httpErr.Detail(); d != "" {
			return d
		}
		return fallback
	}

	var netErr *api.NetworkError
	if errors.As(err, &netErr) {
		if errors.Is(err, context.Canceled) {
			return fallback
		}
		return "Unable to reach the server. Check your connection and try again."
	}

	return fallback
}

func statusMessage(status int, fallback string) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "You're sending messages too quickly. Please wait a moment."
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "Your session has expired. Please sign in again."
	case status >= 500:
		return "The server had a problem. Please try again."
	}
	return fallback
}
