// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the client-side models for the Toledot chat
// subsystem and their mapping from the backend's snake_case wire format.
//
// This file contains the chat session model. Message and citation models
// live in message.go; wire structs and mapping functions live in wire.go.
package datatypes

import "time"

// Session is one conversation with the tutor.
//
// # Description
//
// Sessions are created explicitly by the user or implicitly when an era is
// first discussed. The backend assigns a title after the first exchange,
// which the client picks up by reloading the session list.
//
// # Fields
//
//   - ID: Backend identifier, always normalized to a string.
//   - Title: Display title. May be empty until the backend renames it.
//   - EraID: Optional associated era (topic). Nil when the session is general.
//   - EraName: Display name of the era, when the backend includes it.
//   - IsArchived: Archive flag maintained by the backend.
//   - MessageCount: Number of persisted messages, when included.
//   - CreatedAt, UpdatedAt: Backend timestamps. Zero if unparseable.
type Session struct {
	ID           string
	Title        string
	EraID        *string
	EraName      string
	IsArchived   bool
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasEra reports whether the session is scoped to an era.
func (s Session) HasEra() bool {
	return s.EraID != nil && *s.EraID != ""
}

// SessionUpdate carries a partial update for PATCH /chat/sessions/{id}/.
// Nil fields are left untouched by the backend.
type SessionUpdate struct {
	Title      *string `json:"title,omitempty"`
	IsArchived *bool   `json:"is_archived,omitempty"`
}

// RemoveSession returns sessions without the entry whose ID equals id.
// The input slice is not modified.
func RemoveSession(sessions []Session, id string) []Session {
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

// CopySessions returns a shallow copy of sessions. EraID pointers are shared,
// which is safe because sessions are never mutated in place.
func CopySessions(sessions []Session) []Session {
	if sessions == nil {
		return nil
	}
	out := make([]Session, len(sessions))
	copy(out, sessions)
	return out
}
