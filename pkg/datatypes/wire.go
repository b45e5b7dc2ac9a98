// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxStreamMessageChars mirrors the backend's limit on a chat message.
const MaxStreamMessageChars = 10000

var wireValidate = validator.New()

// =============================================================================
// FlexString
// =============================================================================

// FlexString decodes a JSON string, number, or null into a string.
//
// The backend serializes primary keys as integers while the client treats
// every identifier as an opaque string. Digit-only values are encoded back
// as JSON numbers so requests look the way the backend expects.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flex string: unsupported value %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// MarshalJSON implements json.Marshaler. Only canonical integers become
// JSON numbers; "007" stays a string since 007 is not valid JSON.
func (f FlexString) MarshalJSON() ([]byte, error) {
	s := string(f)
	if s != "" && isDigits(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
			return []byte(s), nil
		}
	}
	return json.Marshal(s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// =============================================================================
// Wire structs (snake_case, as served by the backend)
// =============================================================================

// SessionWire is a chat session as returned by /chat/sessions/.
type SessionWire struct {
	ID           FlexString  `json:"id"`
	Title        string      `json:"title"`
	Era          *FlexString `json:"era"`
	EraName      *string     `json:"era_name,omitempty"`
	CreatedAt    string      `json:"created_at"`
	UpdatedAt    string      `json:"updated_at"`
	IsArchived   bool        `json:"is_archived"`
	MessageCount int         `json:"message_count"`
}

// SessionPage is the paginated envelope of the session list.
type SessionPage struct {
	Count    int           `json:"count"`
	Next     *string       `json:"next"`
	Previous *string       `json:"previous"`
	Results  []SessionWire `json:"results"`
}

// CreateSessionRequest is the body of POST /chat/sessions/.
type CreateSessionRequest struct {
	Title string      `json:"title,omitempty"`
	Era   *FlexString `json:"era"`
}

// CitationWire is a citation record. The message history endpoint uses
// source_name while stream done events may use source.
type CitationWire struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	SourceName string `json:"source_name,omitempty"`
	Source     string `json:"source,omitempty"`
}

// MessageWire is one entry of GET /chat/sessions/{id}/messages/.
type MessageWire struct {
	ID        FlexString     `json:"id"`
	Session   FlexString     `json:"session,omitempty"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	CreatedAt string         `json:"created_at"`
	Citations []CitationWire `json:"citations,omitempty"`
}

// StreamRequest is the body of POST /chat/stream/.
type StreamRequest struct {
	SessionID FlexString `json:"session_id" validate:"required"`
	Message   string     `json:"message" validate:"required,max=10000"`
}

// Validate checks the request against the backend's constraints.
func (r StreamRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message: must not be blank")
	}
	return wireValidate.Struct(r)
}

// CSRFResponse is the body of GET /auth/csrf/.
type CSRFResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// UserWire is the body of GET /accounts/me/.
type UserWire struct {
	ID          FlexString `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url"`
	DateJoined  string     `json:"date_joined"`
}

// User is the signed-in account.
type User struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
}

// =============================================================================
// Mapping
// =============================================================================

// ToSession maps a wire session to the client model.
func ToSession(w SessionWire) Session {
	s := Session{
		ID:           string(w.ID),
		Title:        w.Title,
		IsArchived:   w.IsArchived,
		MessageCount: w.MessageCount,
		CreatedAt:    ParseTime(w.CreatedAt),
		UpdatedAt:    ParseTime(w.UpdatedAt),
	}
	if w.Era != nil && *w.Era != "" {
		era := string(*w.Era)
		s.EraID = &era
	}
	if w.EraName != nil {
		s.EraName = *w.EraName
	}
	return s
}

// ToSessions maps a list of wire sessions.
func ToSessions(ws []SessionWire) []Session {
	out := make([]Session, 0, len(ws))
	for _, w := range ws {
		out = append(out, ToSession(w))
	}
	return out
}

// ToCitation maps a wire citation. Source falls back from source_name to
// source to the empty string.
func ToCitation(w CitationWire) Citation {
	source := w.SourceName
	if source == "" {
		source = w.Source
	}
	return Citation{Title: w.Title, URL: w.URL, Source: source}
}

// ToCitations maps a list of wire citations; empty input yields nil.
func ToCitations(ws []CitationWire) []Citation {
	if len(ws) == 0 {
		return nil
	}
	out := make([]Citation, 0, len(ws))
	for _, w := range ws {
		out = append(out, ToCitation(w))
	}
	return out
}

// ToMessage maps a persisted message. Persisted messages always carry
// committed ids. Citations on user messages are dropped.
func ToMessage(w MessageWire) Message {
	m := Message{
		ID:        CommittedID(string(w.ID)),
		Role:      Role(w.Role),
		Content:   w.Content,
		CreatedAt: ParseTime(w.CreatedAt),
	}
	if m.Role == RoleAssistant {
		m.Sources = ToCitations(w.Citations)
	}
	return m
}

// ToMessages maps a message history.
func ToMessages(ws []MessageWire) []Message {
	out := make([]Message, 0, len(ws))
	for _, w := range ws {
		out = append(out, ToMessage(w))
	}
	return out
}

// ToUser maps the current-user payload.
func ToUser(w UserWire) User {
	return User{
		ID:          string(w.ID),
		Email:       w.Email,
		DisplayName: w.DisplayName,
		AvatarURL:   w.AvatarURL,
		CreatedAt:   ParseTime(w.DateJoined),
	}
}

// ParseTime parses an RFC 3339 timestamp. Unparseable input yields the
// zero time rather than an error; timestamps are informational only.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}

// FormatTime renders t the way the backend does.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
