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
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message. It is fixed at creation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// Message identifiers
// =============================================================================

// localIDPrefix marks identifiers generated on the client.
const localIDPrefix = "local-"

// MessageID identifies a message either by a client-generated local id
// (pending, not yet acknowledged by the backend) or by the durable id the
// backend assigned (committed).
//
// # Description
//
// The two variants are distinguished by a tag rather than by inspecting the
// string, so a pending id can never be mistaken for a committed one even if
// the backend happened to issue the same text.
//
// # Examples
//
//	id := datatypes.NewPendingID()
//	id.IsPending() // true
//	id.String()    // "pending:local-6f1c..."
//
//	id = datatypes.CommittedID("42")
//	id.Value()     // "42"
type MessageID struct {
	value   string
	pending bool
}

// NewPendingID returns a fresh pending id backed by a random UUID.
func NewPendingID() MessageID {
	return PendingID(localIDPrefix + uuid.New().String())
}

// PendingID wraps a client-generated local id.
func PendingID(localID string) MessageID {
	return MessageID{value: localID, pending: true}
}

// CommittedID wraps a backend-assigned id.
func CommittedID(serverID string) MessageID {
	return MessageID{value: serverID}
}

// IsPending reports whether the id was generated locally.
func (id MessageID) IsPending() bool { return id.pending }

// IsZero reports whether the id is unset.
func (id MessageID) IsZero() bool { return id.value == "" && !id.pending }

// Value returns the raw identifier without its tag.
func (id MessageID) Value() string { return id.value }

// String renders the id; pending ids carry a "pending:" prefix.
func (id MessageID) String() string {
	if id.pending {
		return "pending:" + id.value
	}
	return id.value
}

// =============================================================================
// Citations and messages
// =============================================================================

// Citation is a source reference attached to an assistant message.
type Citation struct {
	Title  string `json:"title" yaml:"title"`
	URL    string `json:"url" yaml:"url"`
	Source string `json:"source" yaml:"source"`
}

// Message is one entry of a conversation transcript.
//
// Only assistant messages carry Sources; use NewUserMessage and
// NewAssistantMessage to construct messages so that holds.
type Message struct {
	ID        MessageID
	Role      Role
	Content   string
	CreatedAt time.Time
	Sources   []Citation
}

// NewUserMessage builds an optimistic user message with a pending id.
func NewUserMessage(content string, createdAt time.Time) Message {
	return Message{
		ID:        NewPendingID(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: createdAt,
	}
}

// NewAssistantMessage builds a finalized assistant message. An empty
// citation list is normalized to nil.
func NewAssistantMessage(id string, content string, createdAt time.Time, sources []Citation) Message {
	return Message{
		ID:        CommittedID(id),
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: createdAt,
		Sources:   normalizeCitations(sources),
	}
}

// CopyMessages returns a copy of messages whose Sources slices are also
// copied, so callers may hold the result without observing later changes.
func CopyMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, m := range messages {
		if m.Sources != nil {
			m.Sources = append([]Citation(nil), m.Sources...)
		}
		out[i] = m
	}
	return out
}

func normalizeCitations(sources []Citation) []Citation {
	if len(sources) == 0 {
		return nil
	}
	return append([]Citation(nil), sources...)
}
