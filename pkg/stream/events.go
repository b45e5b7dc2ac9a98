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
	"github.com/sunggeunkim/church-history/pkg/datatypes"
)

// EventType discriminates stream events.
type EventType string

const (
	// EventDelta carries an incremental text fragment.
	EventDelta EventType = "delta"

	// EventDone is the terminal success event with the durable message id
	// and citations.
	EventDone EventType = "done"

	// EventError is the terminal failure event. Err holds a *StreamError,
	// or ErrAborted is reported by Stream.Err instead when aborted.
	EventError EventType = "error"
)

// Event is one logical event of a chat stream.
//
// # Fields
//
//   - Type: delta, done or error.
//   - Index: Zero-based position among the events yielded by this stream.
//   - Content: The fragment for delta events.
//   - MessageID: The backend's id of the persisted assistant message (done).
//   - Citations: Sources for the answer (done); nil when there are none.
//   - Err: The failure (error); always a *StreamError.
type Event struct {
	Type      EventType
	Index     int
	Content   string
	MessageID string
	Citations []datatypes.Citation
	Err       error
}

// IsTerminal reports whether no event can follow this one.
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// State is the lifecycle of a Stream.
type State int

const (
	// StateIdle is a stream that has not connected yet.
	StateIdle State = iota

	// StateStreaming is a connected stream that has not finished.
	StateStreaming

	// StateCompleted is a stream that yielded its done event.
	StateCompleted

	// StateFailed is a stream that errored or was aborted.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// IsTerminal reports whether the state can no longer change.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}
