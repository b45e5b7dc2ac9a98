// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream is the client for the backend's chat event stream.
//
// This file implements the two parsing layers:
//
//	HTTP Response Body → FrameReader (SSE framing) → ParsePayload → Event
//
// FrameReader turns the byte stream into SSE frames: data lines are joined
// with "\n", a blank line dispatches, comment lines are dropped and the
// event/id/retry fields are tolerated. ParsePayload decodes a frame's JSON
// data into an Event by its "type" field.
package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 1024 * 1024
	maxMalformedData  = 256
)

// =============================================================================
// Frame Reader
// =============================================================================

// Frame is one dispatched SSE event.
type Frame struct {
	// Event is the "event:" field, empty for the default message type.
	Event string

	// Data is every "data:" line of the frame joined with "\n".
	Data string

	// ID is the "id:" field.
	ID string
}

// FrameReader splits an SSE byte stream into frames.
//
// # Limitations
//
//   - Lines longer than 1 MiB fail with bufio.ErrTooLong.
//   - A trailing frame without its closing blank line is still dispatched
//     at EOF.
type FrameReader struct {
	scanner *bufio.Scanner
	done    bool
}

// NewFrameReader creates a FrameReader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineBuffer)
	return &FrameReader{scanner: scanner}
}

// Next returns the next frame, or io.EOF when the stream is exhausted.
func (f *FrameReader) Next() (Frame, error) {
	if f.done {
		return Frame{}, io.EOF
	}

	var (
		frame   Frame
		data    []string
		hasData bool
	)

	for f.scanner.Scan() {
		line := f.scanner.Text()

		if line == "" {
			if hasData {
				frame.Data = strings.Join(data, "\n")
				return frame, nil
			}
			frame = Frame{}
			continue
		}

		// Comments, including ": ping" keepalives.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			frame.Event = value
		case "id":
			frame.ID = value
		}
	}

	f.done = true
	if err := f.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if hasData {
		frame.Data = strings.Join(data, "\n")
		return frame, nil
	}
	return Frame{}, io.EOF
}

// splitField splits "field: value"; a single space after the colon is
// part of the separator.
func splitField(line string) (string, string) {
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}

// =============================================================================
// Payload Parser
// =============================================================================

// payload is the JSON body of every frame the backend sends.
type payload struct {
	Type      string                   `json:"type"`
	Content   string                   `json:"content"`
	MessageID datatypes.FlexString     `json:"message_id"`
	Citations []datatypes.CitationWire `json:"citations"`
}

// ParsePayload decodes a frame's data into an Event.
//
// # Description
//
// Recognized types are delta, done and error. Anything else, and any
// payload that is not a JSON object, fails with *MalformedEventError so
// the caller can skip it.
//
// # Examples
//
//	ev, err := stream.ParsePayload(`{"type":"delta","content":"The "}`)
//	// ev.Type == stream.EventDelta, ev.Content == "The "
func ParsePayload(data string) (Event, error) {
	var raw payload
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return Event{}, &MalformedEventError{Data: truncate(data), Reason: "invalid json", Err: err}
	}

	switch EventType(raw.Type) {
	case EventDelta:
		return Event{Type: EventDelta, Content: raw.Content}, nil
	case EventDone:
		return Event{
			Type:      EventDone,
			MessageID: string(raw.MessageID),
			Citations: datatypes.ToCitations(raw.Citations),
		}, nil
	case EventError:
		msg := raw.Content
		if msg == "" {
			msg = "the server reported an error"
		}
		return Event{
			Type:    EventError,
			Content: raw.Content,
			Err:     &StreamError{Kind: KindServer, Message: msg},
		}, nil
	case "":
		return Event{}, &MalformedEventError{Data: truncate(data), Reason: "missing type"}
	default:
		return Event{}, &MalformedEventError{Data: truncate(data), Reason: "unknown type " + raw.Type}
	}
}

func truncate(s string) string {
	if len(s) > maxMalformedData {
		return s[:maxMalformedData] + "..."
	}
	return s
}
