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
	"context"
	"errors"
	"io"
	"log/slog"
)

// EventCallback receives each event read from a stream. Returning an error
// stops reading and Read returns that error.
type EventCallback func(event Event) error

// Reader reads events from an SSE body.
//
// # Description
//
// Reader combines FrameReader and ParsePayload. Malformed and unknown
// events are logged at debug level and skipped. Reading stops at the first
// terminal event.
//
// # Thread Safety
//
// A Reader holds no per-stream state and may be shared.
type Reader struct {
	logger *slog.Logger
}

// NewReader creates a Reader. A nil logger uses slog.Default().
func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger}
}

// Read reads events from r and passes them to callback in arrival order.
//
// # Outputs
//
//   - nil: a terminal event was delivered.
//   - io.ErrUnexpectedEOF: the body ended before a terminal event.
//   - ctx.Err(): ctx ended between events.
//   - any other error: the body failed to read, or callback failed.
func (r *Reader) Read(ctx context.Context, body io.Reader, callback EventCallback) error {
	frames := NewFrameReader(body)
	index := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := frames.Next()
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		if err != nil {
			// A read error caused by cancellation is reported as such.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}

		event, err := ParsePayload(frame.Data)
		if err != nil {
			r.logger.Debug("skipping stream event", "error", err)
			continue
		}

		event.Index = index
		index++

		if err := callback(event); err != nil {
			return err
		}
		if event.IsTerminal() {
			return nil
		}
	}
}

// ReadAll reads a whole stream and returns its terminal event along with
// the concatenated delta content.
func (r *Reader) ReadAll(ctx context.Context, body io.Reader) (string, Event, error) {
	var (
		content  []byte
		terminal Event
	)
	err := r.Read(ctx, body, func(event Event) error {
		switch event.Type {
		case EventDelta:
			content = append(content, event.Content...)
		case EventDone, EventError:
			terminal = event
		}
		return nil
	})
	return string(content), terminal, err
}
