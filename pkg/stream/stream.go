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
	"sync"
	"sync/atomic"
)

// Stream is one in-flight chat response.
//
// # Description
//
// A Stream is produced by Client.Start. Its connection runs on a producer
// goroutine that feeds events into a buffered channel; the owner consumes
// them with Next, or hands them to callbacks with Client.StartWithCallbacks.
//
// State moves Idle → Streaming → Completed or Failed and never goes back.
// The terminal state is set when the terminal event is yielded, or when
// the stream is aborted.
//
// # Thread Safety
//
// Next must be called from one goroutine at a time. Abort, State, Err and
// Done are safe from any goroutine.
type Stream struct {
	id     string
	events chan Event
	cancel context.CancelFunc

	// aborted is closed by Abort so a blocked producer can drop its event.
	aborted   chan struct{}
	abortOnce sync.Once
	done      chan struct{}

	mu    sync.Mutex
	state State
	err   error

	deliverMu  sync.Mutex
	inCallback atomic.Bool
}

func newStream(id string, buffer int, cancel context.CancelFunc) *Stream {
	return &Stream{
		id:      id,
		events:  make(chan Event, buffer),
		cancel:  cancel,
		aborted: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ID returns the request id of the stream.
func (s *Stream) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error: nil while streaming or after done,
// ErrAborted after Abort, a *StreamError after a failure.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the producer goroutine has exited and the connection
// is released.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Next returns the next event in arrival order.
//
// # Description
//
// Next blocks until an event arrives, the stream ends, or ctx is done.
// It returns false after the terminal event has been yielded, after Abort,
// and when ctx ends; the last case leaves the stream running.
//
// An event that was already buffered when Abort was called is never
// yielded.
func (s *Stream) Next(ctx context.Context) (Event, bool) {
	s.mu.Lock()
	finished := s.state.IsTerminal()
	s.mu.Unlock()
	if finished {
		return Event{}, false
	}

	select {
	case event, ok := <-s.events:
		s.mu.Lock()
		defer s.mu.Unlock()
		if !ok || s.state.IsTerminal() {
			return Event{}, false
		}
		if event.Type == EventDone {
			s.state = StateCompleted
		} else if event.Type == EventError {
			s.state = StateFailed
			s.err = event.Err
		}
		return event, true
	case <-ctx.Done():
		return Event{}, false
	}
}

// Abort stops the stream.
//
// # Description
//
// The connection is cancelled and the stream moves to Failed with
// ErrAborted unless it already finished. Once Abort returns, Next yields
// nothing and no callback begins; a callback already running may finish.
// Abort is idempotent and may be called from inside a callback.
func (s *Stream) Abort() {
	s.mu.Lock()
	if !s.state.IsTerminal() {
		s.state = StateFailed
		s.err = ErrAborted
	}
	s.mu.Unlock()

	s.abortOnce.Do(func() { close(s.aborted) })
	s.cancel()

	// Wait out a delivery that passed its abort check but has not entered
	// its callback yet.
	if !s.inCallback.Load() {
		s.deliverMu.Lock()
		s.deliverMu.Unlock() //nolint:staticcheck // barrier
	}
}

// Aborted reports whether Abort has been called.
func (s *Stream) Aborted() bool {
	select {
	case <-s.aborted:
		return true
	default:
		return false
	}
}

// markStreaming moves an idle stream to Streaming once connected.
func (s *Stream) markStreaming() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.state = StateStreaming
	}
	s.mu.Unlock()
}

// emit hands an event to the consumer, giving up if the stream is aborted.
func (s *Stream) emit(event Event) bool {
	select {
	case s.events <- event:
		return true
	case <-s.aborted:
		return false
	}
}

// =============================================================================
// Callbacks
// =============================================================================

// Callbacks receive a stream's events. Any of them may be nil.
type Callbacks struct {
	// OnDelta receives each fragment in arrival order.
	OnDelta func(content string)

	// OnDone receives the durable message id and citations (nil if none).
	OnDone func(event Event)

	// OnError receives the failure, always a *StreamError. It is not
	// called after Abort.
	OnError func(err error)
}

// dispatch drains the stream into cb on the calling goroutine.
func (s *Stream) dispatch(cb Callbacks) {
	for {
		event, ok := s.Next(context.Background())
		if !ok {
			return
		}
		s.deliver(cb, event)
		if event.IsTerminal() {
			return
		}
	}
}

func (s *Stream) deliver(cb Callbacks, event Event) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.Aborted() {
		return
	}

	s.inCallback.Store(true)
	defer s.inCallback.Store(false)

	switch event.Type {
	case EventDelta:
		if cb.OnDelta != nil {
			cb.OnDelta(event.Content)
		}
	case EventDone:
		if cb.OnDone != nil {
			cb.OnDone(event)
		}
	case EventError:
		if cb.OnError != nil {
			cb.OnError(event.Err)
		}
	}
}

// IsAborted reports whether err is the error of an aborted stream.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}
