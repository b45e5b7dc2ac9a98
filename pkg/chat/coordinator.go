// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat holds the conversation state coordinator.
//
// # Description
//
// Coordinator is the single owner of the session list, the active session
// and its message log, and the transient state of the one stream it may
// have open. Callers read immutable snapshots and issue commands; they
// never mutate state directly.
//
// # Architecture
//
//	UI / CLI ──commands──▶ Coordinator ──REST──▶ Backend (*api.Client)
//	   ▲                       │
//	   └──Snapshot/Subscribe───┴──stream──▶ Streamer (*stream.Client)
//
// # Thread Safety
//
// Every method is safe for concurrent use. One mutex makes each state
// transition atomic; stream callbacks and background loads take the same
// mutex.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
	"github.com/sunggeunkim/church-history/pkg/stream"
)

// DefaultLoadTimeout bounds background loads started by the coordinator.
const DefaultLoadTimeout = 30 * time.Second

// Options configures a Coordinator.
type Options struct {
	// CancelStreamOnSwitch aborts the open stream when the user switches
	// away from, or deletes, the session it belongs to. When false (the
	// default) such a stream runs to completion and its answer is
	// discarded from the log because the session is no longer active.
	CancelStreamOnSwitch bool

	// LoadTimeout bounds background loads. Defaults to DefaultLoadTimeout.
	LoadTimeout time.Duration

	Logger *slog.Logger

	// Now stamps optimistic and streamed messages. Defaults to time.Now.
	Now func() time.Time
}

// State is a read-only snapshot of the coordinator.
//
// # Fields
//
//   - Sessions: The user's sessions as last loaded.
//   - ActiveSessionID: The open session, "" when none.
//   - Messages: The active session's log, oldest first.
//   - IsStreaming: A stream is open.
//   - StreamingContent: Text accumulated by the open stream.
//   - StreamingSessionID: Session the open stream belongs to.
//   - IsLoadingSessions, IsLoadingMessages: Loads in flight.
//   - Error: Human-readable error for the banner, "" when none.
type State struct {
	Sessions           []datatypes.Session
	ActiveSessionID    string
	Messages           []datatypes.Message
	IsStreaming        bool
	StreamingContent   string
	StreamingSessionID string
	IsLoadingSessions  bool
	IsLoadingMessages  bool
	Error              string
}

// VisibleStreamingContent returns the streaming text that belongs in the
// active transcript: the buffer when it is scoped to the active session,
// "" otherwise.
func (s State) VisibleStreamingContent() string {
	if s.IsStreaming && s.StreamingSessionID == s.ActiveSessionID {
		return s.StreamingContent
	}
	return ""
}

// activeStream is the coordinator's one open stream.
type activeStream struct {
	sessionID string
	buf       strings.Builder
	abort     func()
	startedAt time.Time
}

// Coordinator owns sessions, the active conversation and the open stream.
//
// # Examples
//
//	coord := chat.NewCoordinator(apiClient, chat.NewStreamer(streamClient), chat.Options{})
//	defer coord.Close()
//
//	updates, unsubscribe := coord.Subscribe()
//	defer unsubscribe()
//
//	coord.SetActiveSession("12")
//	coord.SendMessage("Why was the Council of Nicaea called?")
//	for range updates {
//	    state := coord.Snapshot()
//	    if !state.IsStreaming {
//	        break
//	    }
//	}
type Coordinator struct {
	backend  Backend
	streamer Streamer
	opts     Options
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu                 sync.Mutex
	closed             bool
	sessions           []datatypes.Session
	activeID           string
	messages           []datatypes.Message
	active             *activeStream
	streamingContent   string
	streamingSessionID string
	sessionsSeq        uint64
	isLoadingSessions  bool
	messagesSeq        uint64
	messagesBase       int
	isLoadingMessages  bool
	errMsg             string
	subs               map[chan struct{}]struct{}
}

// NewCoordinator creates a coordinator over backend and streamer.
func NewCoordinator(backend Backend, streamer Streamer, opts Options) *Coordinator {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		backend:  backend,
		streamer: streamer,
		opts:     opts,
		logger:   opts.Logger.With("component", "chat"),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[chan struct{}]struct{}),
	}
}

// =============================================================================
// Reading state
// =============================================================================

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Sessions:           datatypes.CopySessions(c.sessions),
		ActiveSessionID:    c.activeID,
		Messages:           datatypes.CopyMessages(c.messages),
		IsStreaming:        c.active != nil,
		StreamingContent:   c.streamingContent,
		StreamingSessionID: c.streamingSessionID,
		IsLoadingSessions:  c.isLoadingSessions,
		IsLoadingMessages:  c.isLoadingMessages,
		Error:              c.errMsg,
	}
}

// Subscribe returns a channel that receives a value after state changes.
//
// # Description
//
// Notifications coalesce: a slow reader sees one pending signal for any
// number of changes and should call Snapshot for the latest state. The
// channel is closed by the returned cancel function or by Close.
func (c *Coordinator) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
}

// changedLocked signals subscribers. c.mu must be held.
func (c *Coordinator) changedLocked() {
	for ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// =============================================================================
// Sessions
// =============================================================================

// LoadSessions reloads the session list.
func (c *Coordinator) LoadSessions(ctx context.Context) error {
	c.mu.Lock()
	c.sessionsSeq++
	seq := c.sessionsSeq
	c.isLoadingSessions = true
	c.errMsg = ""
	c.changedLocked()
	c.mu.Unlock()

	sessions, err := c.backend.ListSessions(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.sessionsSeq {
		// A newer load owns the list.
		return err
	}
	c.isLoadingSessions = false
	if err != nil {
		c.errMsg = ErrorMessage(err, msgLoadSessions)
		c.changedLocked()
		c.logger.Warn("failed to load sessions", "error", err)
		return err
	}
	c.sessions = sessions
	c.changedLocked()
	return nil
}

// CreateSession creates a session, puts it first in the list and makes it
// active with an empty log.
func (c *Coordinator) CreateSession(ctx context.Context, eraID *string) (datatypes.Session, error) {
	c.clearErrorAndNotify()

	session, err := c.backend.CreateSession(ctx, eraID)

	c.mu.Lock()
	if err != nil {
		c.errMsg = ErrorMessage(err, msgCreateSession)
		c.changedLocked()
		c.mu.Unlock()
		return datatypes.Session{}, err
	}
	c.sessions = append([]datatypes.Session{session}, c.sessions...)
	abort := c.leaveSessionLocked(session.ID)
	c.activeID = session.ID
	c.messages = nil
	c.messagesSeq++
	c.isLoadingMessages = false
	c.changedLocked()
	c.mu.Unlock()

	abort()
	c.logger.Info("session created", "session_id", session.ID)
	return session, nil
}

// RenameSession changes a session's title.
func (c *Coordinator) RenameSession(ctx context.Context, id, title string) (datatypes.Session, error) {
	c.clearErrorAndNotify()

	session, err := c.backend.UpdateSession(ctx, id, datatypes.SessionUpdate{Title: &title})

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errMsg = ErrorMessage(err, msgRenameSession)
		c.changedLocked()
		return datatypes.Session{}, err
	}
	for i := range c.sessions {
		if c.sessions[i].ID == id {
			c.sessions[i] = session
			break
		}
	}
	c.changedLocked()
	return session, nil
}

// DeleteSession deletes a session on the backend and removes it locally.
//
// # Description
//
// If it was the active session, the active id and log are cleared. An
// open stream for it keeps running unless Options.CancelStreamOnSwitch is
// set. On failure the list is left unchanged and Error is set.
func (c *Coordinator) DeleteSession(ctx context.Context, id string) error {
	c.clearErrorAndNotify()

	err := c.backend.DeleteSession(ctx, id)

	c.mu.Lock()
	if err != nil {
		c.errMsg = ErrorMessage(err, msgDeleteSession)
		c.changedLocked()
		c.mu.Unlock()
		c.logger.Warn("failed to delete session", "session_id", id, "error", err)
		return err
	}
	c.sessions = datatypes.RemoveSession(c.sessions, id)
	abort := func() {}
	if c.activeID == id {
		abort = c.leaveSessionLocked("")
		c.activeID = ""
		c.messages = nil
		c.messagesSeq++
		c.isLoadingMessages = false
	} else if c.opts.CancelStreamOnSwitch && c.active != nil && c.active.sessionID == id {
		abort = c.dropStreamLocked()
	}
	c.changedLocked()
	c.mu.Unlock()

	abort()
	return nil
}

// SetActiveSession switches the active session, clears the log and loads
// the session's history in the background. An empty id leaves no session
// active.
func (c *Coordinator) SetActiveSession(id string) {
	c.mu.Lock()
	abort := c.leaveSessionLocked(id)
	c.activeID = id
	c.messages = nil
	c.errMsg = ""
	c.messagesSeq++
	seq := c.messagesSeq
	c.messagesBase = 0
	c.isLoadingMessages = id != ""
	c.changedLocked()
	c.mu.Unlock()

	abort()
	if id == "" {
		return
	}
	c.goBackground(func(ctx context.Context) {
		_ = c.fetchMessages(ctx, id, seq)
	})
}

// LoadMessages reloads the history of session id. The result is applied
// only while id is still the active session; messages added locally while
// the load was in flight are kept. Loading a session that is not active
// does nothing, so it never supersedes the active session's load.
func (c *Coordinator) LoadMessages(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.activeID != id {
		c.mu.Unlock()
		c.logger.Debug("skipping history load for inactive session", "session_id", id)
		return nil
	}
	c.messagesSeq++
	seq := c.messagesSeq
	c.messagesBase = len(c.messages)
	c.isLoadingMessages = true
	c.errMsg = ""
	c.changedLocked()
	c.mu.Unlock()

	return c.fetchMessages(ctx, id, seq)
}

func (c *Coordinator) fetchMessages(ctx context.Context, id string, seq uint64) error {
	messages, err := c.backend.ListMessages(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.messagesSeq || c.activeID != id {
		c.logger.Debug("discarding history for inactive session", "session_id", id)
		return err
	}
	c.isLoadingMessages = false
	if err != nil {
		c.errMsg = ErrorMessage(err, msgLoadMessages)
		c.changedLocked()
		c.logger.Warn("failed to load messages", "session_id", id, "error", err)
		return err
	}

	base := c.messagesBase
	if base > len(c.messages) {
		base = len(c.messages)
	}
	c.messages = mergeHistory(messages, c.messages[base:])
	c.changedLocked()
	return nil
}

// mergeHistory appends local messages to a loaded history, skipping
// committed messages the history already holds. A pending user message
// matching the history's last user message was persisted before the load
// returned and is dropped once.
func mergeHistory(history, local []datatypes.Message) []datatypes.Message {
	out := datatypes.CopyMessages(history)
	if len(local) == 0 {
		return out
	}
	seen := make(map[string]bool, len(history))
	lastUser := ""
	for _, m := range history {
		seen[m.ID.Value()] = true
		if m.Role == datatypes.RoleUser {
			lastUser = m.Content
		}
	}
	persisted := lastUser != ""
	for _, m := range local {
		if !m.ID.IsPending() && seen[m.ID.Value()] {
			continue
		}
		if persisted && m.ID.IsPending() && m.Role == datatypes.RoleUser && m.Content == lastUser {
			persisted = false
			continue
		}
		out = append(out, m)
	}
	return out
}

// =============================================================================
// Streaming
// =============================================================================

// SendMessage appends text as a user message and streams the answer.
//
// # Description
//
// The user message is in the log when SendMessage returns. The stream is
// scoped to the session active at call time. SendMessage does nothing and
// returns false when no session is active, a stream is already open, the
// text is blank, or the coordinator is closed.
//
// # Outputs
//
//   - bool: true if a stream was started.
func (c *Coordinator) SendMessage(text string) bool {
	c.mu.Lock()
	if c.closed || c.activeID == "" || c.active != nil || strings.TrimSpace(text) == "" {
		c.mu.Unlock()
		return false
	}
	scope := c.activeID
	st := &activeStream{sessionID: scope, startedAt: c.opts.Now()}
	c.active = st
	c.messages = append(c.messages, datatypes.NewUserMessage(text, st.startedAt))
	c.streamingContent = ""
	c.streamingSessionID = scope
	c.errMsg = ""
	c.changedLocked()
	c.mu.Unlock()

	c.logger.Debug("starting chat stream", "session_id", scope)

	abort := c.streamer.Stream(c.ctx, stream.Request{
		SessionID: scope,
		Message:   text,
		CSRFToken: c.backend.CSRFToken(),
	}, stream.Callbacks{
		OnDelta: func(content string) { c.onDelta(st, content) },
		OnDone:  func(event stream.Event) { c.onDone(st, event) },
		OnError: func(err error) { c.onError(st, err) },
	})

	c.mu.Lock()
	if c.active == st {
		st.abort = abort
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	// Cancelled or finished before the handle was stored.
	abort()
	return true
}

// CancelStream aborts the open stream and clears the streaming state at
// once. The user message stays in the log.
func (c *Coordinator) CancelStream() {
	c.mu.Lock()
	abort := c.dropStreamLocked()
	c.changedLocked()
	c.mu.Unlock()
	abort()
}

func (c *Coordinator) onDelta(st *activeStream, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != st {
		return
	}
	st.buf.WriteString(content)
	c.streamingContent = st.buf.String()
	c.changedLocked()
}

func (c *Coordinator) onDone(st *activeStream, event stream.Event) {
	c.mu.Lock()
	if c.active != st {
		c.mu.Unlock()
		return
	}
	content := st.buf.String()
	c.clearStreamLocked()
	if c.activeID == st.sessionID {
		c.messages = append(c.messages,
			datatypes.NewAssistantMessage(event.MessageID, content, c.opts.Now(), event.Citations))
	} else {
		c.logger.Debug("discarding answer for inactive session",
			"session_id", st.sessionID,
			"message_id", event.MessageID,
		)
	}
	c.changedLocked()
	c.mu.Unlock()

	c.logger.Debug("chat stream completed",
		"session_id", st.sessionID,
		"message_id", event.MessageID,
		"duration_ms", time.Since(st.startedAt).Milliseconds(),
	)

	// Picks up the title the backend assigns after the first exchange.
	c.goBackground(func(ctx context.Context) {
		_ = c.LoadSessions(ctx)
	})
}

func (c *Coordinator) onError(st *activeStream, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != st {
		return
	}
	c.clearStreamLocked()
	c.errMsg = ErrorMessage(err, msgStream)
	c.changedLocked()
	c.logger.Warn("chat stream failed", "session_id", st.sessionID, "error", err)
}

// clearStreamLocked forgets the open stream without aborting it.
func (c *Coordinator) clearStreamLocked() {
	c.active = nil
	c.streamingContent = ""
	c.streamingSessionID = ""
}

// dropStreamLocked forgets the open stream and returns its abort handle
// for the caller to run after unlocking. The handle may still be unset if
// SendMessage has not stored it; SendMessage then aborts the stream itself.
func (c *Coordinator) dropStreamLocked() func() {
	st := c.active
	if st == nil {
		return func() {}
	}
	c.clearStreamLocked()
	if st.abort == nil {
		return func() {}
	}
	return st.abort
}

// leaveSessionLocked applies Options.CancelStreamOnSwitch before the active
// session changes to next.
func (c *Coordinator) leaveSessionLocked(next string) func() {
	if c.opts.CancelStreamOnSwitch && c.active != nil && c.active.sessionID != next {
		return c.dropStreamLocked()
	}
	return func() {}
}

// =============================================================================
// Misc
// =============================================================================

// ClearError dismisses the error banner.
func (c *Coordinator) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errMsg == "" {
		return
	}
	c.errMsg = ""
	c.changedLocked()
}

func (c *Coordinator) clearErrorAndNotify() {
	c.mu.Lock()
	c.errMsg = ""
	c.changedLocked()
	c.mu.Unlock()
}

// goBackground runs fn on a tracked goroutine with the load timeout.
func (c *Coordinator) goBackground(fn func(ctx context.Context)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.LoadTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Close aborts the open stream, cancels background loads and waits for
// them. Subscriber channels are closed. Later commands are no-ops or fail
// with a cancelled context.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	abort := c.dropStreamLocked()
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	c.mu.Unlock()

	abort()
	c.cancel()
	c.wg.Wait()
}
