// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
	"github.com/sunggeunkim/church-history/services/devbackend/middleware"
	"github.com/sunggeunkim/church-history/services/devbackend/observability"
	"github.com/sunggeunkim/church-history/services/devbackend/script"
	"github.com/sunggeunkim/church-history/services/devbackend/store"
)

// Throttle defaults match the production chat endpoint.
const (
	DefaultStreamsPerMinute = 5
	DefaultStreamsPerHour   = 30
)

const (
	defaultDeltaDelay = 30 * time.Millisecond
	maxTitleRunes     = 50
)

// StreamConfig configures the chat stream endpoint.
type StreamConfig struct {
	Store   *store.Store
	Library *script.Library
	Metrics *observability.Metrics
	Logger  *slog.Logger

	// DeltaDelay paces deltas for replies without their own delay.
	// Zero uses 30ms; a negative value sends without pausing.
	DeltaDelay time.Duration

	// KeepAlive sends an SSE comment at this interval while a reply is
	// being written. Zero disables it.
	KeepAlive time.Duration

	// PerMinute and PerHour throttle streams per user. Zero disables the
	// respective limit.
	PerMinute int
	PerHour   int
}

// userThrottle is one user's pair of rate windows.
type userThrottle struct {
	minute *rate.Limiter
	hour   *rate.Limiter
}

// StreamHandler serves POST /api/chat/stream/.
//
// # Description
//
// The handler validates the request and the caller's ownership of the
// session, applies the per-user throttle, then answers with an SSE
// stream: the user's message is saved, the scripted reply is sent as
// delta events, and the stream ends with done (assistant message saved,
// session titled after its first exchange) or error (nothing saved).
//
// Validation, ownership and throttle failures are plain JSON responses
// with an "error" member, sent before any stream is opened.
//
// # Thread Safety
//
// Safe for concurrent requests.
type StreamHandler struct {
	cfg StreamConfig

	mu        sync.Mutex
	throttles map[int64]*userThrottle
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(cfg StreamConfig) *StreamHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DeltaDelay == 0 {
		cfg.DeltaDelay = defaultDeltaDelay
	}
	return &StreamHandler{cfg: cfg, throttles: make(map[int64]*userThrottle)}
}

// Handle is the gin handler.
func (h *StreamHandler) Handle(c *gin.Context) {
	u, ok := currentUser(c)
	if !ok {
		return
	}
	logger := h.cfg.Logger.With("request_id", middleware.GetRequestID(c), "user_id", u.ID)

	var req datatypes.StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	if msg := validateStreamRequest(req); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	sessionID, _ := strconv.ParseInt(string(req.SessionID), 10, 64)

	if _, err := h.cfg.Store.GetSession(u.ID, sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat session not found."})
		return
	}

	if wait := h.throttle(u.ID); wait > 0 {
		secs := int(math.Ceil(wait.Seconds()))
		h.cfg.Metrics.StreamRejected(observability.StreamRateLimited)
		logger.Warn("chat stream throttled", "retry_after_s", secs)
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", secs),
		})
		return
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		logger.Error("failed to create SSE writer", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}
	c.Status(http.StatusOK)

	h.cfg.Metrics.StreamStarted()
	outcome := observability.StreamFailed
	defer func() { h.cfg.Metrics.StreamEnded(outcome) }()

	if _, err := h.cfg.Store.AppendMessage(sessionID, "user", req.Message, nil); err != nil {
		logger.Error("failed to save user message", "session_id", sessionID, "error", err)
		_ = writer.WriteError("Chat session not found.")
		return
	}

	reply := h.cfg.Library.Respond(req.Message)
	logger.Info("chat stream started", "session_id", sessionID, "reply_title", reply.Title)

	if !h.writeDeltas(c, writer, reply) {
		outcome = observability.StreamDisconnected
		logger.Info("client disconnected mid-stream", "session_id", sessionID)
		return
	}

	if reply.Error != "" {
		_ = writer.WriteError(reply.Error)
		logger.Warn("chat stream ended with scripted error", "session_id", sessionID)
		return
	}

	citations := make([]store.Citation, 0, len(reply.Citations))
	events := make([]EventCitation, 0, len(reply.Citations))
	for _, cit := range reply.Citations {
		citations = append(citations, store.Citation{Title: cit.Title, URL: cit.URL, SourceName: cit.Source})
		events = append(events, EventCitation{Title: cit.Title, URL: cit.URL, Source: cit.Source})
	}
	msg, err := h.cfg.Store.AppendMessage(sessionID, "assistant", reply.Text, citations)
	if err != nil {
		logger.Error("failed to save assistant message", "session_id", sessionID, "error", err)
		_ = writer.WriteError("The session was deleted while the reply was being written.")
		return
	}
	if h.cfg.Store.MessageCount(sessionID) == 2 {
		title := reply.Title
		if title == "" {
			title = titleFromMessage(req.Message)
		}
		h.cfg.Store.AssignTitle(sessionID, title)
	}

	if err := writer.WriteDone(strconv.FormatInt(msg.ID, 10), events); err != nil {
		outcome = observability.StreamDisconnected
		return
	}
	outcome = observability.StreamCompleted
	logger.Info("chat stream completed", "session_id", sessionID, "message_id", msg.ID)
}

// writeDeltas sends the reply's chunks. It reports false if the client
// went away.
func (h *StreamHandler) writeDeltas(c *gin.Context, writer SSEWriter, reply script.Reply) bool {
	ctx := c.Request.Context()
	delay := reply.Delay(h.cfg.DeltaDelay)

	var heartbeat <-chan time.Time
	if h.cfg.KeepAlive > 0 {
		ticker := time.NewTicker(h.cfg.KeepAlive)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for _, chunk := range reply.Chunks() {
		if delay > 0 {
			timer := time.NewTimer(delay)
		wait:
			for {
				select {
				case <-ctx.Done():
					timer.Stop()
					return false
				case <-heartbeat:
					if writer.WriteKeepAlive() != nil {
						timer.Stop()
						return false
					}
				case <-timer.C:
					break wait
				}
			}
		} else if ctx.Err() != nil {
			return false
		}
		if err := writer.WriteDelta(chunk); err != nil {
			return false
		}
		h.cfg.Metrics.RecordDelta()
	}
	return true
}

// throttle consumes one stream from the user's windows. It returns how
// long to wait when either window is exhausted; nothing is consumed then.
func (h *StreamHandler) throttle(userID int64) time.Duration {
	h.mu.Lock()
	t, ok := h.throttles[userID]
	if !ok {
		t = &userThrottle{}
		if h.cfg.PerMinute > 0 {
			t.minute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(h.cfg.PerMinute)), h.cfg.PerMinute)
		}
		if h.cfg.PerHour > 0 {
			t.hour = rate.NewLimiter(rate.Every(time.Hour/time.Duration(h.cfg.PerHour)), h.cfg.PerHour)
		}
		h.throttles[userID] = t
	}
	h.mu.Unlock()

	now := time.Now()
	var reserved []*rate.Reservation
	for _, lim := range []*rate.Limiter{t.minute, t.hour} {
		if lim == nil {
			continue
		}
		r := lim.ReserveN(now, 1)
		if d := r.DelayFrom(now); !r.OK() || d > 0 {
			r.CancelAt(now)
			for _, prev := range reserved {
				prev.CancelAt(now)
			}
			if d <= 0 {
				d = time.Second
			}
			return d
		}
		reserved = append(reserved, r)
	}
	return 0
}

func validateStreamRequest(req datatypes.StreamRequest) string {
	id, err := strconv.ParseInt(string(req.SessionID), 10, 64)
	if req.SessionID == "" || err != nil || id <= 0 {
		return "A valid session_id is required."
	}
	if strings.TrimSpace(req.Message) == "" {
		return "Message cannot be empty."
	}
	if utf8.RuneCountInString(req.Message) > datatypes.MaxStreamMessageChars {
		return fmt.Sprintf("Message cannot exceed %d characters.", datatypes.MaxStreamMessageChars)
	}
	return ""
}

// titleFromMessage names a session after the opening of its first
// message.
func titleFromMessage(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "..."
}
