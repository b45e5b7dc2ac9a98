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
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
	"github.com/sunggeunkim/church-history/pkg/validation"
	"github.com/sunggeunkim/church-history/services/devbackend/audit"
	"github.com/sunggeunkim/church-history/services/devbackend/middleware"
	"github.com/sunggeunkim/church-history/services/devbackend/store"
)

// SessionPageSize matches the production backend's pagination.
const SessionPageSize = 20

const detailNotFound = "Not found."

// =============================================================================
// Wire mapping
// =============================================================================

func toSessionWire(s *store.Store, sess store.Session) datatypes.SessionWire {
	w := datatypes.SessionWire{
		ID:           formatID(sess.ID),
		Title:        sess.Title,
		CreatedAt:    datatypes.FormatTime(sess.CreatedAt),
		UpdatedAt:    datatypes.FormatTime(sess.UpdatedAt),
		IsArchived:   sess.IsArchived,
		MessageCount: s.MessageCount(sess.ID),
	}
	if sess.EraID != nil {
		era := formatID(*sess.EraID)
		name := sess.EraName()
		w.Era = &era
		w.EraName = &name
	}
	return w
}

func toMessageWire(m store.Message) datatypes.MessageWire {
	w := datatypes.MessageWire{
		ID:        formatID(m.ID),
		Session:   formatID(m.SessionID),
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: datatypes.FormatTime(m.CreatedAt),
		Citations: make([]datatypes.CitationWire, 0, len(m.Citations)),
	}
	for _, cit := range m.Citations {
		w.Citations = append(w.Citations, datatypes.CitationWire{
			Title:      cit.Title,
			URL:        cit.URL,
			SourceName: cit.SourceName,
		})
	}
	return w
}

// pageURL builds an absolute link to page of the current listing. Page
// one carries no query, as the production backend emits it.
func pageURL(c *gin.Context, page int) *string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	u := fmt.Sprintf("%s://%s%s", scheme, c.Request.Host, c.Request.URL.Path)
	if page > 1 {
		u = fmt.Sprintf("%s?page=%d", u, page)
	}
	return &u
}

func sessionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func currentUser(c *gin.Context) (store.User, bool) {
	u, ok := middleware.GetUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": middleware.DetailNoCredentials})
	}
	return u, ok
}

// =============================================================================
// Sessions
// =============================================================================

// ListSessions returns one page of the caller's sessions, most recently
// updated first.
func ListSessions(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := currentUser(c)
		if !ok {
			return
		}
		page := 1
		if raw := c.Query("page"); raw != "" {
			p, err := strconv.Atoi(raw)
			if err != nil || p < 1 {
				c.JSON(http.StatusNotFound, gin.H{"detail": "Invalid page."})
				return
			}
			page = p
		}

		sessions, total := s.ListSessions(u.ID, page, SessionPageSize)
		if len(sessions) == 0 && page > 1 {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Invalid page."})
			return
		}

		resp := datatypes.SessionPage{
			Count:   total,
			Results: make([]datatypes.SessionWire, 0, len(sessions)),
		}
		for _, sess := range sessions {
			resp.Results = append(resp.Results, toSessionWire(s, sess))
		}
		if page*SessionPageSize < total {
			resp.Next = pageURL(c, page+1)
		}
		if page > 1 {
			resp.Previous = pageURL(c, page-1)
		}
		c.JSON(http.StatusOK, resp)
	}
}

// CreateSession creates a session, optionally tied to an era.
func CreateSession(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := currentUser(c)
		if !ok {
			return
		}
		var req datatypes.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "JSON parse error - " + err.Error()})
			return
		}
		var title string
		if strings.TrimSpace(req.Title) != "" {
			t, err := validation.SanitizeTitle(req.Title)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"title": []string{err.Error()}})
				return
			}
			title = t
		}

		var eraID *int64
		if req.Era != nil && *req.Era != "" {
			id, err := strconv.ParseInt(string(*req.Era), 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"era": []string{"Incorrect type. Expected pk value."}})
				return
			}
			eraID = &id
		}

		sess, err := s.CreateSession(u.ID, title, eraID)
		if errors.Is(err, store.ErrUnknownEra) {
			c.JSON(http.StatusBadRequest, gin.H{"era": []string{
				fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", *eraID),
			}})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "A server error occurred."})
			return
		}
		c.JSON(http.StatusCreated, toSessionWire(s, sess))
	}
}

// GetSession returns one of the caller's sessions.
func GetSession(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := sessionID(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
			return
		}
		sess, err := s.GetSession(u.ID, id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
			return
		}
		c.JSON(http.StatusOK, toSessionWire(s, sess))
	}
}

// UpdateSession applies a partial update to title and is_archived.
func UpdateSession(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := sessionID(c)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
			return
		}
		var req datatypes.SessionUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "JSON parse error - " + err.Error()})
			return
		}

		patch := store.SessionPatch{IsArchived: req.IsArchived}
		if req.Title != nil {
			title, err := validation.SanitizeTitle(*req.Title)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"title": []string{err.Error()}})
				return
			}
			patch.Title = &title
		}

		sess, err := s.UpdateSession(u.ID, id, patch)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
			return
		}
		c.JSON(http.StatusOK, toSessionWire(s, sess))
	}
}

// DeleteSession removes a session and its messages.
func DeleteSession(s *store.Store, auditor audit.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := currentUser(c)
		if !ok {
			return
		}
		id, ok := sessionID(c)
		if !ok || s.DeleteSession(u.ID, id) != nil {
			c.JSON(http.StatusNotFound, gin.H{"detail": detailNotFound})
			return
		}
		_ = auditor.Log(c.Request.Context(), audit.Event{
			Type:       audit.EventSessionDelete,
			UserID:     string(formatID(u.ID)),
			ResourceID: string(formatID(id)),
			RequestID:  middleware.GetRequestID(c),
			Outcome:    audit.OutcomeSuccess,
		})
		c.Status(http.StatusNoContent)
	}
}

// ListMessages returns a session's full history, oldest first. Sessions
// the caller does not own yield an empty list rather than 404.
func ListMessages(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := currentUser(c)
		if !ok {
			return
		}
		out := []datatypes.MessageWire{}
		if id, ok := sessionID(c); ok {
			for _, m := range s.ListMessages(u.ID, id) {
				out = append(out, toMessageWire(m))
			}
		}
		c.JSON(http.StatusOK, out)
	}
}
