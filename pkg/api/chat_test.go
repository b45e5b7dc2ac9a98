// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
)

func TestListSessions_FollowsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/sessions/", r.URL.Path)
		switch r.URL.Query().Get("page") {
		case "":
			_, _ = io.WriteString(w, `{"count":3,"next":"http://x/api/chat/sessions/?page=2","previous":null,
				"results":[{"id":1,"title":"A","era":2},{"id":2,"title":"B","era":null}]}`)
		case "2":
			_, _ = io.WriteString(w, `{"count":3,"next":null,"previous":"x","results":[{"id":3,"title":"C"}]}`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, ClientConfig{})
	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)

	require.Len(t, sessions, 3)
	assert.Equal(t, "1", sessions[0].ID)
	require.NotNil(t, sessions[0].EraID)
	assert.Equal(t, "2", *sessions[0].EraID)
	assert.Nil(t, sessions[1].EraID)
	assert.Equal(t, "C", sessions[2].Title)
}

func TestCreateSession_SendsEra(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"9","title":"New Conversation","era":5}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, ClientConfig{})
	era := "5"
	s, err := c.CreateSession(context.Background(), &era)
	require.NoError(t, err)

	assert.Equal(t, float64(5), body["era"])
	assert.Equal(t, "9", s.ID)
	assert.True(t, s.HasEra())
}

func TestUpdateSession_PatchesOnlySetFields(t *testing.T) {
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/chat/sessions/7/", r.URL.Path)
		raw, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"id":7,"title":"Nicaea"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, ClientConfig{})
	title := "Nicaea"
	s, err := c.UpdateSession(context.Background(), "7", datatypes.SessionUpdate{Title: &title})
	require.NoError(t, err)

	assert.JSONEq(t, `{"title":"Nicaea"}`, string(raw))
	assert.Equal(t, "Nicaea", s.Title)
}

func TestDeleteSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/chat/sessions/a%2Fb/", r.URL.EscapedPath())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, ClientConfig{})
	assert.NoError(t, c.DeleteSession(context.Background(), "a/b"))
}

func TestListMessages_MapsCitations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/sessions/3/messages/", r.URL.Path)
		_, _ = io.WriteString(w, `[
			{"id":1,"role":"user","content":"Who called Nicaea?","created_at":"2025-01-01T00:00:00Z","citations":[]},
			{"id":2,"role":"assistant","content":"Constantine.","created_at":"2025-01-01T00:00:05Z",
			 "citations":[{"title":"Nicaea","url":"https://w","source_name":"Wikipedia"}]}
		]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, ClientConfig{})
	msgs, err := c.ListMessages(context.Background(), "3")
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	assert.Equal(t, datatypes.RoleUser, msgs[0].Role)
	assert.Nil(t, msgs[0].Sources)
	assert.Equal(t, []datatypes.Citation{{Title: "Nicaea", URL: "https://w", Source: "Wikipedia"}}, msgs[1].Sources)
	assert.False(t, msgs[1].ID.IsPending())
}

func TestCurrentUserAndLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/accounts/me/":
			_, _ = io.WriteString(w, `{"id":4,"email":"p@example.com","display_name":"Polycarp"}`)
		case "/api/accounts/logout/":
			assert.Equal(t, http.MethodPost, r.Method)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, ClientConfig{})
	u, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4", u.ID)
	assert.Equal(t, "Polycarp", u.DisplayName)

	assert.NoError(t, c.Logout(context.Background()))
}
