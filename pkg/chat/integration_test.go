// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chat_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunggeunkim/church-history/pkg/api"
	"github.com/sunggeunkim/church-history/pkg/chat"
	"github.com/sunggeunkim/church-history/pkg/datatypes"
	"github.com/sunggeunkim/church-history/pkg/stream"
	"github.com/sunggeunkim/church-history/services/devbackend/handlers"
	"github.com/sunggeunkim/church-history/services/devbackend/routes"
	"github.com/sunggeunkim/church-history/services/devbackend/script"
	"github.com/sunggeunkim/church-history/services/devbackend/store"
)

// liveStack is a coordinator wired to real clients talking to the dev
// backend over HTTP.
type liveStack struct {
	store       *store.Store
	client      *api.Client
	coord       *chat.Coordinator
	invalidated atomic.Int32
}

func newLiveStack(t *testing.T) *liveStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.New(store.Options{})
	user := st.AddUser("gregory@nazianzus.example", "Gregory")
	access, refresh, err := st.IssueTokens(user.ID)
	require.NoError(t, err)
	lib, err := script.NewLibrary("", nil, nil)
	require.NoError(t, err)

	router := gin.New()
	routes.SetupRoutes(router, routes.Deps{
		Store:   st,
		Library: lib,
		Stream:  handlers.StreamConfig{DeltaDelay: -1},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	ls := &liveStack{store: st}
	ls.client, err = api.NewClient(api.ClientConfig{
		BaseURL:              srv.URL + "/api",
		AccessToken:          access,
		RefreshToken:         refresh,
		OnSessionInvalidated: func(error) { ls.invalidated.Add(1) },
	})
	require.NoError(t, err)
	require.NoError(t, ls.client.FetchCSRFToken(context.Background()))

	streams, err := stream.NewClient(stream.Config{
		BaseURL:    ls.client.BaseURL(),
		HTTPClient: &http.Client{Jar: ls.client.Jar()},
	})
	require.NoError(t, err)

	ls.coord = chat.NewCoordinator(ls.client, chat.NewStreamer(streams), chat.Options{})
	t.Cleanup(ls.coord.Close)
	return ls
}

func (ls *liveStack) cookie(t *testing.T, name string) string {
	t.Helper()
	u, err := url.Parse(ls.client.BaseURL())
	require.NoError(t, err)
	for _, c := range ls.client.Jar().Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// exchange sends text and waits for the stream to settle.
func (ls *liveStack) exchange(t *testing.T, text string) chat.State {
	t.Helper()
	before := len(ls.coord.Snapshot().Messages)
	require.True(t, ls.coord.SendMessage(text))
	require.Eventually(t, func() bool {
		s := ls.coord.Snapshot()
		return !s.IsStreaming && (len(s.Messages) == before+2 || s.Error != "")
	}, 5*time.Second, 10*time.Millisecond)
	return ls.coord.Snapshot()
}

func TestLive_StreamedAnswerIsCommitted(t *testing.T) {
	ls := newLiveStack(t)
	ctx := context.Background()

	sess, err := ls.coord.CreateSession(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "New Chat", sess.Title)

	state := ls.exchange(t, "Why was the council of Nicaea called?")
	require.Empty(t, state.Error)
	require.Len(t, state.Messages, 2)

	answer := state.Messages[1]
	assert.Equal(t, datatypes.RoleAssistant, answer.Role)
	assert.False(t, answer.ID.IsPending())
	assert.Equal(t, script.DefaultScript().Match("nicaea").Text, answer.Content)
	require.Len(t, answer.Sources, 2)
	assert.Equal(t, "Wikipedia", answer.Sources[0].Source)

	// The background reload picks up the title assigned by the backend.
	assert.Eventually(t, func() bool {
		s := ls.coord.Snapshot()
		return len(s.Sessions) == 1 && s.Sessions[0].Title == "The Council of Nicaea"
	}, 5*time.Second, 10*time.Millisecond)

	// History from the server matches what was streamed.
	ls.coord.SetActiveSession("")
	ls.coord.SetActiveSession(sess.ID)
	require.Eventually(t, func() bool {
		s := ls.coord.Snapshot()
		return !s.IsLoadingMessages && len(s.Messages) == 2
	}, 5*time.Second, 10*time.Millisecond)
	history := ls.coord.Snapshot().Messages
	assert.Equal(t, answer.ID.Value(), history[1].ID.Value())
	assert.Equal(t, answer.Content, history[1].Content)
}

func TestLive_ServerErrorKeepsUserMessage(t *testing.T) {
	ls := newLiveStack(t)
	_, err := ls.coord.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	require.True(t, ls.coord.SendMessage("please [fail]"))
	require.Eventually(t, func() bool {
		s := ls.coord.Snapshot()
		return !s.IsStreaming && s.Error != ""
	}, 5*time.Second, 10*time.Millisecond)

	state := ls.coord.Snapshot()
	require.Len(t, state.Messages, 1)
	assert.Equal(t, datatypes.RoleUser, state.Messages[0].Role)
	assert.Empty(t, state.StreamingContent)
}

func TestLive_ExpiredAccessIsRefreshedTransparently(t *testing.T) {
	ls := newLiveStack(t)
	ctx := context.Background()
	_, err := ls.coord.CreateSession(ctx, nil)
	require.NoError(t, err)

	csrfBefore := ls.client.CSRFToken()
	refreshBefore := ls.cookie(t, api.RefreshCookieName)
	ls.store.ExpireAccessTokens()

	require.NoError(t, ls.coord.LoadSessions(ctx))
	assert.Len(t, ls.coord.Snapshot().Sessions, 1)
	assert.Zero(t, ls.invalidated.Load())
	assert.NotEqual(t, refreshBefore, ls.cookie(t, api.RefreshCookieName), "refresh token rotated")
	assert.NotEqual(t, csrfBefore, ls.client.CSRFToken(), "rotated csrf token adopted")

	// The stream shares the jar, so it rides on the refreshed cookie and
	// the adopted CSRF token.
	state := ls.exchange(t, "Tell me about Augustine")
	require.Empty(t, state.Error)
	assert.Len(t, state.Messages, 2)
}

func TestLive_RevokedRefreshInvalidatesSession(t *testing.T) {
	ls := newLiveStack(t)
	ctx := context.Background()

	ls.store.Revoke(ls.cookie(t, api.AccessCookieName), ls.cookie(t, api.RefreshCookieName))

	err := ls.coord.LoadSessions(ctx)
	var expired *api.AuthExpiredError
	require.True(t, errors.As(err, &expired), "got %v", err)
	assert.Equal(t, int32(1), ls.invalidated.Load())
	assert.NotEmpty(t, ls.coord.Snapshot().Error)
}
