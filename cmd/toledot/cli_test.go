// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sunggeunkim/church-history/pkg/config"
	"github.com/sunggeunkim/church-history/services/devbackend/handlers"
	"github.com/sunggeunkim/church-history/services/devbackend/routes"
	"github.com/sunggeunkim/church-history/services/devbackend/script"
	"github.com/sunggeunkim/church-history/services/devbackend/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ===== Harness =====

type cliEnv struct {
	store      *store.Store
	userID     int64
	access     string
	refresh    string
	configPath string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	st := store.New(store.Options{})
	user := st.AddUser("jerome@bethlehem.example", "Jerome")
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

	cfg := config.Default()
	cfg.API.Origin = srv.URL
	cfg.Logging.Level = "error"
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv(config.EnvAccessToken, access)
	t.Setenv(config.EnvRefreshToken, refresh)
	t.Setenv(config.EnvOrigin, "")
	t.Setenv(config.EnvBaseURL, "")
	t.Setenv(config.EnvLogLevel, "")

	return &cliEnv{store: st, userID: user.ID, access: access, refresh: refresh, configPath: path}
}

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	var out, errOut bytes.Buffer
	opts := &rootOptions{
		in:        strings.NewReader(stdin),
		out:       &out,
		errOut:    &errOut,
		quietLogs: true,
	}
	full := append([]string{"--config", e.configPath, "--output", "machine"}, args...)
	code := execute(context.Background(), opts, full)
	return cliResult{code: code, stdout: out.String(), stderr: errOut.String()}
}

func (e *cliEnv) seedSession(t *testing.T, title string) string {
	t.Helper()
	s, err := e.store.CreateSession(e.userID, title, nil)
	require.NoError(t, err)
	return strconv.FormatInt(s.ID, 10)
}

// ===== Commands =====

func TestCLI_Version(t *testing.T) {
	var out bytes.Buffer
	opts := &rootOptions{in: strings.NewReader(""), out: &out, errOut: &bytes.Buffer{}}
	code := execute(context.Background(), opts, []string{"version"})
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "toledot dev\n", out.String())
}

func TestCLI_SessionsCreateAndList(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "", "sessions", "create", "--title", "Desert Fathers")
	require.Equal(t, exitOK, res.code, res.stderr)
	id := strings.TrimSpace(res.stdout)
	require.NotEmpty(t, id)

	res = env.run(t, "", "sessions", "list")
	require.Equal(t, exitOK, res.code, res.stderr)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 1)
	fields := strings.Split(lines[0], "\t")
	require.Len(t, fields, 4)
	assert.Equal(t, id, fields[0])
	assert.Equal(t, "Desert Fathers", fields[1])
}

func TestCLI_SessionsRenameRejectsBadID(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "", "sessions", "rename", "../etc", "New title")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "Error:")
}

func TestCLI_DeleteNeedsConfirmationOffTerminal(t *testing.T) {
	env := newCLIEnv(t)
	id := env.seedSession(t, "Keep me")

	res := env.run(t, "", "sessions", "delete", id)
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "without --yes")

	res = env.run(t, "", "sessions", "delete", "--yes", id)
	require.Equal(t, exitOK, res.code, res.stderr)
	sessions, total := env.store.ListSessions(env.userID, 1, 20)
	assert.Zero(t, total)
	assert.Empty(t, sessions)
}

func TestCLI_ChatStreamsAnswer(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "Why did the bishops gather at Nicaea?\n/quit\n", "chat", "--new")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "The First Council of Nicaea met in 325")
	assert.Contains(t, res.stdout, "SOURCE: ")
	assert.Contains(t, res.stdout, "First Council of Nicaea")

	sessions, total := env.store.ListSessions(env.userID, 1, 20)
	require.Equal(t, 1, total)
	assert.Equal(t, "The Council of Nicaea", sessions[0].Title)
	msgs := env.store.ListMessages(env.userID, sessions[0].ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Why did the bishops gather at Nicaea?", msgs[0].Content)
}

func TestCLI_ChatUnknownCommandKeepsGoing(t *testing.T) {
	env := newCLIEnv(t)
	env.seedSession(t, "Existing")

	res := env.run(t, "/bogus\n/help\n", "chat")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stderr, "unknown command /bogus")
	assert.Contains(t, res.stdout, "/switch <id>")
}

func TestCLI_MessagesPrintsTranscript(t *testing.T) {
	env := newCLIEnv(t)
	id := env.seedSession(t, "Hippo")
	sid, _ := strconv.ParseInt(id, 10, 64)
	_, err := env.store.AppendMessage(sid, "user", "Who was Augustine?", nil)
	require.NoError(t, err)
	_, err = env.store.AppendMessage(sid, "assistant", "Bishop of Hippo.", nil)
	require.NoError(t, err)

	res := env.run(t, "", "messages", id)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "# Hippo")
	assert.Contains(t, res.stdout, "Who was Augustine?")
	assert.Contains(t, res.stdout, "**Tutor**")
}

func TestCLI_ExportMarkdownToDir(t *testing.T) {
	env := newCLIEnv(t)
	first := env.seedSession(t, "Cappadocians")
	second := env.seedSession(t, "Chalcedon")
	dir := filepath.Join(t.TempDir(), "out")

	res := env.run(t, "", "export", "--dir", dir, "--concurrency", "2")
	require.Equal(t, exitOK, res.code, res.stderr)

	for id, title := range map[string]string{first: "Cappadocians", second: "Chalcedon"} {
		data, err := os.ReadFile(filepath.Join(dir, "session-"+id+".md"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "# "+title))
	}
}

func TestCLI_ExportYAMLToStdout(t *testing.T) {
	env := newCLIEnv(t)
	id := env.seedSession(t, "Iconoclasm")
	sid, _ := strconv.ParseInt(id, 10, 64)
	_, err := env.store.AppendMessage(sid, "user", "What was decided in 787?", nil)
	require.NoError(t, err)

	res := env.run(t, "", "export", "--format", "yaml", id)
	require.Equal(t, exitOK, res.code, res.stderr)

	var doc exportDoc
	require.NoError(t, yaml.Unmarshal([]byte(res.stdout), &doc))
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, "Iconoclasm", doc.Title)
	require.Len(t, doc.Messages, 1)
	assert.Equal(t, "user", doc.Messages[0].Role)
}

func TestCLI_ExportRejectsUnknownFormat(t *testing.T) {
	env := newCLIEnv(t)
	res := env.run(t, "", "export", "--format", "pdf")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "unknown format")
}

func TestCLI_Whoami(t *testing.T) {
	env := newCLIEnv(t)
	res := env.run(t, "", "whoami")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, strconv.FormatInt(env.userID, 10)+"\tjerome@bethlehem.example\tJerome\n", res.stdout)
}

func TestCLI_RevokedCredentialsExitCode(t *testing.T) {
	env := newCLIEnv(t)
	env.store.Revoke(env.access, env.refresh)

	res := env.run(t, "", "sessions", "list")
	assert.Equal(t, exitAuthExpired, res.code)
	assert.Contains(t, res.stderr, "Error:")
}

func TestCLI_LogoutRevokesTokens(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "", "logout")
	require.Equal(t, exitOK, res.code, res.stderr)
	_, err := env.store.Authenticate(env.access)
	assert.Error(t, err)
}

func TestCLI_ConfigShowRedactsCredentials(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "", "config", "show")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.NotContains(t, res.stdout, env.access)
	assert.NotContains(t, res.stdout, env.refresh)
	assert.Contains(t, res.stdout, redacted)
}

func TestCLI_ConfigInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	run := func(args ...string) int {
		opts := &rootOptions{in: strings.NewReader(""), out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
		return execute(context.Background(), opts, append([]string{"--config", path}, args...))
	}

	require.Equal(t, exitOK, run("config", "init"))
	_, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, exitError, run("config", "init"))
	assert.Equal(t, exitOK, run("config", "init", "--force"))
}
