// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package script

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScript = `
replies:
  - match: ["creed"]
    title: Creeds
    text: The creed was fixed in 381
    chunk_size: 2
default:
  text: Ask me anything
`

func TestDefaultScript(t *testing.T) {
	s := DefaultScript()
	require.NotEmpty(t, s.Replies)

	r := s.Match("What happened at NICAEA?")
	assert.Equal(t, "The Council of Nicaea", r.Title)
	require.Len(t, r.Citations, 2)
	assert.Equal(t, "Wikipedia", r.Citations[0].Source)

	fail := s.Match("please [fail] now")
	assert.NotEmpty(t, fail.Error)

	assert.Equal(t, s.Default.Text, s.Match("unrelated").Text)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "malformed yaml", yaml: "replies: ["},
		{name: "missing default text", yaml: "replies: []\n"},
		{name: "bad citation url", yaml: "default:\n  text: hi\n  citations:\n    - title: x\n      url: not a url\n"},
		{name: "negative delay", yaml: "default:\n  text: hi\n  delay_ms: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_ErrorOnlyReply(t *testing.T) {
	s, err := Parse([]byte("default:\n  error: down for maintenance\n"))
	require.NoError(t, err)
	assert.Empty(t, s.Default.Chunks())
	assert.Equal(t, "down for maintenance", s.Default.Error)
}

func TestReply_Chunks(t *testing.T) {
	tests := []struct {
		name  string
		reply Reply
		want  []string
	}{
		{name: "one word per chunk", reply: Reply{Text: "In the beginning"}, want: []string{"In ", "the ", "beginning"}},
		{name: "two words per chunk", reply: Reply{Text: "a b c", ChunkSize: 2}, want: []string{"a b ", "c"}},
		{name: "empty", reply: Reply{}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.reply.Chunks()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.reply.Text, strings.Join(got, ""))
		})
	}
}

func TestReply_Delay(t *testing.T) {
	assert.Equal(t, time.Second, Reply{}.Delay(time.Second))
	assert.Equal(t, 5*time.Millisecond, Reply{DelayMS: 5}.Delay(time.Second))
}

func TestLibrary_EmptyPathServesDefault(t *testing.T) {
	lib, err := NewLibrary("", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Augustine of Hippo", lib.Respond("tell me about Augustine").Title)
	assert.NoError(t, lib.Reload())
	assert.NoError(t, lib.Watch(context.Background()))
}

func TestLibrary_MissingFile(t *testing.T) {
	_, err := NewLibrary(filepath.Join(t.TempDir(), "nope.yaml"), nil, nil)
	assert.Error(t, err)
}

func TestLibrary_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testScript), 0o600))

	var failures atomic.Int32
	lib, err := NewLibrary(path, nil, func(ok bool) {
		if !ok {
			failures.Add(1)
		}
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("replies: ["), 0o600))
	assert.Error(t, lib.Reload())
	assert.Equal(t, int32(1), failures.Load())
	assert.Equal(t, "Creeds", lib.Respond("the creed").Title)
}

func TestLibrary_WatchPicksUpEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testScript), 0o600))

	var reloads atomic.Int32
	lib, err := NewLibrary(path, nil, func(bool) { reloads.Add(1) })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, lib.Watch(ctx))

	edited := strings.Replace(testScript, "title: Creeds", "title: Creeds and Councils", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o600))

	assert.Eventually(t, func() bool {
		return lib.Respond("the creed").Title == "Creeds and Councils"
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))
}
