// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"rich", ModeRich},
		{"FULL", ModeRich},
		{"machine", ModeMachine},
		{"q", ModeMachine},
		{"plain", ModePlain},
		{"whatever", ModePlain},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMode(tt.in))
		})
	}
}

func TestDetectMode_EnvWins(t *testing.T) {
	t.Setenv(EnvOutput, "plain")
	assert.Equal(t, ModePlain, DetectMode(nil))
}

func TestDetectMode_NonTerminalIsMachine(t *testing.T) {
	t.Setenv(EnvOutput, "")
	assert.Equal(t, ModeMachine, DetectMode(nil))
	assert.False(t, IsInteractive(nil, nil))
}

func TestPrinter_MachineModeSplitsStreams(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(&out, &errOut, ModeMachine)

	p.Title("ignored")
	p.Success("created session 12")
	p.Info("plain line")
	p.Warning("careful")
	p.Error("broken")
	p.Muted("ignored too")

	assert.Equal(t, "OK: created session 12\nplain line\n", out.String())
	assert.Equal(t, "WARN: careful\nERROR: broken\n", errOut.String())
}

func TestPrinter_PlainModeUsesIcons(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out, nil, ModePlain)

	p.Success("done")
	p.Error("failed")

	assert.Equal(t, "✓ done\n✗ failed\n", out.String())
}

func TestSessionTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	era := "3"
	sessions := []datatypes.Session{
		{ID: "12", Title: "Nicaea", EraID: &era, EraName: "Imperial Church", UpdatedAt: now.Add(-5 * time.Minute)},
		{ID: "7", Title: ""},
	}

	t.Run("machine", func(t *testing.T) {
		got := SessionTable(sessions, "12", ModeMachine, now)
		assert.Equal(t, "12\tNicaea\tImperial Church\t2026-03-01T11:55:00Z\n7\tUntitled\t\t\n", got)
	})

	t.Run("plain", func(t *testing.T) {
		got := SessionTable(sessions, "12", ModePlain, now)
		lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
		assert.Len(t, lines, 2)
		assert.Contains(t, lines[0], "●")
		assert.Contains(t, lines[0], "Nicaea")
		assert.Contains(t, lines[0], "[Imperial Church]")
		assert.Contains(t, lines[0], "5m ago")
		assert.NotContains(t, lines[1], "●")
		assert.Contains(t, lines[1], "Untitled")
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, SessionTable(nil, "", ModeMachine, now))
		assert.Contains(t, SessionTable(nil, "", ModePlain, now), "No conversations yet.")
	})
}

func TestTranscript(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	session := datatypes.Session{ID: "1", Title: "Nicaea"}
	messages := []datatypes.Message{
		datatypes.NewUserMessage("What happened at Nicaea?", created),
		datatypes.NewAssistantMessage("m1", "The Council met in 325.", created, []datatypes.Citation{
			{Title: "Nicene Creed", URL: "https://example.org/creed", Source: "Schaff"},
			{URL: "https://example.org/bare"},
		}),
	}

	got := Transcript(session, messages)

	assert.True(t, strings.HasPrefix(got, "# Nicaea\n\n"))
	assert.Contains(t, got, "**You** (2026-03-01 09:30):\n\nWhat happened at Nicaea?")
	assert.Contains(t, got, "**Tutor** (2026-03-01 09:30):\n\nThe Council met in 325.")
	assert.Contains(t, got, "- [Nicene Creed](https://example.org/creed) (Schaff)\n")
	assert.Contains(t, got, "- https://example.org/bare\n")
}

func TestFormatRelativeTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{50 * time.Hour, "2d ago"},
		{30 * 24 * time.Hour, "Feb 8, 2026"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatRelativeTime(now.Add(-tt.ago), now))
	}
}

func TestChatRenderer_PlainPrintsIncrementally(t *testing.T) {
	var out bytes.Buffer
	r := NewChatRenderer(NewPrinter(&out, nil, ModePlain))

	r.Begin()
	assert.True(t, r.Active())
	r.Content("The ")
	r.Content("The Council")
	r.Content("The Council") // no change
	r.Done(datatypes.NewAssistantMessage("m1", "The Council", time.Now(), []datatypes.Citation{{Title: "T"}}))

	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "Tutor:"))
	assert.Equal(t, 1, strings.Count(got, "The Council"))
	assert.Contains(t, got, "Sources:")
	assert.False(t, r.Active())

	// Late content after the answer ended is ignored.
	r.Content("The Council met")
	assert.NotContains(t, out.String(), "met")
}

func TestChatRenderer_MachineBuffersUntilDone(t *testing.T) {
	var out bytes.Buffer
	r := NewChatRenderer(NewPrinter(&out, nil, ModeMachine))

	r.Begin()
	r.Content("partial")
	assert.Empty(t, out.String())

	r.Done(datatypes.NewAssistantMessage("m1", "partial answer", time.Now(), []datatypes.Citation{{Title: "T", URL: "u"}}))
	assert.Equal(t, "partial answer\nSOURCE: [T](u)\n", out.String())
}

func TestChatRenderer_FailAndCancel(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewChatRenderer(NewPrinter(&out, &errOut, ModeMachine))

	r.Begin()
	r.Fail("The tutor took too long to respond. Please try again.")
	assert.Equal(t, "ERROR: The tutor took too long to respond. Please try again.\n", errOut.String())

	r.Begin()
	r.Cancelled()
	assert.Contains(t, errOut.String(), "WARN: Response cancelled.")

	r.Cancelled()
	assert.Equal(t, 1, strings.Count(errOut.String(), "cancelled"))
}

func TestSpinner_StartStopRich(t *testing.T) {
	var out safeBuffer
	s := NewSpinner(&out, ModeRich, "waiting")
	s.interval = time.Millisecond

	s.Start()
	s.Start()
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "waiting") }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()

	assert.True(t, strings.HasSuffix(out.String(), "\r\033[K"))
}

func TestSpinner_MachineIsSilent(t *testing.T) {
	var out bytes.Buffer
	s := NewSpinner(&out, ModeMachine, "waiting")
	s.Start()
	s.Stop()
	assert.Empty(t, out.String())
}
