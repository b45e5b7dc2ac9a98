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
	"fmt"
	"strings"
	"time"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
)

// SessionTable formats sessions one per line, marking activeID.
//
// Machine mode prints tab-separated "id, title, era, updated" rows with
// RFC 3339 timestamps. Other modes print aligned, relative times.
func SessionTable(sessions []datatypes.Session, activeID string, mode Mode, now time.Time) string {
	if len(sessions) == 0 {
		if mode == ModeMachine {
			return ""
		}
		return Styles.Muted.Render("No conversations yet.") + "\n"
	}

	var sb strings.Builder
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "Untitled"
		}
		era := ""
		if s.HasEra() {
			era = *s.EraID
			if s.EraName != "" {
				era = s.EraName
			}
		}

		if mode == ModeMachine {
			fmt.Fprintf(&sb, "%s\t%s\t%s\t%s\n", s.ID, title, era, datatypes.FormatTime(s.UpdatedAt))
			continue
		}

		marker := "  "
		if s.ID == activeID {
			marker = IconActive.Render() + " "
		}
		line := fmt.Sprintf("%s%-6s %s", marker, s.ID, Styles.Bold.Render(title))
		if era != "" {
			line += " " + Styles.Muted.Render("["+era+"]")
		}
		if !s.UpdatedAt.IsZero() {
			line += " " + Styles.Muted.Render(formatRelativeTime(s.UpdatedAt, now))
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

// Transcript renders a conversation as Markdown. Citations are listed
// under the answer that carries them.
func Transcript(session datatypes.Session, messages []datatypes.Message) string {
	var sb strings.Builder

	title := session.Title
	if title == "" {
		title = "Untitled conversation"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	if session.HasEra() {
		era := *session.EraID
		if session.EraName != "" {
			era = session.EraName
		}
		fmt.Fprintf(&sb, "_Era: %s_\n\n", era)
	}

	for _, m := range messages {
		speaker := "You"
		if m.Role == datatypes.RoleAssistant {
			speaker = "Tutor"
		}
		fmt.Fprintf(&sb, "**%s**", speaker)
		if !m.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, " (%s)", m.CreatedAt.UTC().Format("2006-01-02 15:04"))
		}
		sb.WriteString(":\n\n")
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString("\n\n")
		if len(m.Sources) > 0 {
			sb.WriteString("Sources:\n")
			for _, c := range m.Sources {
				sb.WriteString("- " + formatCitation(c) + "\n")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func formatCitation(c datatypes.Citation) string {
	label := c.Title
	if label == "" {
		label = c.URL
	}
	if c.URL != "" && c.Title != "" {
		label = fmt.Sprintf("[%s](%s)", c.Title, c.URL)
	}
	if c.Source != "" {
		label += " (" + c.Source + ")"
	}
	return label
}

// formatRelativeTime renders t relative to now: "just now", "5m ago",
// "3h ago", "2d ago", or a date for anything older than a week.
func formatRelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
