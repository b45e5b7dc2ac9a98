// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders toledot CLI output: status lines, session tables,
// transcripts and live chat streams.
//
// All output goes through a Printer bound to a writer and a Mode, so the
// same code serves a colored terminal and a script reading stdout.
package ux

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Toledot palette: parchment, ink and vestment colors
var (
	ColorParchment = lipgloss.Color("#E8D8B0") // Parchment - primary text highlight
	ColorGold      = lipgloss.Color("#C9A227") // Gilt - titles, brand
	ColorBurgundy  = lipgloss.Color("#8E2C3A") // Burgundy - user turns
	ColorInk       = lipgloss.Color("#3B3A36") // Ink - borders
	ColorStone     = lipgloss.Color("#7A7468") // Stone - muted text

	ColorSuccess = lipgloss.Color("#6A9955")
	ColorWarning = lipgloss.Color("#D7A847")
	ColorError   = lipgloss.Color("#C0392B")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	User      lipgloss.Style
	Tutor     lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorGold),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorStone),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorParchment).Bold(true),
	User:      lipgloss.NewStyle().Foreground(ColorBurgundy).Bold(true),
	Tutor:     lipgloss.NewStyle().Foreground(ColorGold).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorInk).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconActive  Icon = "●"
	IconBullet  Icon = "•"
	IconScroll  Icon = "📜"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconActive:
		return Styles.Highlight.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes styled lines. Errors and warnings go to errW in machine
// mode so stdout stays parseable.
//
// # Thread Safety
//
// Safe for concurrent use; each call writes whole lines.
type Printer struct {
	w    io.Writer
	errW io.Writer
	mode Mode
	mu   sync.Mutex
}

// NewPrinter creates a Printer. errW may be nil, in which case w is used.
func NewPrinter(w, errW io.Writer, mode Mode) *Printer {
	if errW == nil {
		errW = w
	}
	return &Printer{w: w, errW: errW, mode: mode}
}

// Mode returns the printer's output mode.
func (p *Printer) Mode() Mode { return p.mode }

// Writer returns the primary writer.
func (p *Printer) Writer() io.Writer { return p.w }

func (p *Printer) println(w io.Writer, s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(w, s)
}

// Title prints a styled title. Machine mode prints nothing.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	p.println(p.w, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.mode {
	case ModeMachine:
		p.println(p.w, "OK: "+text)
	case ModePlain:
		p.println(p.w, string(IconSuccess)+" "+text)
	default:
		p.println(p.w, IconSuccess.Render()+" "+Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.mode {
	case ModeMachine:
		p.println(p.errW, "WARN: "+text)
	case ModePlain:
		p.println(p.w, string(IconWarning)+" "+text)
	default:
		p.println(p.w, IconWarning.Render()+" "+Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.mode {
	case ModeMachine:
		p.println(p.errW, "ERROR: "+text)
	case ModePlain:
		p.println(p.w, string(IconError)+" "+text)
	default:
		p.println(p.w, IconError.Render()+" "+Styles.Error.Render(text))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.mode == ModeMachine {
		p.println(p.w, text)
		return
	}
	p.println(p.w, Styles.Muted.Render("│")+" "+text)
}

// Muted prints secondary text. Machine mode prints nothing.
func (p *Printer) Muted(text string) {
	if p.mode == ModeMachine {
		return
	}
	p.println(p.w, Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	if p.mode == ModeMachine {
		p.println(p.w, title+": "+content)
		return
	}
	p.println(p.w, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
}

// Raw writes s unchanged.
func (p *Printer) Raw(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.w, s)
}
