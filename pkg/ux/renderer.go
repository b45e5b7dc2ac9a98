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
	"strings"
	"sync"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
)

// ChatRenderer prints one tutor answer as it streams.
//
// # Description
//
// The caller feeds the accumulated streaming content after every change;
// the renderer prints only what it has not printed yet. In rich mode a
// spinner runs until the first content arrives. Machine mode holds the
// content back and prints the answer in one piece on Done.
//
// # Lifecycle
//
//  1. Begin when a message is sent.
//  2. Content for every change of the streaming buffer.
//  3. Exactly one of Done, Fail or Cancelled.
//
// # Thread Safety
//
// Safe for concurrent use.
type ChatRenderer struct {
	p       *Printer
	spinner *Spinner

	mu      sync.Mutex
	active  bool
	printed int
	content string
}

// NewChatRenderer creates a renderer writing through p.
func NewChatRenderer(p *Printer) *ChatRenderer {
	return &ChatRenderer{
		p:       p,
		spinner: NewSpinner(p.Writer(), p.Mode(), "Consulting the sources..."),
	}
}

// Begin prints the tutor label and starts waiting for content.
func (r *ChatRenderer) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.printed = 0
	r.content = ""
	if r.p.Mode() == ModeMachine {
		return
	}
	r.spinner.Start()
}

// Content receives the full streaming buffer so far.
func (r *ChatRenderer) Content(full string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || len(full) <= r.printed || !strings.HasPrefix(full, r.content) {
		return
	}
	r.content = full
	if r.p.Mode() == ModeMachine {
		return
	}
	if r.printed == 0 {
		r.spinner.Stop()
		r.p.Raw(Styles.Tutor.Render("Tutor:") + " ")
	}
	r.p.Raw(full[r.printed:])
	r.printed = len(full)
}

// Done finishes the answer with the committed message.
func (r *ChatRenderer) Done(msg datatypes.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	r.spinner.Stop()

	if r.p.Mode() == ModeMachine {
		r.p.Raw(msg.Content + "\n")
		for _, c := range msg.Sources {
			r.p.Raw("SOURCE: " + formatCitation(c) + "\n")
		}
		return
	}

	switch {
	case r.printed == 0:
		r.p.Raw(Styles.Tutor.Render("Tutor:") + " " + msg.Content)
	case len(msg.Content) > r.printed:
		r.p.Raw(msg.Content[r.printed:])
	}
	r.p.Raw("\n")
	if len(msg.Sources) > 0 {
		r.p.Muted("Sources:")
		for _, c := range msg.Sources {
			r.p.Muted("  " + string(IconBullet) + " " + formatCitation(c))
		}
	}
	r.p.Raw("\n")
}

// Fail ends the answer with an error line.
func (r *ChatRenderer) Fail(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	r.spinner.Stop()
	if r.printed > 0 {
		r.p.Raw("\n")
	}
	r.p.Error(message)
}

// Cancelled ends the answer after the user stopped it.
func (r *ChatRenderer) Cancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.active = false
	r.spinner.Stop()
	if r.printed > 0 {
		r.p.Raw("\n")
	}
	r.p.Warning("Response cancelled.")
}

// Active reports whether an answer is in progress.
func (r *ChatRenderer) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
