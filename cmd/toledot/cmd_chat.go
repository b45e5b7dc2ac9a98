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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunggeunkim/church-history/pkg/chat"
	"github.com/sunggeunkim/church-history/pkg/datatypes"
	"github.com/sunggeunkim/church-history/pkg/ux"
	"github.com/sunggeunkim/church-history/pkg/validation"
)

const chatHelp = `Commands:
  /help             show this help
  /history          print the current transcript
  /sessions         list your sessions
  /switch <id>      open another session
  /new              start a new session
  /rename <title>   rename the current session
  /quit             leave the chat
Press Ctrl-C while the tutor is answering to stop the answer.`

// maxLineBytes bounds one line of chat input.
const maxLineBytes = 1 << 20

func newChatCmd(opts *rootOptions) *cobra.Command {
	var sessionID, era string
	var fresh bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold a streaming conversation with the tutor",
		Long: `Opens the most recent session, or the one given with --session, and
reads questions line by line from standard input. Answers stream in as
they are written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID != "" {
				if err := validation.ValidateSessionID(sessionID); err != nil {
					return err
				}
			}
			a, err := opts.getApp(cmd.Context())
			if err != nil {
				return err
			}
			s := &chatSession{app: a, renderer: ux.NewChatRenderer(a.printer)}
			return s.run(cmd.Context(), sessionID, era, fresh)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to open")
	cmd.Flags().BoolVar(&fresh, "new", false, "start a new session")
	cmd.Flags().StringVar(&era, "era", "", "era id for a new session")
	return cmd
}

// chatSession is one run of the chat command.
type chatSession struct {
	app      *app
	renderer *ux.ChatRenderer
	era      string
}

func (s *chatSession) run(ctx context.Context, sessionID, era string, fresh bool) error {
	a := s.app
	s.era = era
	if err := a.coord.LoadSessions(ctx); err != nil {
		return err
	}

	sessions := a.coord.Snapshot().Sessions
	switch {
	case sessionID != "":
		if err := s.open(ctx, sessionID); err != nil {
			return err
		}
	case fresh || len(sessions) == 0:
		if err := s.create(ctx); err != nil {
			return err
		}
	default:
		if err := s.open(ctx, sessions[0].ID); err != nil {
			return err
		}
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	lines := readLines(a.in)
	for {
		s.prompt()
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-interrupts:
			a.printer.Raw("\n")
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := s.command(ctx, line)
			if err != nil {
				a.printer.Error(err.Error())
			}
			if quit {
				return nil
			}
			continue
		}
		if err := s.send(ctx, line, interrupts); err != nil {
			return err
		}
	}
}

func (s *chatSession) prompt() {
	if s.app.printer.Mode() == ux.ModeMachine {
		return
	}
	s.app.printer.Raw(ux.Styles.User.Render("You:") + " ")
}

// readLines feeds input lines to a channel closed at EOF.
func readLines(in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

func (s *chatSession) open(ctx context.Context, id string) error {
	state, err := s.app.openSession(ctx, id)
	if err != nil {
		return err
	}
	session := findSession(state.Sessions, id)
	s.app.printer.Title(sessionLabel(session))
	if n := len(state.Messages); n > 0 && s.app.printer.Mode() != ux.ModeMachine {
		s.app.printer.Muted(fmt.Sprintf("%d earlier messages. Type /history to read them.", n))
	}
	return nil
}

func (s *chatSession) create(ctx context.Context) error {
	var eraID *string
	if s.era != "" {
		eraID = &s.era
	}
	session, err := s.app.coord.CreateSession(ctx, eraID)
	if err != nil {
		return err
	}
	s.app.printer.Title(sessionLabel(session))
	return nil
}

func sessionLabel(session datatypes.Session) string {
	title := session.Title
	if title == "" {
		title = "Untitled"
	}
	if session.EraName != "" {
		return fmt.Sprintf("%s  [%s]  #%s", title, session.EraName, session.ID)
	}
	return fmt.Sprintf("%s  #%s", title, session.ID)
}

// command runs a slash command and reports whether to quit.
func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	a := s.app
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help", "/?":
		a.printer.Raw(chatHelp + "\n")
	case "/history":
		state := a.coord.Snapshot()
		a.printer.Raw(ux.Transcript(findSession(state.Sessions, state.ActiveSessionID), state.Messages))
	case "/sessions":
		if err := a.coord.LoadSessions(ctx); err != nil {
			return false, err
		}
		state := a.coord.Snapshot()
		a.printer.Raw(ux.SessionTable(state.Sessions, state.ActiveSessionID, a.printer.Mode(), time.Now()))
	case "/switch":
		if err := validation.ValidateSessionID(arg); err != nil {
			return false, err
		}
		return false, s.open(ctx, arg)
	case "/new":
		return false, s.create(ctx)
	case "/rename":
		title, err := validation.SanitizeTitle(arg)
		if err != nil {
			return false, err
		}
		id := a.coord.Snapshot().ActiveSessionID
		session, err := a.coord.RenameSession(ctx, id, title)
		if err != nil {
			return false, err
		}
		a.printer.Success("Renamed to " + session.Title)
	default:
		return false, fmt.Errorf("unknown command %s, type /help", name)
	}
	return false, nil
}

// send streams one answer to the terminal. Interrupts cancel the answer
// rather than the program.
func (s *chatSession) send(ctx context.Context, text string, interrupts <-chan os.Signal) error {
	a := s.app
	if err := validation.ValidateMessage(text); err != nil {
		a.printer.Error(err.Error())
		return nil
	}

	updates, unsubscribe := a.coord.Subscribe()
	defer unsubscribe()

	before := len(a.coord.Snapshot().Messages)
	if !a.coord.SendMessage(text) {
		a.printer.Warning("The tutor is still answering. Wait for it or press Ctrl-C.")
		return nil
	}
	s.renderer.Begin()

	for {
		state := a.coord.Snapshot()
		s.renderer.Content(state.VisibleStreamingContent())
		if !state.IsStreaming {
			s.finish(state, before)
			return nil
		}
		select {
		case <-ctx.Done():
			a.coord.CancelStream()
			s.renderer.Cancelled()
			return ctx.Err()
		case <-interrupts:
			a.coord.CancelStream()
		case _, ok := <-updates:
			if !ok {
				s.renderer.Cancelled()
				return errClosed
			}
		}
	}
}

// finish settles the renderer once the stream has closed.
func (s *chatSession) finish(state chat.State, before int) {
	msgs := state.Messages
	switch {
	case state.Error != "":
		s.renderer.Fail(state.Error)
		s.app.coord.ClearError()
	case len(msgs) > before+1 && msgs[len(msgs)-1].Role == datatypes.RoleAssistant:
		s.renderer.Done(msgs[len(msgs)-1])
	default:
		s.renderer.Cancelled()
	}
}
