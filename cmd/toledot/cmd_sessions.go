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
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
	"github.com/sunggeunkim/church-history/pkg/ux"
	"github.com/sunggeunkim/church-history/pkg/validation"
)

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "s"},
		Short:   "Manage chat sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(opts),
		newSessionsCreateCmd(opts),
		newSessionsRenameCmd(opts),
		newSessionsDeleteCmd(opts),
	)
	return cmd
}

func newSessionsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your chat sessions, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.getApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.coord.LoadSessions(cmd.Context()); err != nil {
				return err
			}
			state := a.coord.Snapshot()
			if len(state.Sessions) == 0 && a.printer.Mode() != ux.ModeMachine {
				a.printer.Muted("No sessions yet. Start one with: toledot chat")
				return nil
			}
			a.printer.Raw(ux.SessionTable(state.Sessions, state.ActiveSessionID, a.printer.Mode(), time.Now()))
			return nil
		},
	}
}

func newSessionsCreateCmd(opts *rootOptions) *cobra.Command {
	var era, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if title != "" {
				clean, err := validation.SanitizeTitle(title)
				if err != nil {
					return err
				}
				title = clean
			}
			a, err := opts.getApp(cmd.Context())
			if err != nil {
				return err
			}
			var eraID *string
			if era != "" {
				eraID = &era
			}
			session, err := a.coord.CreateSession(cmd.Context(), eraID)
			if err != nil {
				return err
			}
			if title != "" {
				if session, err = a.coord.RenameSession(cmd.Context(), session.ID, title); err != nil {
					return err
				}
			}
			if a.printer.Mode() == ux.ModeMachine {
				a.printer.Raw(session.ID + "\n")
				return nil
			}
			a.printer.Success(fmt.Sprintf("Created session %s (%s)", session.ID, session.Title))
			return nil
		},
	}
	cmd.Flags().StringVar(&era, "era", "", "tie the session to an era by id")
	cmd.Flags().StringVar(&title, "title", "", "title for the session")
	return cmd
}

func newSessionsRenameCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-id> <title...>",
		Short: "Rename a chat session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := validation.ValidateSessionID(id); err != nil {
				return err
			}
			title, err := validation.SanitizeTitle(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			a, err := opts.getApp(cmd.Context())
			if err != nil {
				return err
			}
			session, err := a.coord.RenameSession(cmd.Context(), id, title)
			if err != nil {
				return err
			}
			a.printer.Success(fmt.Sprintf("Renamed session %s to %q", session.ID, session.Title))
			return nil
		},
	}
}

func newSessionsDeleteCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a chat session and its messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := validation.ValidateSessionID(id); err != nil {
				return err
			}
			a, err := opts.getApp(cmd.Context())
			if err != nil {
				return err
			}
			if !yes {
				if !a.interactive {
					return fmt.Errorf("refusing to delete session %s without --yes when not on a terminal", id)
				}
				ok, err := confirmDelete(id)
				if err != nil {
					return err
				}
				if !ok {
					a.printer.Muted("Delete cancelled.")
					return nil
				}
			}
			if err := a.coord.DeleteSession(cmd.Context(), id); err != nil {
				return err
			}
			a.printer.Success("Deleted session " + id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// confirmDelete asks on the terminal before a destructive delete.
func confirmDelete(id string) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Delete session %s?", id)).
			Description("The session and all of its messages will be removed.").
			Affirmative("Delete").
			Negative("Keep").
			Value(&ok),
	))
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("confirm delete: %w", err)
	}
	return ok, nil
}

func newMessagesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "messages <session-id>",
		Aliases: []string{"history", "show"},
		Short:   "Print a session's transcript",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := validation.ValidateSessionID(id); err != nil {
				return err
			}
			a, err := opts.getApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.coord.LoadSessions(cmd.Context()); err != nil {
				return err
			}
			state, err := a.openSession(cmd.Context(), id)
			if err != nil {
				return err
			}
			a.printer.Raw(ux.Transcript(findSession(state.Sessions, id), state.Messages))
			return nil
		},
	}
}

// findSession returns the listed session with id, or a stub carrying
// only the id.
func findSession(sessions []datatypes.Session, id string) datatypes.Session {
	for _, s := range sessions {
		if s.ID == id {
			return s
		}
	}
	return datatypes.Session{ID: id}
}
