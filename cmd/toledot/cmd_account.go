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

	"github.com/spf13/cobra"

	"github.com/sunggeunkim/church-history/pkg/ux"
)

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.getApp(cmd.Context())
			if err != nil {
				return err
			}
			user, err := a.client.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			if a.printer.Mode() == ux.ModeMachine {
				a.printer.Raw(fmt.Sprintf("%s\t%s\t%s\n", user.ID, user.Email, user.DisplayName))
				return nil
			}
			name := user.DisplayName
			if name == "" {
				name = user.Email
			}
			body := fmt.Sprintf("Email: %s\nUser id: %s", user.Email, user.ID)
			if !user.CreatedAt.IsZero() {
				body += "\nJoined: " + user.CreatedAt.Format("January 2, 2006")
			}
			a.printer.Box(name, body)
			return nil
		},
	}
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and revoke the current credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.getApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}
			a.printer.Success("Signed out. Remove TOLEDOT_ACCESS_TOKEN and TOLEDOT_REFRESH_TOKEN from your environment.")
			return nil
		},
	}
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the toledot version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(opts.out, "toledot "+version)
		},
	}
}
