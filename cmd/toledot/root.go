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
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sunggeunkim/church-history/pkg/api"
	"github.com/sunggeunkim/church-history/pkg/ux"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitAuthExpired = 3
)

// rootOptions holds the persistent flags and the lazily built app.
type rootOptions struct {
	configPath  string
	output      string
	logLevel    string
	metricsAddr string
	quietLogs   bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// stdin and stdout are the real terminal files, nil in tests.
	stdin  *os.File
	stdout *os.File

	app *app
}

func (o *rootOptions) mode() ux.Mode {
	if o.output != "" {
		return ux.ParseMode(o.output)
	}
	if o.stdout != nil {
		return ux.DetectMode(o.stdout)
	}
	return ux.ModeMachine
}

func (o *rootOptions) interactive() bool {
	return o.stdin != nil && o.stdout != nil && ux.IsInteractive(o.stdin, o.stdout)
}

// getApp builds the app on first use. Commands that never call it, such
// as version, work without a config file or a backend.
func (o *rootOptions) getApp(ctx context.Context) (*app, error) {
	if o.app != nil {
		return o.app, nil
	}
	a, err := newApp(ctx, o)
	if err != nil {
		return nil, err
	}
	o.app = a
	return a, nil
}

func (o *rootOptions) close() {
	if o.app != nil {
		o.app.Close()
		o.app = nil
	}
}

// exitCode maps a command error to the process exit status.
func (o *rootOptions) exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, api.ErrAuthExpired) || (o.app != nil && o.app.invalidated.Load()) {
		return exitAuthExpired
	}
	return exitError
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "toledot",
		Short: "Chat with the Toledot church history tutor from the terminal",
		Long: `toledot drives a Toledot tutor account from the command line: list and
manage chat sessions, read transcripts, and hold a streaming conversation.

Credentials are read from TOLEDOT_ACCESS_TOKEN and TOLEDOT_REFRESH_TOKEN
and refreshed automatically while they remain valid.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			opts.close()
		},
	}
	root.SetIn(opts.in)
	root.SetOut(opts.out)
	root.SetErr(opts.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ~/.toledot/config.yaml)")
	flags.StringVarP(&opts.output, "output", "o", "", "output style: rich, plain or machine (default: detect, or $"+ux.EnvOutput+")")
	flags.StringVar(&opts.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve client metrics on this address, e.g. localhost:9464")

	root.AddCommand(
		newSessionsCmd(opts),
		newMessagesCmd(opts),
		newChatCmd(opts),
		newWhoamiCmd(opts),
		newLogoutCmd(opts),
		newExportCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// execute runs the CLI and returns the exit code.
func execute(ctx context.Context, opts *rootOptions, args []string) int {
	root := newRootCmd(opts)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	code := opts.exitCode(err)
	opts.close()
	if err != nil {
		fmt.Fprintf(opts.errOut, "Error: %v\n", err)
	}
	return code
}
