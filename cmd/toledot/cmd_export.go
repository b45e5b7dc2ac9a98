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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sunggeunkim/church-history/pkg/datatypes"
	"github.com/sunggeunkim/church-history/pkg/ux"
	"github.com/sunggeunkim/church-history/pkg/validation"
)

// Export formats.
const (
	formatMarkdown = "markdown"
	formatYAML     = "yaml"
)

const defaultExportConcurrency = 4

// exportDoc is the YAML form of an exported session.
type exportDoc struct {
	ID        string             `yaml:"id"`
	Title     string             `yaml:"title"`
	Era       string             `yaml:"era,omitempty"`
	CreatedAt string             `yaml:"created_at,omitempty"`
	UpdatedAt string             `yaml:"updated_at,omitempty"`
	Messages  []exportDocMessage `yaml:"messages"`
}

type exportDocMessage struct {
	ID        string               `yaml:"id"`
	Role      string               `yaml:"role"`
	CreatedAt string               `yaml:"created_at,omitempty"`
	Content   string               `yaml:"content"`
	Sources   []datatypes.Citation `yaml:"sources,omitempty"`
}

type exportOptions struct {
	dir         string
	format      string
	concurrency int
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	eo := exportOptions{}
	cmd := &cobra.Command{
		Use:   "export [session-id...]",
		Short: "Export transcripts as Markdown or YAML",
		Long: `Exports the given sessions, or every session when none are named.
Transcripts are fetched concurrently. With --dir each session is written
to its own file; otherwise transcripts are printed in list order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := validation.ValidateSessionID(id); err != nil {
					return err
				}
			}
			eo.format = strings.ToLower(eo.format)
			if eo.format != formatMarkdown && eo.format != formatYAML {
				return fmt.Errorf("unknown format %q, expected markdown or yaml", eo.format)
			}
			if eo.concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}
			a, err := opts.getApp(cmd.Context())
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), a, eo, args)
		},
	}
	cmd.Flags().StringVarP(&eo.dir, "dir", "d", "", "write one file per session into this directory")
	cmd.Flags().StringVarP(&eo.format, "format", "f", formatMarkdown, "markdown or yaml")
	cmd.Flags().IntVarP(&eo.concurrency, "concurrency", "c", defaultExportConcurrency, "sessions fetched at once")
	return cmd
}

func runExport(ctx context.Context, a *app, eo exportOptions, ids []string) error {
	if err := a.coord.LoadSessions(ctx); err != nil {
		return err
	}
	listed := a.coord.Snapshot().Sessions

	sessions := listed
	if len(ids) > 0 {
		sessions = make([]datatypes.Session, 0, len(ids))
		for _, id := range ids {
			sessions = append(sessions, findSession(listed, id))
		}
	}
	if len(sessions) == 0 {
		a.printer.Muted("Nothing to export.")
		return nil
	}

	if eo.dir != "" {
		if err := os.MkdirAll(eo.dir, 0o750); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}

	// Each worker writes only its own slot.
	rendered := make([]string, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(eo.concurrency)
	for i, session := range sessions {
		g.Go(func() error {
			messages, err := a.client.ListMessages(gctx, session.ID)
			if err != nil {
				return fmt.Errorf("export session %s: %w", session.ID, err)
			}
			out, err := renderExport(session, messages, eo.format)
			if err != nil {
				return err
			}
			rendered[i] = out
			a.log.Debug("session exported", "session_id", session.ID, "messages", len(messages))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if eo.dir == "" {
		for i, out := range rendered {
			if i > 0 && eo.format == formatYAML {
				a.printer.Raw("---\n")
			}
			a.printer.Raw(out)
		}
		return nil
	}

	for i, session := range sessions {
		path := filepath.Join(eo.dir, exportFileName(session.ID, eo.format))
		if err := os.WriteFile(path, []byte(rendered[i]), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		if a.printer.Mode() == ux.ModeMachine {
			a.printer.Raw(path + "\n")
		}
	}
	a.printer.Success(fmt.Sprintf("Exported %d sessions to %s", len(sessions), eo.dir))
	return nil
}

func exportFileName(id, format string) string {
	ext := ".md"
	if format == formatYAML {
		ext = ".yaml"
	}
	return "session-" + id + ext
}

func renderExport(session datatypes.Session, messages []datatypes.Message, format string) (string, error) {
	if format == formatMarkdown {
		return ux.Transcript(session, messages), nil
	}

	doc := exportDoc{
		ID:        session.ID,
		Title:     session.Title,
		CreatedAt: datatypes.FormatTime(session.CreatedAt),
		UpdatedAt: datatypes.FormatTime(session.UpdatedAt),
		Messages:  make([]exportDocMessage, 0, len(messages)),
	}
	if session.HasEra() {
		doc.Era = *session.EraID
		if session.EraName != "" {
			doc.Era = session.EraName
		}
	}
	for _, m := range messages {
		msg := exportDocMessage{
			ID:      m.ID.Value(),
			Role:    string(m.Role),
			Content: m.Content,
			Sources: m.Sources,
		}
		if !m.CreatedAt.IsZero() {
			msg.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339)
		}
		doc.Messages = append(doc.Messages, msg)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	return string(out), nil
}
