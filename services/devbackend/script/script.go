// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package script supplies the dev backend's canned tutor replies.
//
// Replies are read from a YAML file and matched against the user's
// message by keyword. A Library can watch its file and swap in edits
// without restarting the server.
package script

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

const reloadDebounce = 100 * time.Millisecond

var validate = validator.New()

// =============================================================================
// Script
// =============================================================================

// Citation is a source attached to a reply.
type Citation struct {
	Title  string `yaml:"title" validate:"required"`
	URL    string `yaml:"url" validate:"omitempty,url"`
	Source string `yaml:"source"`
}

// Reply is one canned answer.
type Reply struct {
	// Match lists lowercase keywords; any one appearing in the message
	// selects this reply.
	Match []string `yaml:"match"`

	// Text is streamed to the client in chunks.
	Text string `yaml:"text" validate:"required_without=Error"`

	Citations []Citation `yaml:"citations" validate:"dive"`

	// Error, when set, ends the stream with an error event after Text
	// has been sent, and nothing is saved.
	Error string `yaml:"error"`

	// Title names the session after its first exchange. Empty falls back
	// to the opening words of the user's message.
	Title string `yaml:"title" validate:"max=255"`

	// ChunkSize is the number of words per delta. Zero means one.
	ChunkSize int `yaml:"chunk_size" validate:"gte=0,lte=100"`

	// DelayMS overrides the per-delta delay.
	DelayMS int `yaml:"delay_ms" validate:"gte=0,lte=5000"`
}

// Chunks splits Text into deltas whose concatenation is exactly Text.
func (r Reply) Chunks() []string {
	if r.Text == "" {
		return nil
	}
	size := r.ChunkSize
	if size <= 0 {
		size = 1
	}
	words := strings.SplitAfter(r.Text, " ")
	chunks := make([]string, 0, len(words)/size+1)
	for i := 0; i < len(words); i += size {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		if chunk := strings.Join(words[i:end], ""); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// Delay is the pause between deltas, or fallback when unset.
func (r Reply) Delay(fallback time.Duration) time.Duration {
	if r.DelayMS > 0 {
		return time.Duration(r.DelayMS) * time.Millisecond
	}
	return fallback
}

// Script is a parsed reply file.
type Script struct {
	Replies []Reply `yaml:"replies" validate:"dive"`
	Default Reply   `yaml:"default"`
}

// Match returns the first reply with a keyword contained in message,
// or Default.
func (s *Script) Match(message string) Reply {
	lower := strings.ToLower(message)
	for _, r := range s.Replies {
		for _, kw := range r.Match {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return r
			}
		}
	}
	return s.Default
}

// Parse decodes and validates a script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}
	return &s, nil
}

// Load reads and parses the script at path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Parse(data)
}

// DefaultScript returns the built-in replies.
func DefaultScript() *Script {
	s, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in script: %v", err))
	}
	return s
}

// =============================================================================
// Library
// =============================================================================

// Library serves replies from a script that may be reloaded.
//
// # Thread Safety
//
// Respond is safe to call concurrently with reloads.
type Library struct {
	path     string
	logger   *slog.Logger
	onReload func(ok bool)

	mu     sync.RWMutex
	script *Script

	debounceMu sync.Mutex
	debounce   *time.Timer
}

// NewLibrary loads the script at path. An empty path serves
// DefaultScript and never reloads. onReload, if non-nil, is told the
// result of every reload attempt.
func NewLibrary(path string, logger *slog.Logger, onReload func(ok bool)) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Library{path: path, logger: logger, onReload: onReload}
	if path == "" {
		l.script = DefaultScript()
		return l, nil
	}
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	l.script = s
	return l, nil
}

// Respond picks the reply for message.
func (l *Library) Respond(message string) Reply {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.script.Match(message)
}

// Reload re-reads the script file. On failure the current script stays
// in service.
func (l *Library) Reload() error {
	if l.path == "" {
		return nil
	}
	s, err := Load(l.path)
	if l.onReload != nil {
		l.onReload(err == nil)
	}
	if err != nil {
		l.logger.Warn("script reload failed, keeping previous replies", "path", l.path, "error", err)
		return err
	}
	l.mu.Lock()
	l.script = s
	l.mu.Unlock()
	l.logger.Info("script reloaded", "path", l.path, "replies", len(s.Replies))
	return nil
}

// Watch starts reloading the script whenever its file is written. It
// returns once the watch is installed; watching stops when ctx is done.
//
// The parent directory is watched rather than the file so that editors
// which replace the file on save are still seen.
func (l *Library) Watch(ctx context.Context) error {
	if l.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(l.path), err)
	}
	go l.watchLoop(ctx, watcher)
	return nil
}

func (l *Library) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	name := filepath.Base(l.path)
	for {
		select {
		case <-ctx.Done():
			l.debounceMu.Lock()
			if l.debounce != nil {
				l.debounce.Stop()
			}
			l.debounceMu.Unlock()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l.scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("script watcher error", "error", err)
		}
	}
}

func (l *Library) scheduleReload() {
	l.debounceMu.Lock()
	defer l.debounceMu.Unlock()
	if l.debounce != nil {
		l.debounce.Stop()
	}
	l.debounce = time.AfterFunc(reloadDebounce, func() { _ = l.Reload() })
}
