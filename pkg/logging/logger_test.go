// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"trace", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_StderrText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "toledot", Stderr: &buf})
	defer logger.Close()

	logger.Debug("hidden")
	logger.Info("stream started", "session_id", "12")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message written at info level: %q", out)
	}
	for _, want := range []string{"stream started", "session_id=12", "service=toledot"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestNew_StderrJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, JSON: true, Stderr: &buf})

	logger.Debug("refresh started", "waiters", 3)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("stderr output is not JSON: %v (%q)", err, buf.String())
	}
	if record["msg"] != "refresh started" {
		t.Errorf("msg = %v, want %q", record["msg"], "refresh started")
	}
	if record["waiters"] != float64(3) {
		t.Errorf("waiters = %v, want 3", record["waiters"])
	}
}

func TestNew_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Stderr: &buf})

	logger.Info("seeding", "access_token", "secret-a", "Refresh_Token", "secret-r", "csrf_present", true)

	out := buf.String()
	if strings.Contains(out, "secret-a") || strings.Contains(out, "secret-r") {
		t.Fatalf("credential leaked: %q", out)
	}
	if !strings.Contains(out, "csrf_present=true") {
		t.Errorf("non-sensitive attribute dropped: %q", out)
	}
}

func TestNew_FileFanout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "devbackend", Stderr: &buf})

	logger.With("request_id", "r1").Warn("slow request", "duration_ms", 1500)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !strings.Contains(buf.String(), "slow request") {
		t.Errorf("stderr missing record: %q", buf.String())
	}

	path := filepath.Join(dir, "devbackend_"+time.Now().Format("2006-01-02")+".log")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("log file is empty")
	}
	var record map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
		t.Fatalf("file record is not JSON: %v", err)
	}
	if record["request_id"] != "r1" || record["service"] != "devbackend" {
		t.Errorf("file record = %v", record)
	}
}

func TestNew_QuietWithoutFileDiscards(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Stderr: &buf})

	logger.Error("nobody hears this")

	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
}

func TestNew_UnwritableLogDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer

	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Stderr: &buf})
	logger.Info("still works")

	out := buf.String()
	if !strings.Contains(out, "file logging disabled") || !strings.Contains(out, "still works") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestClose_Idempotent(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/.toledot/logs"); got != filepath.Join(home, ".toledot/logs") {
		t.Errorf("expandPath(~) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(abs) = %q", got)
	}
}
