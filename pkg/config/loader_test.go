// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvBaseURL, EnvOrigin, EnvAccessToken, EnvRefreshToken, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

// TestLoad_MissingFileUsesDefaults verifies a first run needs no file.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "http://localhost:8000/api", cfg.BaseURL())
}

// TestLoad_PartialFileKeepsDefaults verifies unspecified fields keep defaults.
func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
api:
  origin: https://toledot.example.org
stream:
  timeout: 90s
chat:
  cancel_stream_on_switch: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://toledot.example.org/api", cfg.BaseURL())
	assert.Equal(t, 90*time.Second, cfg.Stream.Timeout)
	assert.Equal(t, 64, cfg.Stream.Buffer)
	assert.True(t, cfg.Chat.CancelStreamOnSwitch)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
}

// TestLoad_EnvOverrides verifies environment variables win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBaseURL, "http://127.0.0.1:9000/api/")
	t.Setenv(EnvAccessToken, "acc")
	t.Setenv(EnvRefreshToken, "ref")
	t.Setenv(EnvLogLevel, "DEBUG")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9000/api", cfg.BaseURL())
	assert.Equal(t, "acc", cfg.Credentials.AccessToken)
	assert.Equal(t, "ref", cfg.Credentials.RefreshToken)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [not, a, map"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad origin", func(c *Config) { c.API.Origin = "not a url" }, "Origin"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "Level"},
		{"unknown exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, "Exporter"},
		{"otlp needs endpoint", func(c *Config) { c.Tracing.Exporter = "otlp" }, "Endpoint"},
		{"otlp with endpoint", func(c *Config) {
			c.Tracing.Exporter = "otlp"
			c.Tracing.Endpoint = "localhost:4317"
		}, ""},
		{"ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "SampleRatio"},
		{"negative buffer", func(c *Config) { c.Stream.Buffer = -1 }, "Buffer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestWriteDefault verifies the file is created in nested directories and
// round-trips through Load.
func TestWriteDefault(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "deep", "nested", "config.yaml")

	require.NoError(t, WriteDefault(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Contains(t, raw, "api")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

// TestWriteDefault_KeepsExisting verifies user edits are never overwritten.
func TestWriteDefault_KeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600))

	require.NoError(t, WriteDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "logging:\n  level: warn\n", string(data))
}
