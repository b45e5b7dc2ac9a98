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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvBaseURL      = "TOLEDOT_API_BASE_URL"
	EnvOrigin       = "TOLEDOT_ORIGIN"
	EnvAccessToken  = "TOLEDOT_ACCESS_TOKEN"
	EnvRefreshToken = "TOLEDOT_REFRESH_TOKEN"
	EnvLogLevel     = "TOLEDOT_LOG_LEVEL"
)

var validate = validator.New()

// DefaultPath returns ~/.toledot/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".toledot", "config.yaml"), nil
}

// Load reads the config at path, applies environment overrides and
// validates the result.
//
// # Description
//
// A missing file is not an error: Default() is used. Fields absent from
// the file keep their default values. An empty path means DefaultPath().
//
// # Outputs
//
//   - Config: The effective configuration.
//   - error: Read, parse or validation failure.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg, os.LookupEnv)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every violation.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvOrigin); ok && v != "" {
		cfg.API.Origin = v
	}
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		cfg.API.BaseURL = v
	}
	if v, ok := lookup(EnvAccessToken); ok && v != "" {
		cfg.Credentials.AccessToken = v
	}
	if v, ok := lookup(EnvRefreshToken); ok && v != "" {
		cfg.Credentials.RefreshToken = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// WriteDefault writes Default() to path, creating parent directories. An
// existing file is left alone.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	// 0600: the file may later hold refresh tokens.
	return os.WriteFile(path, data, 0o600)
}
