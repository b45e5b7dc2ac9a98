// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the toledot client configuration.
//
// The configuration lives in a YAML file (default ~/.toledot/config.yaml).
// Environment variables override selected fields so credentials and the
// backend address can be injected without touching the file.
package config

import (
	"strings"
	"time"
)

// Config is the full client configuration.
type Config struct {
	// API: where the backend lives and how requests behave
	API APIConfig `yaml:"api"`

	// Stream: chat stream tuning
	Stream StreamConfig `yaml:"stream"`

	// Chat: conversation coordinator behavior
	Chat ChatConfig `yaml:"chat"`

	// Logging: level and optional log file directory
	Logging LoggingConfig `yaml:"logging"`

	// Tracing: span exporter selection
	Tracing TracingConfig `yaml:"tracing"`

	// Credentials: seeded into the cookie jar at startup. Usually empty in
	// the file and supplied through the environment.
	Credentials CredentialsConfig `yaml:"credentials,omitempty"`
}

type APIConfig struct {
	Origin         string        `yaml:"origin" validate:"required,url"`             // e.g. http://localhost:8000
	BaseURL        string        `yaml:"base_url,omitempty" validate:"omitempty,url"` // overrides Origin + "/api"
	Timeout        time.Duration `yaml:"timeout" validate:"gte=0"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" validate:"gte=0"`
	RateLimit      float64       `yaml:"rate_limit" validate:"gte=0"` // requests per second, 0 = unlimited
	RateBurst      int           `yaml:"rate_burst" validate:"gte=0"`
}

type StreamConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Buffer  int           `yaml:"buffer" validate:"gte=0"`
}

type ChatConfig struct {
	CancelStreamOnSwitch bool          `yaml:"cancel_stream_on_switch"`
	LoadTimeout          time.Duration `yaml:"load_timeout" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Exporter    string  `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint    string  `yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

type CredentialsConfig struct {
	AccessToken  string `yaml:"access_token,omitempty"`
	RefreshToken string `yaml:"refresh_token,omitempty"`
}

// BaseURL returns the API root: API.BaseURL when set, otherwise "/api"
// under API.Origin.
func (c Config) BaseURL() string {
	if c.API.BaseURL != "" {
		return strings.TrimRight(c.API.BaseURL, "/")
	}
	return strings.TrimRight(c.API.Origin, "/") + "/api"
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		API: APIConfig{
			Origin:         "http://localhost:8000",
			Timeout:        30 * time.Second,
			RefreshTimeout: 15 * time.Second,
			RateLimit:      10,
			RateBurst:      20,
		},
		Stream: StreamConfig{
			Timeout: 5 * time.Minute,
			Buffer:  64,
		},
		Chat: ChatConfig{
			CancelStreamOnSwitch: false,
			LoadTimeout:          30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			SampleRatio: 1,
		},
	}
}
