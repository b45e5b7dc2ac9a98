// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode controls how rich terminal output is.
type Mode string

const (
	// ModeRich enables colors, icons, boxes and spinners.
	ModeRich Mode = "rich"

	// ModePlain keeps icons and layout but no animation.
	ModePlain Mode = "plain"

	// ModeMachine prints plain, prefixed lines suitable for scripting.
	ModeMachine Mode = "machine"
)

// EnvOutput selects the output mode explicitly.
const EnvOutput = "TOLEDOT_OUTPUT"

// ParseMode converts a string to a Mode. Unknown values map to ModePlain.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "r":
		return ModeRich
	case "machine", "quiet", "q":
		return ModeMachine
	default:
		return ModePlain
	}
}

// DetectMode picks the mode for out: TOLEDOT_OUTPUT when set, rich on a
// terminal, machine otherwise.
func DetectMode(out *os.File) Mode {
	if env := os.Getenv(EnvOutput); env != "" {
		return ParseMode(env)
	}
	if isTerminal(out) {
		return ModeRich
	}
	return ModeMachine
}

// IsInteractive reports whether both in and out are terminals, so
// prompts can be shown.
func IsInteractive(in, out *os.File) bool {
	return isTerminal(in) && isTerminal(out)
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
