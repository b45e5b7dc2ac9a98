// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided chat inputs before they reach
// the backend or a URL path.
//
// The same limits are enforced by the CLI (to fail fast with a clear
// message) and by the dev backend (to reject bad requests with 400).
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxTitleLength is the longest session title the backend stores.
	MaxTitleLength = 255

	// MaxMessageLength is the longest chat message the backend accepts.
	MaxMessageLength = 10000
)

// sessionIDPattern matches backend session identifiers.
// Allows: letters, digits, underscore, hyphen. No dots or slashes, so an
// id can never change the shape of a URL path.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateSessionID validates a session id taken from user input.
//
// Example:
//
//	if err := validation.ValidateSessionID(args[0]); err != nil {
//	    return err
//	}
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id %q (letters, digits, '_' or '-', up to 64 chars)", id)
	}
	return nil
}

// SanitizeTitle trims a session title and validates it.
// Returns the trimmed title, or an error if it is empty, too long, or
// contains control characters.
func SanitizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("title cannot be empty")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleLength {
		return "", fmt.Errorf("title is %d characters, the limit is %d", n, MaxTitleLength)
	}
	if strings.IndexFunc(title, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("title cannot contain control characters")
	}
	return title, nil
}

// ValidateMessage checks a chat message. Newlines are allowed; blank
// messages and messages over MaxMessageLength are not.
func ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message cannot be empty")
	}
	if !utf8.ValidString(message) {
		return fmt.Errorf("message is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(message); n > MaxMessageLength {
		return fmt.Errorf("message is %d characters, the limit is %d", n, MaxMessageLength)
	}
	return nil
}
