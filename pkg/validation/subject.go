// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// record lookups, file paths, or downstream queries. Using these validators
// prevents injection attacks and malformed lookups before any pipeline stage runs.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Subject name length bounds. Two characters covers initials-only charts
// ("Li"); one hundred covers the longest compound names we have seen in
// real registries.
const (
	MinSubjectNameLen = 2
	MaxSubjectNameLen = 100
)

// subjectNamePattern matches valid patient subject names.
// Allows: letters (any case), spaces, hyphens (Smith-Jones),
// apostrophes (O'Brien), and periods (St. James).
var subjectNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z .'\-]*$`)

// ValidateSubjectName validates a patient subject name before it is used
// to drive a pipeline run.
//
// Valid names:
//   - 2-100 characters
//   - Letters A-Z / a-z
//   - Spaces, hyphens, apostrophes, and periods
//
// Returns an error describing the first violation found.
//
// Example:
//
//	if err := validation.ValidateSubjectName(name); err != nil {
//	    return nil, fmt.Errorf("invalid subject: %w", err)
//	}
//	// Safe to pass to the extraction stage
func ValidateSubjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("subject name cannot be empty")
	}

	if len(name) < MinSubjectNameLen || len(name) > MaxSubjectNameLen {
		return fmt.Errorf("subject name length must be between %d and %d characters, got %d",
			MinSubjectNameLen, MaxSubjectNameLen, len(name))
	}

	if !subjectNamePattern.MatchString(name) {
		return fmt.Errorf("invalid subject name format: %q (letters, spaces, hyphens, apostrophes, and periods only)", name)
	}

	return nil
}

// SanitizeSubjectName normalizes and validates a subject name.
// Returns the trimmed, whitespace-collapsed name if valid.
//
// Use this when you need both validation and normalization:
//
//	subject, err := validation.SanitizeSubjectName(userInput)
//	if err != nil {
//	    return err
//	}
//	// subject has no leading/trailing/duplicate whitespace
func SanitizeSubjectName(name string) (string, error) {
	normalized := strings.Join(strings.Fields(name), " ")
	if err := ValidateSubjectName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
