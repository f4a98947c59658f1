// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestValidateSubjectName(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		wantErr bool
	}{
		// Valid names
		{"simple", "John Doe", false},
		{"two chars", "Li", false},
		{"hyphenated", "Mary Smith-Jones", false},
		{"apostrophe", "Sean O'Brien", false},
		{"period", "Anna St. James", false},
		{"max length", "A" + strings.Repeat("b", 99), false},

		// Invalid names
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"single char", "X", true},
		{"too long", strings.Repeat("a", 101), true},
		{"digits", "John Doe 3rd", true},
		{"sql injection", "Robert'); DROP TABLE patients;--", true},
		{"path traversal", "../../etc/passwd", true},
		{"newline", "John\nDoe", true},
		{"leading space", " John", true},
		{"unicode symbols", "John™ Doe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubjectName(tt.subject)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSubjectName(%q) error = %v, wantErr %v", tt.subject, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeSubjectName(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
		wantErr bool
	}{
		{"passthrough", "John Doe", "John Doe", false},
		{"trimmed", "  John Doe  ", "John Doe", false},
		{"collapsed spaces", "John   Doe", "John Doe", false},
		{"invalid rejected", "J0hn", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeSubjectName(tt.subject)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeSubjectName(%q) error = %v, wantErr %v", tt.subject, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeSubjectName(%q) = %q, want %q", tt.subject, got, tt.want)
			}
		})
	}
}
