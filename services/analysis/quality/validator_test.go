// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package quality

import (
	"strings"
	"testing"

	"github.com/meridian-health/chartgate/services/analysis/datatypes"
)

func completeRecord() *datatypes.PatientRecord {
	return &datatypes.PatientRecord{
		MRN:  "MRN-1001",
		Name: "Jordan Avery",
		Age:  58,
		Conditions: []datatypes.Condition{
			{Code: "I10", Display: "Essential hypertension", Status: "active"},
		},
		Medications: []datatypes.Medication{
			{Name: "lisinopril", Dose: 10, DoseUnit: "mg", Frequency: "daily"},
		},
	}
}

func completeSummary() *datatypes.ClinicalSummary {
	return &datatypes.ClinicalSummary{
		MRN:         "MRN-1001",
		Text:        "58 year old patient with essential hypertension, well controlled on lisinopril 10 mg daily. No acute complaints at this visit.",
		KeyFindings: []string{"hypertension controlled"},
	}
}

func completeCorrelation() *datatypes.CorrelationResult {
	return &datatypes.CorrelationResult{
		MRN: "MRN-1001",
		Findings: []datatypes.LiteratureFinding{
			{ConditionCode: "I10", Title: "Hypertension management guidelines", Source: "local-index"},
		},
	}
}

func TestValidateCleanArtifacts(t *testing.T) {
	v := NewDataValidator()
	issues := v.Validate(completeRecord(), completeSummary(), completeCorrelation())
	if len(issues) != 0 {
		t.Fatalf("expected no issues for complete artifacts, got %v", issues)
	}
}

func TestValidateNilArtifactsAreCritical(t *testing.T) {
	v := NewDataValidator()
	issues := v.Validate(nil, nil, nil)
	if len(issues) != 3 {
		t.Fatalf("expected 3 issues, got %d: %v", len(issues), issues)
	}
	for _, issue := range issues {
		if issue.Severity != datatypes.IssueCritical {
			t.Errorf("issue %q: severity = %s, want critical", issue.Field, issue.Severity)
		}
	}
}

func TestValidateFieldIssues(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*datatypes.PatientRecord, *datatypes.ClinicalSummary, *datatypes.CorrelationResult)
		wantField string
		wantSev   datatypes.IssueSeverity
	}{
		{
			name:      "missing mrn",
			mutate:    func(r *datatypes.PatientRecord, _ *datatypes.ClinicalSummary, _ *datatypes.CorrelationResult) { r.MRN = "" },
			wantField: "record.mrn",
			wantSev:   datatypes.IssueError,
		},
		{
			name:      "implausible age",
			mutate:    func(r *datatypes.PatientRecord, _ *datatypes.ClinicalSummary, _ *datatypes.CorrelationResult) { r.Age = 212 },
			wantField: "record.age",
			wantSev:   datatypes.IssueWarning,
		},
		{
			name:      "negative age",
			mutate:    func(r *datatypes.PatientRecord, _ *datatypes.ClinicalSummary, _ *datatypes.CorrelationResult) { r.Age = -1 },
			wantField: "record.age",
			wantSev:   datatypes.IssueWarning,
		},
		{
			name: "malformed patient name",
			mutate: func(r *datatypes.PatientRecord, _ *datatypes.ClinicalSummary, _ *datatypes.CorrelationResult) {
				r.Name = "J0rd4n <script>"
			},
			wantField: "record.name",
			wantSev:   datatypes.IssueWarning,
		},
		{
			name:      "empty narrative",
			mutate:    func(_ *datatypes.PatientRecord, s *datatypes.ClinicalSummary, _ *datatypes.CorrelationResult) { s.Text = "" },
			wantField: "summary.text",
			wantSev:   datatypes.IssueError,
		},
		{
			name:      "short narrative",
			mutate:    func(_ *datatypes.PatientRecord, s *datatypes.ClinicalSummary, _ *datatypes.CorrelationResult) { s.Text = "Stable." },
			wantField: "summary.text",
			wantSev:   datatypes.IssueWarning,
		},
		{
			name: "untitled finding",
			mutate: func(_ *datatypes.PatientRecord, _ *datatypes.ClinicalSummary, c *datatypes.CorrelationResult) {
				c.Findings[0].Title = ""
			},
			wantField: "correlation.findings[0]",
			wantSev:   datatypes.IssueWarning,
		},
		{
			name: "degraded correlation is informational",
			mutate: func(_ *datatypes.PatientRecord, _ *datatypes.ClinicalSummary, c *datatypes.CorrelationResult) {
				c.Degraded = true
			},
			wantField: "correlation",
			wantSev:   datatypes.IssueInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, summary, correlation := completeRecord(), completeSummary(), completeCorrelation()
			tt.mutate(record, summary, correlation)

			issues := NewDataValidator().Validate(record, summary, correlation)
			found := false
			for _, issue := range issues {
				if issue.Field == tt.wantField {
					found = true
					if issue.Severity != tt.wantSev {
						t.Errorf("field %s: severity = %s, want %s", issue.Field, issue.Severity, tt.wantSev)
					}
				}
			}
			if !found {
				t.Errorf("no issue reported for field %s; got %v", tt.wantField, issues)
			}
		})
	}
}

func TestValidateContinuesPastMissingArtifact(t *testing.T) {
	summary := completeSummary()
	summary.Text = ""

	issues := NewDataValidator().Validate(nil, summary, completeCorrelation())

	var gotRecordMissing, gotEmptyText bool
	for _, issue := range issues {
		if issue.Field == "record" && issue.Severity == datatypes.IssueCritical {
			gotRecordMissing = true
		}
		if issue.Field == "summary.text" && strings.Contains(issue.Message, "empty") {
			gotEmptyText = true
		}
	}
	if !gotRecordMissing || !gotEmptyText {
		t.Errorf("expected both the missing-record and empty-text issues, got %v", issues)
	}
}
