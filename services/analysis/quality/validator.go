// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package quality implements the structural validator and the composite
// quality-assurance engine that gates report publication.
package quality

import (
	"fmt"

	"github.com/meridian-health/chartgate/pkg/validation"
	"github.com/meridian-health/chartgate/services/analysis/datatypes"
)

// Plausibility bounds for demographic fields.
const (
	maxPlausibleAge = 150
)

// DataValidator inspects the three mid-pipeline artifacts independently
// and reports typed validation issues. Stateless and safe for concurrent
// use.
type DataValidator struct{}

// NewDataValidator creates a DataValidator.
func NewDataValidator() *DataValidator {
	return &DataValidator{}
}

// Validate inspects the record, summary, and correlation artifacts and
// returns every issue found. A nil artifact is itself a critical issue;
// validation of the remaining artifacts continues so one missing piece
// does not hide other problems.
func (v *DataValidator) Validate(record *datatypes.PatientRecord, summary *datatypes.ClinicalSummary, correlation *datatypes.CorrelationResult) []datatypes.ValidationIssue {
	var issues []datatypes.ValidationIssue

	issues = append(issues, v.validateRecord(record)...)
	issues = append(issues, v.validateSummary(summary)...)
	issues = append(issues, v.validateCorrelation(correlation)...)
	return issues
}

func (v *DataValidator) validateRecord(record *datatypes.PatientRecord) []datatypes.ValidationIssue {
	if record == nil {
		return []datatypes.ValidationIssue{{
			Severity: datatypes.IssueCritical,
			Field:    "record",
			Message:  "patient record artifact is missing",
		}}
	}

	var issues []datatypes.ValidationIssue
	if record.MRN == "" {
		issues = append(issues, datatypes.ValidationIssue{
			Severity: datatypes.IssueError,
			Field:    "record.mrn",
			Message:  "record has no medical record number",
		})
	}
	if record.Name == "" {
		issues = append(issues, datatypes.ValidationIssue{
			Severity: datatypes.IssueError,
			Field:    "record.name",
			Message:  "record has no patient name",
		})
	} else if err := validation.ValidateSubjectName(record.Name); err != nil {
		issues = append(issues, datatypes.ValidationIssue{
			Severity: datatypes.IssueWarning,
			Field:    "record.name",
			Message:  err.Error(),
		})
	}
	if record.Age < 0 || record.Age > maxPlausibleAge {
		issues = append(issues, datatypes.ValidationIssue{
			Severity: datatypes.IssueWarning,
			Field:    "record.age",
			Message:  fmt.Sprintf("implausible age %d (expected 0-%d)", record.Age, maxPlausibleAge),
		})
	}
	if len(record.Conditions) == 0 {
		issues = append(issues, datatypes.ValidationIssue{
			Severity: datatypes.IssueWarning,
			Field:    "record.conditions",
			Message:  "record carries no extracted conditions",
		})
	}
	for i, cond := range record.Conditions {
		if cond.Display == "" {
			issues = append(issues, datatypes.ValidationIssue{
				Severity: datatypes.IssueWarning,
				Field:    fmt.Sprintf("record.conditions[%d]", i),
				Message:  "condition entry has no display name",
			})
		}
	}
	for i, med := range record.Medications {
		if med.Name == "" {
			issues = append(issues, datatypes.ValidationIssue{
				Severity: datatypes.IssueWarning,
				Field:    fmt.Sprintf("record.medications[%d]", i),
				Message:  "medication entry has no name",
			})
		}
		if med.Dose < 0 {
			issues = append(issues, datatypes.ValidationIssue{
				Severity: datatypes.IssueWarning,
				Field:    fmt.Sprintf("record.medications[%d].dose", i),
				Message:  fmt.Sprintf("negative dose %g", med.Dose),
			})
		}
	}
	return issues
}

func (v *DataValidator) validateSummary(summary *datatypes.ClinicalSummary) []datatypes.ValidationIssue {
	if summary == nil {
		return []datatypes.ValidationIssue{{
			Severity: datatypes.IssueCritical,
			Field:    "summary",
			Message:  "clinical summary artifact is missing",
		}}
	}

	var issues []datatypes.ValidationIssue
	if summary.MRN == "" {
		issues = append(issues, datatypes.ValidationIssue{
			Severity: datatypes.IssueError,
			Field:    "summary.mrn",
			Message:  "summary has no medical record number",
		})
	}
	if summary.Text == "" {
		issues = append(issues, datatypes.ValidationIssue{
			Severity: datatypes.IssueError,
			Field:    "summary.text",
			Message:  "summary narrative text is empty",
		})
	} else if len(summary.Text) < 40 {
		issues = append(issues, datatypes.ValidationIssue{
			Severity: datatypes.IssueWarning,
			Field:    "summary.text",
			Message:  fmt.Sprintf("summary narrative is only %d characters", len(summary.Text)),
		})
	}
	return issues
}

func (v *DataValidator) validateCorrelation(correlation *datatypes.CorrelationResult) []datatypes.ValidationIssue {
	if correlation == nil {
		return []datatypes.ValidationIssue{{
			Severity: datatypes.IssueCritical,
			Field:    "correlation",
			Message:  "correlation artifact is missing",
		}}
	}

	var issues []datatypes.ValidationIssue
	if correlation.MRN == "" {
		issues = append(issues, datatypes.ValidationIssue{
			Severity: datatypes.IssueError,
			Field:    "correlation.mrn",
			Message:  "correlation result has no medical record number",
		})
	}
	// Zero findings is valid: not every condition has literature matches.
	for i, finding := range correlation.Findings {
		if finding.Title == "" {
			issues = append(issues, datatypes.ValidationIssue{
				Severity: datatypes.IssueWarning,
				Field:    fmt.Sprintf("correlation.findings[%d]", i),
				Message:  "literature finding has no title",
			})
		}
	}
	if correlation.Degraded {
		issues = append(issues, datatypes.ValidationIssue{
			Severity: datatypes.IssueInfo,
			Field:    "correlation",
			Message:  "correlation ran degraded; external knowledge source was unavailable",
		})
	}
	return issues
}
