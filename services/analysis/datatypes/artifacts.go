// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the artifacts that flow through the analysis
// pipeline and the value objects attached to them.
//
// Every mid-pipeline artifact carries the subject's MRN (medical record
// number). The MRN is the identity key of a run: the orchestrator checks it
// at every stage boundary, and a mismatch aborts the run before any
// cross-subject data can leak into a report.
package datatypes

import (
	"time"
)

// Artifact is implemented by every pipeline artifact that carries the
// subject identity key.
type Artifact interface {
	// SubjectID returns the MRN the artifact belongs to.
	SubjectID() string
}

// Condition is one diagnosed condition extracted from a clinical document.
type Condition struct {
	// Code is the ICD-10 code, e.g. "I10".
	Code string `json:"code"`

	// Display is the human-readable condition name.
	Display string `json:"display"`

	// Status is the clinical status, e.g. "active", "resolved".
	Status string `json:"status,omitempty"`

	// Onset is the recorded onset date, if present in the source document.
	Onset string `json:"onset,omitempty"`
}

// Medication is one medication entry extracted from a clinical document.
type Medication struct {
	Name      string  `json:"name"`
	Dose      float64 `json:"dose,omitempty"`
	DoseUnit  string  `json:"dose_unit,omitempty"`
	Frequency string  `json:"frequency,omitempty"`
}

// Procedure is one performed procedure extracted from a clinical document.
type Procedure struct {
	Code        string `json:"code,omitempty"`
	Display     string `json:"display"`
	PerformedAt string `json:"performed_at,omitempty"`
}

// PatientRecord is the output of the extraction stage. It establishes the
// identity key (MRN) that every downstream artifact must match.
type PatientRecord struct {
	MRN        string       `json:"mrn"`
	Name       string       `json:"name"`
	BirthDate  string       `json:"birth_date,omitempty"`
	Age        int          `json:"age,omitempty"`
	Sex        string       `json:"sex,omitempty"`
	Conditions []Condition  `json:"conditions"`
	Medications []Medication `json:"medications"`
	Procedures []Procedure  `json:"procedures,omitempty"`
	Allergies  []string     `json:"allergies,omitempty"`

	// SourceURI identifies the document the record was extracted from.
	SourceURI   string    `json:"source_uri,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// SubjectID returns the record's MRN.
func (r *PatientRecord) SubjectID() string { return r.MRN }

// ClinicalSummary is the output of the summarization stage: free-text
// narrative generated from a PatientRecord.
type ClinicalSummary struct {
	MRN         string    `json:"mrn"`
	Text        string    `json:"text"`
	KeyFindings []string  `json:"key_findings,omitempty"`

	// Model names the generator that produced the text ("gpt-4o-mini",
	// "template"). Kept for audit trails.
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// SubjectID returns the summary's MRN.
func (s *ClinicalSummary) SubjectID() string { return s.MRN }

// LiteratureFinding is one literature reference matched to a condition
// during the correlation stage.
type LiteratureFinding struct {
	ConditionCode string  `json:"condition_code"`
	Title         string  `json:"title"`
	Source        string  `json:"source"`
	Relevance     float64 `json:"relevance,omitempty"`
}

// CorrelationResult is the output of the correlation stage.
type CorrelationResult struct {
	MRN      string              `json:"mrn"`
	Findings []LiteratureFinding `json:"findings"`
	Sources  []string            `json:"sources,omitempty"`

	// Degraded is true when the knowledge source was unavailable and the
	// run continued with an empty correlation instead of aborting.
	Degraded    bool      `json:"degraded,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// SubjectID returns the correlation result's MRN.
func (c *CorrelationResult) SubjectID() string { return c.MRN }

// AnalysisReport is the assembled output of one pipeline run. Quality and
// StorageLocation are filled in by the quality gate and persistence stages.
type AnalysisReport struct {
	MRN         string             `json:"mrn"`
	PatientName string             `json:"patient_name"`
	Record      *PatientRecord     `json:"record"`
	Summary     *ClinicalSummary   `json:"summary"`
	Correlation *CorrelationResult `json:"correlation"`
	AssembledAt time.Time          `json:"assembled_at"`

	// Quality is attached exactly once, by the quality gate. It is never
	// recomputed for this report instance.
	Quality *QualityAssessment `json:"quality,omitempty"`

	// StorageLocation is the opaque location string returned by the
	// persistence backend. Empty until the report is persisted.
	StorageLocation string `json:"storage_location,omitempty"`
}

// SubjectID returns the report's MRN.
func (r *AnalysisReport) SubjectID() string { return r.MRN }
