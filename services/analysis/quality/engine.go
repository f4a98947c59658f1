// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package quality

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/hallucination"
)

// Penalty applied to the consistency score per issue, by severity.
// Critical issues force consistency to zero on their own.
const (
	warningPenalty  = 0.05
	errorPenalty    = 0.15
	criticalPenalty = 1.0
)

// Weights are the relative weights of the three component scores. They
// must be non-negative and sum to a positive value; Normalize rescales
// them to sum to 1.
type Weights struct {
	Completeness float64 `yaml:"completeness"`
	Consistency  float64 `yaml:"consistency"`
	Risk         float64 `yaml:"risk"`
}

// DefaultWeights returns the standard 0.3 / 0.4 / 0.3 weighting.
func DefaultWeights() Weights {
	return Weights{Completeness: 0.3, Consistency: 0.4, Risk: 0.3}
}

// Normalize rescales the weights to sum to 1. Invalid weights (negative,
// or summing to zero) fall back to the defaults.
func (w Weights) Normalize() Weights {
	if w.Completeness < 0 || w.Consistency < 0 || w.Risk < 0 {
		return DefaultWeights()
	}
	total := w.Completeness + w.Consistency + w.Risk
	if total <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Completeness: w.Completeness / total,
		Consistency:  w.Consistency / total,
		Risk:         w.Risk / total,
	}
}

// Engine computes the composite quality assessment for an assembled
// report: structural validation, completeness checklist, consistency from
// issue penalties, hallucination risk over the summary narrative, and the
// weighted overall score with its tier.
//
// # Thread Safety
//
// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	validator *DataValidator
	detector  *hallucination.Detector
	weights   Weights
	logger    *slog.Logger
}

// NewEngine creates an Engine. A nil detector disables the hallucination
// component (risk 0); a nil logger falls back to slog.Default.
func NewEngine(detector *hallucination.Detector, weights Weights, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		validator: NewDataValidator(),
		detector:  detector,
		weights:   weights.Normalize(),
		logger:    logger,
	}
}

// Assess computes the quality assessment for one report's artifacts.
// Deterministic: the same artifacts always produce the same assessment.
func (e *Engine) Assess(record *datatypes.PatientRecord, summary *datatypes.ClinicalSummary, correlation *datatypes.CorrelationResult) *datatypes.QualityAssessment {
	issues := e.validator.Validate(record, summary, correlation)

	completeness := e.completenessScore(record, summary, correlation)
	consistency := consistencyScore(issues)

	risk := 0.0
	if e.detector != nil && summary != nil && summary.Text != "" {
		check := e.detector.Check(summary.Text, datatypes.ContentGeneral)
		risk = check.Score
		for _, p := range check.Patterns {
			issues = append(issues, datatypes.ValidationIssue{
				Severity: datatypes.IssueWarning,
				Field:    "summary.text",
				Message:  "hallucination signal: " + p,
			})
		}
	}

	overall := e.weights.Completeness*completeness +
		e.weights.Consistency*consistency +
		e.weights.Risk*(1.0-risk)
	overall = clamp01(overall)

	assessment := &datatypes.QualityAssessment{
		Tier:              datatypes.TierForScore(overall),
		OverallScore:      overall,
		CompletenessScore: completeness,
		ConsistencyScore:  consistency,
		HallucinationRisk: risk,
		Issues:            issues,
	}
	assessment.Recommendations = recommendations(assessment)

	e.logger.Debug("quality assessment computed",
		slog.Float64("overall", overall),
		slog.String("tier", string(assessment.Tier)),
		slog.Int("issues", len(issues)),
	)
	return assessment
}

// completenessScore is the fraction of checklist items the artifacts
// satisfy. Each item is pass/fail; partial credit comes from the number
// of items passed, not from grading any single item.
func (e *Engine) completenessScore(record *datatypes.PatientRecord, summary *datatypes.ClinicalSummary, correlation *datatypes.CorrelationResult) float64 {
	checks := []bool{
		record != nil && record.MRN != "",
		record != nil && record.Name != "",
		record != nil && record.Age > 0,
		record != nil && len(record.Conditions) > 0,
		record != nil && len(record.Medications) > 0,
		summary != nil && summary.Text != "",
		summary != nil && len(summary.KeyFindings) > 0,
		correlation != nil && correlation.MRN != "",
	}
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return float64(passed) / float64(len(checks))
}

// consistencyScore starts from 1.0 and subtracts a penalty per issue by
// severity, floored at 0. Info issues carry no penalty.
func consistencyScore(issues []datatypes.ValidationIssue) float64 {
	score := 1.0
	for _, issue := range issues {
		switch issue.Severity {
		case datatypes.IssueWarning:
			score -= warningPenalty
		case datatypes.IssueError:
			score -= errorPenalty
		case datatypes.IssueCritical:
			score -= criticalPenalty
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

// recommendations derives reviewer-facing guidance from the finished
// assessment. Critical findings are prefixed so they sort to the top of
// any rendered report.
func recommendations(a *datatypes.QualityAssessment) []string {
	var recs []string

	for _, issue := range a.Issues {
		if issue.Severity == datatypes.IssueCritical {
			recs = append(recs, fmt.Sprintf("CRITICAL: resolve %s (%s) before this report can be trusted", issue.Field, issue.Message))
		}
	}
	if level := datatypes.RiskLevelForScore(a.HallucinationRisk); level == datatypes.RiskHigh || level == datatypes.RiskCritical {
		recs = append(recs, fmt.Sprintf("CRITICAL: hallucination risk is %s (%.2f); route to human review", level, a.HallucinationRisk))
	}

	if a.CompletenessScore < 0.7 {
		recs = append(recs, "source document is missing key sections; re-extract from a fuller chart if available")
	}
	if errCount := countSeverity(a.Issues, datatypes.IssueError); errCount > 0 {
		recs = append(recs, fmt.Sprintf("fix %d validation error(s) flagged on the artifacts", errCount))
	}
	if a.Tier == datatypes.TierPoor || a.Tier == datatypes.TierUnacceptable {
		recs = append(recs, "overall quality is below the acceptable tier; do not publish without review")
	}
	if len(recs) == 0 {
		recs = append(recs, "no action required")
	}
	return recs
}

func countSeverity(issues []datatypes.ValidationIssue, sev datatypes.IssueSeverity) int {
	n := 0
	for _, issue := range issues {
		if issue.Severity == sev {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Describe renders a one-line human summary of an assessment, used in
// logs and CLI output.
func Describe(a *datatypes.QualityAssessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%.2f): completeness %.2f, consistency %.2f, risk %.2f",
		a.Tier, a.OverallScore, a.CompletenessScore, a.ConsistencyScore, a.HallucinationRisk)
	if n := len(a.Issues); n > 0 {
		fmt.Fprintf(&b, ", %d issue(s)", n)
	}
	return b.String()
}
