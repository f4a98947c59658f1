// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// IssueSeverity grades a single validation issue.
type IssueSeverity string

const (
	IssueInfo     IssueSeverity = "info"
	IssueWarning  IssueSeverity = "warning"
	IssueError    IssueSeverity = "error"
	IssueCritical IssueSeverity = "critical"
)

// ValidationIssue is one structural problem found in a pipeline artifact.
// Pure value object, immutable once created.
type ValidationIssue struct {
	Severity IssueSeverity `json:"severity"`

	// Field is a field path or category tag, e.g. "record.mrn" or
	// "summary.text".
	Field   string `json:"field"`
	Message string `json:"message"`
}

// QualityTier buckets an overall quality score.
type QualityTier string

const (
	TierExcellent    QualityTier = "excellent"
	TierGood         QualityTier = "good"
	TierAcceptable   QualityTier = "acceptable"
	TierPoor         QualityTier = "poor"
	TierUnacceptable QualityTier = "unacceptable"
)

// TierForScore maps an overall score in [0,1] to a tier using inclusive
// lower bounds: >=0.95 excellent, >=0.85 good, >=0.70 acceptable,
// >=0.50 poor, else unacceptable.
func TierForScore(score float64) QualityTier {
	switch {
	case score >= 0.95:
		return TierExcellent
	case score >= 0.85:
		return TierGood
	case score >= 0.70:
		return TierAcceptable
	case score >= 0.50:
		return TierPoor
	default:
		return TierUnacceptable
	}
}

// QualityAssessment is the composite trust score for one finished report.
// Produced once per report and attached to its processing metadata; never
// recomputed for that report instance.
type QualityAssessment struct {
	Tier QualityTier `json:"tier"`

	// OverallScore is the weighted combination of the three component
	// scores, clamped to [0,1].
	OverallScore float64 `json:"overall_score"`

	CompletenessScore float64 `json:"completeness_score"`
	ConsistencyScore  float64 `json:"consistency_score"`

	// HallucinationRisk is the detector's risk score in [0,1]; higher is
	// worse.
	HallucinationRisk float64 `json:"hallucination_risk"`

	Issues          []ValidationIssue `json:"issues"`
	Recommendations []string          `json:"recommendations"`
}

// HasCriticalIssue reports whether any issue carries critical severity.
func (q *QualityAssessment) HasCriticalIssue() bool {
	for _, issue := range q.Issues {
		if issue.Severity == IssueCritical {
			return true
		}
	}
	return false
}

// RiskLevel buckets a hallucination risk score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelForScore maps a risk score in [0,1] to a level with bucket
// boundaries at 0.2 / 0.4 / 0.6 / 0.8.
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score >= 0.8:
		return RiskCritical
	case score >= 0.6:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	case score >= 0.2:
		return RiskLow
	default:
		return RiskMinimal
	}
}

// ContentType tells the hallucination detector which rule set to apply.
type ContentType string

const (
	ContentGeneral    ContentType = "general"
	ContentMedication ContentType = "medication"
	ContentCondition  ContentType = "condition"
	ContentProcedure  ContentType = "procedure"
)

// ValidContentType reports whether ct is a known content type.
func ValidContentType(ct ContentType) bool {
	switch ct {
	case ContentGeneral, ContentMedication, ContentCondition, ContentProcedure:
		return true
	default:
		return false
	}
}

// HallucinationCheck is the stateless output of the detector for one
// text + content-type input.
type HallucinationCheck struct {
	Level RiskLevel `json:"level"`

	// Score is the summed, clamped risk in [0,1].
	Score float64 `json:"score"`

	// Confidence is 1 - Score.
	Confidence float64 `json:"confidence"`

	// Patterns describes each triggered signal.
	Patterns []string `json:"patterns,omitempty"`

	// Corrections are suggested fixes for the triggered signals.
	Corrections []string `json:"corrections,omitempty"`

	// RequiresHumanReview is true at high or critical risk.
	RequiresHumanReview bool `json:"requires_human_review"`
}
