// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package hallucination implements heuristic risk scoring for generated
// clinical narrative text.
//
// The detector is a pure function over (text, content type): each
// triggered signal adds a bounded risk increment and a pattern
// description; the sum is clamped to [0,1] and bucketed into a risk level.
// It runs inside the quality gate on every assembled report, and is also
// exposed standalone (CLI `check` command, POST /v1/hallucination/check)
// for ad-hoc validation of arbitrary generated text.
//
// # Scoring Bounds
//
// Every signal's weight is below the critical threshold, so a critical
// verdict always requires at least two independent signals. Reference-set
// misses (an unknown drug name) are deliberately cheap: the reference set
// is small and real drugs missing from it must not block a report alone.
package hallucination

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-health/chartgate/services/analysis/audit"
	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/faults"
)

// Signal weights and thresholds for content-type specific rules.
const (
	unknownDrugWeight   = 0.10
	unknownDrugCap      = 0.30
	implausibleDoseRisk = 0.30
	noConditionRisk     = 0.20
	lowDensityRisk      = 0.15
	malformedCodeWeight = 0.20
	malformedCodeCap    = 0.40

	// Gram doses above this are treated as implausible for a single
	// administration.
	maxPlausibleGramDose = 10.0
	// Milligram equivalent ceiling.
	maxPlausibleMgDose = 10000.0

	// Minimum text length before the absence of any recognized condition
	// counts as a signal.
	minConditionTextLen = 80

	// Minimum word count before term density is measured, and the density
	// floor below which long general text is suspicious.
	minDensityWords = 50
	densityFloor    = 0.03
)

// Detector scores generated text for hallucination risk.
//
// # Thread Safety
//
// Detector is stateless apart from its logger and sink; safe for
// concurrent use.
type Detector struct {
	logger *slog.Logger
	sink   audit.Sink
}

// NewDetector creates a Detector. A nil logger falls back to
// slog.Default(); a nil sink disables blocked-content audit events.
func NewDetector(logger *slog.Logger, sink audit.Sink) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger, sink: sink}
}

// Check scores one text. Pure: identical input yields identical output.
// Unknown content types are scored with the general rule set.
func (d *Detector) Check(text string, contentType datatypes.ContentType) datatypes.HallucinationCheck {
	if !datatypes.ValidContentType(contentType) {
		contentType = datatypes.ContentGeneral
	}

	var (
		score       float64
		patterns    []string
		corrections []string
	)

	addSignal := func(weight float64, desc, correction string) {
		score += weight
		patterns = append(patterns, desc)
		if correction != "" {
			corrections = append(corrections, correction)
		}
	}

	for _, rule := range impossiblePatterns {
		if rule.re.MatchString(text) {
			addSignal(rule.weight, rule.desc, rule.correction)
		}
	}

	switch contentType {
	case datatypes.ContentMedication:
		d.checkMedication(text, addSignal)
	case datatypes.ContentCondition:
		d.checkCondition(text, addSignal)
	case datatypes.ContentProcedure:
		d.checkContradictions(text, procedureContradictions, addSignal)
	case datatypes.ContentGeneral:
		d.checkGeneral(text, addSignal)
	}

	if score > 1 {
		score = 1
	}
	level := datatypes.RiskLevelForScore(score)

	return datatypes.HallucinationCheck{
		Level:               level,
		Score:               score,
		Confidence:          1 - score,
		Patterns:            patterns,
		Corrections:         corrections,
		RequiresHumanReview: level == datatypes.RiskHigh || level == datatypes.RiskCritical,
	}
}

// CheckContent runs Check and, in strict mode, refuses to release text
// whose risk level is critical: the call raises a hallucination fault and
// the event is recorded to the audit sink as blocked content.
//
// subjectID may be empty for ad-hoc checks; when present it is hashed
// before it reaches the sink.
func (d *Detector) CheckContent(ctx context.Context, text string, contentType datatypes.ContentType, subjectID string, strict bool) (datatypes.HallucinationCheck, error) {
	check := d.Check(text, contentType)

	if check.Level == datatypes.RiskCritical {
		d.logger.Warn("critical hallucination risk detected",
			slog.String("content_type", string(contentType)),
			slog.Float64("score", check.Score),
			slog.Int("patterns", len(check.Patterns)),
			slog.Bool("strict", strict),
		)
	}

	if strict && check.Level == datatypes.RiskCritical {
		if d.sink != nil {
			event := audit.BlockedContentEvent{
				Timestamp:   time.Now(),
				SubjectHash: audit.HashSubject(subjectID),
				ContentType: string(contentType),
				RiskLevel:   string(check.Level),
				RiskScore:   check.Score,
				Patterns:    check.Patterns,
			}
			if err := d.sink.RecordBlockedContent(ctx, event); err != nil {
				d.logger.Warn("audit sink rejected blocked-content event",
					slog.String("error", err.Error()))
			}
		}
		return check, faults.New(faults.KindHallucinationCritical,
			"content blocked: hallucination risk %.2f is critical (%d patterns)",
			check.Score, len(check.Patterns))
	}

	return check, nil
}

// checkMedication applies the known-drug reference set and dosage sanity
// rules.
func (d *Detector) checkMedication(text string, addSignal func(float64, string, string)) {
	unknown := map[string]struct{}{}
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z')
	}) {
		lower := strings.ToLower(word)
		if !drugSuffixPattern.MatchString(lower) {
			continue
		}
		if _, common := notDrugs[lower]; common {
			continue
		}
		if _, known := knownMedications[lower]; !known {
			unknown[lower] = struct{}{}
		}
	}
	if len(unknown) > 0 {
		weight := unknownDrugWeight * float64(len(unknown))
		if weight > unknownDrugCap {
			weight = unknownDrugCap
		}
		names := make([]string, 0, len(unknown))
		for n := range unknown {
			names = append(names, n)
		}
		sort.Strings(names)
		addSignal(weight,
			"medication not in reference set: "+strings.Join(names, ", "),
			"verify these medication names against the source record")
	}

	for _, m := range dosePattern.FindAllStringSubmatch(text, -1) {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		unit := strings.ToLower(m[2])
		implausible := (strings.HasPrefix(unit, "g") && value > maxPlausibleGramDose) ||
			(unit == "mg" && value > maxPlausibleMgDose)
		if implausible {
			addSignal(implausibleDoseRisk,
				"implausible dosage: "+m[0],
				"re-check the dose against the medication order")
			break // one dosage signal per text; the increment is bounded
		}
	}
}

// checkCondition requires at least one recognized condition in substantial
// text and flags direct contradictions.
func (d *Detector) checkCondition(text string, addSignal func(float64, string, string)) {
	if len(text) >= minConditionTextLen {
		lower := strings.ToLower(text)
		found := false
		for _, cond := range knownConditions {
			if strings.Contains(lower, cond) {
				found = true
				break
			}
		}
		if !found {
			addSignal(noConditionRisk,
				"no recognized condition name in condition narrative",
				"name the diagnosed condition explicitly")
		}
	}
	d.checkContradictions(text, conditionContradictions, addSignal)
}

// checkGeneral applies term density, domain-code format, and temporal or
// anatomical contradiction rules.
func (d *Detector) checkGeneral(text string, addSignal func(float64, string, string)) {
	words := strings.Fields(text)
	if len(words) >= minDensityWords {
		lower := strings.ToLower(text)
		hits := 0
		for _, term := range medicalTerms {
			hits += strings.Count(lower, term)
		}
		if float64(hits)/float64(len(words)) < densityFloor {
			addSignal(lowDensityRisk,
				"medical-term density below threshold for clinical text",
				"confirm the narrative was generated from the clinical record")
		}
	}

	var badCodes []string
	for _, candidate := range icdCandidatePattern.FindAllString(text, -1) {
		if !icdStrictPattern.MatchString(candidate) {
			badCodes = append(badCodes, candidate)
		}
	}
	if len(badCodes) > 0 {
		weight := malformedCodeWeight * float64(len(badCodes))
		if weight > malformedCodeCap {
			weight = malformedCodeCap
		}
		addSignal(weight,
			"malformed ICD-10 code: "+strings.Join(badCodes, ", "),
			"correct the code format or remove it")
	}

	d.checkContradictions(text, generalContradictions, addSignal)
}

func (d *Detector) checkContradictions(text string, rules []contradictionRule, addSignal func(float64, string, string)) {
	for _, rule := range rules {
		if rule.a.MatchString(text) && rule.b.MatchString(text) {
			addSignal(rule.weight, rule.desc,
				"resolve the contradiction: "+rule.desc)
		}
	}
}
