// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/faults"
)

// TemplateSummarizer renders a deterministic narrative straight from the
// record. It needs no network and cannot hallucinate, which makes it the
// default for air-gapped deployments and tests.
type TemplateSummarizer struct{}

// NewTemplateSummarizer creates a TemplateSummarizer.
func NewTemplateSummarizer() *TemplateSummarizer {
	return &TemplateSummarizer{}
}

// Summarize builds the narrative from the record's structured fields.
func (s *TemplateSummarizer) Summarize(ctx context.Context, record *datatypes.PatientRecord) (*datatypes.ClinicalSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.KindEnrichment, err, "summarization canceled")
	}
	if record == nil || record.MRN == "" {
		return nil, faults.New(faults.KindEnrichment, "cannot summarize a record without identity")
	}

	var b strings.Builder
	if record.Age > 0 {
		fmt.Fprintf(&b, "%d year old", record.Age)
	} else {
		b.WriteString("Adult")
	}
	if record.Sex != "" {
		fmt.Fprintf(&b, " %s", sexWord(record.Sex))
	}
	b.WriteString(" patient")

	switch len(record.Conditions) {
	case 0:
		b.WriteString(" with no documented conditions.")
	default:
		fmt.Fprintf(&b, " with %s.", joinNames(conditionNames(record.Conditions)))
	}

	if len(record.Medications) > 0 {
		b.WriteString(" Current medications: ")
		parts := make([]string, 0, len(record.Medications))
		for _, m := range record.Medications {
			part := m.Name
			if m.Dose > 0 {
				part = fmt.Sprintf("%s %g %s", m.Name, m.Dose, m.DoseUnit)
			}
			if m.Frequency != "" {
				part += " " + m.Frequency
			}
			parts = append(parts, part)
		}
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(".")
	}

	if len(record.Allergies) > 0 {
		fmt.Fprintf(&b, " Known allergies: %s.", strings.Join(record.Allergies, ", "))
	}
	if len(record.Procedures) > 0 {
		fmt.Fprintf(&b, " %d documented procedure(s) on file.", len(record.Procedures))
	}

	return &datatypes.ClinicalSummary{
		MRN:         record.MRN,
		Text:        b.String(),
		KeyFindings: keyFindings(record),
		Model:       "template",
		GeneratedAt: time.Now(),
	}, nil
}

func sexWord(sex string) string {
	switch strings.ToUpper(sex) {
	case "F":
		return "female"
	case "M":
		return "male"
	default:
		return sex
	}
}

func conditionNames(conditions []datatypes.Condition) []string {
	names := make([]string, 0, len(conditions))
	for _, c := range conditions {
		name := strings.ToLower(c.Display)
		if c.Status == "resolved" {
			name += " (resolved)"
		}
		names = append(names, name)
	}
	return names
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
}
