// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package summarize

import (
	"context"
	"strings"
	"testing"

	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/hallucination"
)

func sampleRecord() *datatypes.PatientRecord {
	return &datatypes.PatientRecord{
		MRN:  "MRN-1001",
		Name: "Jordan Avery",
		Age:  58,
		Sex:  "F",
		Conditions: []datatypes.Condition{
			{Code: "I10", Display: "Essential hypertension", Status: "active"},
			{Code: "E11.9", Display: "Type 2 diabetes mellitus", Status: "active"},
		},
		Medications: []datatypes.Medication{
			{Name: "lisinopril", Dose: 10, DoseUnit: "mg", Frequency: "daily"},
			{Name: "metformin", Dose: 500, DoseUnit: "mg", Frequency: "twice daily"},
		},
		Allergies: []string{"penicillin"},
	}
}

func TestTemplateSummarize(t *testing.T) {
	s := NewTemplateSummarizer()
	summary, err := s.Summarize(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if summary.MRN != "MRN-1001" {
		t.Errorf("MRN = %q", summary.MRN)
	}
	for _, want := range []string{
		"58 year old female patient",
		"essential hypertension and type 2 diabetes mellitus",
		"lisinopril 10 mg daily",
		"metformin 500 mg twice daily",
		"penicillin",
	} {
		if !strings.Contains(summary.Text, want) {
			t.Errorf("summary %q missing %q", summary.Text, want)
		}
	}
	if summary.Model != "template" {
		t.Errorf("Model = %q", summary.Model)
	}
	if len(summary.KeyFindings) != 2 {
		t.Errorf("KeyFindings = %v", summary.KeyFindings)
	}
}

func TestTemplateSummarizeIsDeterministic(t *testing.T) {
	s := NewTemplateSummarizer()
	first, err := s.Summarize(context.Background(), sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Summarize(context.Background(), sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	if first.Text != second.Text {
		t.Errorf("summary text drifted:\n%q\n%q", first.Text, second.Text)
	}
}

func TestTemplateSummaryPassesDetector(t *testing.T) {
	s := NewTemplateSummarizer()
	summary, err := s.Summarize(context.Background(), sampleRecord())
	if err != nil {
		t.Fatal(err)
	}

	check := hallucination.NewDetector(nil, nil).Check(summary.Text, datatypes.ContentGeneral)
	if check.Level != datatypes.RiskMinimal {
		t.Errorf("template output scored %s (%.2f): %v", check.Level, check.Score, check.Patterns)
	}
}

func TestTemplateSummarizeSparseRecord(t *testing.T) {
	s := NewTemplateSummarizer()
	summary, err := s.Summarize(context.Background(), &datatypes.PatientRecord{MRN: "MRN-2"})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if !strings.Contains(summary.Text, "no documented conditions") {
		t.Errorf("summary = %q", summary.Text)
	}
}

func TestTemplateSummarizeRequiresIdentity(t *testing.T) {
	s := NewTemplateSummarizer()
	if _, err := s.Summarize(context.Background(), &datatypes.PatientRecord{Name: "Anon"}); err == nil {
		t.Error("Summarize() accepted a record without MRN")
	}
}

func TestRenderChartListsEverything(t *testing.T) {
	prompt := renderChart(sampleRecord())
	for _, want := range []string{"Essential hypertension", "metformin", "penicillin"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
