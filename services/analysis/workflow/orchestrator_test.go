// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/meridian-health/chartgate/services/analysis/config"
	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/faults"
	"github.com/meridian-health/chartgate/services/analysis/hallucination"
	"github.com/meridian-health/chartgate/services/analysis/quality"
)

// =============================================================================
// Test Doubles
// =============================================================================

type fakeExtractor struct {
	record *datatypes.PatientRecord
	err    error
	sleep  time.Duration
}

func (f *fakeExtractor) Extract(ctx context.Context, subjectID string) (*datatypes.PatientRecord, error) {
	if f.sleep > 0 {
		time.Sleep(f.sleep)
	}
	return f.record, f.err
}

type fakeSummarizer struct {
	summary *datatypes.ClinicalSummary
	err     error
	panics  bool
}

func (f *fakeSummarizer) Summarize(ctx context.Context, record *datatypes.PatientRecord) (*datatypes.ClinicalSummary, error) {
	if f.panics {
		panic("summarizer exploded")
	}
	return f.summary, f.err
}

type fakeCorrelator struct {
	result *datatypes.CorrelationResult
	err    error
}

func (f *fakeCorrelator) Correlate(ctx context.Context, record *datatypes.PatientRecord) (*datatypes.CorrelationResult, error) {
	return f.result, f.err
}

type fakeStore struct {
	saved    *datatypes.AnalysisReport
	location string
	err      error
}

func (f *fakeStore) Save(ctx context.Context, report *datatypes.AnalysisReport) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = report
	return f.location, nil
}

func testRecord() *datatypes.PatientRecord {
	return &datatypes.PatientRecord{
		MRN:  "MRN-2001",
		Name: "Casey Morgan",
		Age:  64,
		Conditions: []datatypes.Condition{
			{Code: "E11.9", Display: "Type 2 diabetes mellitus", Status: "active"},
		},
		Medications: []datatypes.Medication{
			{Name: "metformin", Dose: 500, DoseUnit: "mg", Frequency: "twice daily"},
		},
	}
}

func testSummary(mrn string) *datatypes.ClinicalSummary {
	return &datatypes.ClinicalSummary{
		MRN:         mrn,
		Text:        "64 year old patient with type 2 diabetes mellitus, stable on metformin 500 mg twice daily. Glycemic control has improved since the last visit.",
		KeyFindings: []string{"diabetes stable"},
	}
}

func testCorrelation(mrn string) *datatypes.CorrelationResult {
	return &datatypes.CorrelationResult{
		MRN: mrn,
		Findings: []datatypes.LiteratureFinding{
			{ConditionCode: "E11.9", Title: "Metformin as first-line therapy", Source: "local-index"},
		},
	}
}

type fixture struct {
	extractor  *fakeExtractor
	summarizer *fakeSummarizer
	correlator *fakeCorrelator
	store      *fakeStore
	policy     GatePolicy
	timeouts   config.StageTimeouts
}

func defaultFixture() *fixture {
	return &fixture{
		extractor:  &fakeExtractor{record: testRecord()},
		summarizer: &fakeSummarizer{summary: testSummary("MRN-2001")},
		correlator: &fakeCorrelator{result: testCorrelation("MRN-2001")},
		store:      &fakeStore{location: "badger://reports/MRN-2001"},
		policy:     GatePolicy{RiskCeiling: 0.8},
	}
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	detector := hallucination.NewDetector(nil, nil)
	engine := quality.NewEngine(detector, quality.DefaultWeights(), nil)
	executor := NewStageExecutor(f.timeouts, nil, nil)
	handler := faults.NewHandler(nil, nil, nil)

	o, err := NewOrchestrator(
		f.extractor, f.summarizer, f.correlator, f.store,
		engine, detector, f.policy, executor, handler, nil, nil,
	)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return o
}

// =============================================================================
// Tests
// =============================================================================

func TestRunHappyPath(t *testing.T) {
	f := defaultFixture()
	o := f.orchestrator(t)

	report, err := o.Run(context.Background(), "Casey Morgan", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.StorageLocation != "badger://reports/MRN-2001" {
		t.Errorf("StorageLocation = %q", report.StorageLocation)
	}
	if report.Quality == nil {
		t.Fatal("report has no quality assessment attached")
	}
	if report.Quality.Tier == datatypes.TierUnacceptable {
		t.Errorf("tier = %s for a clean run", report.Quality.Tier)
	}
	if f.store.saved != report {
		t.Error("persisted report is not the returned report")
	}

	stats := o.Stats().Snapshot()
	if stats.Succeeded != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want one success", stats)
	}
}

func TestRunProgressIsMonotonicAndReaches100(t *testing.T) {
	f := defaultFixture()
	o := f.orchestrator(t)

	var progress []float64
	_, err := o.Run(context.Background(), "Casey Morgan", func(snap datatypes.RunSnapshot) {
		progress = append(progress, snap.Progress)
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(progress) != len(datatypes.PipelineStages()) {
		t.Fatalf("got %d progress callbacks, want %d", len(progress), len(datatypes.PipelineStages()))
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] <= progress[i-1] {
			t.Errorf("progress not strictly increasing: %v", progress)
		}
	}
	if progress[len(progress)-1] != 100 {
		t.Errorf("final progress = %v, want 100", progress[len(progress)-1])
	}
}

func TestRunRejectsBadSubjectName(t *testing.T) {
	for _, subject := range []string{"", "A", strings.Repeat("x", 101), "C4sey Morgan", "-Morgan"} {
		f := defaultFixture()
		o := f.orchestrator(t)

		_, err := o.Run(context.Background(), subject, nil)
		if faults.KindOf(err) != faults.KindInputValidation {
			t.Errorf("subject %q: kind = %q, want %s", subject, faults.KindOf(err), faults.KindInputValidation)
		}
	}
}

// Subject names with interior spaces, hyphens, apostrophes, and ragged
// whitespace are legitimate patient names and must reach extraction intact.
func TestRunAcceptsMultiWordSubjectName(t *testing.T) {
	for _, subject := range []string{"John Doe", "Anne-Marie O'Neil", "  Casey   Morgan  "} {
		f := defaultFixture()
		o := f.orchestrator(t)

		report, err := o.Run(context.Background(), subject, nil)
		if err != nil {
			t.Fatalf("subject %q: Run() error = %v", subject, err)
		}
		if report.Quality == nil {
			t.Errorf("subject %q: report has no quality assessment", subject)
		}
	}
}

func TestRunIdentityMismatchAborts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fixture)
	}{
		{
			name: "summary for another subject",
			mutate: func(f *fixture) {
				f.summarizer.summary = testSummary("MRN-9999")
			},
		},
		{
			name: "correlation for another subject",
			mutate: func(f *fixture) {
				f.correlator.result = testCorrelation("MRN-9999")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := defaultFixture()
			tt.mutate(f)
			o := f.orchestrator(t)

			_, err := o.Run(context.Background(), "Casey Morgan", nil)
			if faults.KindOf(err) != faults.KindCoordination {
				t.Errorf("kind = %q, want %s", faults.KindOf(err), faults.KindCoordination)
			}
			if f.store.saved != nil {
				t.Error("report was persisted despite identity mismatch")
			}
		})
	}
}

func TestRunMissingMRNAborts(t *testing.T) {
	f := defaultFixture()
	f.extractor.record = &datatypes.PatientRecord{Name: "No Identity"}
	o := f.orchestrator(t)

	_, err := o.Run(context.Background(), "Casey Morgan", nil)
	if faults.KindOf(err) != faults.KindCoordination {
		t.Errorf("kind = %q, want %s", faults.KindOf(err), faults.KindCoordination)
	}
}

func TestRunRecoverableCorrelationDegrades(t *testing.T) {
	f := defaultFixture()
	f.correlator.err = faults.New(faults.KindExternalService, "literature service unavailable")
	o := f.orchestrator(t)

	report, err := o.Run(context.Background(), "Casey Morgan", nil)
	if err != nil {
		t.Fatalf("Run() error = %v, want degraded success", err)
	}
	if !report.Correlation.Degraded {
		t.Error("correlation result not flagged degraded")
	}
	if len(report.Correlation.Findings) != 0 {
		t.Errorf("degraded correlation carries findings: %v", report.Correlation.Findings)
	}
	if report.Correlation.MRN != "MRN-2001" {
		t.Errorf("degraded correlation MRN = %q", report.Correlation.MRN)
	}

	stats := o.Stats().Snapshot()
	if stats.Recovered != 1 {
		t.Errorf("Recovered = %d, want 1", stats.Recovered)
	}
}

func TestRunNonRecoverableCorrelationAborts(t *testing.T) {
	f := defaultFixture()
	f.correlator.err = errors.New("disk corrupted") // unknown kind, system/high
	o := f.orchestrator(t)

	_, err := o.Run(context.Background(), "Casey Morgan", nil)
	if err == nil {
		t.Fatal("Run() succeeded, want abort")
	}
	if f.store.saved != nil {
		t.Error("report persisted after correlation abort")
	}
}

func TestRunQualityGateBlocksHallucinatedReport(t *testing.T) {
	f := defaultFixture()
	summary := testSummary("MRN-2001")
	summary.Text = "Patient has magical healing powers from a fantasy franchise."
	f.summarizer.summary = summary
	o := f.orchestrator(t)

	_, err := o.Run(context.Background(), "Casey Morgan", nil)
	if faults.KindOf(err) != faults.KindReportQuality {
		t.Fatalf("kind = %q, want %s", faults.KindOf(err), faults.KindReportQuality)
	}
	if f.store.saved != nil {
		t.Error("blocked report reached the store")
	}
}

func TestRunStrictModeAbortsAtSummarization(t *testing.T) {
	f := defaultFixture()
	summary := testSummary("MRN-2001")
	summary.Text = "Patient has magical healing powers from a fantasy franchise."
	f.summarizer.summary = summary
	f.policy.StrictHallucination = true
	o := f.orchestrator(t)

	_, err := o.Run(context.Background(), "Casey Morgan", nil)
	if faults.KindOf(err) != faults.KindHallucinationCritical {
		t.Errorf("kind = %q, want %s", faults.KindOf(err), faults.KindHallucinationCritical)
	}
}

func TestRunStageTimeoutNamesStage(t *testing.T) {
	f := defaultFixture()
	f.extractor.sleep = 300 * time.Millisecond
	f.timeouts = config.StageTimeouts{Extraction: config.Duration(30 * time.Millisecond)}
	o := f.orchestrator(t)

	_, err := o.Run(context.Background(), "Casey Morgan", nil)
	want := faults.TimeoutKind(string(datatypes.StageExtraction))
	if faults.KindOf(err) != want {
		t.Fatalf("kind = %q, want %s", faults.KindOf(err), want)
	}
	if !strings.Contains(err.Error(), "extraction") {
		t.Errorf("timeout error does not name the stage: %v", err)
	}
}

func TestRunStagePanicIsContained(t *testing.T) {
	f := defaultFixture()
	f.summarizer.panics = true
	o := f.orchestrator(t)

	_, err := o.Run(context.Background(), "Casey Morgan", nil)
	if faults.KindOf(err) != faults.KindStagePanic {
		t.Errorf("kind = %q, want %s", faults.KindOf(err), faults.KindStagePanic)
	}
}

func TestRunErrorWrapsRunID(t *testing.T) {
	f := defaultFixture()
	f.extractor.err = faults.New(faults.KindRecordNotFound, "no document for subject")
	o := f.orchestrator(t)

	_, err := o.Run(context.Background(), "Casey Morgan", nil)
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("error %T does not wrap RunError", err)
	}
	if runErr.RunID == "" {
		t.Error("RunError has no run id")
	}
	// The original fault stays reachable through the single wrap.
	if faults.KindOf(err) != faults.KindRecordNotFound {
		t.Errorf("kind through wrap = %q, want %s", faults.KindOf(err), faults.KindRecordNotFound)
	}
}

func TestRunProgressPanicDoesNotAbort(t *testing.T) {
	f := defaultFixture()
	o := f.orchestrator(t)

	_, err := o.Run(context.Background(), "Casey Morgan", func(datatypes.RunSnapshot) {
		panic("callback bug")
	})
	if err != nil {
		t.Errorf("Run() error = %v; a panicking callback must not abort the run", err)
	}
}

func TestRunPersistenceFailure(t *testing.T) {
	f := defaultFixture()
	f.store.err = faults.New(faults.KindReportStorage, "database closed")
	o := f.orchestrator(t)

	_, err := o.Run(context.Background(), "Casey Morgan", nil)
	if faults.KindOf(err) != faults.KindReportStorage {
		t.Errorf("kind = %q, want %s", faults.KindOf(err), faults.KindReportStorage)
	}
	stats := o.Stats().Snapshot()
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
}
