// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridian-health/chartgate/pkg/validation"
	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/faults"
	"github.com/meridian-health/chartgate/services/analysis/hallucination"
	"github.com/meridian-health/chartgate/services/analysis/observability"
	"github.com/meridian-health/chartgate/services/analysis/quality"
)

// Extractor produces a patient record for a sanitized subject name. The
// record's MRN becomes the identity key every later artifact must match.
type Extractor interface {
	Extract(ctx context.Context, subject string) (*datatypes.PatientRecord, error)
}

// Summarizer generates a narrative summary from a patient record.
type Summarizer interface {
	Summarize(ctx context.Context, record *datatypes.PatientRecord) (*datatypes.ClinicalSummary, error)
}

// Correlator matches a record's conditions against a literature source.
type Correlator interface {
	Correlate(ctx context.Context, record *datatypes.PatientRecord) (*datatypes.CorrelationResult, error)
}

// ReportStore persists a finished report and returns its opaque storage
// location.
type ReportStore interface {
	Save(ctx context.Context, report *datatypes.AnalysisReport) (string, error)
}

// ProgressFunc receives a snapshot after every completed stage. Callbacks
// run on the orchestrator goroutine; a panicking callback is logged and
// ignored, it cannot abort the run.
type ProgressFunc func(datatypes.RunSnapshot)

// RunError wraps a run's terminal error with its run id. Exactly one
// RunError wraps the underlying fault: stage errors are not re-wrapped
// per layer on the way up.
type RunError struct {
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: %v", e.RunID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// GatePolicy holds the quality-gate thresholds.
type GatePolicy struct {
	// RiskCeiling is the maximum hallucination risk a report may carry.
	RiskCeiling float64

	// StrictHallucination aborts the summarization stage on a critical
	// detector finding instead of deferring to the gate.
	StrictHallucination bool
}

// Orchestrator drives one subject through the full pipeline:
// InputValidation, Extraction, Summarization, Correlation,
// ReportAssembly, QualityGate, Persistence.
//
// # Identity
//
// Extraction establishes the MRN. After Summarization and Correlation the
// orchestrator compares each artifact's subject id against it; any
// mismatch is a coordination failure that aborts the run before
// cross-subject data can reach a report.
//
// # Recovery
//
// A recoverable correlation failure degrades the run (empty, flagged
// correlation) instead of aborting it. Every other stage failure ends the
// run.
//
// # Thread Safety
//
// Safe for concurrent use; each Run owns its WorkflowRun exclusively.
type Orchestrator struct {
	extractor  Extractor
	summarizer Summarizer
	correlator Correlator
	store      ReportStore

	engine   *quality.Engine
	detector *hallucination.Detector
	policy   GatePolicy

	executor *StageExecutor
	handler  *faults.Handler
	metrics  *observability.PipelineMetrics
	stats    *RunStats
	logger   *slog.Logger
}

// NewOrchestrator wires the pipeline. All stage implementations and the
// quality engine are required; metrics may be nil, a nil logger uses
// slog.Default.
func NewOrchestrator(
	extractor Extractor,
	summarizer Summarizer,
	correlator Correlator,
	store ReportStore,
	engine *quality.Engine,
	detector *hallucination.Detector,
	policy GatePolicy,
	executor *StageExecutor,
	handler *faults.Handler,
	metrics *observability.PipelineMetrics,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if extractor == nil || summarizer == nil || correlator == nil || store == nil {
		return nil, fmt.Errorf("all four stage implementations are required")
	}
	if engine == nil {
		return nil, fmt.Errorf("quality engine is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("stage executor is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("fault handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		extractor:  extractor,
		summarizer: summarizer,
		correlator: correlator,
		store:      store,
		engine:     engine,
		detector:   detector,
		policy:     policy,
		executor:   executor,
		handler:    handler,
		metrics:    metrics,
		stats:      NewRunStats(),
		logger:     logger,
	}, nil
}

// Stats returns the orchestrator's aggregate run statistics.
func (o *Orchestrator) Stats() *RunStats { return o.stats }

// Run executes the full pipeline for one subject and returns the
// persisted report. progress may be nil.
func (o *Orchestrator) Run(ctx context.Context, rawSubject string, progress ProgressFunc) (*datatypes.AnalysisReport, error) {
	run := datatypes.NewWorkflowRun(rawSubject)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.run_id", run.ID),
		),
	)
	defer span.End()

	if o.metrics != nil {
		o.metrics.RunStarted()
		defer o.metrics.RunEnded()
	}

	o.logger.Info("pipeline run started",
		slog.String("run_id", run.ID),
		slog.Int("stages", len(datatypes.PipelineStages())),
	)

	report, blocked, err := o.runStages(ctx, run, rawSubject, progress)
	duration := time.Since(start)

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if blocked {
			o.stats.RecordBlocked(duration)
		} else {
			o.stats.RecordFailure(duration)
		}
		if o.metrics != nil {
			if blocked {
				o.metrics.RecordRun(observability.RunBlocked)
			} else {
				o.metrics.RecordRun(observability.RunError)
			}
		}
		o.logger.Error("pipeline run failed",
			slog.String("run_id", run.ID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return nil, &RunError{RunID: run.ID, Err: err}

	default:
		span.SetStatus(codes.Ok, "")
		o.stats.RecordSuccess(duration)
		if o.metrics != nil {
			o.metrics.RecordRun(observability.RunSuccess)
		}
		o.logger.Info("pipeline run completed",
			slog.String("run_id", run.ID),
			slog.Duration("duration", duration),
			slog.Float64("quality_score", report.Quality.OverallScore),
			slog.String("tier", string(report.Quality.Tier)),
		)
		return report, nil
	}
}

// runStages walks the seven stages in order. The blocked return is true
// only when the quality gate refused the report.
func (o *Orchestrator) runStages(ctx context.Context, run *datatypes.WorkflowRun, rawSubject string, progress ProgressFunc) (report *datatypes.AnalysisReport, blocked bool, err error) {
	ectx := func(op string) faults.ErrorContext {
		return faults.NewErrorContext(op, "workflow").WithMetadata("run_id", run.ID)
	}

	// InputValidation. The request-level identifier is a subject name;
	// the sanitized form (trimmed, whitespace collapsed) is what reaches
	// the extractor.
	subject, err := runStage(ctx, o, run, datatypes.StageInputValidation, rawSubject, progress,
		func(ctx context.Context) (string, error) {
			name, err := validation.SanitizeSubjectName(rawSubject)
			if err != nil {
				return "", faults.Wrap(faults.KindInputValidation, err, "subject name rejected")
			}
			return name, nil
		})
	if err != nil {
		o.handler.Handle(ctx, err, ectx("input_validation"))
		return nil, false, err
	}

	// Extraction
	record, err := runStage(ctx, o, run, datatypes.StageExtraction, subject, progress,
		func(ctx context.Context) (*datatypes.PatientRecord, error) {
			return o.extractor.Extract(ctx, subject)
		})
	if err != nil {
		o.handler.Handle(ctx, err, ectx("extraction").WithSubject(subject))
		return nil, false, err
	}
	if record == nil || record.MRN == "" {
		err = faults.New(faults.KindCoordination, "extraction produced no identity key for subject")
		o.handler.Handle(ctx, err, ectx("extraction").WithSubject(subject))
		return nil, false, err
	}
	mrn := record.MRN

	// Summarization
	summary, err := runStage(ctx, o, run, datatypes.StageSummarization, mrn, progress,
		func(ctx context.Context) (*datatypes.ClinicalSummary, error) {
			s, err := o.summarizer.Summarize(ctx, record)
			if err != nil {
				return nil, err
			}
			if o.detector != nil {
				if _, err := o.detector.CheckContent(ctx, s.Text, datatypes.ContentGeneral, mrn, o.policy.StrictHallucination); err != nil {
					return nil, err
				}
			}
			return s, nil
		})
	if err != nil {
		o.handler.Handle(ctx, err, ectx("summarization").WithSubject(mrn))
		return nil, false, err
	}
	if err := o.checkIdentity(ctx, mrn, summary, "summarization", ectx); err != nil {
		return nil, false, err
	}

	// Correlation. A recoverable failure yields a skipped outcome and the
	// run continues with an empty, flagged result.
	outcome, err := faults.Attempt(ctx, o.handler, ectx("correlation").WithSubject(mrn),
		func(ctx context.Context) (*datatypes.CorrelationResult, error) {
			return runStage(ctx, o, run, datatypes.StageCorrelation, mrn, progress,
				func(ctx context.Context) (*datatypes.CorrelationResult, error) {
					return o.correlator.Correlate(ctx, record)
				})
		})
	if err != nil {
		return nil, false, err
	}
	correlation := outcome.Value
	if outcome.Skipped {
		o.stats.RecordRecovered()
		if o.metrics != nil {
			o.metrics.RecordRecovered(outcome.Disposition.Record.Kind)
		}
		o.logger.Warn("correlation degraded, continuing without literature findings",
			slog.String("run_id", run.ID),
			slog.String("kind", outcome.Disposition.Record.Kind),
			slog.String("recovery_action", outcome.Disposition.RecoveryAction),
		)
		correlation = &datatypes.CorrelationResult{
			MRN:         mrn,
			Degraded:    true,
			RetrievedAt: time.Now(),
		}
	}
	if err := o.checkIdentity(ctx, mrn, correlation, "correlation", ectx); err != nil {
		return nil, false, err
	}

	// ReportAssembly
	report, err = runStage(ctx, o, run, datatypes.StageReportAssembly, mrn, progress,
		func(ctx context.Context) (*datatypes.AnalysisReport, error) {
			return &datatypes.AnalysisReport{
				MRN:         mrn,
				PatientName: record.Name,
				Record:      record,
				Summary:     summary,
				Correlation: correlation,
				AssembledAt: time.Now(),
			}, nil
		})
	if err != nil {
		o.handler.Handle(ctx, err, ectx("report_assembly").WithSubject(mrn))
		return nil, false, err
	}

	// QualityGate. The assessment is attached to the report exactly once;
	// a refusal aborts the run before persistence.
	_, err = runStage(ctx, o, run, datatypes.StageQualityGate, mrn, progress,
		func(ctx context.Context) (struct{}, error) {
			assessment := o.engine.Assess(record, summary, correlation)
			report.Quality = assessment
			if o.metrics != nil {
				o.metrics.RecordQuality(assessment.OverallScore, assessment.HallucinationRisk)
			}
			if reason, refused := o.gateRefusal(assessment); refused {
				if o.metrics != nil {
					o.metrics.RecordGateBlock(reason)
				}
				return struct{}{}, faults.New(faults.KindReportQuality,
					"report refused by quality gate (%s): %s", reason, quality.Describe(assessment))
			}
			return struct{}{}, nil
		})
	if err != nil {
		o.handler.Handle(ctx, err, ectx("quality_gate").WithSubject(mrn))
		return nil, true, err
	}

	// Persistence
	_, err = runStage(ctx, o, run, datatypes.StagePersistence, mrn, progress,
		func(ctx context.Context) (struct{}, error) {
			location, err := o.store.Save(ctx, report)
			if err != nil {
				return struct{}{}, err
			}
			report.StorageLocation = location
			return struct{}{}, nil
		})
	if err != nil {
		o.handler.Handle(ctx, err, ectx("persistence").WithSubject(mrn))
		return nil, false, err
	}

	return report, false, nil
}

// gateRefusal applies the gate policy in precedence order: a critical
// issue always wins, then the risk ceiling, then the tier floor.
func (o *Orchestrator) gateRefusal(a *datatypes.QualityAssessment) (observability.BlockReason, bool) {
	if a.HasCriticalIssue() {
		return observability.BlockCriticalIssue, true
	}
	if a.HallucinationRisk > o.policy.RiskCeiling {
		return observability.BlockRiskCeiling, true
	}
	if a.Tier == datatypes.TierUnacceptable {
		return observability.BlockTier, true
	}
	return "", false
}

// checkIdentity verifies an artifact carries the run's MRN.
func (o *Orchestrator) checkIdentity(ctx context.Context, mrn string, artifact datatypes.Artifact, stage string, ectx func(string) faults.ErrorContext) error {
	if artifact.SubjectID() == mrn {
		return nil
	}
	err := faults.New(faults.KindCoordination,
		"%s artifact carries a different subject identity than the extracted record", stage)
	o.handler.Handle(ctx, err, ectx(stage).WithSubject(mrn))
	return err
}

// runStage begins the stage on the run, executes it under its deadline,
// completes it, and emits a progress snapshot.
func runStage[T any](ctx context.Context, o *Orchestrator, run *datatypes.WorkflowRun, stage datatypes.StageName, subject string, progress ProgressFunc, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := run.BeginStage(stage); err != nil {
		return zero, faults.Wrap(faults.KindWorkflow, err, "stage bookkeeping failed")
	}

	value, err := ExecuteStage(ctx, o.executor, stage, subject, fn)
	if err != nil {
		return zero, err
	}

	if err := run.CompleteStage(stage); err != nil {
		return zero, faults.Wrap(faults.KindWorkflow, err, "stage bookkeeping failed")
	}
	o.emitProgress(run, progress)
	return value, nil
}

// emitProgress hands a snapshot to the callback with panic isolation.
func (o *Orchestrator) emitProgress(run *datatypes.WorkflowRun, progress ProgressFunc) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("progress callback panicked",
				slog.String("run_id", run.ID),
				slog.Any("panic", r),
			)
		}
	}()
	progress(run.Snapshot())
}
