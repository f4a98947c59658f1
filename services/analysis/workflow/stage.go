// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workflow drives the seven-stage analysis pipeline: stage
// execution under deadlines, orchestration with identity checks and the
// quality gate, and run statistics.
package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridian-health/chartgate/services/analysis/config"
	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/faults"
	"github.com/meridian-health/chartgate/services/analysis/observability"
)

var (
	tracer = otel.Tracer("chartgate.workflow")
	meter  = otel.Meter("chartgate.workflow")
)

// StageExecutor runs a single pipeline stage under its configured
// deadline, with tracing, metrics, and panic isolation.
//
// Thread Safety:
//
//	StageExecutor is safe for concurrent use; runs for different subjects
//	can share one instance.
type StageExecutor struct {
	timeouts config.StageTimeouts
	metrics  *observability.PipelineMetrics
	logger   *slog.Logger

	// OTel metrics (initialized lazily)
	metricsOnce  sync.Once
	stageLatency metric.Float64Histogram
	stageErrors  metric.Int64Counter
	activeStages metric.Int64UpDownCounter
}

// NewStageExecutor creates a StageExecutor. A nil logger uses
// slog.Default; nil metrics disables the Prometheus counters.
func NewStageExecutor(timeouts config.StageTimeouts, metrics *observability.PipelineMetrics, logger *slog.Logger) *StageExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StageExecutor{
		timeouts: timeouts,
		metrics:  metrics,
		logger:   logger,
	}
}

// initMetrics lazily creates the OTel instruments. Creation failures
// degrade observability but never fail a run.
func (e *StageExecutor) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.stageLatency, err = meter.Float64Histogram("pipeline_stage_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}

		e.stageErrors, err = meter.Int64Counter("pipeline_stage_failure_total",
			metric.WithDescription("Number of failed stage executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_errors: "+err.Error())
		}

		e.activeStages, err = meter.Int64UpDownCounter("pipeline_active_stages",
			metric.WithDescription("Number of currently executing stages"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_stages: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some workflow metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// stageResult carries the output of a stage function across the
// goroutine boundary.
type stageResult[T any] struct {
	value T
	err   error
}

// ExecuteStage runs fn for one stage with the stage's deadline applied.
//
// Deadline expiry produces a fault whose kind names the stage
// ("extraction_timeout", never a generic timeout) and whose message
// carries the stage and subject. A panic inside fn is captured and
// converted to a stage_panic fault; it never escapes to the caller's
// goroutine. ExecuteStage is a function rather than a method because
// methods cannot be generic.
func ExecuteStage[T any](ctx context.Context, e *StageExecutor, stage datatypes.StageName, subject string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	e.initMetrics()

	ctx, span := tracer.Start(ctx, "pipeline."+string(stage),
		trace.WithAttributes(
			attribute.String("pipeline.stage", string(stage)),
		),
	)
	defer span.End()

	if e.activeStages != nil {
		e.activeStages.Add(ctx, 1)
		defer e.activeStages.Add(ctx, -1)
	}

	timeout := e.timeouts.Timeout(string(stage))
	stageCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e.logger.Debug("stage starting",
		slog.String("stage", string(stage)),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	resultCh := make(chan stageResult[T], 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				resultCh <- stageResult[T]{err: faults.New(faults.KindStagePanic,
					"stage %s panicked for subject %s: %v", stage, subject, recovered)}
			}
		}()
		value, err := fn(stageCtx)
		resultCh <- stageResult[T]{value: value, err: err}
	}()

	var res stageResult[T]
	select {
	case res = <-resultCh:
	case <-stageCtx.Done():
		// The stage goroutine keeps running until fn honors the context;
		// its buffered send cannot block.
		if stageCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			res.err = faults.New(faults.TimeoutKind(string(stage)),
				"stage %s exceeded its %v deadline for subject %s", stage, timeout, subject)
		} else {
			res.err = faults.Wrap(faults.KindWorkflow, stageCtx.Err(),
				"stage %s canceled for subject %s", stage, subject)
		}
	}
	duration := time.Since(start)

	if e.stageLatency != nil {
		e.stageLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("stage", string(stage))),
		)
	}

	if res.err != nil {
		status := "error"
		if faults.KindOf(res.err) == faults.TimeoutKind(string(stage)) {
			status = "timeout"
		}
		if e.metrics != nil {
			e.metrics.RecordStage(string(stage), duration.Seconds(), status)
		}
		if e.stageErrors != nil {
			e.stageErrors.Add(ctx, 1,
				metric.WithAttributes(attribute.String("stage", string(stage))),
			)
		}
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())

		e.logger.Error("stage failed",
			slog.String("stage", string(stage)),
			slog.Duration("duration", duration),
			slog.String("error", res.err.Error()),
		)
		return zero, res.err
	}

	if e.metrics != nil {
		e.metrics.RecordStage(string(stage), duration.Seconds(), "success")
	}
	span.SetStatus(codes.Ok, "")

	e.logger.Debug("stage completed",
		slog.String("stage", string(stage)),
		slog.Duration("duration", duration),
	)
	return res.value, nil
}
