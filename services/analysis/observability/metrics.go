// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the analysis
// pipeline.
//
// # Description
//
// Metrics cover pipeline runs (counts, stage latency), quality outcomes
// (score and hallucination-risk distributions, gate blocks), and error
// classification counts. Exposed on the /metrics endpoint; use with
// Prometheus + Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "chartgate"

const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for analysis runs.
// Initialize once at startup via InitMetrics.
type PipelineMetrics struct {
	// RunsTotal counts finished pipeline runs.
	// Labels: status (success, blocked, error)
	RunsTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage wall time.
	// Labels: stage, status (success, error, timeout)
	StageDurationSeconds *prometheus.HistogramVec

	// QualityScore is the distribution of overall quality scores.
	QualityScore prometheus.Histogram

	// HallucinationRisk is the distribution of detector risk scores.
	HallucinationRisk prometheus.Histogram

	// GateBlocksTotal counts reports the quality gate refused to persist.
	// Labels: reason (critical_issue, risk_ceiling, tier)
	GateBlocksTotal *prometheus.CounterVec

	// ErrorsTotal counts classified faults.
	// Labels: category, severity, kind
	ErrorsTotal *prometheus.CounterVec

	// RecoveredTotal counts recoverable faults the pipeline absorbed.
	// Labels: kind
	RecoveredTotal *prometheus.CounterVec

	// ActiveRuns tracks runs currently in flight.
	ActiveRuns prometheus.Gauge
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *PipelineMetrics

// InitMetrics creates and registers all pipeline metrics on the default
// Prometheus registry. Call once at startup; a second call panics on
// duplicate registration.
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		RunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "runs_total",
				Help:      "Finished pipeline runs by terminal status",
			},
			[]string{"status"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Per-stage wall time in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"stage", "status"},
		),

		QualityScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "quality_score",
				Help:      "Overall quality score distribution",
				Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1.0},
			},
		),

		HallucinationRisk: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "hallucination_risk",
				Help:      "Detector risk score distribution",
				Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),

		GateBlocksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "gate_blocks_total",
				Help:      "Reports blocked by the quality gate, by reason",
			},
			[]string{"reason"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "errors_total",
				Help:      "Classified faults by category, severity, and kind",
			},
			[]string{"category", "severity", "kind"},
		),

		RecoveredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "recovered_total",
				Help:      "Recoverable faults absorbed without aborting the run",
			},
			[]string{"kind"},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_runs",
				Help:      "Pipeline runs currently in flight",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Label Values
// =============================================================================

// RunStatus labels a finished run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunBlocked RunStatus = "blocked"
	RunError   RunStatus = "error"
)

// BlockReason labels a quality-gate refusal.
type BlockReason string

const (
	BlockCriticalIssue BlockReason = "critical_issue"
	BlockRiskCeiling   BlockReason = "risk_ceiling"
	BlockTier          BlockReason = "tier"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRun records a finished pipeline run.
func (m *PipelineMetrics) RecordRun(status RunStatus) {
	m.RunsTotal.WithLabelValues(string(status)).Inc()
}

// RecordStage records one stage execution.
func (m *PipelineMetrics) RecordStage(stage string, seconds float64, status string) {
	m.StageDurationSeconds.WithLabelValues(stage, status).Observe(seconds)
}

// RecordQuality records the outcome of a quality assessment.
func (m *PipelineMetrics) RecordQuality(score, risk float64) {
	m.QualityScore.Observe(score)
	m.HallucinationRisk.Observe(risk)
}

// RecordGateBlock records a report refused by the quality gate.
func (m *PipelineMetrics) RecordGateBlock(reason BlockReason) {
	m.GateBlocksTotal.WithLabelValues(string(reason)).Inc()
}

// RecordFault records a classified fault.
func (m *PipelineMetrics) RecordFault(category, severity, kind string) {
	m.ErrorsTotal.WithLabelValues(category, severity, kind).Inc()
}

// RecordRecovered records a recoverable fault the run absorbed.
func (m *PipelineMetrics) RecordRecovered(kind string) {
	m.RecoveredTotal.WithLabelValues(kind).Inc()
}

// RunStarted increments the in-flight gauge.
func (m *PipelineMetrics) RunStarted() { m.ActiveRuns.Inc() }

// RunEnded decrements the in-flight gauge.
func (m *PipelineMetrics) RunEnded() { m.ActiveRuns.Dec() }
