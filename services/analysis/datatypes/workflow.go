// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StageName identifies one pipeline stage.
type StageName string

// Pipeline stages in execution order.
const (
	StageInputValidation StageName = "input_validation"
	StageExtraction      StageName = "extraction"
	StageSummarization   StageName = "summarization"
	StageCorrelation     StageName = "correlation"
	StageReportAssembly  StageName = "report_assembly"
	StageQualityGate     StageName = "quality_gate"
	StagePersistence     StageName = "persistence"
)

// PipelineStages returns the canonical stage order for a full run.
func PipelineStages() []StageName {
	return []StageName{
		StageInputValidation,
		StageExtraction,
		StageSummarization,
		StageCorrelation,
		StageReportAssembly,
		StageQualityGate,
		StagePersistence,
	}
}

// StageTiming records when one stage started and finished. Duration is set
// only after the stage both started and completed.
type StageTiming struct {
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// WorkflowRun tracks the state of one subject's pipeline run.
//
// # Thread Safety
//
// WorkflowRun is NOT safe for concurrent use. It is owned exclusively by
// the orchestrator driving the run; everything handed to external code
// (the progress callback) is a Snapshot value copy.
//
// # Invariants
//
//   - The stage index only increases. BeginStage for any stage other than
//     the next pending one returns an error.
//   - CompleteStage must follow BeginStage for the same stage.
type WorkflowRun struct {
	ID        string
	Subject   string
	StartedAt time.Time

	stages  []StageName
	current int // index of the stage currently running or next to run
	began   bool
	timings map[StageName]StageTiming
	done    bool
}

// NewWorkflowRun creates a run for the given subject covering the full
// pipeline stage list.
func NewWorkflowRun(subject string) *WorkflowRun {
	return &WorkflowRun{
		ID:        uuid.NewString(),
		Subject:   subject,
		StartedAt: time.Now(),
		stages:    PipelineStages(),
		timings:   make(map[StageName]StageTiming, len(PipelineStages())),
	}
}

// BeginStage marks the given stage as started. The stage must be the next
// pending stage; anything else violates the monotonic-progress invariant.
func (w *WorkflowRun) BeginStage(stage StageName) error {
	if w.done {
		return fmt.Errorf("run %s already finished", w.ID)
	}
	if w.began {
		return fmt.Errorf("stage %s still in progress", w.stages[w.current])
	}
	if w.current >= len(w.stages) {
		return fmt.Errorf("all stages already completed")
	}
	if w.stages[w.current] != stage {
		return fmt.Errorf("out-of-order stage %s, expected %s", stage, w.stages[w.current])
	}

	w.began = true
	w.timings[stage] = StageTiming{StartedAt: time.Now()}
	return nil
}

// CompleteStage marks the given stage as finished and records its duration.
func (w *WorkflowRun) CompleteStage(stage StageName) error {
	if !w.began || w.stages[w.current] != stage {
		return fmt.Errorf("stage %s was not begun", stage)
	}

	timing := w.timings[stage]
	timing.CompletedAt = time.Now()
	timing.Duration = timing.CompletedAt.Sub(timing.StartedAt)
	w.timings[stage] = timing

	w.began = false
	w.current++
	if w.current == len(w.stages) {
		w.done = true
	}
	return nil
}

// CurrentStage returns the stage currently running or next to run, and
// false once all stages have completed.
func (w *WorkflowRun) CurrentStage() (StageName, bool) {
	if w.current >= len(w.stages) {
		return "", false
	}
	return w.stages[w.current], true
}

// Progress returns completion as a percentage in [0,100]. Only fully
// completed stages count, so the value is non-decreasing across a run.
func (w *WorkflowRun) Progress() float64 {
	return float64(w.current) / float64(len(w.stages)) * 100
}

// Elapsed returns the wall-clock time since the run started.
func (w *WorkflowRun) Elapsed() time.Duration {
	return time.Since(w.StartedAt)
}

// Timing returns the recorded timing for a stage, if any.
func (w *WorkflowRun) Timing(stage StageName) (StageTiming, bool) {
	t, ok := w.timings[stage]
	return t, ok
}

// RunSnapshot is an immutable copy of run state handed to progress
// callbacks. The Timings map is copied; callbacks cannot mutate the run.
type RunSnapshot struct {
	ID           string                    `json:"id"`
	Subject      string                    `json:"subject"`
	StartedAt    time.Time                 `json:"started_at"`
	Stages       []StageName               `json:"stages"`
	CurrentStage StageName                 `json:"current_stage,omitempty"`
	Progress     float64                   `json:"progress"`
	Timings      map[StageName]StageTiming `json:"timings"`
}

// Snapshot returns a value copy of the current run state.
func (w *WorkflowRun) Snapshot() RunSnapshot {
	timings := make(map[StageName]StageTiming, len(w.timings))
	for k, v := range w.timings {
		timings[k] = v
	}

	snap := RunSnapshot{
		ID:        w.ID,
		Subject:   w.Subject,
		StartedAt: w.StartedAt,
		Stages:    append([]StageName(nil), w.stages...),
		Progress:  w.Progress(),
		Timings:   timings,
	}
	if stage, ok := w.CurrentStage(); ok {
		snap.CurrentStage = stage
	}
	return snap
}
