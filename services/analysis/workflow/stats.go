// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"sync"
	"time"
)

// RunStats aggregates outcomes across pipeline runs.
//
// # Thread Safety
//
// Safe for concurrent use; the orchestrator records from whatever
// goroutine finishes a run.
type RunStats struct {
	mu sync.Mutex

	succeeded int
	failed    int
	blocked   int
	recovered int

	totalDuration time.Duration
	finished      int
}

// NewRunStats creates an empty RunStats.
func NewRunStats() *RunStats {
	return &RunStats{}
}

// RecordSuccess records a run that persisted its report.
func (s *RunStats) RecordSuccess(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded++
	s.finished++
	s.totalDuration += d
}

// RecordFailure records a run that aborted with an error.
func (s *RunStats) RecordFailure(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.finished++
	s.totalDuration += d
}

// RecordBlocked records a run the quality gate refused to persist.
func (s *RunStats) RecordBlocked(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked++
	s.finished++
	s.totalDuration += d
}

// RecordRecovered records one recoverable fault absorbed mid-run. A single
// run can recover more than once.
func (s *RunStats) RecordRecovered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovered++
}

// StatsSnapshot is a point-in-time copy of the aggregated counters.
type StatsSnapshot struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Recovered int `json:"recovered"`

	// AvgDuration is the mean wall time of finished runs, zero before the
	// first run completes.
	AvgDuration time.Duration `json:"avg_duration"`
}

// Snapshot returns a copy of the current counters.
func (s *RunStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Succeeded: s.succeeded,
		Failed:    s.failed,
		Blocked:   s.blocked,
		Recovered: s.recovered,
	}
	if s.finished > 0 {
		snap.AvgDuration = s.totalDuration / time.Duration(s.finished)
	}
	return snap
}
