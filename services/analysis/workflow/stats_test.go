// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"sync"
	"testing"
	"time"
)

func TestRunStatsAverages(t *testing.T) {
	s := NewRunStats()
	s.RecordSuccess(2 * time.Second)
	s.RecordFailure(4 * time.Second)
	s.RecordBlocked(3 * time.Second)
	s.RecordRecovered()

	snap := s.Snapshot()
	if snap.Succeeded != 1 || snap.Failed != 1 || snap.Blocked != 1 || snap.Recovered != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.AvgDuration != 3*time.Second {
		t.Errorf("AvgDuration = %v, want 3s", snap.AvgDuration)
	}
}

func TestRunStatsEmpty(t *testing.T) {
	snap := NewRunStats().Snapshot()
	if snap.AvgDuration != 0 {
		t.Errorf("AvgDuration = %v before any run, want 0", snap.AvgDuration)
	}
}

func TestRunStatsConcurrent(t *testing.T) {
	s := NewRunStats()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordSuccess(time.Second)
			s.RecordRecovered()
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	if snap.Succeeded != 50 || snap.Recovered != 50 {
		t.Errorf("snapshot = %+v, want 50/50", snap)
	}
}
