// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chartgate.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file was not created: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Stages.Summarization.Std() != time.Minute {
		t.Errorf("summarization timeout = %v, want 1m", cfg.Stages.Summarization.Std())
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chartgate.yaml")
	partial := `
server:
  addr: ":9090"
stages:
  extraction: 10s
quality:
  risk_ceiling: 0.6
`
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Stages.Extraction.Std() != 10*time.Second {
		t.Errorf("extraction timeout = %v, want 10s", cfg.Stages.Extraction.Std())
	}
	// Untouched fields keep their defaults.
	if cfg.Stages.Correlation.Std() != 90*time.Second {
		t.Errorf("correlation timeout = %v, want default 90s", cfg.Stages.Correlation.Std())
	}
	if cfg.Quality.RiskCeiling != 0.6 {
		t.Errorf("RiskCeiling = %v, want 0.6", cfg.Quality.RiskCeiling)
	}
	if cfg.Summarizer.Provider != "template" {
		t.Errorf("Summarizer.Provider = %q, want default template", cfg.Summarizer.Provider)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad duration", "stages:\n  extraction: soon\n"},
		{"risk ceiling above one", "quality:\n  risk_ceiling: 1.5\n"},
		{"unknown provider", "summarizer:\n  provider: psychic\n"},
		{"http correlator without url", "correlator:\n  mode: http\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "chartgate.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}

func TestStageTimeoutsLookup(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Stages.Timeout("extraction"); got != 30*time.Second {
		t.Errorf("Timeout(extraction) = %v, want 30s", got)
	}
	if got := cfg.Stages.Timeout("no_such_stage"); got != 0 {
		t.Errorf("Timeout(no_such_stage) = %v, want 0", got)
	}
}

// Default deadlines track how long each stage actually runs: validation is
// near-instant, local I/O is quick, and the LLM-backed stages dominate,
// with literature correlation the slowest.
func TestDefaultTimeoutsReflectStageCost(t *testing.T) {
	s := DefaultConfig().Stages

	cheap := s.InputValidation.Std()
	for name, d := range map[string]time.Duration{
		"persistence":     s.Persistence.Std(),
		"extraction":      s.Extraction.Std(),
		"report_assembly": s.ReportAssembly.Std(),
		"summarization":   s.Summarization.Std(),
		"correlation":     s.Correlation.Std(),
	} {
		if d <= cheap {
			t.Errorf("%s timeout %v should exceed input validation %v", name, d, cheap)
		}
	}

	order := []struct {
		name string
		d    time.Duration
	}{
		{"persistence", s.Persistence.Std()},
		{"extraction", s.Extraction.Std()},
		{"report_assembly", s.ReportAssembly.Std()},
		{"summarization", s.Summarization.Std()},
		{"correlation", s.Correlation.Std()},
	}
	for i := 1; i < len(order); i++ {
		if order[i].d <= order[i-1].d {
			t.Errorf("%s timeout %v should exceed %s timeout %v",
				order[i].name, order[i].d, order[i-1].name, order[i-1].d)
		}
	}
}

func TestWeightsNormalizedOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chartgate.yaml")
	body := `
quality:
  weights:
    completeness: 1
    consistency: 1
    risk: 2
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	w := cfg.Quality.Weights
	if w.Completeness != 0.25 || w.Consistency != 0.25 || w.Risk != 0.5 {
		t.Errorf("weights not normalized: %+v", w)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chartgate.yaml")
	t.Setenv("CHARTGATE_ADDR", ":9090")
	t.Setenv("CHARTGATE_LOG_LEVEL", "debug")
	t.Setenv("CHARTGATE_RECORDS_DIR", "/srv/records")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Storage.RecordsDir != "/srv/records" {
		t.Errorf("RecordsDir = %q", cfg.Storage.RecordsDir)
	}
	// Reports dir untouched without its env var.
	if cfg.Storage.ReportsDir != DefaultConfig().Storage.ReportsDir {
		t.Errorf("ReportsDir = %q", cfg.Storage.ReportsDir)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x/y") {
		t.Errorf("ExpandPath(~/x/y) = %q", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandPath(/abs/path) = %q", got)
	}
}
