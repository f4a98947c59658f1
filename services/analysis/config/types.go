// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the chartgate configuration file.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridian-health/chartgate/services/analysis/quality"
)

// Duration wraps time.Duration so YAML values can be written as "30s" or
// "2m" instead of nanosecond integers.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Stages sets the per-stage execution deadlines.
	Stages StageTimeouts `yaml:"stages"`

	// Quality tunes the trust gate.
	Quality QualityConfig `yaml:"quality"`

	// Summarizer selects and configures the narrative generator.
	Summarizer SummarizerConfig `yaml:"summarizer"`

	// Correlator configures the literature knowledge source.
	Correlator CorrelatorConfig `yaml:"correlator"`

	// Storage points at the record source and the report store.
	Storage StorageConfig `yaml:"storage"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // e.g. ":8080"

	// OTLPEndpoint is the gRPC collector address for trace export.
	// Empty disables export.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

// StageTimeouts are the deadlines applied to each pipeline stage. A zero
// value means the stage runs under the parent context only.
type StageTimeouts struct {
	InputValidation Duration `yaml:"input_validation"`
	Extraction      Duration `yaml:"extraction"`
	Summarization   Duration `yaml:"summarization"`
	Correlation     Duration `yaml:"correlation"`
	ReportAssembly  Duration `yaml:"report_assembly"`
	QualityGate     Duration `yaml:"quality_gate"`
	Persistence     Duration `yaml:"persistence"`
}

type QualityConfig struct {
	// Weights for the composite score; normalized at load.
	Weights quality.Weights `yaml:"weights"`

	// RiskCeiling is the hallucination risk above which the gate blocks
	// the report.
	RiskCeiling float64 `yaml:"risk_ceiling"`

	// StrictHallucination makes a critical detector finding abort the
	// summarization stage instead of only lowering the score.
	StrictHallucination bool `yaml:"strict_hallucination"`
}

type SummarizerConfig struct {
	// Provider is "openai" or "template".
	Provider string `yaml:"provider"`

	Model   string `yaml:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKeyEnv names the environment variable holding the API key. The
	// key itself never appears in the config file.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

type CorrelatorConfig struct {
	// Mode is "local" (embedded index) or "http" (external service).
	Mode string `yaml:"mode"`

	BaseURL string `yaml:"base_url,omitempty"`

	// RateLimit is requests per second against the external service.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	// CacheTTL controls how long correlation lookups stay cached.
	CacheTTL Duration `yaml:"cache_ttl"`
}

type StorageConfig struct {
	// RecordsDir is the directory extraction reads source documents from.
	RecordsDir string `yaml:"records_dir"`

	// ReportsDir is the Badger database directory for persisted reports.
	ReportsDir string `yaml:"reports_dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration used when no file exists yet.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Stages: StageTimeouts{
			InputValidation: Duration(5 * time.Second),
			Extraction:      Duration(30 * time.Second),
			Summarization:   Duration(time.Minute),
			Correlation:     Duration(90 * time.Second),
			ReportAssembly:  Duration(45 * time.Second),
			QualityGate:     Duration(15 * time.Second),
			Persistence:     Duration(15 * time.Second),
		},
		Quality: QualityConfig{
			Weights:             quality.DefaultWeights(),
			RiskCeiling:         0.8,
			StrictHallucination: false,
		},
		Summarizer: SummarizerConfig{
			Provider:  "template",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Correlator: CorrelatorConfig{
			Mode:      "local",
			RateLimit: 5,
			Burst:     10,
			CacheTTL:  Duration(15 * time.Minute),
		},
		Storage: StorageConfig{
			RecordsDir: "~/.chartgate/records",
			ReportsDir: "~/.chartgate/reports",
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Timeout returns the configured deadline for a stage name, or zero when
// the stage is unknown.
func (s StageTimeouts) Timeout(stage string) time.Duration {
	switch stage {
	case "input_validation":
		return s.InputValidation.Std()
	case "extraction":
		return s.Extraction.Std()
	case "summarization":
		return s.Summarization.Std()
	case "correlation":
		return s.Correlation.Std()
	case "report_assembly":
		return s.ReportAssembly.Std()
	case "quality_gate":
		return s.QualityGate.Std()
	case "persistence":
		return s.Persistence.Std()
	default:
		return 0
	}
}

// Validate checks the loaded configuration for values that would make the
// pipeline misbehave at runtime.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Quality.RiskCeiling < 0 || c.Quality.RiskCeiling > 1 {
		return fmt.Errorf("quality.risk_ceiling %v outside [0,1]", c.Quality.RiskCeiling)
	}
	switch c.Summarizer.Provider {
	case "openai", "template":
	default:
		return fmt.Errorf("summarizer.provider %q is not one of openai, template", c.Summarizer.Provider)
	}
	switch c.Correlator.Mode {
	case "local":
	case "http":
		if c.Correlator.BaseURL == "" {
			return fmt.Errorf("correlator.base_url required in http mode")
		}
		if c.Correlator.RateLimit <= 0 {
			return fmt.Errorf("correlator.rate_limit must be positive in http mode")
		}
	default:
		return fmt.Errorf("correlator.mode %q is not one of local, http", c.Correlator.Mode)
	}
	if c.Storage.RecordsDir == "" || c.Storage.ReportsDir == "" {
		return fmt.Errorf("storage.records_dir and storage.reports_dir must both be set")
	}
	return nil
}
