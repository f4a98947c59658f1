// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"

	"github.com/meridian-health/chartgate/services/analysis/audit"
	"github.com/meridian-health/chartgate/services/analysis/config"
	"github.com/meridian-health/chartgate/services/analysis/faults"
	"github.com/meridian-health/chartgate/services/analysis/hallucination"
	"github.com/meridian-health/chartgate/services/analysis/observability"
	"github.com/meridian-health/chartgate/services/analysis/quality"
	"github.com/meridian-health/chartgate/services/analysis/stages/correlate"
	"github.com/meridian-health/chartgate/services/analysis/stages/extract"
	"github.com/meridian-health/chartgate/services/analysis/stages/persist"
	"github.com/meridian-health/chartgate/services/analysis/stages/summarize"
	"github.com/meridian-health/chartgate/services/analysis/workflow"
)

// pipeline bundles everything a command needs to run analyses.
type pipeline struct {
	orchestrator *workflow.Orchestrator
	store        *persist.Store
	detector     *hallucination.Detector
	metrics      *observability.PipelineMetrics
}

func (p *pipeline) Close() error {
	return p.store.Close()
}

// buildPipeline wires the full stage chain from the loaded configuration.
// The returned pipeline owns the report store; callers must Close it.
func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	sink := audit.NewLogSink(logger)
	detector := hallucination.NewDetector(logger, sink)
	engine := quality.NewEngine(detector, cfg.Quality.Weights, logger)
	classifier := faults.NewClassifier(logger)
	handler := faults.NewHandler(classifier, logger, sink)
	metrics := observability.InitMetrics()
	handler.SetMetrics(metrics)

	extractor := extract.NewFileExtractor(config.ExpandPath(cfg.Storage.RecordsDir), logger)

	var summarizer workflow.Summarizer
	switch cfg.Summarizer.Provider {
	case "openai":
		s, err := summarize.NewOpenAISummarizer(
			cfg.Summarizer.Model, cfg.Summarizer.APIKeyEnv, cfg.Summarizer.BaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("summarizer setup failed: %w", err)
		}
		summarizer = s
	case "template":
		summarizer = summarize.NewTemplateSummarizer()
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Summarizer.Provider)
	}

	var correlator workflow.Correlator
	switch cfg.Correlator.Mode {
	case "http":
		correlator = correlate.NewHTTPCorrelator(
			cfg.Correlator.BaseURL,
			cfg.Correlator.RateLimit,
			cfg.Correlator.Burst,
			cfg.Correlator.CacheTTL.Std(),
			logger,
		)
	case "local":
		correlator = correlate.NewLocalCorrelator()
	default:
		return nil, fmt.Errorf("unknown correlator mode %q", cfg.Correlator.Mode)
	}

	storeCfg := persist.DefaultConfig(config.ExpandPath(cfg.Storage.ReportsDir))
	storeCfg.Logger = logger
	store, err := persist.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("report store setup failed: %w", err)
	}

	executor := workflow.NewStageExecutor(cfg.Stages, metrics, logger)
	policy := workflow.GatePolicy{
		RiskCeiling:         cfg.Quality.RiskCeiling,
		StrictHallucination: cfg.Quality.StrictHallucination,
	}

	orchestrator, err := workflow.NewOrchestrator(
		extractor, summarizer, correlator, store,
		engine, detector, policy,
		executor, handler, metrics, logger,
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &pipeline{
		orchestrator: orchestrator,
		store:        store,
		detector:     detector,
		metrics:      metrics,
	}, nil
}
