// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-health/chartgate/services/analysis/datatypes"
)

var (
	analyzeJSON        bool
	analyzeConcurrency int
)

// analyzeCmd runs the full pipeline for one or more subjects from the
// command line. Subjects run concurrently; a refused or failed subject
// does not stop the others.
var analyzeCmd = &cobra.Command{
	Use:   "analyze [subject name...]",
	Short: "Run the analysis pipeline for one or more subjects",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyzeCommand,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the full report as JSON")
	analyzeCmd.Flags().IntVar(&analyzeConcurrency, "concurrency", 4, "maximum subjects analyzed in parallel")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyzeCommand(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline(cfg, appLogger.Slog())
	if err != nil {
		return err
	}
	defer p.Close()

	var mu sync.Mutex
	reports := make(map[string]*datatypes.AnalysisReport, len(args))
	failures := make(map[string]error)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(analyzeConcurrency)
	for _, subject := range args {
		g.Go(func() error {
			report, err := p.orchestrator.Run(ctx, subject, nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[subject] = err
				return nil
			}
			reports[subject] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, subject := range args {
		if err, ok := failures[subject]; ok {
			fmt.Fprintf(os.Stderr, "%s: %v\n", subject, err)
			continue
		}
		report := reports[subject]
		if analyzeJSON {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			continue
		}
		fmt.Printf("%s: %s (score %.2f) -> %s\n",
			subject, report.Quality.Tier, report.Quality.OverallScore, report.StorageLocation)
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d subjects failed", len(failures), len(args))
	}
	return nil
}
