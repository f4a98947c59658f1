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
	"strings"

	"github.com/spf13/cobra"

	"github.com/meridian-health/chartgate/services/analysis/audit"
	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/hallucination"
)

var (
	checkContentType string
	checkStrict      bool
	checkFile        string
)

// checkCmd runs the hallucination detector over ad-hoc text without
// touching the pipeline or any stored records.
var checkCmd = &cobra.Command{
	Use:   "check [text]",
	Short: "Score text for hallucination risk",
	Long: `Check scores a piece of generated clinical text against the
hallucination heuristics. Text comes from the arguments or, with
--file, from a file. With --strict a critical finding exits nonzero.`,
	RunE: runCheckCommand,
}

func init() {
	checkCmd.Flags().StringVar(&checkContentType, "type", "general",
		"content type: general, medication, condition, procedure")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "exit nonzero on a critical finding")
	checkCmd.Flags().StringVar(&checkFile, "file", "", "read the text from a file instead of the arguments")
	rootCmd.AddCommand(checkCmd)
}

func runCheckCommand(cmd *cobra.Command, args []string) error {
	var text string
	switch {
	case checkFile != "":
		data, err := os.ReadFile(checkFile)
		if err != nil {
			return fmt.Errorf("could not read %s: %w", checkFile, err)
		}
		text = string(data)
	case len(args) > 0:
		text = strings.Join(args, " ")
	default:
		return fmt.Errorf("no text given: pass it as arguments or via --file")
	}

	contentType := datatypes.ContentType(checkContentType)
	if !datatypes.ValidContentType(contentType) {
		return fmt.Errorf("unknown content type %q", checkContentType)
	}

	detector := hallucination.NewDetector(appLogger.Slog(), audit.NewLogSink(appLogger.Slog()))
	check, err := detector.CheckContent(cmd.Context(), text, contentType, "", checkStrict)

	data, jsonErr := json.MarshalIndent(check, "", "  ")
	if jsonErr != nil {
		return jsonErr
	}
	fmt.Println(string(data))

	return err
}
