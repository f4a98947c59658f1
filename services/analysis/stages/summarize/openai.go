// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package summarize turns patient records into narrative clinical
// summaries, either through an OpenAI-compatible chat model or an
// offline template generator.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/faults"
)

const systemPrompt = "You are a clinical documentation assistant. Summarize the " +
	"structured chart below into a short narrative for a reviewing physician. " +
	"State only facts present in the chart; do not speculate, do not invent " +
	"conditions, medications, or codes."

// OpenAISummarizer generates summaries through an OpenAI-compatible chat
// completion API.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAISummarizer creates a summarizer. apiKeyEnv names the
// environment variable holding the key; baseURL overrides the API host
// for compatible local servers and may be empty.
func NewOpenAISummarizer(model, apiKeyEnv, baseURL string, logger *slog.Logger) (*OpenAISummarizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if apiKeyEnv == "" {
		apiKeyEnv = "OPENAI_API_KEY"
	}
	apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv))
	if apiKey == "" {
		return nil, fmt.Errorf("%s environment variable not set", apiKeyEnv)
	}
	if model == "" {
		model = openai.GPT4oMini
		logger.Warn("summarizer model not set, defaulting", slog.String("model", model))
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAISummarizer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}, nil
}

// Summarize generates the narrative for one record. API failures are
// enrichment faults: the model enriches the chart, it does not define it.
func (s *OpenAISummarizer) Summarize(ctx context.Context, record *datatypes.PatientRecord) (*datatypes.ClinicalSummary, error) {
	prompt := renderChart(record)
	s.logger.Debug("requesting summary", slog.String("model", s.model))

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, faults.Wrap(faults.KindEnrichment, err, "summary generation failed")
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, faults.New(faults.KindEnrichment, "summary model returned no content")
	}

	return &datatypes.ClinicalSummary{
		MRN:         record.MRN,
		Text:        strings.TrimSpace(resp.Choices[0].Message.Content),
		KeyFindings: keyFindings(record),
		Model:       s.model,
		GeneratedAt: time.Now(),
	}, nil
}

// renderChart flattens a record into the prompt body.
func renderChart(record *datatypes.PatientRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient: %s, age %d, sex %s\n", record.Name, record.Age, record.Sex)

	b.WriteString("Conditions:\n")
	for _, c := range record.Conditions {
		fmt.Fprintf(&b, "  - %s (%s, %s)\n", c.Display, c.Code, c.Status)
	}
	b.WriteString("Medications:\n")
	for _, m := range record.Medications {
		fmt.Fprintf(&b, "  - %s %g %s %s\n", m.Name, m.Dose, m.DoseUnit, m.Frequency)
	}
	if len(record.Procedures) > 0 {
		b.WriteString("Procedures:\n")
		for _, p := range record.Procedures {
			fmt.Fprintf(&b, "  - %s (%s)\n", p.Display, p.PerformedAt)
		}
	}
	if len(record.Allergies) > 0 {
		fmt.Fprintf(&b, "Allergies: %s\n", strings.Join(record.Allergies, ", "))
	}
	return b.String()
}

// keyFindings lists the active condition names, the skeleton reviewers
// scan first.
func keyFindings(record *datatypes.PatientRecord) []string {
	var findings []string
	for _, c := range record.Conditions {
		if c.Status == "" || c.Status == "active" {
			findings = append(findings, c.Display)
		}
	}
	return findings
}
