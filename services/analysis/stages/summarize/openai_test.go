// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meridian-health/chartgate/services/analysis/faults"
)

const testKeyEnv = "CHARTGATE_TEST_OPENAI_KEY"

type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func chatServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if status != http.StatusOK {
			http.Error(w, `{"error": {"message": "overloaded"}}`, status)
			return
		}
		var resp chatResponse
		resp.ID = "chatcmpl-test"
		resp.Object = "chat.completion"
		resp.Choices = make([]struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		}, 1)
		resp.Choices[0].Message.Role = "assistant"
		resp.Choices[0].Message.Content = content
		resp.Choices[0].FinishReason = "stop"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestSummarizer(t *testing.T, baseURL string) *OpenAISummarizer {
	t.Helper()
	t.Setenv(testKeyEnv, "sk-test")
	s, err := NewOpenAISummarizer("gpt-4o-mini", testKeyEnv, baseURL, nil)
	if err != nil {
		t.Fatalf("NewOpenAISummarizer() error = %v", err)
	}
	return s
}

func TestOpenAISummarize(t *testing.T) {
	narrative := "58 year old female patient with essential hypertension, stable on lisinopril."
	server := chatServer(t, narrative, http.StatusOK)
	defer server.Close()

	s := newTestSummarizer(t, server.URL)
	summary, err := s.Summarize(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Text != narrative {
		t.Errorf("Text = %q", summary.Text)
	}
	if summary.MRN != sampleRecord().MRN {
		t.Errorf("MRN = %q, want %q", summary.MRN, sampleRecord().MRN)
	}
	if summary.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", summary.Model)
	}
	if len(summary.KeyFindings) == 0 {
		t.Error("expected key findings for active conditions")
	}
}

func TestOpenAISummarizeAPIFailure(t *testing.T) {
	server := chatServer(t, "", http.StatusServiceUnavailable)
	defer server.Close()

	s := newTestSummarizer(t, server.URL)
	_, err := s.Summarize(context.Background(), sampleRecord())
	if err == nil {
		t.Fatal("expected an error from a failing API")
	}
	if kind := faults.KindOf(err); kind != faults.KindEnrichment {
		t.Errorf("KindOf() = %s, want %s", kind, faults.KindEnrichment)
	}
}

func TestOpenAISummarizeEmptyContent(t *testing.T) {
	server := chatServer(t, "   ", http.StatusOK)
	defer server.Close()

	s := newTestSummarizer(t, server.URL)
	_, err := s.Summarize(context.Background(), sampleRecord())
	if err == nil {
		t.Fatal("expected an error for empty model output")
	}
	if kind := faults.KindOf(err); kind != faults.KindEnrichment {
		t.Errorf("KindOf() = %s, want %s", kind, faults.KindEnrichment)
	}
}

func TestNewOpenAISummarizerRequiresKey(t *testing.T) {
	t.Setenv(testKeyEnv, "")
	if _, err := NewOpenAISummarizer("gpt-4o-mini", testKeyEnv, "", nil); err == nil {
		t.Fatal("expected an error when the key env var is empty")
	}
}
