// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package correlate matches a record's conditions against a literature
// knowledge source.
//
// Two implementations: LocalCorrelator answers from an embedded reference
// index, HTTPCorrelator queries an external service with rate limiting
// and a TTL cache. Both raise recoverable external_service_failure faults
// so the pipeline can degrade instead of aborting.
package correlate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/faults"
)

// =============================================================================
// Local Correlator
// =============================================================================

// localIndex maps ICD-10 code prefixes to reference literature. Small on
// purpose: enough for offline operation, not a substitute for the
// external service.
var localIndex = map[string][]datatypes.LiteratureFinding{
	"I10": {
		{Title: "Hypertension management in adults: first-line therapy", Source: "local-index", Relevance: 0.9},
		{Title: "Blood pressure targets in older patients", Source: "local-index", Relevance: 0.7},
	},
	"E11": {
		{Title: "Metformin as initial pharmacologic therapy for type 2 diabetes", Source: "local-index", Relevance: 0.9},
		{Title: "Glycemic targets and monitoring in type 2 diabetes", Source: "local-index", Relevance: 0.75},
	},
	"J45": {
		{Title: "Stepwise approach to asthma control", Source: "local-index", Relevance: 0.85},
	},
	"I50": {
		{Title: "Guideline-directed medical therapy for heart failure", Source: "local-index", Relevance: 0.9},
	},
	"F32": {
		{Title: "First-line treatment of major depressive disorder", Source: "local-index", Relevance: 0.8},
	},
	"M54": {
		{Title: "Conservative management of low back pain", Source: "local-index", Relevance: 0.7},
	},
}

// LocalCorrelator answers from the embedded index. No network, no
// failure modes beyond cancellation.
type LocalCorrelator struct{}

// NewLocalCorrelator creates a LocalCorrelator.
func NewLocalCorrelator() *LocalCorrelator {
	return &LocalCorrelator{}
}

// Correlate looks up each condition code by its three-character category
// prefix. Conditions without a match contribute nothing; zero findings is
// a valid result.
func (c *LocalCorrelator) Correlate(ctx context.Context, record *datatypes.PatientRecord) (*datatypes.CorrelationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.KindExternalService, err, "correlation canceled")
	}

	result := &datatypes.CorrelationResult{
		MRN:         record.MRN,
		Sources:     []string{"local-index"},
		RetrievedAt: time.Now(),
	}
	for _, cond := range record.Conditions {
		for _, finding := range localIndex[codePrefix(cond.Code)] {
			finding.ConditionCode = cond.Code
			result.Findings = append(result.Findings, finding)
		}
	}
	return result, nil
}

// codePrefix reduces an ICD-10 code to its three-character category.
func codePrefix(code string) string {
	code = strings.ToUpper(code)
	if i := strings.IndexByte(code, '.'); i >= 0 {
		code = code[:i]
	}
	if len(code) > 3 {
		code = code[:3]
	}
	return code
}

// =============================================================================
// HTTP Correlator
// =============================================================================

// HTTPCorrelator queries an external literature service. Lookups are
// rate-limited per condition code and cached with a TTL so repeated runs
// over the same cohort do not hammer the service.
//
// Thread Safety: safe for concurrent use; the limiter and cache handle
// their own locking.
type HTTPCorrelator struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	cache   *cache.Cache
	logger  *slog.Logger
}

// NewHTTPCorrelator creates a correlator against baseURL. rps/burst
// bound the request rate; ttl controls how long per-code lookups are
// cached.
func NewHTTPCorrelator(baseURL string, rps float64, burst int, ttl time.Duration, logger *slog.Logger) *HTTPCorrelator {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPCorrelator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		cache:   cache.New(ttl, 2*ttl),
		logger:  logger,
	}
}

// findingsResponse is the service's wire format for one code lookup.
type findingsResponse struct {
	Findings []struct {
		Title     string  `json:"title"`
		Source    string  `json:"source"`
		Relevance float64 `json:"relevance"`
	} `json:"findings"`
}

// Correlate looks up every condition code. Any service failure aborts the
// whole correlation with a recoverable external_service_failure; partial
// results are not returned, the orchestrator degrades to an empty result
// instead.
func (c *HTTPCorrelator) Correlate(ctx context.Context, record *datatypes.PatientRecord) (*datatypes.CorrelationResult, error) {
	result := &datatypes.CorrelationResult{
		MRN:         record.MRN,
		Sources:     []string{c.baseURL},
		RetrievedAt: time.Now(),
	}

	for _, cond := range record.Conditions {
		if cond.Code == "" {
			continue
		}
		findings, err := c.lookup(ctx, cond.Code)
		if err != nil {
			return nil, err
		}
		result.Findings = append(result.Findings, findings...)
	}
	return result, nil
}

func (c *HTTPCorrelator) lookup(ctx context.Context, code string) ([]datatypes.LiteratureFinding, error) {
	if cached, ok := c.cache.Get(code); ok {
		c.logger.Debug("correlation cache hit", slog.String("code", code))
		return cached.([]datatypes.LiteratureFinding), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, faults.Wrap(faults.KindExternalService, err, "rate limit wait aborted")
	}

	endpoint := fmt.Sprintf("%s/v1/literature?code=%s", c.baseURL, url.QueryEscape(code))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, faults.Wrap(faults.KindExternalService, err, "build literature request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindExternalService, err, "literature service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, faults.New(faults.KindExternalService, "literature service returned status %d", resp.StatusCode)
	}

	var body findingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, faults.Wrap(faults.KindExternalService, err, "decode literature response")
	}

	findings := make([]datatypes.LiteratureFinding, 0, len(body.Findings))
	for _, f := range body.Findings {
		findings = append(findings, datatypes.LiteratureFinding{
			ConditionCode: code,
			Title:         f.Title,
			Source:        f.Source,
			Relevance:     f.Relevance,
		})
	}

	c.cache.Set(code, findings, cache.DefaultExpiration)
	return findings, nil
}
