// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package audit defines the sink interface through which the pipeline
// reports error and blocked-content events to external compliance systems.
//
// Events never carry a raw patient identifier. Callers hash the subject id
// with HashSubject before constructing an event, so a sink compromise
// cannot leak MRNs.
//
// # Error Handling
//
// Sink errors must not block pipeline operations. Implementations handle
// their own retry logic; callers log sink errors and move on.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use: multiple subject runs
// share one sink.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// Event is a redacted error event forwarded to the audit sink.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	SubjectHash string    `json:"subject_hash"`
	Operation   string    `json:"operation"`
	Component   string    `json:"component"`
	Kind        string    `json:"kind"`
	Category    string    `json:"category"`
	Severity    string    `json:"severity"`
	ErrorID     string    `json:"error_id"`
	Message     string    `json:"message"`
}

// BlockedContentEvent records generated text that the strict hallucination
// check refused to release.
type BlockedContentEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	SubjectHash string    `json:"subject_hash,omitempty"`
	ContentType string    `json:"content_type"`
	RiskLevel   string    `json:"risk_level"`
	RiskScore   float64   `json:"risk_score"`
	Patterns    []string  `json:"patterns,omitempty"`
}

// Sink receives structured audit events from the orchestrator and the
// error handler — the only two callers.
type Sink interface {
	RecordErrorEvent(ctx context.Context, event Event) error
	RecordBlockedContent(ctx context.Context, event BlockedContentEvent) error
}

// HashSubject returns a stable, truncated SHA-256 hash of a subject
// identifier, suitable for correlating audit events without exposing the
// identifier itself.
func HashSubject(subjectID string) string {
	if subjectID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(subjectID))
	return hex.EncodeToString(sum[:])[:16]
}

// NopSink discards all events. Used when no audit backend is configured.
type NopSink struct{}

func (NopSink) RecordErrorEvent(ctx context.Context, event Event) error { return nil }
func (NopSink) RecordBlockedContent(ctx context.Context, event BlockedContentEvent) error {
	return nil
}

var _ Sink = NopSink{}

// LogSink writes audit events to a structured logger. The default backend
// for single-node deployments; the log file itself is the audit trail.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger falls back to slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) RecordErrorEvent(ctx context.Context, event Event) error {
	s.logger.Info("audit error event",
		slog.String("subject_hash", event.SubjectHash),
		slog.String("operation", event.Operation),
		slog.String("component", event.Component),
		slog.String("kind", event.Kind),
		slog.String("category", event.Category),
		slog.String("severity", event.Severity),
		slog.String("error_id", event.ErrorID),
	)
	return nil
}

func (s *LogSink) RecordBlockedContent(ctx context.Context, event BlockedContentEvent) error {
	s.logger.Warn("audit blocked content",
		slog.String("subject_hash", event.SubjectHash),
		slog.String("content_type", event.ContentType),
		slog.String("risk_level", event.RiskLevel),
		slog.Float64("risk_score", event.RiskScore),
		slog.Int("patterns", len(event.Patterns)),
	)
	return nil
}

var _ Sink = (*LogSink)(nil)

// MemorySink collects events in memory. Test helper.
type MemorySink struct {
	mu      sync.Mutex
	errors  []Event
	blocked []BlockedContentEvent
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) RecordErrorEvent(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, event)
	return nil
}

func (s *MemorySink) RecordBlockedContent(ctx context.Context, event BlockedContentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = append(s.blocked, event)
	return nil
}

// ErrorEvents returns a copy of all recorded error events.
func (s *MemorySink) ErrorEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.errors...)
}

// BlockedEvents returns a copy of all recorded blocked-content events.
func (s *MemorySink) BlockedEvents() []BlockedContentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BlockedContentEvent(nil), s.blocked...)
}

var _ Sink = (*MemorySink)(nil)
