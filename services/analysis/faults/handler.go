// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package faults

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian-health/chartgate/services/analysis/audit"
)

// maxRecentRecords bounds the rolling error buffer.
const maxRecentRecords = 100

// ObserverWildcard subscribes an observer to every error kind.
const ObserverWildcard = "*"

// Disposition is the handler's verdict on one error: the stored record,
// whether the run may continue, and the short message shown to end users.
// Technical detail stays in logs; users get the message plus the error id
// for support correlation.
type Disposition struct {
	Record         ErrorRecord
	Recoverable    bool
	RecoveryAction string
	UserMessage    string
}

// Observer is notified after a matching error has been recorded. Observer
// panics are swallowed and logged, never propagated.
type Observer func(ErrorRecord)

// FaultMetrics receives one increment per handled error. Implemented by
// the observability metrics registry; the indirection keeps this package
// free of a prometheus dependency.
type FaultMetrics interface {
	RecordFault(category, severity, kind string)
}

// StatsSnapshot is a point-in-time copy of the handler's rolling
// statistics.
type StatsSnapshot struct {
	Total      int
	ByCategory map[Category]int
	BySeverity map[Severity]int
	ByKind     map[string]int
	Recent     []ErrorRecord
}

// Handler records, classifies, and aggregates errors for the whole
// process. One Handler is constructed at the composition root and shared
// by every orchestrator instance.
//
// # Thread Safety
//
// Safe for concurrent use across simultaneous subject runs.
//
// # Failure Behavior
//
// Handle must not fail. If its own bookkeeping panics, it degrades to a
// minimal critical, non-recoverable disposition instead of propagating the
// internal fault.
type Handler struct {
	classifier *Classifier
	logger     *slog.Logger
	sink       audit.Sink
	metrics    FaultMetrics

	mu         sync.Mutex
	recent     []ErrorRecord
	byCategory map[Category]int
	bySeverity map[Severity]int
	byKind     map[string]int
	total      int
	observers  map[string][]Observer
}

// NewHandler creates a Handler. A nil classifier gets a default one; a nil
// sink disables audit forwarding; a nil logger falls back to
// slog.Default().
func NewHandler(classifier *Classifier, logger *slog.Logger, sink audit.Sink) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = NewClassifier(logger)
	}
	return &Handler{
		classifier: classifier,
		logger:     logger,
		sink:       sink,
		byCategory: make(map[Category]int),
		bySeverity: make(map[Severity]int),
		byKind:     make(map[string]int),
		observers:  make(map[string][]Observer),
	}
}

// Classifier returns the handler's classifier, for callers that need to
// extend the kind table.
func (h *Handler) Classifier() *Classifier { return h.classifier }

// SetMetrics attaches a fault counter. Call once at the composition root
// before the handler sees traffic; a nil recorder disables counting.
func (h *Handler) SetMetrics(m FaultMetrics) { h.metrics = m }

// Observe registers an observer for a specific error kind, or for every
// kind via ObserverWildcard.
func (h *Handler) Observe(kind string, fn Observer) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers[kind] = append(h.observers[kind], fn)
}

// Handle records one error and returns its disposition.
//
// The record is appended to the rolling buffer, aggregate counters are
// updated, observers are notified, and — when a sink is configured and the
// context carries a subject id — a redacted event is forwarded to the
// audit sink.
func (h *Handler) Handle(ctx context.Context, err error, ectx ErrorContext) (d Disposition) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("error handler internal fault",
				slog.Any("panic", r),
				slog.String("operation", ectx.Operation),
			)
			d = h.minimalDisposition(err, ectx)
		}
	}()

	cls := h.classifier.Classify(err)
	recoverable, action := h.classifier.Recoverable(err, cls)

	record := ErrorRecord{
		Kind:           KindOf(err),
		Message:        err.Error(),
		Category:       cls.Category,
		Severity:       cls.Severity,
		Context:        ectx,
		RecoveryAction: action,
		Stack:          captureStack(),
		Timestamp:      time.Now(),
	}
	if record.Kind == "" {
		record.Kind = "unclassified"
	}

	h.record(record)
	if h.metrics != nil {
		h.metrics.RecordFault(string(record.Category), string(record.Severity), record.Kind)
	}
	h.notify(record)
	h.forward(ctx, record)

	h.logger.Error("pipeline error handled",
		slog.String("kind", record.Kind),
		slog.String("category", string(record.Category)),
		slog.String("severity", string(record.Severity)),
		slog.Bool("recoverable", recoverable),
		slog.String("operation", ectx.Operation),
		slog.String("component", ectx.Component),
		slog.String("error_id", ectx.ErrorID),
		slog.String("error", err.Error()),
	)

	return Disposition{
		Record:         record,
		Recoverable:    recoverable,
		RecoveryAction: action,
		UserMessage:    userMessage(cls.Category, ectx.ErrorID),
	}
}

// Stats returns a snapshot of the rolling statistics.
func (h *Handler) Stats() StatsSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := StatsSnapshot{
		Total:      h.total,
		ByCategory: make(map[Category]int, len(h.byCategory)),
		BySeverity: make(map[Severity]int, len(h.bySeverity)),
		ByKind:     make(map[string]int, len(h.byKind)),
		Recent:     append([]ErrorRecord(nil), h.recent...),
	}
	for k, v := range h.byCategory {
		snap.ByCategory[k] = v
	}
	for k, v := range h.bySeverity {
		snap.BySeverity[k] = v
	}
	for k, v := range h.byKind {
		snap.ByKind[k] = v
	}
	return snap
}

func (h *Handler) record(record ErrorRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.total++
	h.byCategory[record.Category]++
	h.bySeverity[record.Severity]++
	h.byKind[record.Kind]++

	h.recent = append(h.recent, record)
	if len(h.recent) > maxRecentRecords {
		h.recent = h.recent[len(h.recent)-maxRecentRecords:]
	}
}

func (h *Handler) notify(record ErrorRecord) {
	h.mu.Lock()
	observers := append(append([]Observer(nil), h.observers[record.Kind]...),
		h.observers[ObserverWildcard]...)
	h.mu.Unlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Warn("error observer panicked",
						slog.String("kind", record.Kind),
						slog.Any("panic", r),
					)
				}
			}()
			fn(record)
		}()
	}
}

// forward sends a redacted event to the audit sink. Requires both a
// configured sink and a subject id on the context.
func (h *Handler) forward(ctx context.Context, record ErrorRecord) {
	if h.sink == nil || record.Context.SubjectID == "" {
		return
	}

	event := audit.Event{
		Timestamp:   record.Timestamp,
		SubjectHash: audit.HashSubject(record.Context.SubjectID),
		Operation:   record.Context.Operation,
		Component:   record.Context.Component,
		Kind:        record.Kind,
		Category:    string(record.Category),
		Severity:    string(record.Severity),
		ErrorID:     record.Context.ErrorID,
		Message:     record.Message,
	}
	if err := h.sink.RecordErrorEvent(ctx, event); err != nil {
		h.logger.Warn("audit sink rejected error event",
			slog.String("error_id", record.Context.ErrorID),
			slog.String("error", err.Error()),
		)
	}
}

// minimalDisposition is the degraded result when the handler's own
// bookkeeping failed.
func (h *Handler) minimalDisposition(err error, ectx ErrorContext) Disposition {
	return Disposition{
		Record: ErrorRecord{
			Kind:      "handler_internal_failure",
			Message:   err.Error(),
			Category:  CategorySystem,
			Severity:  SeverityCritical,
			Context:   ectx,
			Timestamp: time.Now(),
		},
		Recoverable: false,
		UserMessage: userMessage(CategorySystem, ectx.ErrorID),
	}
}

// userMessage maps a category to a short, non-technical message carrying
// the error id for support correlation.
func userMessage(category Category, errorID string) string {
	var msg string
	switch category {
	case CategoryUserInput:
		msg = "The provided input could not be accepted. Please check it and try again."
	case CategoryData:
		msg = "The patient record could not be processed."
	case CategoryNetwork:
		msg = "The analysis took too long to respond. Please try again."
	case CategoryExternalAPI:
		msg = "An external service is temporarily unavailable."
	case CategorySecurity:
		msg = "The request could not be authorized."
	case CategoryBusinessLogic:
		msg = "The analysis could not be completed safely."
	default:
		msg = "An internal error occurred."
	}
	return msg + " (ref " + errorID + ")"
}
