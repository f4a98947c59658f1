// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package faults implements the pipeline's error taxonomy: typed errors
// carrying a kind string, a classifier mapping kinds to (category,
// severity), and a handler that records, aggregates, and forwards error
// events without ever failing itself.
//
// Errors raised inside a stage propagate unchanged; only the stage
// executor's own timeout and the orchestrator's top-level wrap introduce
// new error values. The classifier therefore always sees the true kind.
package faults

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// Category groups errors by origin.
type Category string

const (
	CategorySystem        Category = "system"
	CategoryData          Category = "data"
	CategoryNetwork       Category = "network"
	CategorySecurity      Category = "security"
	CategoryBusinessLogic Category = "business_logic"
	CategoryExternalAPI   Category = "external_api"
	CategoryUserInput     Category = "user_input"
)

// ParseCategory returns the Category for s and whether s named a valid one.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategorySystem, CategoryData, CategoryNetwork, CategorySecurity,
		CategoryBusinessLogic, CategoryExternalAPI, CategoryUserInput:
		return Category(s), true
	default:
		return "", false
	}
}

// Severity grades how bad an error is. Critical errors are never
// recoverable.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity returns the Severity for s and whether s named a valid one.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), true
	default:
		return "", false
	}
}

// Error kinds raised by the pipeline and its collaborators. Kinds are the
// classification key: stage implementations raise faults with these kinds
// so the classifier can map them without inspecting messages.
const (
	KindInputValidation       = "input_validation_failure"
	KindRecordNotFound        = "record_not_found"
	KindRecordParse           = "record_parse_failure"
	KindRecordStorage         = "record_storage_failure"
	KindCoordination          = "coordination_failure"
	KindExternalService       = "external_service_failure"
	KindEnrichment            = "enrichment_failure"
	KindDataValidation        = "data_validation_failure"
	KindReportAssembly        = "report_assembly_failure"
	KindReportQuality         = "report_quality_failure"
	KindReportStorage         = "report_storage_failure"
	KindReportNotFound        = "report_not_found"
	KindHallucinationCritical = "hallucination_critical"
	KindStagePanic            = "stage_panic"
	KindWorkflow              = "workflow_failure"
)

// TimeoutKind returns the stage-specific timeout kind for a stage name,
// e.g. "extraction_timeout". Timeouts are never generic: the kind names
// the stage so the classifier and operators see exactly where time ran out.
func TimeoutKind(stage string) string {
	return stage + "_timeout"
}

// Fault is an error with a classification kind. The wrapped cause, if any,
// is retrievable with errors.Unwrap.
type Fault struct {
	Kind  string
	msg   string
	cause error
}

// New creates a Fault with the given kind and formatted message.
func New(kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a Fault with the given kind wrapping an underlying cause.
func Wrap(kind string, cause error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return f.msg + ": " + f.cause.Error()
	}
	return f.msg
}

// Unwrap returns the wrapped cause, if any.
func (f *Fault) Unwrap() error { return f.cause }

// KindOf extracts the kind of an error. Non-Fault errors report the empty
// kind and are classified with the unknown-kind default.
func KindOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// ErrorContext describes where an error was raised. Immutable once
// created; one instance per raised error.
type ErrorContext struct {
	Operation string         `json:"operation"`
	SubjectID string         `json:"subject_id,omitempty"`
	Component string         `json:"component"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ErrorID   string         `json:"error_id"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewErrorContext creates a context with a fresh error id and timestamp.
func NewErrorContext(operation, component string) ErrorContext {
	return ErrorContext{
		Operation: operation,
		Component: component,
		ErrorID:   uuid.NewString(),
		CreatedAt: time.Now(),
	}
}

// WithSubject returns a copy of the context carrying a subject identifier.
func (c ErrorContext) WithSubject(subjectID string) ErrorContext {
	c.SubjectID = subjectID
	return c
}

// WithMetadata returns a copy of the context with one auxiliary key set.
func (c ErrorContext) WithMetadata(key string, value any) ErrorContext {
	meta := make(map[string]any, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta[key] = value
	c.Metadata = meta
	return c
}

// ErrorRecord is the persisted form of one handled error. Never mutated
// after creation; retained in the handler's rolling buffer.
type ErrorRecord struct {
	Kind           string       `json:"kind"`
	Message        string       `json:"message"`
	Category       Category     `json:"category"`
	Severity       Severity     `json:"severity"`
	Context        ErrorContext `json:"context"`
	RecoveryAction string       `json:"recovery_action,omitempty"`
	Stack          string       `json:"stack"`
	Timestamp      time.Time    `json:"timestamp"`
}

// captureStack records the current goroutine's stack for the record.
func captureStack() string {
	return string(debug.Stack())
}
