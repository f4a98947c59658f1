// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package faults

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/meridian-health/chartgate/services/analysis/audit"
)

func TestHandleRecordsAndClassifies(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(nil, testLogger(&buf), nil)
	ctx := context.Background()

	ectx := NewErrorContext("correlate_literature", "orchestrator").WithSubject("MRN-1")
	d := h.Handle(ctx, New(KindExternalService, "knowledge base unavailable"), ectx)

	if !d.Recoverable {
		t.Error("external_service_failure at medium should be recoverable")
	}
	if d.Record.Category != CategoryExternalAPI || d.Record.Severity != SeverityMedium {
		t.Errorf("record classified as %v/%v", d.Record.Category, d.Record.Severity)
	}
	if d.Record.Stack == "" {
		t.Error("record missing stack capture")
	}
	if !strings.Contains(d.UserMessage, ectx.ErrorID) {
		t.Errorf("user message %q missing error id", d.UserMessage)
	}
	if strings.Contains(d.UserMessage, "knowledge base") {
		t.Errorf("user message %q leaks technical detail", d.UserMessage)
	}

	stats := h.Stats()
	if stats.Total != 1 {
		t.Errorf("stats total = %d", stats.Total)
	}
	if stats.ByCategory[CategoryExternalAPI] != 1 {
		t.Errorf("category counter = %v", stats.ByCategory)
	}
	if stats.ByKind[KindExternalService] != 1 {
		t.Errorf("kind counter = %v", stats.ByKind)
	}
	if len(stats.Recent) != 1 {
		t.Errorf("recent buffer length = %d", len(stats.Recent))
	}
}

type faultCount struct {
	category, severity, kind string
}

type recordingFaultMetrics struct {
	counts []faultCount
}

func (r *recordingFaultMetrics) RecordFault(category, severity, kind string) {
	r.counts = append(r.counts, faultCount{category, severity, kind})
}

func TestHandleIncrementsFaultMetrics(t *testing.T) {
	h := NewHandler(nil, testLogger(&bytes.Buffer{}), nil)
	rec := &recordingFaultMetrics{}
	h.SetMetrics(rec)
	ctx := context.Background()

	h.Handle(ctx, New(KindExternalService, "knowledge base unavailable"),
		NewErrorContext("correlate_literature", "orchestrator"))
	h.Handle(ctx, New(KindCoordination, "mrn mismatch"),
		NewErrorContext("verify_identity", "orchestrator"))

	want := []faultCount{
		{string(CategoryExternalAPI), string(SeverityMedium), KindExternalService},
		{string(CategoryBusinessLogic), string(SeverityCritical), KindCoordination},
	}
	if len(rec.counts) != len(want) {
		t.Fatalf("counted %d faults, want %d", len(rec.counts), len(want))
	}
	for i, w := range want {
		if rec.counts[i] != w {
			t.Errorf("count[%d] = %+v, want %+v", i, rec.counts[i], w)
		}
	}
}

func TestRecentBufferIsBounded(t *testing.T) {
	h := NewHandler(nil, testLogger(&bytes.Buffer{}), nil)
	ctx := context.Background()

	for i := 0; i < maxRecentRecords+25; i++ {
		ectx := NewErrorContext(fmt.Sprintf("op-%d", i), "test")
		h.Handle(ctx, New(KindRecordNotFound, "missing %d", i), ectx)
	}

	stats := h.Stats()
	if len(stats.Recent) != maxRecentRecords {
		t.Errorf("recent buffer = %d, want %d", len(stats.Recent), maxRecentRecords)
	}
	if stats.Total != maxRecentRecords+25 {
		t.Errorf("total = %d, want %d", stats.Total, maxRecentRecords+25)
	}
	// Most-recent retention: the last handled error must be present.
	last := stats.Recent[len(stats.Recent)-1]
	if last.Context.Operation != fmt.Sprintf("op-%d", maxRecentRecords+24) {
		t.Errorf("last recent record is %q", last.Context.Operation)
	}
}

func TestObserversNotifiedAndPanicsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(nil, testLogger(&buf), nil)
	ctx := context.Background()

	var kindCalls, wildcardCalls int
	h.Observe(KindRecordParse, func(r ErrorRecord) { kindCalls++ })
	h.Observe(ObserverWildcard, func(r ErrorRecord) { wildcardCalls++ })
	h.Observe(KindRecordParse, func(r ErrorRecord) { panic("observer bug") })

	ectx := NewErrorContext("extract_record", "extractor")
	h.Handle(ctx, New(KindRecordParse, "malformed document"), ectx)

	if kindCalls != 1 {
		t.Errorf("kind observer calls = %d", kindCalls)
	}
	if wildcardCalls != 1 {
		t.Errorf("wildcard observer calls = %d", wildcardCalls)
	}
	if !strings.Contains(buf.String(), "observer panicked") {
		t.Error("observer panic was not logged")
	}
}

func TestAuditForwardingRequiresSubject(t *testing.T) {
	sink := audit.NewMemorySink()
	h := NewHandler(nil, testLogger(&bytes.Buffer{}), sink)
	ctx := context.Background()

	// No subject id: nothing forwarded.
	h.Handle(ctx, New(KindRecordParse, "bad doc"), NewErrorContext("extract", "extractor"))
	if got := len(sink.ErrorEvents()); got != 0 {
		t.Fatalf("forwarded %d events without a subject id", got)
	}

	// With subject id: one redacted event.
	ectx := NewErrorContext("extract", "extractor").WithSubject("MRN-42")
	h.Handle(ctx, New(KindRecordParse, "bad doc"), ectx)

	events := sink.ErrorEvents()
	if len(events) != 1 {
		t.Fatalf("forwarded %d events, want 1", len(events))
	}
	if events[0].SubjectHash == "MRN-42" || events[0].SubjectHash == "" {
		t.Errorf("subject not redacted: %q", events[0].SubjectHash)
	}
	if events[0].SubjectHash != audit.HashSubject("MRN-42") {
		t.Errorf("subject hash mismatch: %q", events[0].SubjectHash)
	}
}

func TestHandlerDegradesInsteadOfPanicking(t *testing.T) {
	var buf bytes.Buffer
	// Construct a broken handler directly: nil counter maps make the
	// bookkeeping panic on first write.
	h := &Handler{
		classifier: NewClassifier(testLogger(&buf)),
		logger:     testLogger(&buf),
	}
	ctx := context.Background()

	d := h.Handle(ctx, New(KindRecordParse, "bad doc"), NewErrorContext("extract", "extractor"))

	if d.Recoverable {
		t.Error("degraded disposition must not be recoverable")
	}
	if d.Record.Severity != SeverityCritical {
		t.Errorf("degraded severity = %v, want critical", d.Record.Severity)
	}
	if d.UserMessage == "" {
		t.Error("degraded disposition missing user message")
	}
	if !strings.Contains(buf.String(), "internal fault") {
		t.Error("internal fault was not logged")
	}
}

func TestAttemptRecoverableYieldsSkip(t *testing.T) {
	h := NewHandler(nil, testLogger(&bytes.Buffer{}), nil)
	ctx := context.Background()
	ectx := NewErrorContext("correlate", "orchestrator")

	out, err := Attempt(ctx, h, ectx, func(ctx context.Context) (string, error) {
		return "", New(KindExternalService, "unavailable")
	})
	if err != nil {
		t.Fatalf("recoverable failure returned error: %v", err)
	}
	if !out.Skipped || out.Disposition == nil {
		t.Errorf("expected skipped outcome, got %+v", out)
	}

	out2, err := Attempt(ctx, h, ectx, func(ctx context.Context) (string, error) {
		return "", New(KindCoordination, "mrn mismatch")
	})
	if err == nil {
		t.Fatal("non-recoverable failure must return the error")
	}
	if out2.Skipped {
		t.Error("non-recoverable failure must not be marked skipped")
	}

	out3, err := Attempt(ctx, h, ectx, func(ctx context.Context) (string, error) {
		return "fine", nil
	})
	if err != nil || out3.Skipped || out3.Value != "fine" {
		t.Errorf("success outcome wrong: %+v, err=%v", out3, err)
	}
}
