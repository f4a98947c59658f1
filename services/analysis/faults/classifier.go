// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package faults

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/meridian-health/chartgate/services/analysis/datatypes"
)

// Classification is the (category, severity) pair assigned to an error
// kind.
type Classification struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
}

// defaultClassification is applied to unknown error kinds.
var defaultClassification = Classification{
	Category: CategorySystem,
	Severity: SeverityHigh,
}

// recoverableKinds is the fixed allow-list of kinds that may continue the
// run, with the recovery action reported to callers. Recoverability still
// requires severity below critical at classification time.
var recoverableKinds = map[string]string{
	KindExternalService: "continue without external enrichment and mark the correlation degraded",
	KindEnrichment:      "skip the optional enrichment step",
	KindDataValidation:  "record the validation issues and continue to the quality gate",
}

// Classifier maps error kinds to classifications.
//
// The built-in table is strongly typed and validated. Callers may extend
// it at runtime; entries arriving through RegisterRaw are coerced
// defensively, with a logged warning, so a malformed registration can
// never produce an invalid category or severity downstream.
//
// # Thread Safety
//
// Classifier is safe for concurrent use.
type Classifier struct {
	mu     sync.RWMutex
	table  map[string]Classification
	logger *slog.Logger
}

// NewClassifier creates a Classifier seeded with the pipeline's built-in
// kind table. A nil logger falls back to slog.Default().
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}

	table := map[string]Classification{
		KindInputValidation:       {CategoryUserInput, SeverityLow},
		KindRecordNotFound:        {CategoryData, SeverityMedium},
		KindRecordParse:           {CategoryData, SeverityHigh},
		KindRecordStorage:         {CategorySystem, SeverityHigh},
		KindCoordination:          {CategoryBusinessLogic, SeverityCritical},
		KindExternalService:       {CategoryExternalAPI, SeverityMedium},
		KindEnrichment:            {CategoryExternalAPI, SeverityLow},
		KindDataValidation:        {CategoryData, SeverityMedium},
		KindReportAssembly:        {CategoryBusinessLogic, SeverityHigh},
		KindReportQuality:         {CategoryBusinessLogic, SeverityCritical},
		KindReportStorage:         {CategorySystem, SeverityHigh},
		KindReportNotFound:        {CategoryData, SeverityLow},
		KindHallucinationCritical: {CategoryBusinessLogic, SeverityCritical},
		KindStagePanic:            {CategorySystem, SeverityCritical},
		KindWorkflow:              {CategorySystem, SeverityHigh},
	}
	for _, stage := range datatypes.PipelineStages() {
		table[TimeoutKind(string(stage))] = Classification{CategoryNetwork, SeverityHigh}
	}

	return &Classifier{table: table, logger: logger}
}

// Register adds or replaces a typed table entry. Invalid enum members are
// rejected; use RegisterRaw for entries from less-trusted call sites.
func (c *Classifier) Register(kind string, category Category, severity Severity) error {
	if kind == "" {
		return fmt.Errorf("error kind cannot be empty")
	}
	if _, ok := ParseCategory(string(category)); !ok {
		return fmt.Errorf("invalid category %q for kind %q", category, kind)
	}
	if _, ok := ParseSeverity(string(severity)); !ok {
		return fmt.Errorf("invalid severity %q for kind %q", severity, kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[kind] = Classification{Category: category, Severity: severity}
	return nil
}

// RegisterRaw adds a table entry from unvalidated strings. Values that are
// not valid enum members are coerced to the system/high default with a
// logged warning rather than rejected, because dynamic callers register
// entries they cannot always normalize.
func (c *Classifier) RegisterRaw(kind, category, severity string) {
	if kind == "" {
		c.logger.Warn("ignoring classification entry with empty kind")
		return
	}

	cat, ok := ParseCategory(category)
	if !ok {
		c.logger.Warn("coercing invalid error category",
			slog.String("kind", kind),
			slog.String("category", category),
			slog.String("coerced_to", string(defaultClassification.Category)),
		)
		cat = defaultClassification.Category
	}

	sev, ok := ParseSeverity(severity)
	if !ok {
		c.logger.Warn("coercing invalid error severity",
			slog.String("kind", kind),
			slog.String("severity", severity),
			slog.String("coerced_to", string(defaultClassification.Severity)),
		)
		sev = defaultClassification.Severity
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.table[kind] = Classification{Category: cat, Severity: sev}
}

// Classify returns the classification for an error. Unknown kinds, and
// errors that are not Faults at all, get the system/high default. The
// returned values are always valid enum members.
func (c *Classifier) Classify(err error) Classification {
	kind := KindOf(err)
	if kind == "" {
		return defaultClassification
	}

	c.mu.RLock()
	cls, ok := c.table[kind]
	c.mu.RUnlock()
	if !ok {
		return defaultClassification
	}

	// Belt and suspenders: the table can only hold valid members via
	// Register/RegisterRaw, but a zero-value entry would otherwise leak
	// empty enums to callers.
	if _, valid := ParseCategory(string(cls.Category)); !valid {
		c.logger.Warn("coercing invalid category in classification table",
			slog.String("kind", kind), slog.String("category", string(cls.Category)))
		cls.Category = defaultClassification.Category
	}
	if _, valid := ParseSeverity(string(cls.Severity)); !valid {
		c.logger.Warn("coercing invalid severity in classification table",
			slog.String("kind", kind), slog.String("severity", string(cls.Severity)))
		cls.Severity = defaultClassification.Severity
	}
	return cls
}

// Recoverable decides whether the run may continue after err.
//
// Critical severity is never recoverable. Otherwise only the fixed
// allow-list of kinds recovers, and only at low or medium severity.
// Returns the recovery action description when recoverable.
func (c *Classifier) Recoverable(err error, cls Classification) (bool, string) {
	if cls.Severity == SeverityCritical {
		return false, ""
	}

	action, ok := recoverableKinds[KindOf(err)]
	if !ok {
		return false, ""
	}
	if cls.Severity != SeverityLow && cls.Severity != SeverityMedium {
		return false, ""
	}
	return true, action
}
