// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extract reads clinical source documents from a records
// directory and turns them into patient records.
//
// Documents are a CCD-lite XML dialect: one <ClinicalDocument> per
// subject, named <subject name>.xml (the sanitized name, verbatim).
// Extraction establishes the MRN the rest of the pipeline checks every
// artifact against.
package extract

import (
	"context"
	"encoding/xml"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/faults"
)

// document mirrors the CCD-lite XML schema.
type document struct {
	XMLName xml.Name `xml:"ClinicalDocument"`
	Patient struct {
		MRN       string `xml:"mrn"`
		Name      string `xml:"name"`
		BirthDate string `xml:"birthDate"`
		Age       int    `xml:"age"`
		Sex       string `xml:"sex"`
	} `xml:"patient"`
	Conditions []struct {
		Code    string `xml:"code,attr"`
		Status  string `xml:"status,attr"`
		Onset   string `xml:"onset,attr"`
		Display string `xml:",chardata"`
	} `xml:"conditions>condition"`
	Medications []struct {
		Name      string  `xml:"name,attr"`
		Dose      float64 `xml:"dose,attr"`
		Unit      string  `xml:"unit,attr"`
		Frequency string  `xml:"frequency,attr"`
	} `xml:"medications>medication"`
	Procedures []struct {
		Code      string `xml:"code,attr"`
		Performed string `xml:"performed,attr"`
		Display   string `xml:",chardata"`
	} `xml:"procedures>procedure"`
	Allergies []string `xml:"allergies>allergy"`
}

// FileExtractor reads CCD-lite documents from a directory.
//
// Thread Safety: stateless after construction, safe for concurrent use.
type FileExtractor struct {
	dir    string
	logger *slog.Logger
}

// NewFileExtractor creates an extractor over the given records directory.
func NewFileExtractor(dir string, logger *slog.Logger) *FileExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileExtractor{dir: dir, logger: logger}
}

// Extract reads and parses the document for one subject.
//
// A missing document is a record_not_found fault; an unreadable file is
// record_storage_failure; malformed XML or a document without an MRN is
// record_parse_failure.
func (e *FileExtractor) Extract(ctx context.Context, subject string) (*datatypes.PatientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.KindRecordStorage, err, "extraction canceled")
	}

	path := filepath.Join(e.dir, subject+".xml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, faults.New(faults.KindRecordNotFound, "no clinical document for subject")
	}
	if err != nil {
		return nil, faults.Wrap(faults.KindRecordStorage, err, "read clinical document")
	}

	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, faults.Wrap(faults.KindRecordParse, err, "parse clinical document")
	}
	if doc.Patient.MRN == "" {
		return nil, faults.New(faults.KindRecordParse, "clinical document carries no MRN")
	}

	record := &datatypes.PatientRecord{
		MRN:         doc.Patient.MRN,
		Name:        strings.TrimSpace(doc.Patient.Name),
		BirthDate:   doc.Patient.BirthDate,
		Age:         doc.Patient.Age,
		Sex:         doc.Patient.Sex,
		Allergies:   doc.Allergies,
		SourceURI:   "file://" + path,
		ExtractedAt: time.Now(),
	}
	for _, c := range doc.Conditions {
		record.Conditions = append(record.Conditions, datatypes.Condition{
			Code:    c.Code,
			Display: strings.TrimSpace(c.Display),
			Status:  c.Status,
			Onset:   c.Onset,
		})
	}
	for _, m := range doc.Medications {
		record.Medications = append(record.Medications, datatypes.Medication{
			Name:      m.Name,
			Dose:      m.Dose,
			DoseUnit:  m.Unit,
			Frequency: m.Frequency,
		})
	}
	for _, p := range doc.Procedures {
		record.Procedures = append(record.Procedures, datatypes.Procedure{
			Code:        p.Code,
			Display:     strings.TrimSpace(p.Display),
			PerformedAt: p.Performed,
		})
	}

	e.logger.Debug("clinical document extracted",
		slog.Int("conditions", len(record.Conditions)),
		slog.Int("medications", len(record.Medications)),
	)
	return record, nil
}
