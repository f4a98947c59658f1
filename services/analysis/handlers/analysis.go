// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP API for the analysis pipeline.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/meridian-health/chartgate/pkg/validation"
	"github.com/meridian-health/chartgate/services/analysis/faults"
	"github.com/meridian-health/chartgate/services/analysis/stages/persist"
	"github.com/meridian-health/chartgate/services/analysis/workflow"
)

var tracer = otel.Tracer("chartgate.handlers")

func init() {
	// The binding layer applies the same subject-name rule the pipeline
	// enforces, so malformed requests are refused before a run starts.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("subjectname", func(fl validator.FieldLevel) bool {
			_, err := validation.SanitizeSubjectName(fl.Field().String())
			return err == nil
		})
	}
}

// AnalysisRequest is the body of POST /v1/analysis.
type AnalysisRequest struct {
	SubjectID string `json:"subject_id" binding:"required,subjectname"`
}

// HandleAnalysis runs the full pipeline for one subject.
func HandleAnalysis(o *workflow.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleAnalysis")
		defer span.End()

		var req AnalysisRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		report, err := o.Run(ctx, req.SubjectID, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			status, message := statusForRunError(err)
			body := gin.H{"error": message}
			var runErr *workflow.RunError
			if errors.As(err, &runErr) {
				body["run_id"] = runErr.RunID
			}
			c.JSON(status, body)
			return
		}

		c.JSON(http.StatusOK, report)
	}
}

// HandleStats exposes aggregate run statistics.
func HandleStats(o *workflow.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Stats().Snapshot())
	}
}

// HandleLatestReport returns the newest stored report for a subject.
func HandleLatestReport(store *persist.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleLatestReport")
		defer span.End()

		mrn := c.Param("mrn")
		report, err := store.Latest(ctx, mrn)
		if err != nil {
			span.RecordError(err)
			if faults.KindOf(err) == faults.KindReportNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "no reports for subject"})
				return
			}
			slog.Error("report lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "report lookup failed"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// statusForRunError maps the terminal fault kind to an HTTP status and a
// non-technical message. Internal detail stays in logs.
func statusForRunError(err error) (int, string) {
	kind := faults.KindOf(err)
	switch {
	case kind == faults.KindInputValidation:
		return http.StatusBadRequest, "subject name is missing or malformed"
	case kind == faults.KindRecordNotFound:
		return http.StatusNotFound, "no clinical document found for this subject"
	case kind == faults.KindReportQuality, kind == faults.KindHallucinationCritical:
		return http.StatusUnprocessableEntity, "the generated report did not meet quality requirements"
	case strings.HasSuffix(kind, "_timeout"):
		return http.StatusGatewayTimeout, "the analysis did not finish in time"
	default:
		return http.StatusInternalServerError, "the analysis could not be completed"
	}
}
