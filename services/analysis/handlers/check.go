// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/hallucination"
)

// CheckRequest is the body of POST /v1/hallucination/check.
type CheckRequest struct {
	Text        string `json:"text" binding:"required"`
	ContentType string `json:"content_type" binding:"omitempty,oneof=general medication condition procedure"`

	// Strict returns 422 on a critical finding instead of 200.
	Strict bool `json:"strict"`

	// SubjectID, when set, lets strict-mode blocks reach the audit trail.
	SubjectID string `json:"subject_id" binding:"omitempty,max=64"`
}

// HandleCheck runs the hallucination detector over ad-hoc text.
func HandleCheck(detector *hallucination.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleCheck")
		defer span.End()

		var req CheckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		contentType := datatypes.ContentType(req.ContentType)
		if req.ContentType == "" {
			contentType = datatypes.ContentGeneral
		}

		check, err := detector.CheckContent(ctx, req.Text, contentType, req.SubjectID, req.Strict)
		if err != nil {
			span.RecordError(err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "content blocked: critical hallucination risk",
				"check": check,
			})
			return
		}
		c.JSON(http.StatusOK, check)
	}
}
