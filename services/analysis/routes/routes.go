// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridian-health/chartgate/services/analysis/hallucination"
	"github.com/meridian-health/chartgate/services/analysis/handlers"
	"github.com/meridian-health/chartgate/services/analysis/stages/persist"
	"github.com/meridian-health/chartgate/services/analysis/workflow"
)

func SetupRoutes(router *gin.Engine, orchestrator *workflow.Orchestrator,
	store *persist.Store, detector *hallucination.Detector) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/analysis", handlers.HandleAnalysis(orchestrator))
		v1.GET("/analysis/stats", handlers.HandleStats(orchestrator))
		v1.GET("/reports/:mrn", handlers.HandleLatestReport(store))
		v1.POST("/hallucination/check", handlers.HandleCheck(detector))
	}
}
