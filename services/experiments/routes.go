// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiments

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the experiments endpoints.
//
// Description:
//
//	Adds all experiment routes under /experiments on the given group.
//	Typically the group is /v1, so routes become /v1/experiments/*.
//
// Inputs:
//
//	rg - Router group (typically /v1)
//	handlers - The handlers instance
//
// Example:
//
//	router := gin.Default()
//	v1 := router.Group("/v1")
//	experiments.RegisterRoutes(v1, handlers)
//
// Endpoints:
//
//	POST /v1/experiments/ab                      - Create A/B experiment
//	GET  /v1/experiments/ab                      - List A/B experiments
//	POST /v1/experiments/ab/:name/assign         - Assign a variant
//	POST /v1/experiments/ab/:name/outcome        - Record an outcome
//	GET  /v1/experiments/ab/:name/results        - Per-variant results
//	POST /v1/experiments/bandit/:name/select     - Select an arm
//	POST /v1/experiments/bandit/:name/update     - Report a reward
//	GET  /v1/experiments/bandit/:name/stats      - Arm statistics
//	GET  /v1/experiments/bandit                  - List bandits
//	GET  /v1/experiments/health                  - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	exp := rg.Group("/experiments")
	{
		abGroup := exp.Group("/ab")
		{
			abGroup.POST("", handlers.HandleCreateAB)
			abGroup.GET("", handlers.HandleListAB)
			abGroup.POST("/:name/assign", handlers.HandleAssign)
			abGroup.POST("/:name/outcome", handlers.HandleOutcome)
			abGroup.GET("/:name/results", handlers.HandleResults)
		}

		banditGroup := exp.Group("/bandit")
		{
			banditGroup.GET("", handlers.HandleListBandits)
			banditGroup.POST("/:name/select", handlers.HandleSelect)
			banditGroup.POST("/:name/update", handlers.HandleUpdate)
			banditGroup.GET("/:name/stats", handlers.HandleStats)
		}

		exp.GET("/health", handlers.HandleHealth)
	}
}
