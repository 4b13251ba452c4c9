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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/promptlab/services/experiments/ab"
)

// Handlers contains the HTTP handlers for the experiments API.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc, logger: slog.Default()}
}

// WithLogger sets the handler logger.
func (h *Handlers) WithLogger(logger *slog.Logger) *Handlers {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// statusForError maps a service error onto an HTTP status and error code.
func statusForError(err error) (int, string) {
	switch errorKind(err) {
	case "duplicate":
		return http.StatusConflict, "DUPLICATE_EXPERIMENT"
	case "invalid":
		return http.StatusBadRequest, "INVALID_CONFIGURATION"
	case "experiment_not_found":
		return http.StatusNotFound, "EXPERIMENT_NOT_FOUND"
	case "arm_not_found":
		return http.StatusNotFound, "ARM_NOT_FOUND"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// writeError logs err and writes the mapped ErrorResponse.
func writeError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err)
	} else {
		logger.Warn(msg, "error", err)
	}
	c.JSON(status, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

// bindJSON decodes and validates the request body. On failure it writes a
// 400 and returns false.
func bindJSON[T interface{ Validate() error }](c *gin.Context, logger *slog.Logger, req *T) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return false
	}
	if err := (*req).Validate(); err != nil {
		logger.Warn("Request validation failed", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Request validation failed",
			Code:    "INVALID_CONFIGURATION",
			Details: err.Error(),
		})
		return false
	}
	return true
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

// -----------------------------------------------------------------------------
// A/B
// -----------------------------------------------------------------------------

// HandleCreateAB handles POST /v1/experiments/ab.
//
// Description:
//
//	Registers an A/B experiment. Omitting the distribution splits traffic
//	equally across the variants.
//
// Request Body:
//
//	CreateABRequest
//
// Response:
//
//	201 Created: ExperimentResponse
//	400 Bad Request: Invalid body or configuration
//	409 Conflict: Name already registered
func (h *Handlers) HandleCreateAB(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateAB")

	var req CreateABRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	ctx := c.Request.Context()
	if err := h.svc.CreateABExperiment(ctx, req.Name, req.Variants, req.Distribution); err != nil {
		writeError(c, logger, "Create experiment failed", err)
		return
	}

	exp, err := h.svc.ABExperiment(ctx, req.Name)
	if err != nil {
		writeError(c, logger, "Read back experiment failed", err)
		return
	}

	logger.Info("Experiment created", "experiment", exp.Name, "variants", len(exp.Variants))
	c.JSON(http.StatusCreated, ExperimentResponse{
		Name:         exp.Name,
		Variants:     exp.Variants,
		Distribution: exp.Distribution,
	})
}

// HandleListAB handles GET /v1/experiments/ab.
func (h *Handlers) HandleListAB(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListAB")

	names, err := h.svc.ListABExperiments(c.Request.Context())
	if err != nil {
		writeError(c, logger, "List experiments failed", err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Experiments: names, Count: len(names)})
}

// HandleAssign handles POST /v1/experiments/ab/:name/assign.
//
// Description:
//
//	Returns the variant for the user and counts one trial for it. The
//	same user always receives the same variant.
//
// Response:
//
//	200 OK: AssignResponse
//	400 Bad Request: Missing user_id
//	404 Not Found: Unknown experiment
func (h *Handlers) HandleAssign(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAssign")
	name := c.Param("name")

	var req AssignRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	variant, err := h.svc.Assign(c.Request.Context(), name, req.UserID)
	if err != nil {
		writeError(c, logger, "Assign failed", err)
		return
	}

	c.JSON(http.StatusOK, AssignResponse{
		Experiment: name,
		UserID:     req.UserID,
		Variant:    variant,
		Bucket:     ab.Bucket(req.UserID),
	})
}

// HandleOutcome handles POST /v1/experiments/ab/:name/outcome.
//
// Description:
//
//	Adds the score to the variant's cumulative results. Scores for a
//	variant the experiment does not have are accepted and dropped.
//
// Response:
//
//	204 No Content
//	400 Bad Request: Missing variant or score
//	404 Not Found: Unknown experiment
func (h *Handlers) HandleOutcome(c *gin.Context) {
	logger := h.requestLogger(c, "HandleOutcome")
	name := c.Param("name")

	var req OutcomeRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	if err := h.svc.RecordOutcome(c.Request.Context(), name, req.Variant, *req.Score); err != nil {
		writeError(c, logger, "Record outcome failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleResults handles GET /v1/experiments/ab/:name/results.
func (h *Handlers) HandleResults(c *gin.Context) {
	logger := h.requestLogger(c, "HandleResults")
	name := c.Param("name")

	results, err := h.svc.Results(c.Request.Context(), name)
	if err != nil {
		writeError(c, logger, "Results failed", err)
		return
	}
	c.JSON(http.StatusOK, ResultsResponse{Experiment: name, Variants: results})
}

// -----------------------------------------------------------------------------
// Bandit
// -----------------------------------------------------------------------------

// HandleSelect handles POST /v1/experiments/bandit/:name/select.
//
// Description:
//
//	Picks an arm. The first call for a name registers the bandit with the
//	given arms; later calls use the arms only as the exploration pool.
//
// Response:
//
//	200 OK: SelectResponse
//	400 Bad Request: First call without arms, or duplicate arms
func (h *Handlers) HandleSelect(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSelect")
	name := c.Param("name")

	var req SelectRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	sel, err := h.svc.SelectArm(c.Request.Context(), name, req.Arms)
	if err != nil {
		writeError(c, logger, "Select arm failed", err)
		return
	}
	c.JSON(http.StatusOK, SelectResponse{
		Experiment: name,
		Arm:        sel.Arm,
		Explored:   sel.Explored,
		Registered: sel.Registered,
	})
}

// HandleUpdate handles POST /v1/experiments/bandit/:name/update.
//
// Response:
//
//	204 No Content
//	404 Not Found: Unknown bandit or arm
func (h *Handlers) HandleUpdate(c *gin.Context) {
	logger := h.requestLogger(c, "HandleUpdate")
	name := c.Param("name")

	var req UpdateRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	if err := h.svc.UpdateArm(c.Request.Context(), name, req.Arm, *req.Reward); err != nil {
		writeError(c, logger, "Update arm failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleStats handles GET /v1/experiments/bandit/:name/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	logger := h.requestLogger(c, "HandleStats")
	name := c.Param("name")

	arms, err := h.svc.Stats(c.Request.Context(), name)
	if err != nil {
		writeError(c, logger, "Stats failed", err)
		return
	}
	c.JSON(http.StatusOK, StatsResponse{Experiment: name, Epsilon: h.svc.Epsilon(), Arms: arms})
}

// HandleListBandits handles GET /v1/experiments/bandit.
func (h *Handlers) HandleListBandits(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListBandits")

	names, err := h.svc.ListBandits(c.Request.Context())
	if err != nil {
		writeError(c, logger, "List bandits failed", err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Experiments: names, Count: len(names)})
}

// HandleHealth handles GET /v1/experiments/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// getOrCreateRequestID gets the request ID from header or creates a new one.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
