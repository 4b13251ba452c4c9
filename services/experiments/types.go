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
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/promptlab/services/experiments/ab"
	"github.com/AleutianAI/promptlab/services/experiments/bandit"
	"github.com/AleutianAI/promptlab/services/experiments/core"
)

// requestValidate is the validator instance for API requests.
// Initialized in init() with custom validators.
var requestValidate *validator.Validate

// experimentNamePattern limits names to URL-path-safe characters.
var experimentNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("expname", validateExperimentName)
}

// validateExperimentName reports whether the field is a usable experiment
// name: non-empty, at most 128 bytes, URL-path-safe.
func validateExperimentName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	return len(name) > 0 && len(name) <= 128 && experimentNamePattern.MatchString(name)
}

// validateRequest runs struct validation and maps failures onto
// core.ErrInvalidConfiguration.
func validateRequest(req any) error {
	if err := requestValidate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidConfiguration, err)
	}
	return nil
}

// =============================================================================
// A/B REQUESTS AND RESPONSES
// =============================================================================

// CreateABRequest is the body for POST /v1/experiments/ab.
//
// Distribution may be omitted for an equal split. When present it must have
// one weight per variant and sum to 1; the assigner enforces both.
type CreateABRequest struct {
	Name         string    `json:"name" yaml:"name" validate:"required,expname"`
	Variants     []string  `json:"variants" yaml:"variants" validate:"required,min=1,max=64,dive,required,max=128"`
	Distribution []float64 `json:"distribution,omitempty" yaml:"distribution,omitempty" validate:"omitempty,max=64,dive,gte=0,lte=1"`
}

// Validate checks the request fields.
func (r CreateABRequest) Validate() error {
	return validateRequest(r)
}

// ExperimentResponse describes a registered A/B experiment.
type ExperimentResponse struct {
	Name         string    `json:"name"`
	Variants     []string  `json:"variants"`
	Distribution []float64 `json:"distribution"`
}

// AssignRequest is the body for POST /v1/experiments/ab/:name/assign.
type AssignRequest struct {
	UserID string `json:"user_id" validate:"required,max=256"`
}

// Validate checks the request fields.
func (r AssignRequest) Validate() error {
	return validateRequest(r)
}

// AssignResponse carries the assigned variant.
type AssignResponse struct {
	Experiment string `json:"experiment"`
	UserID     string `json:"user_id"`
	Variant    string `json:"variant"`
	Bucket     int    `json:"bucket"`
}

// OutcomeRequest is the body for POST /v1/experiments/ab/:name/outcome.
//
// Score is a pointer so a missing score is distinguishable from 0.
type OutcomeRequest struct {
	Variant string   `json:"variant" validate:"required"`
	Score   *float64 `json:"score" validate:"required"`
}

// Validate checks the request fields.
func (r OutcomeRequest) Validate() error {
	return validateRequest(r)
}

// ResultsResponse carries per-variant results.
type ResultsResponse struct {
	Experiment string             `json:"experiment"`
	Variants   []ab.VariantResult `json:"variants"`
}

// =============================================================================
// BANDIT REQUESTS AND RESPONSES
// =============================================================================

// SelectRequest is the body for POST /v1/experiments/bandit/:name/select.
//
// Arms registers the bandit on first use and is otherwise only used as the
// exploration pool.
type SelectRequest struct {
	Arms []string `json:"arms" validate:"omitempty,max=64,dive,required,max=128"`
}

// Validate checks the request fields.
func (r SelectRequest) Validate() error {
	return validateRequest(r)
}

// SelectResponse carries the chosen arm.
//
// Registered is false when an explored arm came from the request's arms
// and is not tracked by the bandit; updates to it return 404.
type SelectResponse struct {
	Experiment string `json:"experiment"`
	Arm        string `json:"arm"`
	Explored   bool   `json:"explored"`
	Registered bool   `json:"registered"`
}

// UpdateRequest is the body for POST /v1/experiments/bandit/:name/update.
type UpdateRequest struct {
	Arm    string   `json:"arm" validate:"required"`
	Reward *float64 `json:"reward" validate:"required"`
}

// Validate checks the request fields.
func (r UpdateRequest) Validate() error {
	return validateRequest(r)
}

// StatsResponse carries the bandit's arms in registration order.
type StatsResponse struct {
	Experiment string       `json:"experiment"`
	Epsilon    float64      `json:"epsilon"`
	Arms       []bandit.Arm `json:"arms"`
}

// =============================================================================
// COMMON
// =============================================================================

// ListResponse carries experiment names.
type ListResponse struct {
	Experiments []string `json:"experiments"`
	Count       int      `json:"count"`
}

// HealthResponse is the body for GET /v1/experiments/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
