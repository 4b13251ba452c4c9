// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package experiments hosts the A/B assigner and the epsilon-greedy bandit
// behind a concurrency-safe service and a gin HTTP API.
//
// The components in ab and bandit are single-threaded by contract. Service
// serialises every call into each component with its own mutex, opens a
// span per operation, records metrics and logs caller errors.
//
// # Routes
//
// See RegisterRoutes for the endpoint list. A YAML seed file can register
// A/B experiments at startup (LoadSeedFile, ApplySeed) and SeedWatcher
// re-applies it when the file changes.
package experiments

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/promptlab/services/experiments/ab"
	"github.com/AleutianAI/promptlab/services/experiments/bandit"
	"github.com/AleutianAI/promptlab/services/experiments/core"
	"github.com/AleutianAI/promptlab/services/experiments/telemetry"
)

// ServiceVersion is the promptlab service version.
const ServiceVersion = "0.1.0"

// Service is the thread-safe front for both experiment components.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	abMu     sync.Mutex
	assigner *ab.Assigner

	banditMu sync.Mutex
	bandit   *bandit.Bandit

	logger *slog.Logger
}

// NewService wraps the given components.
//
// Inputs:
//   - assigner: A/B assigner. Must not be nil.
//   - b: Bandit. Must not be nil.
//   - logger: Logger. Nil uses slog.Default().
//
// Outputs:
//   - *Service: The service.
//   - error: Non-nil if a component is nil.
func NewService(assigner *ab.Assigner, b *bandit.Bandit, logger *slog.Logger) (*Service, error) {
	if assigner == nil || b == nil {
		return nil, fmt.Errorf("assigner and bandit are required: %w", core.ErrInvalidConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		assigner: assigner,
		bandit:   b,
		logger:   logger.With(slog.String("component", "experiments")),
	}, nil
}

// NewInMemoryService builds a service over process-lifetime stores.
func NewInMemoryService(epsilon float64, logger *slog.Logger) (*Service, error) {
	b, err := bandit.New(nil, epsilon, bandit.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return NewService(ab.NewAssigner(nil, ab.WithLogger(logger)), b, logger)
}

// Epsilon returns the bandit's exploration probability.
func (s *Service) Epsilon() float64 {
	return s.bandit.Epsilon()
}

// finish ends an operation: records metrics, marks the span and logs.
func (s *Service) finish(ctx context.Context, op, name string, start time.Time, err error) {
	recordOperation(ctx, op, start, err)
	logger := telemetry.LoggerWithTrace(ctx, s.logger)
	if err != nil {
		logger.Warn("experiment operation failed",
			slog.String("operation", op),
			slog.String("experiment", name),
			slog.String("kind", errorKind(err)),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("experiment operation completed",
		slog.String("operation", op),
		slog.String("experiment", name),
		slog.Duration("duration", time.Since(start)),
	)
}

// -----------------------------------------------------------------------------
// A/B
// -----------------------------------------------------------------------------

// CreateABExperiment registers an A/B experiment.
func (s *Service) CreateABExperiment(ctx context.Context, name string, variants []string, distribution []float64) (err error) {
	ctx, span := startSpan(ctx, "ab.create", name)
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		s.finish(ctx, "ab.create", name, start, err)
	}()

	s.abMu.Lock()
	defer s.abMu.Unlock()
	return s.assigner.CreateExperiment(ctx, name, variants, distribution)
}

// Assign returns the variant for userID and counts the trial.
func (s *Service) Assign(ctx context.Context, name, userID string) (variant string, err error) {
	ctx, span := startSpan(ctx, "ab.assign", name)
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		s.finish(ctx, "ab.assign", name, start, err)
	}()

	s.abMu.Lock()
	variant, err = s.assigner.GetVariant(ctx, name, userID)
	s.abMu.Unlock()
	if err != nil {
		return "", err
	}

	span.SetAttributes(attribute.String("experiment.variant", variant))
	recordAssignment(ctx, name, variant)
	return variant, nil
}

// RecordOutcome adds score to variant. Unknown variants are dropped and
// counted under a single metric label so callers cannot grow the series set.
func (s *Service) RecordOutcome(ctx context.Context, name, variant string, score float64) (err error) {
	ctx, span := startSpan(ctx, "ab.outcome", name)
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		s.finish(ctx, "ab.outcome", name, start, err)
	}()

	var applied bool
	s.abMu.Lock()
	applied, err = s.assigner.RecordOutcome(ctx, name, variant, score)
	s.abMu.Unlock()
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Bool("experiment.outcome_applied", applied))
	label := variant
	if !applied {
		label = droppedVariantLabel
	}
	recordOutcome(ctx, name, label)
	return nil
}

// Results returns per-variant results.
func (s *Service) Results(ctx context.Context, name string) (results []ab.VariantResult, err error) {
	ctx, span := startSpan(ctx, "ab.results", name)
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		s.finish(ctx, "ab.results", name, start, err)
	}()

	s.abMu.Lock()
	defer s.abMu.Unlock()
	return s.assigner.GetResults(ctx, name)
}

// ABExperiment returns a snapshot of one A/B experiment.
func (s *Service) ABExperiment(ctx context.Context, name string) (exp ab.Experiment, err error) {
	ctx, span := startSpan(ctx, "ab.get", name)
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		s.finish(ctx, "ab.get", name, start, err)
	}()

	s.abMu.Lock()
	defer s.abMu.Unlock()
	return s.assigner.GetExperiment(ctx, name)
}

// ListABExperiments returns registered A/B experiment names.
func (s *Service) ListABExperiments(ctx context.Context) (names []string, err error) {
	ctx, span := startSpan(ctx, "ab.list", "")
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		s.finish(ctx, "ab.list", "", start, err)
	}()

	s.abMu.Lock()
	defer s.abMu.Unlock()
	return s.assigner.ListExperiments(ctx)
}

// -----------------------------------------------------------------------------
// Bandit
// -----------------------------------------------------------------------------

// SelectArm picks an arm, registering the bandit on first use.
func (s *Service) SelectArm(ctx context.Context, name string, arms []string) (sel bandit.Selection, err error) {
	ctx, span := startSpan(ctx, "bandit.select", name)
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		s.finish(ctx, "bandit.select", name, start, err)
	}()

	s.banditMu.Lock()
	sel, err = s.bandit.SelectArm(ctx, name, arms)
	s.banditMu.Unlock()
	if err != nil {
		return bandit.Selection{}, err
	}

	span.SetAttributes(
		attribute.String("bandit.arm", sel.Arm),
		attribute.Bool("bandit.explored", sel.Explored),
		attribute.Bool("bandit.registered", sel.Registered),
	)
	label := sel.Arm
	if !sel.Registered {
		label = unregisteredArmLabel
	}
	recordSelection(ctx, name, label, sel.Explored)
	return sel, nil
}

// UpdateArm records a reward for arm.
func (s *Service) UpdateArm(ctx context.Context, name, arm string, reward float64) (err error) {
	ctx, span := startSpan(ctx, "bandit.update", name)
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		s.finish(ctx, "bandit.update", name, start, err)
	}()

	s.banditMu.Lock()
	err = s.bandit.UpdateArm(ctx, name, arm, reward)
	s.banditMu.Unlock()
	if err != nil {
		return err
	}
	recordReward(ctx, name, arm, reward)
	return nil
}

// Stats returns the bandit's arms in registration order.
func (s *Service) Stats(ctx context.Context, name string) (arms []bandit.Arm, err error) {
	ctx, span := startSpan(ctx, "bandit.stats", name)
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		s.finish(ctx, "bandit.stats", name, start, err)
	}()

	s.banditMu.Lock()
	defer s.banditMu.Unlock()
	return s.bandit.GetStats(ctx, name)
}

// ListBandits returns registered bandit names.
func (s *Service) ListBandits(ctx context.Context) (names []string, err error) {
	ctx, span := startSpan(ctx, "bandit.list", "")
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		s.finish(ctx, "bandit.list", "", start, err)
	}()

	s.banditMu.Lock()
	defer s.banditMu.Unlock()
	return s.bandit.ListExperiments(ctx)
}
