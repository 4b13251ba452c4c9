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
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/promptlab/services/experiments/core"
)

// Package-level tracer and meter for experiment operations.
var (
	tracer = otel.Tracer("promptlab.experiments")
	meter  = otel.Meter("promptlab.experiments")
)

// droppedVariantLabel replaces the variant label on outcomes for variants
// the experiment does not define.
const droppedVariantLabel = "_dropped"

// unregisteredArmLabel replaces the arm label on explored selections of
// arms the bandit does not track.
const unregisteredArmLabel = "_unregistered"

var (
	opDuration     metric.Float64Histogram
	opErrors       metric.Int64Counter
	abAssignments  metric.Int64Counter
	abOutcomes     metric.Int64Counter
	banditSelected metric.Int64Counter
	banditRewards  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		opDuration, err = meter.Float64Histogram(
			"promptlab_operation_duration_seconds",
			metric.WithDescription("Duration of experiment operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		opErrors, err = meter.Int64Counter(
			"promptlab_operation_errors_total",
			metric.WithDescription("Experiment operations that returned an error, by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		abAssignments, err = meter.Int64Counter(
			"promptlab_ab_assignments_total",
			metric.WithDescription("Variant assignments by experiment and variant"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		abOutcomes, err = meter.Int64Counter(
			"promptlab_ab_outcomes_total",
			metric.WithDescription("Outcomes recorded by experiment and variant"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		banditSelected, err = meter.Int64Counter(
			"promptlab_bandit_selections_total",
			metric.WithDescription("Bandit arm selections by experiment, arm and mode"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		banditRewards, err = meter.Float64Histogram(
			"promptlab_bandit_reward",
			metric.WithDescription("Rewards reported to the bandit"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// errorKind classifies err for metrics and HTTP mapping.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrDuplicateExperiment):
		return "duplicate"
	case errors.Is(err, core.ErrInvalidConfiguration):
		return "invalid"
	case errors.Is(err, core.ErrExperimentNotFound):
		return "experiment_not_found"
	case errors.Is(err, core.ErrArmNotFound):
		return "arm_not_found"
	default:
		return "internal"
	}
}

// startSpan opens a span for an experiment operation.
func startSpan(ctx context.Context, op, experiment string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "experiments."+op,
		trace.WithAttributes(
			attribute.String("experiment.operation", op),
			attribute.String("experiment.name", experiment),
		),
	)
}

// recordOperation records duration and, on failure, the error kind.
func recordOperation(ctx context.Context, op string, start time.Time, err error) {
	if initMetrics() != nil {
		return
	}
	opAttr := attribute.String("operation", op)
	opDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(opAttr))
	if err != nil {
		opErrors.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("kind", errorKind(err))))
	}
}

func recordAssignment(ctx context.Context, experiment, variant string) {
	if initMetrics() != nil {
		return
	}
	abAssignments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("experiment", experiment),
		attribute.String("variant", variant),
	))
}

func recordOutcome(ctx context.Context, experiment, variant string) {
	if initMetrics() != nil {
		return
	}
	abOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("experiment", experiment),
		attribute.String("variant", variant),
	))
}

func recordSelection(ctx context.Context, experiment, arm string, explored bool) {
	if initMetrics() != nil {
		return
	}
	mode := "exploit"
	if explored {
		mode = "explore"
	}
	banditSelected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("experiment", experiment),
		attribute.String("arm", arm),
		attribute.String("mode", mode),
	))
}

func recordReward(ctx context.Context, experiment, arm string, reward float64) {
	if initMetrics() != nil {
		return
	}
	banditRewards.Record(ctx, reward, metric.WithAttributes(
		attribute.String("experiment", experiment),
		attribute.String("arm", arm),
	))
}
