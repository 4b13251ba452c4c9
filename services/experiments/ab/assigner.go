// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ab assigns users to experiment variants deterministically and
// tracks per-variant trials and outcomes.
//
// Assignment hashes the user id into one of 100 buckets and walks the
// experiment's cumulative distribution, so no randomness and no stored
// assignment table are needed. The same user always sees the same variant
// as long as the experiment's distribution does not change.
//
// Outcomes are accumulated as a plain sum of scores. ConversionRate is
// successes divided by trials, which is only a true conversion rate when
// callers restrict scores to 0 and 1.
package ab

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/AleutianAI/promptlab/services/experiments/core"
)

// distributionTolerance is how far the weights may sum away from 1.0.
const distributionTolerance = 1e-6

// Experiment is the persisted state of one A/B experiment.
//
// Variants, Distribution, Trials and Results always have equal length.
type Experiment struct {
	Name         string    `json:"name"`
	Variants     []string  `json:"variants"`
	Distribution []float64 `json:"distribution"`
	Trials       []int     `json:"trials"`
	Results      []float64 `json:"results"`
}

// variantIndex returns the position of variant, or -1.
func (e *Experiment) variantIndex(variant string) int {
	for i, v := range e.Variants {
		if v == variant {
			return i
		}
	}
	return -1
}

// VariantResult summarises one variant of an experiment.
type VariantResult struct {
	Variant        string  `json:"variant"`
	Trials         int     `json:"trials"`
	Successes      float64 `json:"successes"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Option configures an Assigner.
type Option func(*Assigner)

// WithLogger sets the logger used for dropped outcomes and lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assigner) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Assigner is the deterministic A/B variant assigner.
//
// Thread Safety: NOT safe for concurrent use. Callers sharing an Assigner
// across goroutines must serialise every call.
type Assigner struct {
	store  core.Store[Experiment]
	logger *slog.Logger
}

// NewAssigner creates an assigner backed by store.
//
// Inputs:
//   - store: Backing store. A nil store uses a fresh core.MemoryStore.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Assigner: The assigner. Never nil.
func NewAssigner(store core.Store[Experiment], opts ...Option) *Assigner {
	if store == nil {
		store = core.NewMemoryStore[Experiment]()
	}
	a := &Assigner{
		store:  store,
		logger: slog.Default().With(slog.String("component", "ab_assigner")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateExperiment registers a new experiment.
//
// Description:
//
//	Validates the configuration and stores the experiment with zeroed
//	counters. A nil distribution means a uniform split.
//
// Inputs:
//   - ctx: Context passed to the store.
//   - name: Unique experiment name. Must not be empty.
//   - variants: Ordered, non-empty, duplicate-free variant identifiers.
//   - distribution: One weight per variant in [0,1] summing to 1.0, or nil.
//
// Outputs:
//   - error: core.ErrDuplicateExperiment if name exists,
//     core.ErrInvalidConfiguration if the configuration is malformed,
//     or a store error.
func (a *Assigner) CreateExperiment(ctx context.Context, name string, variants []string, distribution []float64) error {
	if name == "" {
		return fmt.Errorf("experiment name is empty: %w", core.ErrInvalidConfiguration)
	}
	exists, err := a.store.Contains(ctx, name)
	if err != nil {
		return fmt.Errorf("check experiment %q: %w", name, err)
	}
	if exists {
		return fmt.Errorf("experiment %q: %w", name, core.ErrDuplicateExperiment)
	}

	dist, err := normalizeDistribution(variants, distribution)
	if err != nil {
		return fmt.Errorf("experiment %q: %w", name, err)
	}

	exp := Experiment{
		Name:         name,
		Variants:     append([]string(nil), variants...),
		Distribution: dist,
		Trials:       make([]int, len(variants)),
		Results:      make([]float64, len(variants)),
	}
	if err := a.store.Set(ctx, name, exp); err != nil {
		return fmt.Errorf("store experiment %q: %w", name, err)
	}

	a.logger.Debug("experiment created",
		slog.String("experiment", name),
		slog.Int("variants", len(variants)),
	)
	return nil
}

// normalizeDistribution validates variants and weights and returns a copy
// of the distribution to store.
func normalizeDistribution(variants []string, distribution []float64) ([]float64, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("no variants: %w", core.ErrInvalidConfiguration)
	}
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		if _, dup := seen[v]; dup {
			return nil, fmt.Errorf("duplicate variant %q: %w", v, core.ErrInvalidConfiguration)
		}
		seen[v] = struct{}{}
	}

	if distribution == nil {
		dist := make([]float64, len(variants))
		for i := range dist {
			dist[i] = 1.0 / float64(len(variants))
		}
		return dist, nil
	}

	if len(distribution) != len(variants) {
		return nil, fmt.Errorf("%d weights for %d variants: %w",
			len(distribution), len(variants), core.ErrInvalidConfiguration)
	}
	sum := 0.0
	for i, w := range distribution {
		if math.IsNaN(w) || w < 0 || w > 1 {
			return nil, fmt.Errorf("weight %d is %v, want [0,1]: %w", i, w, core.ErrInvalidConfiguration)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > distributionTolerance {
		return nil, fmt.Errorf("weights sum to %v, want 1.0: %w", sum, core.ErrInvalidConfiguration)
	}
	return append([]float64(nil), distribution...), nil
}

// GetVariant assigns userID to a variant and counts the trial.
//
// Description:
//
//	The assignment is a pure function of userID and the experiment's
//	distribution (see Bucket). The chosen variant's trial counter is
//	incremented on every call.
//
// Inputs:
//   - ctx: Context passed to the store.
//   - name: Experiment name.
//   - userID: Stable user identifier.
//
// Outputs:
//   - string: The assigned variant.
//   - error: core.ErrExperimentNotFound if name is unknown, or a store error.
func (a *Assigner) GetVariant(ctx context.Context, name, userID string) (string, error) {
	exp, err := a.load(ctx, name)
	if err != nil {
		return "", err
	}

	idx := pickVariant(exp.Distribution, Bucket(userID))
	exp.Trials[idx]++
	if err := a.store.Set(ctx, name, exp); err != nil {
		return "", fmt.Errorf("store experiment %q: %w", name, err)
	}
	return exp.Variants[idx], nil
}

// RecordOutcome adds score to the variant's cumulative result.
//
// Description:
//
//	An unknown variant is dropped silently so stale variant references
//	from before an experiment was redefined do not fail the caller.
//	Scores are not range-checked.
//
// Outputs:
//   - bool: True if the score was stored, false if the variant is unknown.
//   - error: core.ErrExperimentNotFound if name is unknown, or a store error.
func (a *Assigner) RecordOutcome(ctx context.Context, name, variant string, score float64) (bool, error) {
	exp, err := a.load(ctx, name)
	if err != nil {
		return false, err
	}

	idx := exp.variantIndex(variant)
	if idx < 0 {
		a.logger.Debug("outcome dropped for unknown variant",
			slog.String("experiment", name),
			slog.String("variant", variant),
		)
		return false, nil
	}

	exp.Results[idx] += score
	if err := a.store.Set(ctx, name, exp); err != nil {
		return false, fmt.Errorf("store experiment %q: %w", name, err)
	}
	return true, nil
}

// GetResults returns per-variant trials, successes and conversion rate,
// in declared variant order.
//
// Outputs:
//   - []VariantResult: One entry per variant.
//   - error: core.ErrExperimentNotFound if name is unknown, or a store error.
func (a *Assigner) GetResults(ctx context.Context, name string) ([]VariantResult, error) {
	exp, err := a.load(ctx, name)
	if err != nil {
		return nil, err
	}

	results := make([]VariantResult, len(exp.Variants))
	for i, v := range exp.Variants {
		rate := 0.0
		if exp.Trials[i] > 0 {
			rate = exp.Results[i] / float64(exp.Trials[i])
		}
		results[i] = VariantResult{
			Variant:        v,
			Trials:         exp.Trials[i],
			Successes:      exp.Results[i],
			ConversionRate: rate,
		}
	}
	return results, nil
}

// GetExperiment returns a copy of the stored experiment.
func (a *Assigner) GetExperiment(ctx context.Context, name string) (Experiment, error) {
	exp, err := a.load(ctx, name)
	if err != nil {
		return Experiment{}, err
	}
	return Experiment{
		Name:         exp.Name,
		Variants:     append([]string(nil), exp.Variants...),
		Distribution: append([]float64(nil), exp.Distribution...),
		Trials:       append([]int(nil), exp.Trials...),
		Results:      append([]float64(nil), exp.Results...),
	}, nil
}

// ListExperiments returns the registered experiment names in ascending order.
func (a *Assigner) ListExperiments(ctx context.Context) ([]string, error) {
	keys, err := a.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return keys, nil
}

func (a *Assigner) load(ctx context.Context, name string) (Experiment, error) {
	exp, ok, err := a.store.Get(ctx, name)
	if err != nil {
		return Experiment{}, fmt.Errorf("load experiment %q: %w", name, err)
	}
	if !ok {
		return Experiment{}, fmt.Errorf("experiment %q: %w", name, core.ErrExperimentNotFound)
	}
	return exp, nil
}
