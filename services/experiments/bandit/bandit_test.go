// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bandit

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/promptlab/services/experiments/core"
)

// fixedRand replays a fixed draw and always returns the same index.
type fixedRand struct {
	draw  float64
	index int
}

func (r fixedRand) Float64() float64 { return r.draw }
func (r fixedRand) IntN(n int) int   { return r.index % n }

func newBandit(t *testing.T, epsilon float64, opts ...Option) *Bandit {
	t.Helper()
	b, err := New(nil, epsilon, opts...)
	require.NoError(t, err)
	return b
}

func TestNew_EpsilonRange(t *testing.T) {
	for _, eps := range []float64{0, 0.1, 1} {
		b, err := New(nil, eps)
		require.NoError(t, err)
		assert.Equal(t, eps, b.Epsilon())
	}
	for _, eps := range []float64{-0.01, 1.01, math.NaN()} {
		_, err := New(nil, eps)
		assert.True(t, errors.Is(err, core.ErrInvalidConfiguration), "epsilon %v: got %v", eps, err)
	}
}

func TestUpdateArm_RunningMean(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 0)

	_, err := b.SelectArm(ctx, "exp", []string{"A", "B"})
	require.NoError(t, err)

	require.NoError(t, b.UpdateArm(ctx, "exp", "A", 1.0))
	require.NoError(t, b.UpdateArm(ctx, "exp", "A", 0.0))

	stats, err := b.GetStats(ctx, "exp")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, Arm{Name: "A", Pulls: 2, Value: 0.5}, stats[0])
	assert.Equal(t, Arm{Name: "B"}, stats[1])
}

func TestUpdateArm_MeanOfManyRewards(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 0)
	_, err := b.SelectArm(ctx, "exp", []string{"A"})
	require.NoError(t, err)

	rewards := []float64{3, -1, 0.5, 7, 2.25}
	sum := 0.0
	for _, r := range rewards {
		sum += r
		require.NoError(t, b.UpdateArm(ctx, "exp", "A", r))
	}

	stats, err := b.GetStats(ctx, "exp")
	require.NoError(t, err)
	assert.Equal(t, len(rewards), stats[0].Pulls)
	assert.InDelta(t, sum/float64(len(rewards)), stats[0].Value, 1e-12)
}

func TestSelectArm_GreedyWhenEpsilonZero(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 0)
	arms := []string{"A", "B", "C"}

	_, err := b.SelectArm(ctx, "exp", arms)
	require.NoError(t, err)
	require.NoError(t, b.UpdateArm(ctx, "exp", "B", 1.0))
	require.NoError(t, b.UpdateArm(ctx, "exp", "A", 0.2))

	for i := 0; i < 500; i++ {
		sel, err := b.SelectArm(ctx, "exp", arms)
		require.NoError(t, err)
		assert.Equal(t, "B", sel.Arm)
		assert.False(t, sel.Explored)
	}
}

func TestSelectArm_TieGoesToFirstRegistered(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 0)

	sel, err := b.SelectArm(ctx, "exp", []string{"C", "A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "C", sel.Arm)

	require.NoError(t, b.UpdateArm(ctx, "exp", "A", 1.0))
	require.NoError(t, b.UpdateArm(ctx, "exp", "B", 1.0))
	sel, err = b.SelectArm(ctx, "exp", nil)
	require.NoError(t, err)
	assert.Equal(t, "A", sel.Arm)
}

func TestSelectArm_UniformWhenEpsilonOne(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 1, WithRand(NewSeededRand(42)))
	arms := []string{"A", "B", "C", "D"}

	_, err := b.SelectArm(ctx, "exp", arms)
	require.NoError(t, err)
	require.NoError(t, b.UpdateArm(ctx, "exp", "A", 100))

	const draws = 40000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		sel, err := b.SelectArm(ctx, "exp", arms)
		require.NoError(t, err)
		assert.True(t, sel.Explored)
		counts[sel.Arm]++
	}
	for _, a := range arms {
		assert.InDelta(t, 0.25, float64(counts[a])/draws, 0.02, "arm %s", a)
	}
}

func TestSelectArm_ExploresFromArgument(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 0.5, WithRand(fixedRand{draw: 0.1, index: 1}))

	sel, err := b.SelectArm(ctx, "exp", []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, Selection{Arm: "B", Explored: true, Registered: true}, sel)

	// Empty argument explores over the stored arms.
	sel, err = b.SelectArm(ctx, "exp", nil)
	require.NoError(t, err)
	assert.Equal(t, Selection{Arm: "B", Explored: true, Registered: true}, sel)

	// Draw at epsilon exploits.
	b.rng = fixedRand{draw: 0.5}
	sel, err = b.SelectArm(ctx, "exp", nil)
	require.NoError(t, err)
	assert.Equal(t, Selection{Arm: "A", Registered: true}, sel)
}

func TestSelectArm_LaterArmSetsIgnored(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 0)

	_, err := b.SelectArm(ctx, "exp", []string{"A", "B"})
	require.NoError(t, err)
	_, err = b.SelectArm(ctx, "exp", []string{"X", "Y", "Z"})
	require.NoError(t, err)

	stats, err := b.GetStats(ctx, "exp")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "A", stats[0].Name)
	assert.Equal(t, "B", stats[1].Name)

	err = b.UpdateArm(ctx, "exp", "X", 1)
	assert.True(t, errors.Is(err, core.ErrArmNotFound), "got %v", err)
}

func TestSelectArm_ExploredArmMayBeUnregistered(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 0.5, WithRand(fixedRand{draw: 0.1, index: 2}))

	_, err := b.SelectArm(ctx, "exp", []string{"A", "B", "C"})
	require.NoError(t, err)

	sel, err := b.SelectArm(ctx, "exp", []string{"A", "B", "Z"})
	require.NoError(t, err)
	assert.Equal(t, Selection{Arm: "Z", Explored: true, Registered: false}, sel)

	err = b.UpdateArm(ctx, "exp", sel.Arm, 1)
	assert.True(t, errors.Is(err, core.ErrArmNotFound), "got %v", err)
}

func TestSelectArm_InvalidRegistration(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 0.1)

	_, err := b.SelectArm(ctx, "exp", nil)
	assert.True(t, errors.Is(err, core.ErrInvalidConfiguration), "got %v", err)

	_, err = b.SelectArm(ctx, "exp", []string{"A", "A"})
	assert.True(t, errors.Is(err, core.ErrInvalidConfiguration), "got %v", err)

	names, err := b.ListExperiments(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSelectArm_DoesNotCountPulls(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 0.3, WithRand(NewSeededRand(7)))
	for i := 0; i < 50; i++ {
		_, err := b.SelectArm(ctx, "exp", []string{"A", "B"})
		require.NoError(t, err)
	}
	stats, err := b.GetStats(ctx, "exp")
	require.NoError(t, err)
	for _, a := range stats {
		assert.Zero(t, a.Pulls)
		assert.Zero(t, a.Value)
	}
}

func TestUnknownBandit(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 0.1)

	err := b.UpdateArm(ctx, "missing", "A", 1)
	assert.True(t, errors.Is(err, core.ErrExperimentNotFound), "got %v", err)

	_, err = b.GetStats(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrExperimentNotFound), "got %v", err)
}

func TestGetStats_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	b := newBandit(t, 0)
	_, err := b.SelectArm(ctx, "exp", []string{"A"})
	require.NoError(t, err)

	stats, err := b.GetStats(ctx, "exp")
	require.NoError(t, err)
	stats[0].Pulls = 99

	again, err := b.GetStats(ctx, "exp")
	require.NoError(t, err)
	assert.Zero(t, again[0].Pulls)
}
