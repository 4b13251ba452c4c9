// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ab

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/promptlab/services/experiments/core"
)

// -----------------------------------------------------------------------------
// Bucketing
// -----------------------------------------------------------------------------

func TestBucket_RangeAndStability(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("user-%d", i)
		b := Bucket(id)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, BucketCount)
		assert.Equal(t, b, Bucket(id), "bucket must be stable for %s", id)
	}
}

func TestPickVariant(t *testing.T) {
	tests := []struct {
		name         string
		distribution []float64
		bucket       int
		want         int
	}{
		{"first bucket", []float64{0.7, 0.3}, 0, 0},
		{"below boundary", []float64{0.7, 0.3}, 69, 0},
		{"on boundary", []float64{0.7, 0.3}, 70, 1},
		{"last bucket", []float64{0.7, 0.3}, 99, 1},
		{"zero weight skipped", []float64{0, 1}, 0, 1},
		{"rounding falls back to last", []float64{0.5, 0.49}, 99, 1},
		{"uniform thirds", []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, 99, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickVariant(tt.distribution, tt.bucket))
		})
	}
}

// -----------------------------------------------------------------------------
// CreateExperiment
// -----------------------------------------------------------------------------

func TestCreateExperiment(t *testing.T) {
	ctx := context.Background()

	t.Run("uniform default", func(t *testing.T) {
		a := NewAssigner(nil)
		require.NoError(t, a.CreateExperiment(ctx, "greeting", []string{"a", "b", "c", "d"}, nil))

		exp, err := a.GetExperiment(ctx, "greeting")
		require.NoError(t, err)
		assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, exp.Distribution)
		assert.Equal(t, []int{0, 0, 0, 0}, exp.Trials)
		assert.Equal(t, []float64{0, 0, 0, 0}, exp.Results)
	})

	t.Run("duplicate name", func(t *testing.T) {
		a := NewAssigner(nil)
		require.NoError(t, a.CreateExperiment(ctx, "greeting", []string{"a"}, nil))
		err := a.CreateExperiment(ctx, "greeting", []string{"b"}, nil)
		assert.True(t, errors.Is(err, core.ErrDuplicateExperiment), "got %v", err)
	})

	invalid := []struct {
		name         string
		expName      string
		variants     []string
		distribution []float64
	}{
		{"empty name", "", []string{"a"}, nil},
		{"no variants", "x", nil, nil},
		{"length mismatch", "x", []string{"a", "b"}, []float64{1.0}},
		{"sum too low", "x", []string{"a", "b"}, []float64{0.5, 0.4}},
		{"sum too high", "x", []string{"a", "b"}, []float64{0.6, 0.5}},
		{"negative weight", "x", []string{"a", "b"}, []float64{-0.5, 1.5}},
		{"duplicate variant", "x", []string{"a", "a"}, nil},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssigner(nil)
			err := a.CreateExperiment(ctx, tt.expName, tt.variants, tt.distribution)
			assert.True(t, errors.Is(err, core.ErrInvalidConfiguration), "got %v", err)

			names, err := a.ListExperiments(ctx)
			require.NoError(t, err)
			assert.Empty(t, names, "failed creation must not register anything")
		})
	}

	t.Run("sum within tolerance", func(t *testing.T) {
		a := NewAssigner(nil)
		err := a.CreateExperiment(ctx, "x", []string{"a", "b"}, []float64{0.5, 0.5000001})
		assert.NoError(t, err)
	})

	t.Run("caller slices are copied", func(t *testing.T) {
		a := NewAssigner(nil)
		variants := []string{"a", "b"}
		dist := []float64{0.7, 0.3}
		require.NoError(t, a.CreateExperiment(ctx, "x", variants, dist))
		variants[0] = "mutated"
		dist[0] = 0

		exp, err := a.GetExperiment(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, exp.Variants)
		assert.Equal(t, []float64{0.7, 0.3}, exp.Distribution)
	})
}

// -----------------------------------------------------------------------------
// GetVariant
// -----------------------------------------------------------------------------

func TestGetVariant_Deterministic(t *testing.T) {
	ctx := context.Background()
	a := NewAssigner(nil)
	require.NoError(t, a.CreateExperiment(ctx, "exp", []string{"A", "B", "C"}, nil))

	first, err := a.GetVariant(ctx, "exp", "u1")
	require.NoError(t, err)
	second, err := a.GetVariant(ctx, "exp", "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetVariant_MatchesBucket(t *testing.T) {
	ctx := context.Background()
	a := NewAssigner(nil)
	require.NoError(t, a.CreateExperiment(ctx, "exp", []string{"A", "B"}, []float64{0.7, 0.3}))

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("u%d", i)
		want := "A"
		if Bucket(id) >= 70 {
			want = "B"
		}
		got, err := a.GetVariant(ctx, "exp", id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "user %s", id)
	}
}

func TestGetVariant_DistributionFidelity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping population test in short mode")
	}
	ctx := context.Background()
	a := NewAssigner(nil)
	require.NoError(t, a.CreateExperiment(ctx, "split", []string{"A", "B"}, []float64{0.7, 0.3}))

	const population = 100000
	counts := map[string]int{}
	for i := 0; i < population; i++ {
		v, err := a.GetVariant(ctx, "split", fmt.Sprintf("%d", i))
		require.NoError(t, err)
		counts[v]++
	}

	assert.InDelta(t, 0.7, float64(counts["A"])/population, 0.02)
	assert.InDelta(t, 0.3, float64(counts["B"])/population, 0.02)

	results, err := a.GetResults(ctx, "split")
	require.NoError(t, err)
	assert.Equal(t, counts["A"], results[0].Trials)
	assert.Equal(t, counts["B"], results[1].Trials)
}

func TestGetVariant_CountsTrials(t *testing.T) {
	ctx := context.Background()
	a := NewAssigner(nil)
	require.NoError(t, a.CreateExperiment(ctx, "exp", []string{"only"}, nil))

	for i := 0; i < 5; i++ {
		v, err := a.GetVariant(ctx, "exp", "same-user")
		require.NoError(t, err)
		assert.Equal(t, "only", v)
	}

	results, err := a.GetResults(ctx, "exp")
	require.NoError(t, err)
	assert.Equal(t, 5, results[0].Trials)
}

func TestGetVariant_NotFound(t *testing.T) {
	a := NewAssigner(nil)
	_, err := a.GetVariant(context.Background(), "missing", "u1")
	assert.True(t, errors.Is(err, core.ErrExperimentNotFound), "got %v", err)
}

// -----------------------------------------------------------------------------
// Outcomes and results
// -----------------------------------------------------------------------------

func TestConversionRate(t *testing.T) {
	ctx := context.Background()
	a := NewAssigner(nil)
	require.NoError(t, a.CreateExperiment(ctx, "exp", []string{"A", "B"}, nil))

	variant, err := a.GetVariant(ctx, "exp", "u1")
	require.NoError(t, err)
	applied, err := a.RecordOutcome(ctx, "exp", variant, 1.0)
	require.NoError(t, err)
	assert.True(t, applied)

	results, err := a.GetResults(ctx, "exp")
	require.NoError(t, err)

	want := map[string]VariantResult{
		"A": {Variant: "A"},
		"B": {Variant: "B"},
	}
	want[variant] = VariantResult{Variant: variant, Trials: 1, Successes: 1.0, ConversionRate: 1.0}

	got := map[string]VariantResult{}
	for _, r := range results {
		got[r.Variant] = r
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordOutcome_UnknownVariantDropped(t *testing.T) {
	ctx := context.Background()
	a := NewAssigner(nil)
	require.NoError(t, a.CreateExperiment(ctx, "exp", []string{"A", "B"}, nil))

	applied, err := a.RecordOutcome(ctx, "exp", "stale", 5.0)
	require.NoError(t, err)
	assert.False(t, applied, "unknown variant must not be reported as stored")

	results, err := a.GetResults(ctx, "exp")
	require.NoError(t, err)
	for _, r := range results {
		assert.Zero(t, r.Successes)
		assert.Zero(t, r.ConversionRate)
	}
}

func TestRecordOutcome_UnconstrainedScores(t *testing.T) {
	ctx := context.Background()
	a := NewAssigner(nil)
	require.NoError(t, a.CreateExperiment(ctx, "exp", []string{"only"}, nil))

	_, err := a.GetVariant(ctx, "exp", "u1")
	require.NoError(t, err)
	_, err = a.RecordOutcome(ctx, "exp", "only", 3.0)
	require.NoError(t, err)
	_, err = a.RecordOutcome(ctx, "exp", "only", -0.5)
	require.NoError(t, err)

	results, err := a.GetResults(ctx, "exp")
	require.NoError(t, err)
	assert.Equal(t, 2.5, results[0].Successes)
	assert.Equal(t, 2.5, results[0].ConversionRate, "rate is a plain ratio, not clamped")
}

func TestUnknownExperiment(t *testing.T) {
	ctx := context.Background()
	a := NewAssigner(nil)

	applied, err := a.RecordOutcome(ctx, "missing", "A", 1)
	assert.False(t, applied)
	assert.True(t, errors.Is(err, core.ErrExperimentNotFound), "got %v", err)

	_, err = a.GetResults(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrExperimentNotFound), "got %v", err)

	_, err = a.GetExperiment(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrExperimentNotFound), "got %v", err)
}

func TestListExperiments(t *testing.T) {
	ctx := context.Background()
	a := NewAssigner(core.NewMemoryStore[Experiment]())
	require.NoError(t, a.CreateExperiment(ctx, "zeta", []string{"a"}, nil))
	require.NoError(t, a.CreateExperiment(ctx, "alpha", []string{"a"}, nil))

	names, err := a.ListExperiments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names)
}
