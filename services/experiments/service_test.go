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
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/promptlab/services/experiments/ab"
	"github.com/AleutianAI/promptlab/services/experiments/bandit"
	"github.com/AleutianAI/promptlab/services/experiments/core"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService returns a greedy (epsilon 0) in-memory service.
func newTestService(t *testing.T) *Service {
	t.Helper()
	b, err := bandit.New(nil, 0, bandit.WithRand(bandit.NewSeededRand(1)), bandit.WithLogger(quietLogger()))
	require.NoError(t, err)
	svc, err := NewService(ab.NewAssigner(nil, ab.WithLogger(quietLogger())), b, quietLogger())
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresComponents(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidConfiguration))
}

func TestNewInMemoryService_RejectsBadEpsilon(t *testing.T) {
	_, err := NewInMemoryService(1.5, quietLogger())
	assert.True(t, errors.Is(err, core.ErrInvalidConfiguration))

	svc, err := NewInMemoryService(0.2, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 0.2, svc.Epsilon())
}

func TestService_ABFlow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.CreateABExperiment(ctx, "checkout", []string{"control", "green"}, []float64{0.5, 0.5}))

	variant, err := svc.Assign(ctx, "checkout", "user-1")
	require.NoError(t, err)
	assert.Contains(t, []string{"control", "green"}, variant)

	again, err := svc.Assign(ctx, "checkout", "user-1")
	require.NoError(t, err)
	assert.Equal(t, variant, again)

	require.NoError(t, svc.RecordOutcome(ctx, "checkout", variant, 1))

	results, err := svc.Results(ctx, "checkout")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		if r.Variant == variant {
			assert.Equal(t, 2, r.Trials)
			assert.Equal(t, 1.0, r.Successes)
			assert.InDelta(t, 0.5, r.ConversionRate, 1e-12)
		} else {
			assert.Equal(t, 0, r.Trials)
			assert.Equal(t, 0.0, r.ConversionRate)
		}
	}

	names, err := svc.ListABExperiments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout"}, names)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	require.NoError(t, svc.CreateABExperiment(ctx, "exp", []string{"a", "b"}, nil))

	err := svc.CreateABExperiment(ctx, "exp", []string{"a"}, nil)
	assert.True(t, errors.Is(err, core.ErrDuplicateExperiment))

	_, err = svc.Assign(ctx, "missing", "u")
	assert.True(t, errors.Is(err, core.ErrExperimentNotFound))

	err = svc.UpdateArm(ctx, "missing", "a", 1)
	assert.True(t, errors.Is(err, core.ErrExperimentNotFound))

	_, err = svc.SelectArm(ctx, "prompts", []string{"a", "b"})
	require.NoError(t, err)
	err = svc.UpdateArm(ctx, "prompts", "z", 1)
	assert.True(t, errors.Is(err, core.ErrArmNotFound))
}

func TestService_BanditFlow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	sel, err := svc.SelectArm(ctx, "prompts", []string{"terse", "verbose"})
	require.NoError(t, err)
	assert.Equal(t, "terse", sel.Arm)
	assert.False(t, sel.Explored)

	require.NoError(t, svc.UpdateArm(ctx, "prompts", "verbose", 1))

	sel, err = svc.SelectArm(ctx, "prompts", nil)
	require.NoError(t, err)
	assert.Equal(t, "verbose", sel.Arm)

	arms, err := svc.Stats(ctx, "prompts")
	require.NoError(t, err)
	assert.Equal(t, []bandit.Arm{
		{Name: "terse", Pulls: 0, Value: 0},
		{Name: "verbose", Pulls: 1, Value: 1},
	}, arms)

	names, err := svc.ListBandits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"prompts"}, names)
}

func TestService_ConcurrentAssign(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	require.NoError(t, svc.CreateABExperiment(ctx, "load", []string{"a", "b", "c"}, nil))

	const workers, perWorker = 16, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := svc.Assign(ctx, "load", fmt.Sprintf("user-%d-%d", w, i))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	exp, err := svc.ABExperiment(ctx, "load")
	require.NoError(t, err)
	total := 0
	for _, n := range exp.Trials {
		total += n
	}
	assert.Equal(t, workers*perWorker, total)
}

func TestService_ConcurrentRewards(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.SelectArm(ctx, "b", []string{"x"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.UpdateArm(ctx, "b", "x", 1))
		}()
	}
	wg.Wait()

	arms, err := svc.Stats(ctx, "b")
	require.NoError(t, err)
	require.Len(t, arms, 1)
	assert.Equal(t, 100, arms[0].Pulls)
	assert.InDelta(t, 1.0, arms[0].Value, 1e-12)
}

func TestService_SpansRecordErrors(t *testing.T) {
	exporter, _ := installTestTelemetry(t)

	svc := newTestService(t)
	_, err := svc.Assign(context.Background(), "missing", "u")
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	last := spans[len(spans)-1]
	assert.Equal(t, "experiments.ab.assign", last.Name)
	assert.Equal(t, codes.Error, last.Status.Code)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", core.ErrDuplicateExperiment), "duplicate"},
		{core.ErrInvalidConfiguration, "invalid"},
		{core.ErrExperimentNotFound, "experiment_not_found"},
		{core.ErrArmNotFound, "arm_not_found"},
		{errors.New("disk full"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorKind(tt.err), "err=%v", tt.err)
	}
}
