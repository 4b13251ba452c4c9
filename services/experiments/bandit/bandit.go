// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bandit implements an epsilon-greedy multi-armed bandit.
//
// Description:
//
//	Each selection draws one uniform sample. Below epsilon the bandit
//	explores by picking an arm uniformly at random; otherwise it exploits
//	the arm with the highest running-mean reward. Ties go to the arm that
//	was registered first, so arm order is stored explicitly.
//
//	Experiments are created lazily on the first SelectArm for an unseen
//	name, seeded with the arms passed to that call. Later arm lists for the
//	same name do not change the stored arm set.
//
// Thread Safety: Bandit is NOT safe for concurrent use. Callers sharing a
// Bandit across goroutines must serialise every call.
package bandit

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/AleutianAI/promptlab/services/experiments/core"
)

// Arm is the running state of one arm.
type Arm struct {
	Name  string  `json:"name"`
	Pulls int     `json:"pulls"`
	Value float64 `json:"value"`
}

// Experiment is the persisted state of one bandit experiment.
//
// Arms are kept in registration order.
type Experiment struct {
	Name string `json:"name"`
	Arms []Arm  `json:"arms"`
}

func (e *Experiment) armIndex(arm string) int {
	for i, a := range e.Arms {
		if a.Name == arm {
			return i
		}
	}
	return -1
}

// best returns the index of the highest-value arm, first on ties.
func (e *Experiment) best() int {
	bestIdx := 0
	for i := 1; i < len(e.Arms); i++ {
		if e.Arms[i].Value > e.Arms[bestIdx].Value {
			bestIdx = i
		}
	}
	return bestIdx
}

// Selection is the outcome of SelectArm.
type Selection struct {
	// Arm is the chosen arm.
	Arm string `json:"arm"`

	// Explored is true when the arm was picked at random rather than
	// greedily.
	Explored bool `json:"explored"`

	// Registered is false when exploration picked an arm from the caller's
	// list that the bandit does not track. UpdateArm rejects such arms.
	Registered bool `json:"registered"`
}

// Option configures a Bandit.
type Option func(*Bandit)

// WithRand sets the source of uniform random numbers.
func WithRand(r Rand) Option {
	return func(b *Bandit) {
		if r != nil {
			b.rng = r
		}
	}
}

// WithLogger sets the bandit's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bandit) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Bandit is an epsilon-greedy arm selector with running-mean rewards.
type Bandit struct {
	store   core.Store[Experiment]
	epsilon float64
	rng     Rand
	logger  *slog.Logger
}

// New creates an epsilon-greedy bandit.
//
// Inputs:
//   - store: Backing store. A nil store uses a fresh core.MemoryStore.
//   - epsilon: Exploration probability in [0, 1].
//   - opts: Optional configuration.
//
// Outputs:
//   - *Bandit: The bandit.
//   - error: core.ErrInvalidConfiguration if epsilon is out of range.
func New(store core.Store[Experiment], epsilon float64, opts ...Option) (*Bandit, error) {
	if math.IsNaN(epsilon) || epsilon < 0 || epsilon > 1 {
		return nil, fmt.Errorf("epsilon %v outside [0,1]: %w", epsilon, core.ErrInvalidConfiguration)
	}
	if store == nil {
		store = core.NewMemoryStore[Experiment]()
	}
	b := &Bandit{
		store:   store,
		epsilon: epsilon,
		rng:     NewDefaultRand(),
		logger:  slog.Default().With(slog.String("component", "bandit")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Epsilon returns the configured exploration probability.
func (b *Bandit) Epsilon() float64 {
	return b.epsilon
}

// SelectArm chooses an arm for the named experiment.
//
// Description:
//
//	Registers the experiment with arms if the name is unseen. Exploration
//	picks uniformly from the arms argument, or from the stored arms when
//	the argument is empty. Exploitation picks the stored arm with the
//	highest value. Selection does not count as a pull.
//
//	After registration an explored arm may be one the bandit never
//	registered; Selection.Registered reports this.
//
// Inputs:
//   - ctx: Context passed to the store.
//   - name: Experiment name.
//   - arms: Candidate arms. Required and duplicate-free for unseen names.
//
// Outputs:
//   - Selection: The chosen arm and whether it was exploratory.
//   - error: core.ErrInvalidConfiguration if an unseen experiment has no
//     usable arms, or a store error.
func (b *Bandit) SelectArm(ctx context.Context, name string, arms []string) (Selection, error) {
	exp, ok, err := b.store.Get(ctx, name)
	if err != nil {
		return Selection{}, fmt.Errorf("load bandit %q: %w", name, err)
	}
	if !ok {
		exp, err = b.register(ctx, name, arms)
		if err != nil {
			return Selection{}, err
		}
	}

	if b.rng.Float64() < b.epsilon {
		pool := arms
		if len(pool) == 0 {
			pool = make([]string, len(exp.Arms))
			for i, a := range exp.Arms {
				pool[i] = a.Name
			}
		}
		arm := pool[b.rng.IntN(len(pool))]
		return Selection{Arm: arm, Explored: true, Registered: exp.armIndex(arm) >= 0}, nil
	}
	return Selection{Arm: exp.Arms[exp.best()].Name, Registered: true}, nil
}

func (b *Bandit) register(ctx context.Context, name string, arms []string) (Experiment, error) {
	if name == "" {
		return Experiment{}, fmt.Errorf("bandit name is empty: %w", core.ErrInvalidConfiguration)
	}
	if len(arms) == 0 {
		return Experiment{}, fmt.Errorf("bandit %q has no arms: %w", name, core.ErrInvalidConfiguration)
	}
	exp := Experiment{Name: name, Arms: make([]Arm, 0, len(arms))}
	for _, a := range arms {
		if exp.armIndex(a) >= 0 {
			return Experiment{}, fmt.Errorf("bandit %q: duplicate arm %q: %w", name, a, core.ErrInvalidConfiguration)
		}
		exp.Arms = append(exp.Arms, Arm{Name: a})
	}
	if err := b.store.Set(ctx, name, exp); err != nil {
		return Experiment{}, fmt.Errorf("store bandit %q: %w", name, err)
	}
	b.logger.Debug("bandit registered",
		slog.String("experiment", name),
		slog.Int("arms", len(arms)),
	)
	return exp, nil
}

// UpdateArm records a reward for arm.
//
// Description:
//
//	Increments the arm's pull count and folds reward into its running
//	mean: value = (value*(pulls-1) + reward) / pulls.
//
// Outputs:
//   - error: core.ErrExperimentNotFound, core.ErrArmNotFound, or a store error.
func (b *Bandit) UpdateArm(ctx context.Context, name, arm string, reward float64) error {
	exp, err := b.load(ctx, name)
	if err != nil {
		return err
	}
	idx := exp.armIndex(arm)
	if idx < 0 {
		return fmt.Errorf("bandit %q arm %q: %w", name, arm, core.ErrArmNotFound)
	}

	a := &exp.Arms[idx]
	a.Pulls++
	a.Value = (a.Value*float64(a.Pulls-1) + reward) / float64(a.Pulls)

	if err := b.store.Set(ctx, name, exp); err != nil {
		return fmt.Errorf("store bandit %q: %w", name, err)
	}
	return nil
}

// GetStats returns a copy of every arm in registration order.
//
// Outputs:
//   - []Arm: Arm states.
//   - error: core.ErrExperimentNotFound if name is unknown, or a store error.
func (b *Bandit) GetStats(ctx context.Context, name string) ([]Arm, error) {
	exp, err := b.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return append([]Arm(nil), exp.Arms...), nil
}

// ListExperiments returns the registered bandit names in ascending order.
func (b *Bandit) ListExperiments(ctx context.Context) ([]string, error) {
	keys, err := b.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bandits: %w", err)
	}
	return keys, nil
}

func (b *Bandit) load(ctx context.Context, name string) (Experiment, error) {
	exp, ok, err := b.store.Get(ctx, name)
	if err != nil {
		return Experiment{}, fmt.Errorf("load bandit %q: %w", name, err)
	}
	if !ok {
		return Experiment{}, fmt.Errorf("bandit %q: %w", name, core.ErrExperimentNotFound)
	}
	return exp, nil
}
