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
	"math/rand/v2"
	"time"
)

// Rand is the source of randomness for arm selection.
type Rand interface {
	// Float64 returns a uniform sample in [0, 1).
	Float64() float64

	// IntN returns a uniform integer in [0, n). n is always positive.
	IntN(n int) int
}

// NewDefaultRand returns a PCG-backed Rand seeded from the clock.
func NewDefaultRand() Rand {
	seed := uint64(time.Now().UnixNano())
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewSeededRand returns a reproducible Rand for tests and simulations.
func NewSeededRand(seed uint64) Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
