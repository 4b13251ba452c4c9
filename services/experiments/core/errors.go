// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package core

import "errors"

// Sentinel errors shared by the experiment components.
//
// Components wrap these with the offending experiment or arm name, so
// callers should match with errors.Is rather than equality.
var (
	// ErrDuplicateExperiment indicates an experiment with the same name is
	// already registered.
	ErrDuplicateExperiment = errors.New("experiment already exists")

	// ErrInvalidConfiguration indicates malformed weights, an empty variant
	// or arm list, or an out-of-range epsilon.
	ErrInvalidConfiguration = errors.New("invalid experiment configuration")

	// ErrExperimentNotFound indicates the experiment name is not registered.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrArmNotFound indicates the arm is not registered for the experiment.
	ErrArmNotFound = errors.New("arm not found")
)
