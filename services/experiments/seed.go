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
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/promptlab/services/experiments/core"
)

// SeedFile lists A/B experiments to register at startup.
//
// Example:
//
//	experiments:
//	  - name: checkout-button
//	    variants: [control, green]
//	    distribution: [0.7, 0.3]
//	  - name: prompt-style
//	    variants: [terse, verbose, socratic]
type SeedFile struct {
	Experiments []CreateABRequest `yaml:"experiments"`
}

// SeedReport summarises one ApplySeed run.
type SeedReport struct {
	// Created counts experiments registered by this run.
	Created int

	// Skipped counts experiments that were already registered.
	Skipped int

	// Failed counts entries rejected as invalid.
	Failed int
}

// LoadSeedFile reads and parses a seed file.
//
// Inputs:
//
//	path - Path to the YAML seed file.
//
// Outputs:
//
//	*SeedFile - The parsed file.
//	error - Non-nil if the file cannot be read or parsed.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// ApplySeed registers every experiment in seed.
//
// Description:
//
//	Entries whose name is already registered are skipped, so applying the
//	same file twice is a no-op. Invalid entries do not stop the run; their
//	errors are joined into the returned error.
//
// Inputs:
//
//	ctx - Context for store access.
//	svc - Target service.
//	seed - Parsed seed file. Nil is a no-op.
//	logger - Logger. Nil uses slog.Default().
//
// Outputs:
//
//	SeedReport - Counts for this run.
//	error - Joined errors for failed entries, or nil.
func ApplySeed(ctx context.Context, svc *Service, seed *SeedFile, logger *slog.Logger) (SeedReport, error) {
	var report SeedReport
	if seed == nil {
		return report, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for i, entry := range seed.Experiments {
		if err := entry.Validate(); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("seed entry %d (%q): %w", i, entry.Name, err))
			continue
		}

		err := svc.CreateABExperiment(ctx, entry.Name, entry.Variants, entry.Distribution)
		switch {
		case err == nil:
			report.Created++
		case errors.Is(err, core.ErrDuplicateExperiment):
			report.Skipped++
			logger.Debug("Seed experiment already registered", "experiment", entry.Name)
		default:
			report.Failed++
			errs = append(errs, fmt.Errorf("seed entry %d (%q): %w", i, entry.Name, err))
		}
	}

	logger.Info("Seed applied",
		"created", report.Created,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, errors.Join(errs...)
}

// ApplySeedFile loads path and applies it.
func ApplySeedFile(ctx context.Context, svc *Service, path string, logger *slog.Logger) (SeedReport, error) {
	seed, err := LoadSeedFile(path)
	if err != nil {
		return SeedReport{}, err
	}
	return ApplySeed(ctx, svc, seed, logger)
}
