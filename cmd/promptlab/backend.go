// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/promptlab/cmd/promptlab/config"
	"github.com/AleutianAI/promptlab/services/experiments"
	"github.com/AleutianAI/promptlab/services/experiments/ab"
	"github.com/AleutianAI/promptlab/services/experiments/bandit"
	"github.com/AleutianAI/promptlab/services/experiments/core"
	badgerstore "github.com/AleutianAI/promptlab/services/experiments/storage/badger"
)

// backend owns the service and whatever storage backs it.
type backend struct {
	svc *experiments.Service
	db  *badgerstore.DB
}

// openBackend builds the experiments service over the configured store.
//
// Inputs:
//
//	cfg - Resolved configuration.
//	logger - Logger for components and BadgerDB.
//
// Outputs:
//
//	*backend - Call Close when done.
//	error - Non-nil if the store cannot be opened or epsilon is invalid.
func openBackend(cfg config.PromptlabConfig, logger *slog.Logger) (*backend, error) {
	var (
		abStore     core.Store[ab.Experiment]
		banditStore core.Store[bandit.Experiment]
		db          *badgerstore.DB
	)

	switch cfg.Storage.Backend {
	case config.BackendBadger:
		var err error
		db, err = badgerstore.Open(badgerstore.Config{
			Path:           cfg.Storage.Path,
			SyncWrites:     cfg.Storage.SyncWrites,
			GCInterval:     cfg.Storage.GCInterval,
			GCDiscardRatio: cfg.Storage.GCDiscardRatio,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("Opened badger store", "path", db.Path(), "in_memory", db.InMemory())
		abs, err := badgerstore.NewStore[ab.Experiment](db, badgerstore.PrefixAB)
		if err != nil {
			db.Close()
			return nil, err
		}
		bs, err := badgerstore.NewStore[bandit.Experiment](db, badgerstore.PrefixBandit)
		if err != nil {
			db.Close()
			return nil, err
		}
		abStore, banditStore = abs, bs

	case config.BackendMemory, "":
		abStore = core.NewMemoryStore[ab.Experiment]()
		banditStore = core.NewMemoryStore[bandit.Experiment]()

	default:
		return nil, fmt.Errorf("unknown storage backend %q: %w", cfg.Storage.Backend, core.ErrInvalidConfiguration)
	}

	banditOpts := []bandit.Option{bandit.WithLogger(logger)}
	if cfg.Bandit.RandSeed != 0 {
		banditOpts = append(banditOpts, bandit.WithRand(bandit.NewSeededRand(cfg.Bandit.RandSeed)))
	}
	b, err := bandit.New(banditStore, cfg.Bandit.Epsilon, banditOpts...)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	svc, err := experiments.NewService(ab.NewAssigner(abStore, ab.WithLogger(logger)), b, logger)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	logger.Debug("Backend opened", "storage", cfg.Storage.Backend, "epsilon", cfg.Bandit.Epsilon)
	return &backend{svc: svc, db: db}, nil
}

// persistent reports whether state outlives the process.
func (b *backend) persistent() bool {
	return b.db != nil
}

// Close closes the database, if any.
func (b *backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
