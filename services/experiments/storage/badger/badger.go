// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger persists experiment state in an embedded BadgerDB.
//
// The A/B assigner and the bandit each take a core.Store. Store in this
// package implements it over one shared database, separating the two
// components with a key prefix:
//
//	ab/<experiment>      -> JSON ab.Experiment
//	bandit/<experiment>  -> JSON bandit.Experiment
//
// In-memory mode is available for tests and for running the service
// without a data directory.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the experiment database.
type Config struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. State is lost on Close.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is how often value-log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns durable defaults for an on-disk database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration with no disk I/O and no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter forwards BadgerDB's printf-style logger to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (l *slogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *slogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB is an opened experiment database with optional background GC.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	*badger.DB
	gc       *gcRunner
	path     string
	inMemory bool
}

// Open opens the database described by cfg.
//
// Description:
//
//	Creates the data directory if needed, opens BadgerDB with a single
//	retained version per key, and starts the value-log GC runner for
//	on-disk databases with a positive GCInterval.
//
// Outputs:
//
//	*DB - The database. Caller must Close it.
//	error - Non-nil if the path is missing or BadgerDB cannot open.
func Open(cfg Config) (*DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	db := &DB{DB: bdb, path: cfg.Path, inMemory: cfg.InMemory}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
			bdb.Close()
			return nil, fmt.Errorf("gc discard ratio %v outside (0,1)", cfg.GCDiscardRatio)
		}
		db.gc = newGCRunner(bdb, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		db.gc.start()
	}
	return db, nil
}

// OpenInMemory opens a throwaway in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	if d.gc != nil {
		d.gc.stop()
	}
	return d.DB.Close()
}

// Path returns the data directory, or "" for in-memory databases.
func (d *DB) Path() string {
	return d.path
}

// InMemory reports whether the database lives only in RAM.
func (d *DB) InMemory() bool {
	return d.inMemory
}

// WithTxn runs fn in a read-write transaction and commits if fn succeeds.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

// gcRunner triggers value-log GC on a fixed interval.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (r *gcRunner) start() {
	go r.run()
}

// stop is idempotent and waits for the loop to exit.
func (r *gcRunner) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

func (r *gcRunner) collect() {
	err := r.db.RunValueLogGC(r.ratio)
	if r.logger == nil {
		return
	}
	switch {
	case err == nil:
		r.logger.Debug("experiment store value log GC completed")
	case errors.Is(err, badger.ErrNoRewrite):
		// nothing to reclaim
	default:
		r.logger.Warn("experiment store value log GC failed", slog.String("error", err.Error()))
	}
}
