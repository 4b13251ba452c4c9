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
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// SeedWatcher re-applies a seed file whenever it changes.
//
// The parent directory is watched rather than the file itself so that
// editors which save by rename are still seen.
//
// Thread Safety: Run must be called at most once.
type SeedWatcher struct {
	path    string
	svc     *Service
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// onApply is called after each re-apply. Test hook.
	onApply func(SeedReport, error)
}

// NewSeedWatcher creates a watcher for the seed file at path.
//
// Inputs:
//
//	path - Seed file path.
//	svc - Service to apply the seed to.
//	logger - Logger. Nil uses slog.Default().
//
// Outputs:
//
//	*SeedWatcher - The watcher. Call Run to start it.
//	error - Non-nil if the path cannot be resolved or inotify fails.
func NewSeedWatcher(path string, svc *Service, logger *slog.Logger) (*SeedWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve seed path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SeedWatcher{
		path:    abs,
		svc:     svc,
		watcher: watcher,
		logger:  logger.With("component", "seed_watcher", "path", abs),
	}, nil
}

// Run watches until ctx is cancelled, then closes the watcher.
//
// Outputs:
//
//	error - Non-nil only if the directory could not be watched.
func (w *SeedWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Debug("Started watching seed file")

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Seed watcher error", "error", err)

		case <-ctx.Done():
			w.logger.Debug("Seed watcher stopping")
			return nil
		}
	}
}

func (w *SeedWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.logger.Info("Seed file changed, re-applying", "op", event.Op.String())
	report, err := ApplySeedFile(ctx, w.svc, w.path, w.logger)
	if err != nil {
		w.logger.Warn("Seed re-apply had errors", "error", err)
	}
	if w.onApply != nil {
		w.onApply(report, err)
	}
}
