// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_Valid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PromptlabConfig)
	}{
		{"epsilon above one", func(c *PromptlabConfig) { c.Bandit.Epsilon = 1.2 }},
		{"negative epsilon", func(c *PromptlabConfig) { c.Bandit.Epsilon = -0.1 }},
		{"port zero", func(c *PromptlabConfig) { c.Server.Port = 0 }},
		{"unknown backend", func(c *PromptlabConfig) { c.Storage.Backend = "redis" }},
		{"badger without path", func(c *PromptlabConfig) {
			c.Storage.Backend = BackendBadger
			c.Storage.Path = ""
		}},
		{"discard ratio one", func(c *PromptlabConfig) { c.Storage.GCDiscardRatio = 1 }},
		{"bad log level", func(c *PromptlabConfig) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_MemoryBackendWithoutPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Path = ""
	assert.NoError(t, cfg.Validate())
}
