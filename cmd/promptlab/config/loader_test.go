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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// TestLoad_CreatesDefault verifies first-run config creation.
func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".promptlab", "promptlab.yaml")

	cfg, created, err := Load(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk PromptlabConfig
	require.NoError(t, yaml.Unmarshal(data, &onDisk))

	assert.Equal(t, CurrentConfigVersion, onDisk.Meta.Version)
	assert.Equal(t, BackendMemory, onDisk.Storage.Backend)
	assert.Equal(t, 5*time.Minute, onDisk.Storage.GCInterval)
	assert.Equal(t, cfg.Server.Port, onDisk.Server.Port)

	_, created, err = Load(path)
	require.NoError(t, err)
	assert.False(t, created)
}

// TestLoad_PartialFileKeepsDefaults verifies missing keys fall back.
func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promptlab.yaml")
	content := `
bandit:
  epsilon: 0.25
storage:
  backend: badger
  path: /tmp/promptlab-data
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, created, err := Load(path)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, 0.25, cfg.Bandit.Epsilon)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/promptlab-data", cfg.Storage.Path)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Storage.GCDiscardRatio)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promptlab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o644))

	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestWriteDefault_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promptlab.yaml")
	require.NoError(t, WriteDefault(path))

	err := WriteDefault(path)
	assert.True(t, errors.Is(err, ErrConfigExists))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "promptlab.yaml")
	cfg := DefaultConfig()
	cfg.Server.ShutdownTimeout = 3 * time.Second
	cfg.Seed = SeedConfig{Path: "/etc/promptlab/seed.yaml", Watch: true}

	require.NoError(t, Save(path, cfg))
	got, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestAsMap(t *testing.T) {
	m, err := AsMap(DefaultConfig())
	require.NoError(t, err)

	storage, ok := m["storage"].(map[string]any)
	require.True(t, ok, "storage should be a nested map, got %T", m["storage"])
	assert.Equal(t, "memory", storage["backend"])
	assert.Equal(t, "5m0s", storage["gc_interval"])

	bandit, ok := m["bandit"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.1, bandit["epsilon"])
}
