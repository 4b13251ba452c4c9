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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by WriteDefault when the file is present.
var ErrConfigExists = errors.New("config file already exists")

// Load reads the config file at path, creating it with defaults on first
// run. Keys missing from the file keep their default values.
//
// Inputs:
//
//	path - Config file path. Empty uses DefaultPath().
//
// Outputs:
//
//	PromptlabConfig - The parsed config.
//	bool - True if the file was created by this call.
//	error - Non-nil if the file cannot be created, read, or parsed.
func Load(path string) (PromptlabConfig, bool, error) {
	if path == "" {
		path = DefaultPath()
	}

	created := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return PromptlabConfig{}, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return PromptlabConfig{}, false, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PromptlabConfig{}, false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, created, nil
}

// WriteDefault writes the default config to path unless it already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	return createDefault(path)
}

// Save writes cfg to path as YAML.
func Save(path string, cfg PromptlabConfig) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Marshal renders cfg as YAML.
func Marshal(cfg PromptlabConfig) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// AsMap returns cfg as a nested map keyed by the YAML field names, the shape
// viper expects for MergeConfigMap.
func AsMap(cfg PromptlabConfig) (map[string]any, error) {
	data, err := Marshal(cfg)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("flatten config: %w", err)
	}
	return out, nil
}

func createDefault(path string) error {
	return Save(path, DefaultConfig())
}
