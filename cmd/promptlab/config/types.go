// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the promptlab configuration file format.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/promptlab/services/experiments/telemetry"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// PromptlabConfig is the full configuration.
type PromptlabConfig struct {
	Meta MetaConfig `yaml:"meta" mapstructure:"meta"`

	// Server: HTTP listener for `promptlab serve`
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Bandit: exploration settings shared by every bandit
	Bandit BanditConfig `yaml:"bandit" mapstructure:"bandit"`

	// Storage: where experiment state lives
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Seed: experiments registered at startup
	Seed SeedConfig `yaml:"seed" mapstructure:"seed"`

	Log LogConfig `yaml:"log" mapstructure:"log"`

	Telemetry telemetry.Config `yaml:"telemetry" mapstructure:"telemetry"`
}

type MetaConfig struct {
	Version string `yaml:"version" mapstructure:"version"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gte=0"`
}

type BanditConfig struct {
	// Epsilon is the exploration probability in [0,1].
	Epsilon float64 `yaml:"epsilon" mapstructure:"epsilon" validate:"gte=0,lte=1"`

	// RandSeed fixes the random source when non-zero. For reproducible runs.
	RandSeed uint64 `yaml:"rand_seed" mapstructure:"rand_seed"`
}

type StorageConfig struct {
	// Backend is "memory" or "badger".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory badger"`

	// Path is the badger directory. Required for the badger backend.
	Path string `yaml:"path" mapstructure:"path" validate:"required_if=Backend badger"`

	SyncWrites     bool          `yaml:"sync_writes" mapstructure:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" mapstructure:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" mapstructure:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

type SeedConfig struct {
	// Path is a YAML seed file. Empty disables seeding.
	Path string `yaml:"path" mapstructure:"path"`

	// Watch re-applies the seed file when it changes.
	Watch bool `yaml:"watch" mapstructure:"watch"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir" mapstructure:"dir"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

var configValidate = validator.New()

// Validate checks field ranges and cross-field requirements.
func (c PromptlabConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultHome returns ~/.promptlab, or .promptlab if there is no home
// directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promptlab"
	}
	return filepath.Join(home, ".promptlab")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultHome(), "promptlab.yaml")
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() PromptlabConfig {
	home := DefaultHome()
	return PromptlabConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8090,
			ShutdownTimeout: 10 * time.Second,
		},
		Bandit: BanditConfig{
			Epsilon: 0.1,
		},
		Storage: StorageConfig{
			Backend:        BackendMemory,
			Path:           filepath.Join(home, "data"),
			SyncWrites:     true,
			GCInterval:     5 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Seed: SeedConfig{},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}
