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
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AleutianAI/promptlab/cmd/promptlab/config"
	"github.com/AleutianAI/promptlab/pkg/logging"
	"github.com/AleutianAI/promptlab/pkg/ux"
)

// envPrefix namespaces environment overrides, e.g. PROMPTLAB_BANDIT_EPSILON.
const envPrefix = "PROMPTLAB"

// skipConfigAnnotation marks commands that must run without loading config.
const skipConfigAnnotation = "promptlab/skip-config"

// flagBindings maps flag names to config keys. A flag only overrides the
// config when the running command defines it.
var flagBindings = map[string]string{
	"log-level":  "log.level",
	"log-json":   "log.json",
	"epsilon":    "bandit.epsilon",
	"storage":    "storage.backend",
	"data-dir":   "storage.path",
	"host":       "server.host",
	"port":       "server.port",
	"seed":       "seed.path",
	"watch-seed": "seed.watch",
}

// app is the state shared by every command in one invocation.
type app struct {
	cfgFile string
	output  string

	cfg config.PromptlabConfig

	// rootLogger owns the log file; logger is its per-command child.
	rootLogger *logging.Logger
	logger     *logging.Logger
	printer    *ux.Printer

	stdout io.Writer
	stderr io.Writer
}

// newRootCmd builds the command tree.
//
// Description:
//
//	Configuration is layered defaults < config file < PROMPTLAB_* env <
//	flags and resolved once in PersistentPreRunE, which also installs the
//	slog default logger and the output printer.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "promptlab",
		Short: "Deterministic A/B assignment and epsilon-greedy bandits for prompt experiments",
		Long: `promptlab assigns users to experiment variants by hashing their id and
selects among competing options with an epsilon-greedy bandit.

Run 'promptlab serve' for the HTTP API, or use the ab and bandit commands
against the configured store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				a.rootLogger = logging.Default()
				a.logger = a.rootLogger.With("command", cmd.CommandPath())
				a.printer = ux.NewPrinter(a.stdout, a.stderr, a.outputMode())
				return nil
			}
			return a.initialize(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.rootLogger != nil {
				return a.rootLogger.Close()
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default ~/.promptlab/promptlab.yaml)")
	pf.StringVarP(&a.output, "output", "o", "auto", "output format: auto, plain, machine, json")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Bool("log-json", false, "log as JSON to stderr")
	pf.String("storage", config.BackendMemory, "storage backend: memory or badger")
	pf.String("data-dir", "", "badger data directory")
	pf.Float64("epsilon", 0.1, "bandit exploration probability in [0,1]")

	root.AddCommand(
		newServeCmd(a),
		newABCmd(a),
		newBanditCmd(a),
		newConfigCmd(a),
	)
	return root
}

// configPath returns the config file in use.
func (a *app) configPath() string {
	if a.cfgFile != "" {
		return a.cfgFile
	}
	return config.DefaultPath()
}

// initialize resolves configuration, logging and output for cmd.
func (a *app) initialize(cmd *cobra.Command) error {
	base, created, err := config.Load(a.configPath())
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(base, cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.rootLogger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "promptlab",
		JSON:    cfg.Log.JSON,
		Output:  a.stderr,
	})
	a.logger = a.rootLogger.With("command", cmd.CommandPath())
	slog.SetDefault(a.logger.Slog())
	if path := a.rootLogger.FilePath(); path != "" {
		a.logger.Debug("Log file opened", "path", path)
	}

	a.printer = ux.NewPrinter(a.stdout, a.stderr, a.outputMode())
	if created {
		a.logger.Info("First run detected, created config", "path", a.configPath())
	}
	return nil
}

// resolveConfig layers env and flags over base.
//
// Inputs:
//
//	base - Config loaded from the file, defaults filled in.
//	cmd - Running command. Only flags it defines and the user changed win
//	      over env and file values.
//
// Outputs:
//
//	config.PromptlabConfig - Merged configuration.
//	error - Non-nil if merging or decoding fails.
func resolveConfig(base config.PromptlabConfig, cmd *cobra.Command) (config.PromptlabConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m, err := config.AsMap(base)
	if err != nil {
		return config.PromptlabConfig{}, err
	}
	if err := v.MergeConfigMap(m); err != nil {
		return config.PromptlabConfig{}, fmt.Errorf("merge config: %w", err)
	}

	for name, key := range flagBindings {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return config.PromptlabConfig{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	var cfg config.PromptlabConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return config.PromptlabConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (a *app) outputMode() ux.Mode {
	switch a.output {
	case "plain":
		return ux.ModePlain
	case "machine":
		return ux.ModeMachine
	default:
		if f, ok := a.stdout.(*os.File); ok {
			return ux.DetectMode(f)
		}
		return ux.ModePlain
	}
}

// jsonOutput reports whether results should be printed as JSON.
func (a *app) jsonOutput() bool {
	return a.output == "json"
}
