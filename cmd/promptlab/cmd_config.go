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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/promptlab/cmd/promptlab/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd(a), newConfigShowCmd(a), newConfigPathCmd(a))
	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "init",
		Short:       "Write a default config file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath()
			err := config.WriteDefault(path)
			if errors.Is(err, config.ErrConfigExists) {
				a.printer.Warning(fmt.Sprintf("Config already exists at %s", path))
				return nil
			}
			if err != nil {
				return err
			}
			a.logger.Debug("Wrote default config", "path", path)
			a.printer.Success(fmt.Sprintf("Wrote %s", path))
			return nil
		},
	}
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration as YAML",
		Long:  `Prints the configuration after file, PROMPTLAB_* environment and flag overrides.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.jsonOutput() {
				return a.printer.JSON(a.cfg)
			}
			data, err := config.Marshal(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the config file path",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.configPath())
			return nil
		},
	}
}
