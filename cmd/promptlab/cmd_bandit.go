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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/promptlab/services/experiments"
)

func newBanditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bandit",
		Short: "Run epsilon-greedy bandit experiments",
	}
	cmd.AddCommand(
		newBanditSelectCmd(a),
		newBanditUpdateCmd(a),
		newBanditStatsCmd(a),
		newBanditListCmd(a),
	)
	return cmd
}

func newBanditSelectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "select NAME [ARM...]",
		Short: "Choose an arm",
		Long: `Chooses an arm for NAME. The first call must list the arms, which
registers the experiment. Later calls may omit them.`,
		Example: `  promptlab bandit select greeting formal casual playful
  promptlab bandit select greeting`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := experiments.SelectRequest{Arms: args[1:]}
			if err := req.Validate(); err != nil {
				return err
			}
			return a.withBackend(true, func(svc *experiments.Service) error {
				sel, err := svc.SelectArm(cmd.Context(), args[0], req.Arms)
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return a.printer.JSON(experiments.SelectResponse{
						Experiment: args[0],
						Arm:        sel.Arm,
						Explored:   sel.Explored,
						Registered: sel.Registered,
					})
				}
				a.printer.KeyValue("arm", sel.Arm)
				a.printer.KeyValue("explored", sel.Explored)
				if !sel.Registered {
					a.printer.Warning(fmt.Sprintf("arm %s is not registered; updates to it will fail", sel.Arm))
				}
				return nil
			})
		},
	}
}

func newBanditUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update NAME ARM REWARD",
		Short: "Fold a reward into an arm's running average",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			reward, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("reward %q is not a number: %w", args[2], err)
			}
			return a.withBackend(true, func(svc *experiments.Service) error {
				if err := svc.UpdateArm(cmd.Context(), args[0], args[1], reward); err != nil {
					return err
				}
				a.printer.Success(fmt.Sprintf("Recorded reward %g for %s/%s", reward, args[0], args[1]))
				return nil
			})
		},
	}
}

func newBanditStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats NAME",
		Short: "Show pulls and mean reward per arm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(false, func(svc *experiments.Service) error {
				arms, err := svc.Stats(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return a.printer.JSON(experiments.StatsResponse{
						Experiment: args[0],
						Epsilon:    svc.Epsilon(),
						Arms:       arms,
					})
				}
				a.printer.Title(fmt.Sprintf("%s (epsilon %g)", args[0], svc.Epsilon()))
				rows := make([][]string, len(arms))
				for i, arm := range arms {
					rows[i] = []string{
						arm.Name,
						strconv.Itoa(arm.Pulls),
						strconv.FormatFloat(arm.Value, 'f', 4, 64),
					}
				}
				a.printer.Table([]string{"ARM", "PULLS", "VALUE"}, rows)
				return nil
			})
		},
	}
}

func newBanditListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered bandits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(false, func(svc *experiments.Service) error {
				names, err := svc.ListBandits(cmd.Context())
				if err != nil {
					return err
				}
				return a.printNames(names)
			})
		},
	}
}
