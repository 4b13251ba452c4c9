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
	"github.com/AleutianAI/promptlab/services/experiments/ab"
)

// withBackend opens the configured store, runs fn, and closes the store.
// Mutating commands against the memory backend get a warning because
// their effect ends with the process.
func (a *app) withBackend(mutates bool, fn func(svc *experiments.Service) error) error {
	be, err := openBackend(a.cfg, a.logger.Slog())
	if err != nil {
		return err
	}
	defer be.Close()

	if mutates && !be.persistent() {
		a.printer.Warning("memory storage: changes last only for this command (use --storage badger)")
	}
	return fn(be.svc)
}

func newABCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ab",
		Short: "Manage deterministic A/B experiments",
	}
	cmd.AddCommand(
		newABCreateCmd(a),
		newABAssignCmd(a),
		newABOutcomeCmd(a),
		newABResultsCmd(a),
		newABListCmd(a),
		newABSeedCmd(a),
	)
	return cmd
}

func newABCreateCmd(a *app) *cobra.Command {
	var (
		variants []string
		weights  []float64
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Register an experiment",
		Example: `  promptlab ab create checkout --variant control --variant green --weights 0.7,0.3
  promptlab ab create prompt-style --variant terse --variant verbose`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := experiments.CreateABRequest{Name: args[0], Variants: variants, Distribution: weights}
			if err := req.Validate(); err != nil {
				return err
			}
			return a.withBackend(true, func(svc *experiments.Service) error {
				if err := svc.CreateABExperiment(cmd.Context(), req.Name, req.Variants, req.Distribution); err != nil {
					return err
				}
				exp, err := svc.ABExperiment(cmd.Context(), req.Name)
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return a.printer.JSON(experiments.ExperimentResponse{
						Name:         exp.Name,
						Variants:     exp.Variants,
						Distribution: exp.Distribution,
					})
				}
				a.printer.Success(fmt.Sprintf("Created experiment %s", exp.Name))
				rows := make([][]string, len(exp.Variants))
				for i, v := range exp.Variants {
					rows[i] = []string{v, strconv.FormatFloat(exp.Distribution[i], 'f', -1, 64)}
				}
				a.printer.Table([]string{"VARIANT", "WEIGHT"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&variants, "variant", nil, "variant name (repeatable, in order)")
	cmd.Flags().Float64SliceVar(&weights, "weights", nil, "comma-separated weights summing to 1 (default equal split)")
	_ = cmd.MarkFlagRequired("variant")
	return cmd
}

func newABAssignCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "assign NAME USER_ID",
		Short: "Assign a user to a variant and count the trial",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, userID := args[0], args[1]
			return a.withBackend(true, func(svc *experiments.Service) error {
				variant, err := svc.Assign(cmd.Context(), name, userID)
				if err != nil {
					return err
				}
				resp := experiments.AssignResponse{
					Experiment: name,
					UserID:     userID,
					Variant:    variant,
					Bucket:     ab.Bucket(userID),
				}
				if a.jsonOutput() {
					return a.printer.JSON(resp)
				}
				a.printer.KeyValue("variant", resp.Variant)
				a.printer.KeyValue("bucket", resp.Bucket)
				return nil
			})
		},
	}
}

func newABOutcomeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "outcome NAME VARIANT SCORE",
		Short: "Add a score to a variant's results",
		Long: `Adds SCORE to the variant's cumulative results. Scores are not limited
to 0 and 1. Unknown variants are accepted and ignored.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("score %q is not a number: %w", args[2], err)
			}
			return a.withBackend(true, func(svc *experiments.Service) error {
				if err := svc.RecordOutcome(cmd.Context(), args[0], args[1], score); err != nil {
					return err
				}
				a.printer.Success(fmt.Sprintf("Recorded %g for %s/%s", score, args[0], args[1]))
				return nil
			})
		},
	}
}

func newABResultsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "results NAME",
		Short: "Show per-variant trials, successes and conversion rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(false, func(svc *experiments.Service) error {
				results, err := svc.Results(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return a.printer.JSON(experiments.ResultsResponse{Experiment: args[0], Variants: results})
				}
				a.printer.Title(args[0])
				a.printer.Table([]string{"VARIANT", "TRIALS", "SUCCESSES", "RATE"}, resultRows(a, results))
				return nil
			})
		},
	}
}

// resultRows formats results for a table. Rates outside [0,1] are shown as
// numbers rather than bars.
func resultRows(a *app, results []ab.VariantResult) [][]string {
	rows := make([][]string, len(results))
	for i, r := range results {
		rate := strconv.FormatFloat(r.ConversionRate, 'f', 4, 64)
		if r.ConversionRate >= 0 && r.ConversionRate <= 1 {
			rate = a.printer.Bar(r.ConversionRate, 20)
		}
		rows[i] = []string{
			r.Variant,
			strconv.Itoa(r.Trials),
			strconv.FormatFloat(r.Successes, 'f', -1, 64),
			rate,
		}
	}
	return rows
}

func newABListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(false, func(svc *experiments.Service) error {
				names, err := svc.ListABExperiments(cmd.Context())
				if err != nil {
					return err
				}
				return a.printNames(names)
			})
		},
	}
}

func newABSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Register every experiment in a YAML seed file",
		Long:  `Experiments that already exist are skipped, so a seed file can be applied repeatedly.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(true, func(svc *experiments.Service) error {
				report, err := experiments.ApplySeedFile(cmd.Context(), svc, args[0], a.logger.Slog())
				if a.jsonOutput() {
					if jerr := a.printer.JSON(report); jerr != nil {
						return jerr
					}
				} else {
					a.printer.KeyValue("created", report.Created)
					a.printer.KeyValue("skipped", report.Skipped)
					a.printer.KeyValue("failed", report.Failed)
				}
				return err
			})
		},
	}
}

// printNames prints experiment names as JSON or a one-column table.
func (a *app) printNames(names []string) error {
	if a.jsonOutput() {
		return a.printer.JSON(experiments.ListResponse{Experiments: names, Count: len(names)})
	}
	rows := make([][]string, len(names))
	for i, n := range names {
		rows[i] = []string{n}
	}
	a.printer.Table([]string{"NAME"}, rows)
	return nil
}
