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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vercheck/cmd/vercheck/config"
	"github.com/AleutianAI/vercheck/services/verify/metrics"
	"github.com/AleutianAI/vercheck/services/verify/report"
)

func newRunCmd(a *app) *cobra.Command {
	var noStore, noPublish bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compare the old and new simulation runs",
		Long: `run extracts metrics from sim_old and sim_new, decides the verdict,
writes report.md, report.json and the metrics table, records the run in
the history store and sends it to the configured publishers.

Exit status is 0 when the new version passes and 1 when it fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.initTelemetry(ctx); err != nil {
				return err
			}
			rt, err := a.openRuntime(ctx, runtimeOptions{store: !noStore, publish: !noPublish})
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.pipeline.Run(ctx)
			if err != nil {
				return err
			}
			return a.verdict(res)
		},
	}
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not record the run in the history store")
	cmd.Flags().BoolVar(&noPublish, "no-publish", false, "skip the configured publishers")
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	var format string
	var rescore bool
	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Print a stored report, or rescore the last metrics table",
		Long: `report prints a run from the history store, the latest one when no
run ID is given.

With --rescore the metrics table in the tmp directory is judged again
with the current thresholds and a new report is written, without
re-reading logs or waveforms.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if rescore {
				if len(args) > 0 {
					return fmt.Errorf("--rescore takes no run ID")
				}
				rt, err := a.openRuntime(ctx, runtimeOptions{store: true})
				if err != nil {
					return err
				}
				defer rt.Close()
				res, err := rt.pipeline.Rescore(ctx)
				if err != nil {
					return err
				}
				return a.verdict(res)
			}

			store, err := openStore(a.settings.Storage, a.log)
			if err != nil {
				return err
			}
			if store == nil {
				return ErrHistoryDisabled
			}
			defer store.Close()

			id := ""
			if len(args) == 1 {
				id = args[0]
			} else {
				runs, err := store.ListRuns(ctx, 1)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					return fmt.Errorf("no runs recorded")
				}
				id = runs[0].ID
			}
			run, err := store.GetRun(ctx, id)
			if err != nil {
				return err
			}
			return report.Render(a.stdout, run.Document, report.Format(format))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(report.FormatMarkdown), "md or json")
	cmd.Flags().BoolVar(&rescore, "rescore", false, "re-judge the metrics table with current thresholds")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(a.settings.Storage, a.log)
			if err != nil {
				return err
			}
			if store == nil {
				return ErrHistoryDisabled
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				line := fmt.Sprintf("%s\t%s\t%s\t%s -> %s\t%d/%d passed",
					r.ID, r.GeneratedAt.Format("2006-01-02 15:04:05"), r.Project, r.OldVersion, r.NewVersion, r.Passed, r.Total)
				if r.Pass {
					a.printer.Success(line)
				} else {
					a.printer.Error(line)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the settings file and project layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.printer.Success(fmt.Sprintf("settings: %s (%s %s -> %s)",
				a.configPath, a.settings.Project, a.settings.OldVersion, a.settings.NewVersion))
			for _, w := range a.warnings {
				a.printer.Warning(w)
			}

			reg, err := a.settings.Registry()
			if err == nil {
				err = reg.Seal()
			}
			if err != nil {
				a.printer.Error("metrics: " + err.Error())
				return fmt.Errorf("%w: %v", config.ErrInvalid, err)
			}
			a.printer.Success(fmt.Sprintf("metrics: %d registered (%s)", reg.Len(), strings.Join(reg.Names(), ", ")))

			checks := config.CheckLayout(a.settings)
			for _, c := range checks {
				if c.OK {
					a.printer.Success(c.Name + ": " + c.Hint)
				} else {
					a.printer.Error(c.Name + ": " + c.Hint)
				}
			}
			if !config.Passed(checks) {
				return fmt.Errorf("%w: project layout incomplete", config.ErrInvalid)
			}
			return nil
		},
	}
}

func newGraphCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the metric dependency graph in DOT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.settings.Registry()
			if err != nil {
				return err
			}
			if err := reg.Seal(); err != nil {
				return err
			}
			dot, err := metrics.Graph(reg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, dot)
			return err
		},
	}
}
