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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vercheck/cmd/vercheck/config"
	"github.com/AleutianAI/vercheck/pkg/logging"
	"github.com/AleutianAI/vercheck/pkg/ux"
	"github.com/AleutianAI/vercheck/services/verify/telemetry"
)

// Process exit codes.
const (
	ExitPass   = 0
	ExitFail   = 1
	ExitConfig = 2
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// ErrVerdictFailed is returned by commands whose comparison failed.
var ErrVerdictFailed = errors.New("verification failed")

// skipSettings marks commands that run without a settings file.
const skipSettings = "skip-settings"

// app carries per-invocation state between the root command and its
// subcommands.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	output     string

	settings config.Settings
	warnings []string
	logger   *logging.Logger
	log      *slog.Logger
	printer  *ux.Printer

	telemetryShutdown func(context.Context) error
}

// Main runs the CLI with args and returns the process exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil && !errors.Is(err, ErrVerdictFailed) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitPass
	case errors.Is(err, ErrVerdictFailed):
		return ExitFail
	default:
		return ExitConfig
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "vercheck",
		Short: "Verify that a tool upgrade does not change simulation results",
		Long: `vercheck reads the logs and waveform dumps of an old and a new
simulation run, extracts metrics per test case, and judges the new
version against thresholds. Reports are written as Markdown and JSON.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultFile, "settings file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.output, "output", "", "output style: rich, minimal or machine (default: detect)")

	root.AddCommand(
		newRunCmd(a),
		newReportCmd(a),
		newHistoryCmd(a),
		newValidateCmd(a),
		newWatchCmd(a),
		newGraphCmd(a),
		newServeCmd(a),
		newInitCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads settings and builds the logger and printer.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level := ux.Detect(a.stdout)
	if a.output != "" {
		level = ux.ParseLevel(a.output)
	}
	a.printer = ux.NewPrinter(a.stdout, level)

	if cmd.Annotations[skipSettings] == "true" {
		return a.initLogger(logging.Config{Console: a.stderr}, a.logLevel)
	}

	s, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	warnings, err := config.Validate(s)
	if err != nil {
		return err
	}
	a.settings = s
	a.warnings = warnings

	lc := logging.Config{
		JSON:    s.Logging.JSON,
		Service: "vercheck",
		Console: a.stderr,
	}
	if s.Logging.File {
		lc.LogDir = s.Directories.Logs
	}
	levelName := s.Logging.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	if err := a.initLogger(lc, levelName); err != nil {
		return err
	}
	for _, w := range warnings {
		a.log.Warn("settings", slog.String("warning", w))
	}
	return nil
}

func (a *app) initLogger(cfg logging.Config, levelName string) error {
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	cfg.Level = level
	logger, err := logging.New(cfg)
	if err != nil {
		return err
	}
	a.logger = logger
	a.log = logger.Slog()
	return nil
}

// initTelemetry installs the configured OpenTelemetry exporters.
func (a *app) initTelemetry(ctx context.Context) error {
	cfg := a.settings.Telemetry
	cfg.ServiceVersion = version
	shutdown, err := telemetry.Init(ctx, cfg)
	if err != nil {
		return err
	}
	a.telemetryShutdown = shutdown
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetryShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the vercheck version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipSettings: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "vercheck %s\n", version)
		},
	}
}

func newInitCmd(a *app) *cobra.Command {
	var oldVersion, newVersion string
	cmd := &cobra.Command{
		Use:         "init <project>",
		Short:       "Write a settings file with the default layout",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipSettings: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := config.Init(a.configPath, args[0], oldVersion, newVersion)
			if err != nil {
				return err
			}
			if created {
				a.printer.Success("created " + a.configPath)
			} else {
				a.printer.Warning(a.configPath + " already exists; left unchanged")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&oldVersion, "old", "", "old tool version")
	cmd.Flags().StringVar(&newVersion, "new", "", "new tool version")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}
