// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates vercheck settings files.
package config

import (
	"path/filepath"

	"github.com/AleutianAI/vercheck/services/verify/metrics"
	"github.com/AleutianAI/vercheck/services/verify/pipeline"
	"github.com/AleutianAI/vercheck/services/verify/publish"
	"github.com/AleutianAI/vercheck/services/verify/server"
	"github.com/AleutianAI/vercheck/services/verify/telemetry"
)

// Storage backends.
const (
	BackendBadger = "badger"
	BackendBolt   = "bolt"
	BackendNone   = "none"
)

// Settings is the content of a vercheck.yaml file.
type Settings struct {
	Project    string `yaml:"project" validate:"required"`
	OldVersion string `yaml:"old_version" validate:"required"`
	NewVersion string `yaml:"new_version" validate:"required"`

	Directories Directories `yaml:"directories"`

	// Thresholds override built-in metric thresholds by name.
	Thresholds map[string]float64 `yaml:"thresholds,omitempty" validate:"dive,keys,required,endkeys"`

	// ExpectedTestCases are reported missing when the new run lacks them.
	ExpectedTestCases []string `yaml:"expected_testcases,omitempty" validate:"dive,required"`

	// Metrics are user-defined metrics registered after the built-ins.
	Metrics []metrics.Spec `yaml:"metrics,omitempty" validate:"dive"`

	SkipWaveforms bool `yaml:"skip_waveforms,omitempty"`
	Concurrency   int  `yaml:"concurrency,omitempty" validate:"gte=0,lte=256"`

	Storage    StorageSettings   `yaml:"storage"`
	Telemetry  telemetry.Config  `yaml:"telemetry"`
	Publishers PublisherSettings `yaml:"publishers,omitempty"`
	Server     server.Config     `yaml:"server"`
	Logging    LoggingSettings   `yaml:"logging"`
}

// Directories is the project layout. Relative paths are resolved against
// the settings file's directory by Load.
type Directories struct {
	Testcases string `yaml:"testcases" validate:"required"`
	SimOld    string `yaml:"sim_old" validate:"required"`
	SimNew    string `yaml:"sim_new" validate:"required"`
	Tmp       string `yaml:"tmp" validate:"required"`
	Reports   string `yaml:"reports" validate:"required"`
	Logs      string `yaml:"logs" validate:"required"`
}

// StorageSettings selects the run history backend.
type StorageSettings struct {
	Backend string `yaml:"backend" validate:"required,oneof=badger bolt none"`

	// Path is the database location. Relative paths are resolved like
	// directories.
	Path string `yaml:"path" validate:"required_unless=Backend none"`
}

// PublisherSettings enables the optional publishers. A nil section is off.
type PublisherSettings struct {
	Influx *publish.InfluxConfig `yaml:"influx,omitempty"`
	GCS    *publish.GCSConfig    `yaml:"gcs,omitempty"`
}

// LoggingSettings configures pkg/logging.
type LoggingSettings struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json,omitempty"`

	// File enables the JSON log file under Directories.Logs.
	File bool `yaml:"file,omitempty"`
}

// DefaultSettings returns the layout used by the simulation driver with
// project identity left empty.
func DefaultSettings() Settings {
	return Settings{
		Directories: Directories{
			Testcases: "testcases",
			SimOld:    "sim_old",
			SimNew:    "sim_new",
			Tmp:       "tmp",
			Reports:   "reports",
			Logs:      "logs",
		},
		Thresholds: map[string]float64{
			metrics.LatencyMS:  1000,
			metrics.ErrorCount: 0,
		},
		Storage: StorageSettings{
			Backend: BackendBadger,
			Path:    filepath.Join(".vercheck", "history"),
		},
		Telemetry: telemetry.DefaultConfig(),
		Server:    server.DefaultConfig(),
		Logging:   LoggingSettings{Level: "info"},
	}
}

// resolve makes relative paths absolute against base.
func (s *Settings) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	d := &s.Directories
	d.Testcases = abs(d.Testcases)
	d.SimOld = abs(d.SimOld)
	d.SimNew = abs(d.SimNew)
	d.Tmp = abs(d.Tmp)
	d.Reports = abs(d.Reports)
	d.Logs = abs(d.Logs)
	s.Storage.Path = abs(s.Storage.Path)
	if s.Telemetry.Textfile != "" {
		s.Telemetry.Textfile = abs(s.Telemetry.Textfile)
	}
}

// PipelineConfig converts the settings into a pipeline configuration.
func (s Settings) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Project:           s.Project,
		OldVersion:        s.OldVersion,
		NewVersion:        s.NewVersion,
		OldDir:            s.Directories.SimOld,
		NewDir:            s.Directories.SimNew,
		TmpDir:            s.Directories.Tmp,
		ReportsDir:        s.Directories.Reports,
		ExpectedTestCases: append([]string(nil), s.ExpectedTestCases...),
		Concurrency:       s.Concurrency,
	}
}

// Registry builds the unsealed metric registry: built-ins with threshold
// overrides, then the user metrics in file order.
func (s Settings) Registry() (*metrics.Registry, error) {
	reg, err := metrics.NewDefaultRegistry(metrics.BuiltinOptions{
		Thresholds:    s.Thresholds,
		SkipWaveforms: s.SkipWaveforms,
	})
	if err != nil {
		return nil, err
	}
	if err := metrics.RegisterSpecs(reg, s.Metrics); err != nil {
		return nil, err
	}
	return reg, nil
}
