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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vercheck/services/verify/metrics"
)

const sample = `
project: counter
old_version: v11.0
new_version: v12.0
directories:
  sim_new: runs/new
thresholds:
  latency_ms: 2000
expected_testcases: [alu, fifo]
metrics:
  - name: fatal_count
    source: keyword
    keywords: [FATAL]
    threshold: 0
  - name: slowdown
    source: derived
    formula: latency_ms / 10
    direction: neutral
storage:
  backend: bolt
  path: /var/lib/vercheck/history.db
`

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeSettings(t, sample)
	s, err := Load(path)
	require.NoError(t, err)
	base := filepath.Dir(path)

	assert.Equal(t, "counter", s.Project)
	assert.Equal(t, filepath.Join(base, "runs/new"), s.Directories.SimNew)
	assert.Equal(t, filepath.Join(base, "sim_old"), s.Directories.SimOld, "defaults fill unset directories")
	assert.Equal(t, "/var/lib/vercheck/history.db", s.Storage.Path)
	assert.Equal(t, BackendBolt, s.Storage.Backend)

	assert.Equal(t, 2000.0, s.Thresholds[metrics.LatencyMS])
	assert.Equal(t, 0.0, s.Thresholds[metrics.ErrorCount], "default thresholds are kept")
	require.Len(t, s.Metrics, 2)
	assert.Equal(t, metrics.Neutral, s.Metrics[1].Direction)

	warnings, err := Validate(s)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeSettings(t, "project: x\nbogus: 1\n"))
	assert.ErrorContains(t, err, "bogus")

	_, err = Load(writeSettings(t, "project: [\n"))
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	s, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().Directories, s.Directories)
}

func TestValidate(t *testing.T) {
	valid := func() Settings {
		s := DefaultSettings()
		s.Project = "counter"
		s.OldVersion = "1.0.0"
		s.NewVersion = "1.1.0"
		return s
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"missing project", func(s *Settings) { s.Project = "" }, "Project is required"},
		{"missing directory", func(s *Settings) { s.Directories.Reports = "" }, "Directories.Reports is required"},
		{"bad backend", func(s *Settings) { s.Storage.Backend = "redis" }, "Storage.Backend must be one of"},
		{"path required", func(s *Settings) { s.Storage.Path = "" }, "Storage.Path is required unless"},
		{"bad metric source", func(s *Settings) {
			s.Metrics = []metrics.Spec{{Name: "x", Source: "magic"}}
		}, "Metrics[0].Source"},
		{"duplicate metric", func(s *Settings) {
			s.Metrics = []metrics.Spec{{Name: "x", Source: "regex", Pattern: "x"}, {Name: "x", Source: "regex", Pattern: "y"}}
		}, `"x" defined twice`},
		{"bad log level", func(s *Settings) { s.Logging.Level = "loud" }, "Logging.Level"},
		{"negative concurrency", func(s *Settings) { s.Concurrency = -1 }, "Concurrency"},
		{"bad exporter", func(s *Settings) { s.Telemetry.TraceExporter = "zipkin" }, "Telemetry.TraceExporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			_, err := Validate(s)
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	s := valid()
	s.Storage = StorageSettings{Backend: BackendNone}
	_, err := Validate(s)
	assert.NoError(t, err)
}

func TestVersionWarnings(t *testing.T) {
	assert.Empty(t, VersionWarnings("v1.2.0", "v1.10.0"))
	assert.Empty(t, VersionWarnings("11.0", "12.0"))
	assert.Contains(t, VersionWarnings("v2.0.0", "v1.9.9")[0], "older")
	assert.Contains(t, VersionWarnings("1.0", "v1.0")[0], "equals")
	assert.Contains(t, VersionWarnings("release-a", "release-b")[0], "not semantic")
}

func TestSaveAndInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFile)

	created, err := Init(path, "counter", "v1.0.0", "v1.1.0")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = Init(path, "other", "v0", "v1")
	require.NoError(t, err)
	assert.False(t, created, "existing files are left alone")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "counter", s.Project)
	_, err = Validate(s)
	require.NoError(t, err)

	s.Metrics = []metrics.Spec{{Name: "m", Source: "regex", Pattern: `m=(\d+)`, Direction: metrics.HigherIsBetter, Threshold: metrics.Threshold(3)}}
	require.NoError(t, Save(path, s))
	back, err := Load(path)
	require.NoError(t, err)
	require.Len(t, back.Metrics, 1)
	assert.Equal(t, metrics.HigherIsBetter, back.Metrics[0].Direction)
	assert.Equal(t, 3.0, *back.Metrics[0].Threshold)
}

func TestRegistryAndPipelineConfig(t *testing.T) {
	s, err := Load(writeSettings(t, sample))
	require.NoError(t, err)

	reg, err := s.Registry()
	require.NoError(t, err)
	def, ok := reg.Get(metrics.LatencyMS)
	require.True(t, ok)
	assert.Equal(t, 2000.0, *def.Threshold)
	_, ok = reg.Get("slowdown")
	assert.True(t, ok)
	require.NoError(t, reg.Seal())

	cfg := s.PipelineConfig()
	assert.Equal(t, s.Directories.SimNew, cfg.NewDir)
	assert.Equal(t, []string{"alu", "fifo"}, cfg.ExpectedTestCases)

	s.Metrics = append(s.Metrics, metrics.Spec{Name: metrics.LatencyMS, Source: "regex", Pattern: "x"})
	_, err = s.Registry()
	assert.Error(t, err)
}

func TestCheckLayout(t *testing.T) {
	root := t.TempDir()
	s := DefaultSettings()
	s.resolve(root)

	checks := CheckLayout(s)
	assert.False(t, Passed(checks))

	for _, d := range []string{s.Directories.Testcases, s.Directories.SimOld, s.Directories.SimNew} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Directories.Testcases, "alu.v"), nil, 0o644))
	for _, d := range []string{s.Directories.SimOld, s.Directories.SimNew} {
		require.NoError(t, os.WriteFile(filepath.Join(d, "aggregated.log"), []byte("alu: 0.1s, 0 errors\n"), 0o644))
	}

	checks = CheckLayout(s)
	for _, c := range checks {
		assert.True(t, c.OK, "%s: %s", c.Name, c.Hint)
	}
	assert.True(t, Passed(checks))
	assert.DirExists(t, s.Directories.Reports)
	assert.DirExists(t, s.Directories.Logs)
}
