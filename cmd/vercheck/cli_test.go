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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vercheck/cmd/vercheck/config"
	"github.com/AleutianAI/vercheck/services/verify/metrics"
	"github.com/AleutianAI/vercheck/services/verify/telemetry"
)

type project struct {
	dir      string
	settings string
}

func newProject(t *testing.T, backend string, newLog string) *project {
	t.Helper()
	dir := t.TempDir()
	s := config.DefaultSettings()
	s.Project = "counter"
	s.OldVersion = "v11.0"
	s.NewVersion = "v12.0"
	s.SkipWaveforms = true
	s.Storage.Backend = backend
	s.Telemetry = telemetry.Config{ServiceName: "vercheck", TraceExporter: telemetry.ExporterNone, MetricExporter: telemetry.ExporterNone}

	path := filepath.Join(dir, config.DefaultFile)
	require.NoError(t, config.Save(path, s))

	for name, body := range map[string]string{
		"sim_old": "alu: 0.150s, 0 errors, 0 KB\n",
		"sim_new": newLog,
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name, "aggregated.log"), []byte(body), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "testcases"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "testcases", "alu.v"), nil, 0o644))
	return &project{dir: dir, settings: path}
}

func (p *project) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--config", p.settings, "--output", "machine"}, args...)
	code := Main(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_PassThenReport(t *testing.T) {
	p := newProject(t, config.BackendBadger, "alu: 0.320s, 0 errors, 0 KB\n")

	code, out, errOut := p.run(t, "run")
	require.Equal(t, ExitPass, code, errOut)
	assert.Contains(t, out, "VERDICT\tPASS\tcounter\tv11.0\tv12.0")
	assert.Contains(t, out, "report.json")

	entries, err := os.ReadDir(filepath.Join(p.dir, "reports"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	code, out, errOut = p.run(t, "report")
	require.Equal(t, ExitPass, code, errOut)
	assert.True(t, strings.HasPrefix(out, "# Version Verification Report"))
	assert.Contains(t, out, "**Status: PASS**")

	code, out, _ = p.run(t, "history")
	require.Equal(t, ExitPass, code)
	assert.Contains(t, out, "OK: ")
	assert.Contains(t, out, "counter\tv11.0 -> v12.0\t1/1 passed")

	code, out, _ = p.run(t, "report", "--format", "json")
	require.Equal(t, ExitPass, code)
	assert.Contains(t, out, `"overall_pass": true`)
}

func TestRun_FailExitCode(t *testing.T) {
	p := newProject(t, config.BackendBolt, "alu: 0.150s, 2 errors\n")

	code, out, errOut := p.run(t, "run")
	assert.Equal(t, ExitFail, code)
	assert.Contains(t, out, "VERDICT\tFAIL")
	assert.Contains(t, out, "FAILURE\talu: error_count = 2 violates threshold <= 0 (lower_is_better)")
	assert.NotContains(t, errOut, "Error:")
}

func TestReport_Rescore(t *testing.T) {
	p := newProject(t, config.BackendNone, "alu: 1.500s, 0 errors\n")

	code, _, _ := p.run(t, "run")
	require.Equal(t, ExitFail, code, "1500ms exceeds the default latency threshold")

	s, err := config.Load(p.settings)
	require.NoError(t, err)
	s.Thresholds[metrics.LatencyMS] = 2000
	require.NoError(t, config.Save(p.settings, s))

	code, out, errOut := p.run(t, "report", "--rescore")
	require.Equal(t, ExitPass, code, errOut)
	assert.Contains(t, out, "VERDICT\tPASS")
}

func TestHistoryDisabled(t *testing.T) {
	p := newProject(t, config.BackendNone, "alu: 0.1s, 0 errors\n")
	code, _, errOut := p.run(t, "history")
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, errOut, "run history is disabled")
}

func TestValidate(t *testing.T) {
	p := newProject(t, config.BackendNone, "alu: 0.1s, 0 errors\n")
	code, out, errOut := p.run(t, "validate")
	require.Equal(t, ExitPass, code, errOut)
	assert.Contains(t, out, "OK: settings:")
	assert.Contains(t, out, "OK: metrics:")
	assert.Contains(t, out, "OK: sim_new aggregated log")

	require.NoError(t, os.Remove(filepath.Join(p.dir, "sim_new", "aggregated.log")))
	code, out, _ = p.run(t, "validate")
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, out, "ERROR: sim_new aggregated log")
}

func TestConfigErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Main(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "run"}, &stdout, &stderr)
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, stderr.String(), "read settings")

	path := filepath.Join(t.TempDir(), config.DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("project: x\n"), 0o644))
	stderr.Reset()
	code = Main(context.Background(), []string{"--config", path, "run"}, &stdout, &stderr)
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, stderr.String(), "OldVersion is required")

	p := newProject(t, config.BackendNone, "alu: 0.1s, 0 errors\n")
	code, _, errOut := p.run(t, "--log-level", "chatty", "run")
	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, errOut, "unknown log level")
}

func TestGraph(t *testing.T) {
	p := newProject(t, config.BackendNone, "alu: 0.1s, 0 errors\n")
	code, out, errOut := p.run(t, "graph")
	require.Equal(t, ExitPass, code, errOut)
	assert.Contains(t, out, "digraph metrics")
	assert.Contains(t, out, metrics.LatencyMS)
}

func TestInitAndVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proj", config.DefaultFile)
	var stdout, stderr bytes.Buffer
	code := Main(context.Background(), []string{"--config", path, "--output", "machine", "init", "counter", "--old", "1.0.0", "--new", "1.1.0"}, &stdout, &stderr)
	require.Equal(t, ExitPass, code, stderr.String())
	assert.Contains(t, stdout.String(), "OK: created")

	s, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "counter", s.Project)

	stdout.Reset()
	code = Main(context.Background(), []string{"--config", path, "--output", "machine", "init", "other", "--old", "1", "--new", "2"}, &stdout, &stderr)
	require.Equal(t, ExitPass, code)
	assert.Contains(t, stdout.String(), "WARN:")

	stdout.Reset()
	code = Main(context.Background(), []string{"version"}, &stdout, &stderr)
	assert.Equal(t, ExitPass, code)
	assert.Equal(t, "vercheck dev\n", stdout.String())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitPass, exitCode(nil))
	assert.Equal(t, ExitFail, exitCode(ErrVerdictFailed))
	assert.Equal(t, ExitConfig, exitCode(config.ErrInvalid))
	assert.Equal(t, ExitConfig, exitCode(assert.AnError))
}
