// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs a full verification: read both runs' artifacts,
// extract metrics, decide the verdict, write reports, then persist, publish
// and record telemetry.
//
// Each run lives in its own simulation directory:
//
//	<sim>/aggregated.log     one summary line per test case
//	<sim>/<testcase>.log     optional per-test-case log
//	<sim>/<testcase>.vcd     optional waveform dump
//
// The verdict is final before anything leaves the process. Publisher and
// history failures are reported as warnings.
package pipeline

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/vercheck/services/verify/metrics"
	"github.com/AleutianAI/vercheck/services/verify/publish"
	"github.com/AleutianAI/vercheck/services/verify/report"
	"github.com/AleutianAI/vercheck/services/verify/scoreboard"
	"github.com/AleutianAI/vercheck/services/verify/storage"
	"github.com/AleutianAI/vercheck/services/verify/telemetry"
)

var (
	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilRegistry is returned by New without a registry.
	ErrNilRegistry = errors.New("registry must not be nil")

	// ErrMissingDirectory is returned when a required directory is unset.
	ErrMissingDirectory = errors.New("directory not configured")
)

// AggregatedLog is the per-run summary log name.
const AggregatedLog = "aggregated.log"

// DefaultCacheSize bounds the shared waveform cache.
const DefaultCacheSize = 64

// Config describes where a run's inputs and outputs live.
type Config struct {
	Project    string
	OldVersion string
	NewVersion string

	// OldDir and NewDir are the simulation directories of each run.
	OldDir string
	NewDir string

	// TmpDir receives the metrics table.
	TmpDir string

	// ReportsDir receives one subdirectory per run.
	ReportsDir string

	// ExpectedTestCases are always extracted for the old run, so one the
	// new run never produced is reported missing.
	ExpectedTestCases []string

	// Concurrency bounds parallel extraction within one run.
	Concurrency int
}

func (c Config) validate() error {
	for name, dir := range map[string]string{
		"sim_old": c.OldDir,
		"sim_new": c.NewDir,
		"tmp":     c.TmpDir,
		"reports": c.ReportsDir,
	} {
		if dir == "" {
			return fmtDirErr(name)
		}
	}
	return nil
}

// Pipeline runs verifications with one registry.
//
// Thread Safety: Run may be called concurrently only with distinct
// ReportsDir and TmpDir configurations.
type Pipeline struct {
	cfg        Config
	registry   *metrics.Registry
	scoreboard *scoreboard.Scoreboard

	store       storage.Store
	instruments *telemetry.Instruments
	textfile    *telemetry.TextfileSink
	textPath    string
	publishers  []publish.Publisher

	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore persists each run to a history store.
func WithStore(s storage.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithInstruments records each run on otel instruments.
func WithInstruments(in *telemetry.Instruments) Option {
	return func(p *Pipeline) { p.instruments = in }
}

// WithTextfile writes verdict gauges to path after each run.
func WithTextfile(sink *telemetry.TextfileSink, path string) Option {
	return func(p *Pipeline) {
		p.textfile = sink
		p.textPath = path
	}
}

// WithPublishers adds publishers run after the reports are written.
func WithPublishers(pubs ...publish.Publisher) Option {
	return func(p *Pipeline) { p.publishers = append(p.publishers, pubs...) }
}

// WithScoreboard replaces the default scoreboard.
func WithScoreboard(sb *scoreboard.Scoreboard) Option {
	return func(p *Pipeline) {
		if sb != nil {
			p.scoreboard = sb
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock sets the time source used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(newID func() string) Option {
	return func(p *Pipeline) {
		if newID != nil {
			p.newID = newID
		}
	}
}

// New creates a pipeline. The registry is sealed on the first Run.
func New(cfg Config, registry *metrics.Registry, opts ...Option) (*Pipeline, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:      cfg,
		registry: registry,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.scoreboard == nil {
		p.scoreboard = scoreboard.New(scoreboard.WithLogger(p.logger))
	}
	return p, nil
}

// Registry returns the pipeline's metric registry.
func (p *Pipeline) Registry() *metrics.Registry {
	return p.registry
}

// Result is the outcome of one Run.
type Result struct {
	RunID     string
	Document  *report.Document
	Verdict   *scoreboard.Verdict
	Old       *metrics.RunResult
	New       *metrics.RunResult
	ReportDir string

	// Files are the written report files and the metrics table.
	Files    []string
	Duration time.Duration
}

// Pass reports the overall verdict.
func (r *Result) Pass() bool {
	return r != nil && r.Document != nil && r.Document.OverallPass
}
