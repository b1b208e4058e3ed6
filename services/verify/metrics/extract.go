// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/vercheck/services/verify/waveform"
)

// ErrNilContext is returned when a nil context is passed.
var ErrNilContext = errors.New("context must not be nil")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	// Concurrency bounds how many test cases are extracted at once.
	// 1 extracts sequentially.
	Concurrency int

	// Logger receives per-metric warnings at debug level.
	Logger *slog.Logger
}

// DefaultExtractorConfig returns defaults: one worker per CPU.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Concurrency: runtime.NumCPU(),
		Logger:      slog.Default(),
	}
}

// ExtractorOption configures the extractor.
type ExtractorOption func(*ExtractorConfig)

// WithConcurrency sets the worker limit. Values below 1 are ignored.
func WithConcurrency(n int) ExtractorOption {
	return func(c *ExtractorConfig) {
		if n >= 1 {
			c.Concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ExtractorOption {
	return func(c *ExtractorConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// -----------------------------------------------------------------------------
// Extractor
// -----------------------------------------------------------------------------

// RunInput describes the artifacts of one run.
type RunInput struct {
	Run       RunSide
	TestCases []string

	// ArtifactDir holds the run's waveform files.
	ArtifactDir string

	// PeerArtifactDir is the other run's artifact directory.
	PeerArtifactDir string

	// Log is the aggregated run log.
	Log string

	// Logs holds per-test-case logs. An entry is appended to Log for its
	// test case and also passed on its own as Input.TestCaseLog.
	Logs map[string]string

	// Waveforms memoizes parsed waveforms. May be nil.
	Waveforms *waveform.Cache
}

// RunResult holds the records of one run.
type RunResult struct {
	Run RunSide

	// Records maps test case name to its record.
	Records map[string]*Record

	// Warnings lists defaulted metrics, ordered by test case then
	// evaluation order.
	Warnings []Warning

	// Schema is the registry's metric names in declaration order.
	Schema []string

	Duration time.Duration
}

// Extractor runs every registered metric over every test case of a run.
//
// Thread Safety: Safe for concurrent use once the registry is sealed.
type Extractor struct {
	registry *Registry
	config   ExtractorConfig
}

// NewExtractor creates an extractor over a registry.
func NewExtractor(registry *Registry, opts ...ExtractorOption) *Extractor {
	cfg := DefaultExtractorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Extractor{registry: registry, config: cfg}
}

// Run extracts a record for each test case.
//
// Description:
//
//	Test cases are extracted in parallel up to the configured concurrency.
//	Each test case only reads its own artifacts and writes its own record;
//	results are joined after every worker finishes.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	in - The run's artifacts and test case list.
//
// Outputs:
//
//	*RunResult - One record per test case. Metric failures are warnings.
//	error - ErrNotSealed, ErrNilContext, or the context's error.
//
// Thread Safety: Safe for concurrent use.
func (e *Extractor) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if !e.registry.Sealed() {
		return nil, ErrNotSealed
	}

	start := time.Now()
	defs := e.registry.EvaluationOrder()

	testcases := append([]string(nil), in.TestCases...)
	sort.Strings(testcases)

	records := make([]*Record, len(testcases))
	warnings := make([][]Warning, len(testcases))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)

	for i, tc := range testcases {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			records[i], warnings[i] = e.extract(gCtx, in, tc, defs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extract %s run: %w", in.Run, err)
	}

	result := &RunResult{
		Run:      in.Run,
		Records:  make(map[string]*Record, len(testcases)),
		Schema:   e.registry.Names(),
		Duration: time.Since(start),
	}
	for i, tc := range testcases {
		result.Records[tc] = records[i]
		result.Warnings = append(result.Warnings, warnings[i]...)
	}

	e.config.Logger.Info("extraction complete",
		slog.String("run", string(in.Run)),
		slog.Int("testcases", len(testcases)),
		slog.Int("metrics", len(defs)),
		slog.Int("warnings", len(result.Warnings)),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// ExtractTestCase extracts a single test case.
func (e *Extractor) ExtractTestCase(ctx context.Context, in RunInput, testcase string) (*Record, []Warning, error) {
	if !e.registry.Sealed() {
		return nil, nil, ErrNotSealed
	}
	rec, warns := e.extract(ctx, in, testcase, e.registry.EvaluationOrder())
	return rec, warns, nil
}

func (e *Extractor) extract(ctx context.Context, in RunInput, tc string, defs []Definition) (*Record, []Warning) {
	rec := NewRecord(tc, in.Run)
	log := in.Log
	own := in.Logs[tc]
	if own != "" {
		if log == "" {
			log = own
		} else {
			log = log + "\n" + own
		}
	}

	input := Input{
		TestCase:        tc,
		Run:             in.Run,
		ArtifactDir:     in.ArtifactDir,
		PeerArtifactDir: in.PeerArtifactDir,
		Log:             log,
		TestCaseLog:     own,
		Waveforms:       in.Waveforms,
		Values:          rec.Values,
	}

	var warnings []Warning
	for _, def := range defs {
		v, err := def.Extract(ctx, input)
		if err != nil {
			v = def.Default
			rec.Defaulted[def.Name] = true
			warnings = append(warnings, Warning{TestCase: tc, Run: in.Run, Metric: def.Name, Err: err})
			e.config.Logger.Debug("metric defaulted",
				slog.String("testcase", tc),
				slog.String("run", string(in.Run)),
				slog.String("metric", def.Name),
				slog.String("error", err.Error()),
			)
		}
		rec.Values[def.Name] = v
	}
	return rec, warnings
}
