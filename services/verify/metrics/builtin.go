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
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/vercheck/services/verify/waveform"
)

// Built-in metric names.
const (
	LatencyMS          = "latency_ms"
	ErrorCount         = "error_count"
	WarningCount       = "warning_count"
	WaveformSignals    = "waveform_signals"
	WaveformLines      = "waveform_lines"
	WaveformSizeKB     = "waveform_size_kb"
	SignalTransitions  = "signal_transitions"
	WaveformSimilarity = "waveform_similarity"
)

// Default thresholds of the mandatory metrics.
const (
	DefaultLatencyThresholdMS = 1000
	DefaultErrorThreshold     = 0
)

// Builtins returns the built-in definitions in declaration order.
//
// latency_ms and error_count are mandatory. The waveform metrics read the
// first waveform in the run's artifact directory whose name matches the
// test case.
func Builtins() []Definition {
	return []Definition{
		{
			Name:      LatencyMS,
			Label:     "Latency (ms)",
			Direction: LowerIsBetter,
			Threshold: Threshold(DefaultLatencyThresholdMS),
			Mandatory: true,
			Extract:   logExtractor(`\b{testcase}:\s*([\d.]+)s`, secondsToMS),
		},
		{
			Name:      ErrorCount,
			Label:     "Errors",
			Direction: LowerIsBetter,
			Threshold: Threshold(DefaultErrorThreshold),
			Mandatory: true,
			Extract:   logExtractor(`\b{testcase}:.*?(\d+)\s*errors?`, parseCount),
		},
		{
			Name:      WarningCount,
			Label:     "Warnings",
			Direction: LowerIsBetter,
			Extract:   logExtractor(`\b{testcase}:.*?(\d+)\s*warnings?`, parseCount),
		},
		{
			Name:      WaveformSignals,
			Label:     "Waveform signals",
			Direction: Neutral,
			Extract: waveformExtractor(func(w *waveform.Waveform) float64 {
				return float64(waveform.CountSignals(w))
			}),
		},
		{
			Name:      WaveformLines,
			Label:     "Waveform lines",
			Direction: LowerIsBetter,
			Extract: waveformExtractor(func(w *waveform.Waveform) float64 {
				return float64(waveform.CountLines(w))
			}),
		},
		{
			Name:      WaveformSizeKB,
			Label:     "Waveform size (KB)",
			Direction: LowerIsBetter,
			Extract:   waveformSizeKB,
		},
		{
			Name:      SignalTransitions,
			Label:     "Signal transitions",
			Direction: Neutral,
			Extract: waveformExtractor(func(w *waveform.Waveform) float64 {
				return float64(w.EventCount())
			}),
		},
		{
			Name:      WaveformSimilarity,
			Label:     "Waveform similarity",
			Direction: HigherIsBetter,
			Extract:   waveformSimilarity,
		},
	}
}

// BuiltinOptions tunes NewDefaultRegistry.
type BuiltinOptions struct {
	// Thresholds overrides built-in thresholds by metric name. A negative
	// value removes the threshold of a non-mandatory metric.
	Thresholds map[string]float64

	// SkipWaveforms leaves out the waveform metrics, for tools that produce
	// no waveform dumps.
	SkipWaveforms bool
}

// waveformMetric reports whether a built-in reads waveform files.
func waveformMetric(name string) bool {
	switch name {
	case WaveformSignals, WaveformLines, WaveformSizeKB, SignalTransitions, WaveformSimilarity:
		return true
	}
	return false
}

// NewDefaultRegistry creates an unsealed registry holding the built-ins.
func NewDefaultRegistry(opts BuiltinOptions) (*Registry, error) {
	r := NewRegistry()
	for _, def := range Builtins() {
		if opts.SkipWaveforms && waveformMetric(def.Name) {
			continue
		}
		if v, ok := opts.Thresholds[def.Name]; ok {
			if v < 0 && !def.Mandatory {
				def.Threshold = nil
			} else {
				def.Threshold = Threshold(v)
			}
		}
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// -----------------------------------------------------------------------------
// Log extractors
// -----------------------------------------------------------------------------

// testcasePlaceholder is replaced with the quoted test case name.
const testcasePlaceholder = "{testcase}"

// logExtractor builds an extractor from a pattern containing
// testcasePlaceholder. The first capture group is converted.
func logExtractor(pattern string, convert func(string) (float64, error)) ExtractFunc {
	return func(_ context.Context, in Input) (float64, error) {
		expanded := strings.ReplaceAll(pattern, testcasePlaceholder, regexp.QuoteMeta(in.TestCase))
		re, err := regexp.Compile(expanded)
		if err != nil {
			return 0, err
		}
		m := re.FindStringSubmatch(in.Log)
		if m == nil {
			return 0, fmt.Errorf("%w for %s", ErrNoMatch, in.TestCase)
		}
		return convert(m[1])
	}
}

// secondsToMS converts a seconds figure to whole milliseconds, rounding to
// absorb binary float error (0.29s is 290ms, not 289).
func secondsToMS(s string) (float64, error) {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse seconds %q: %w", s, err)
	}
	return math.Round(secs * 1000), nil
}

func parseCount(s string) (float64, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", s, err)
	}
	return float64(n), nil
}

// RegexExtractor returns an extractor for a user pattern. "{testcase}" in
// the pattern is replaced with the quoted test case name; the first capture
// group must be a number.
func RegexExtractor(pattern string) (ExtractFunc, error) {
	if !strings.Contains(pattern, "(") {
		return nil, fmt.Errorf("%w: pattern %q has no capture group", ErrInvalidDefinition, pattern)
	}
	probe := strings.ReplaceAll(pattern, testcasePlaceholder, "tc")
	if _, err := regexp.Compile(probe); err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidDefinition, pattern, err)
	}
	return logExtractor(pattern, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	}), nil
}

// -----------------------------------------------------------------------------
// Waveform extractors
// -----------------------------------------------------------------------------

func loadWaveform(in Input, dir string) (*waveform.Waveform, error) {
	if dir == "" {
		return nil, &waveform.MissingArtifactError{Path: in.TestCase + waveform.Extension, Err: os.ErrNotExist}
	}
	path, err := waveform.FindForTestCase(dir, in.TestCase)
	if err != nil {
		return nil, err
	}
	return in.Waveforms.Parse(path)
}

func waveformExtractor(fn func(*waveform.Waveform) float64) ExtractFunc {
	return func(_ context.Context, in Input) (float64, error) {
		w, err := loadWaveform(in, in.ArtifactDir)
		if err != nil {
			return 0, err
		}
		return fn(w), nil
	}
}

func waveformSizeKB(_ context.Context, in Input) (float64, error) {
	if in.ArtifactDir == "" {
		return 0, &waveform.MissingArtifactError{Path: in.TestCase + waveform.Extension, Err: os.ErrNotExist}
	}
	path, err := waveform.FindForTestCase(in.ArtifactDir, in.TestCase)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, &waveform.MissingArtifactError{Path: path, Err: err}
	}
	return math.Round(float64(info.Size())/1024*100) / 100, nil
}

// waveformSimilarity compares this run's waveform with the peer run's.
// Compare is commutative, so both sides record the same score. Without a
// peer the metric is unavailable and takes its default.
func waveformSimilarity(_ context.Context, in Input) (float64, error) {
	if in.PeerArtifactDir == "" {
		return 0, ErrNoPeer
	}
	own, err := loadWaveform(in, in.ArtifactDir)
	if err != nil {
		return 0, err
	}
	peer, err := loadWaveform(in, in.PeerArtifactDir)
	if err != nil {
		return 0, err
	}
	return waveform.Compare(own, peer), nil
}
