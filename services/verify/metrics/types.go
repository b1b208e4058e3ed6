// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics provides the metric registry and the extraction framework
// that turns a test case's log text and waveform artifacts into a Record.
//
// # Registration
//
// A Definition pairs descriptive fields (label, kind, direction, optional
// threshold) with an ExtractFunc. Definitions are registered into an ordered
// Registry at startup; the registry is then sealed, which validates
// dependencies between derived metrics and fixes the evaluation order.
//
// # Extraction
//
// An Extractor runs every sealed definition over every test case of a run.
// Extraction never fails a test case: an ExtractFunc error becomes the
// definition's Default value plus a Warning.
package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/vercheck/services/verify/waveform"
)

// -----------------------------------------------------------------------------
// Kind and Direction
// -----------------------------------------------------------------------------

// Kind distinguishes observed metrics from computed ones.
type Kind int

const (
	// Measured metrics are read directly from artifacts.
	Measured Kind = iota

	// Derived metrics are computed from other metrics.
	Derived
)

// String returns the configuration spelling of the kind.
func (k Kind) String() string {
	if k == Derived {
		return "derived"
	}
	return "measured"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "measured", "":
		*k = Measured
	case "derived":
		*k = Derived
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDefinition, b)
	}
	return nil
}

// Direction says which way a metric improves.
type Direction int

const (
	// LowerIsBetter metrics fail when the new value exceeds the threshold.
	LowerIsBetter Direction = iota

	// HigherIsBetter metrics fail when the new value is below the threshold.
	HigherIsBetter

	// Neutral metrics are never judged.
	Neutral
)

// String returns the configuration spelling of the direction.
func (d Direction) String() string {
	switch d {
	case HigherIsBetter:
		return "higher_is_better"
	case Neutral:
		return "neutral"
	default:
		return "lower_is_better"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Short forms "lower"
// and "higher" are accepted.
func (d *Direction) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "lower_is_better", "lower", "":
		*d = LowerIsBetter
	case "higher_is_better", "higher":
		*d = HigherIsBetter
	case "neutral":
		*d = Neutral
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidDefinition, b)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Runs and inputs
// -----------------------------------------------------------------------------

// RunSide identifies which version a record was extracted from.
type RunSide string

const (
	RunOld RunSide = "old"
	RunNew RunSide = "new"
)

// Input is everything an ExtractFunc may read for one test case.
type Input struct {
	// TestCase is the test case name.
	TestCase string

	// Run is the side being extracted.
	Run RunSide

	// ArtifactDir holds the run's waveform files.
	ArtifactDir string

	// PeerArtifactDir is the other run's artifact directory, used by
	// comparison metrics. Empty when there is no peer.
	PeerArtifactDir string

	// Log is the aggregated log of the whole run, followed by the test
	// case's own log when the driver wrote one.
	Log string

	// TestCaseLog is the test case's own log alone. Empty when the driver
	// wrote none.
	TestCaseLog string

	// Waveforms memoizes parsed waveforms for the run. May be nil.
	Waveforms *waveform.Cache

	// Values holds the metrics already computed for this test case, in
	// evaluation order. Derived metrics read their dependencies here.
	Values map[string]float64
}

// ExtractFunc computes one metric value for a test case.
//
// Implementations return an error when their source data is absent or
// unreadable; the Extractor turns that error into the definition's Default.
type ExtractFunc func(ctx context.Context, in Input) (float64, error)

// -----------------------------------------------------------------------------
// Definition
// -----------------------------------------------------------------------------

// Definition describes one metric.
type Definition struct {
	// Name is the unique key, also used as a report column.
	Name string

	// Label is the display name.
	Label string

	// Description is free text shown in the graph and schema output.
	Description string

	Kind      Kind
	Direction Direction

	// Threshold is nil for informational metrics.
	Threshold *float64

	// Default is recorded when extraction fails.
	Default float64

	// Mandatory metrics always participate in the overall verdict.
	Mandatory bool

	// DependsOn lists metrics that must be evaluated first.
	DependsOn []string

	// Formula is the expression source of a derived metric, if any.
	Formula string

	// Extract computes the value.
	Extract ExtractFunc
}

// HasThreshold reports whether a threshold is configured.
func (d Definition) HasThreshold() bool {
	return d.Threshold != nil
}

// Judged reports whether the scoreboard evaluates this metric.
func (d Definition) Judged() bool {
	return d.Threshold != nil && d.Direction != Neutral
}

// DisplayLabel returns Label, falling back to Name.
func (d Definition) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Name
}

// Threshold returns a pointer to v for use in Definition literals.
func Threshold(v float64) *float64 {
	return &v
}

// -----------------------------------------------------------------------------
// Records and warnings
// -----------------------------------------------------------------------------

// Record holds the metric values of one test case within one run.
//
// A Record is built by the Extractor and not modified afterwards.
type Record struct {
	TestCase string             `json:"testcase"`
	Run      RunSide            `json:"run"`
	Values   map[string]float64 `json:"values"`

	// Defaulted names the metrics whose value is a default after a failed
	// extraction.
	Defaulted map[string]bool `json:"defaulted,omitempty"`
}

// NewRecord creates an empty record.
func NewRecord(testcase string, run RunSide) *Record {
	return &Record{
		TestCase:  testcase,
		Run:       run,
		Values:    make(map[string]float64),
		Defaulted: make(map[string]bool),
	}
}

// Get returns the value of a metric and whether it was recorded.
func (r *Record) Get(name string) (float64, bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r.Values[name]
	return v, ok
}

// Available reports whether name was recorded from real data rather than
// defaulted.
func (r *Record) Available(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Values[name]
	return ok && !r.Defaulted[name]
}

// Warning records a metric that fell back to its default.
type Warning struct {
	TestCase string
	Run      RunSide
	Metric   string
	Err      error
}

// String formats the warning for a verdict's warning list.
func (w Warning) String() string {
	return fmt.Sprintf("%s [%s] %s unavailable: %v", w.TestCase, w.Run, w.Metric, w.Err)
}
