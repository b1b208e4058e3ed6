// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package waveform parses value-change-dump (VCD) waveform files and scores
// the behavioral similarity of two parsed waveforms.
//
// # Parsing
//
// Parse reads a file in two phases. The header phase collects every $var
// declaration into a flat signal table keyed by short code; $scope and
// $upscope are tracked only to validate nesting. The body phase turns every
// value-change line into a Change stamped with the most recent #<time>
// marker. Value lines that cannot be interpreted are skipped and counted on
// the returned Waveform rather than failing the parse.
//
// # Thread Safety
//
// A Waveform is immutable once Parse returns and may be shared freely.
// Cache is safe for concurrent use.
package waveform

import (
	"errors"
	"fmt"
)

// Sentinel errors for waveform operations.
var (
	// ErrNoDefinitions is returned when the header never reaches $enddefinitions.
	ErrNoDefinitions = errors.New("missing $enddefinitions")

	// ErrNoSignals is returned when the header declares no $var entries.
	ErrNoSignals = errors.New("no signal declarations")

	// ErrUnbalancedScope is returned for $upscope without a matching $scope,
	// or a $scope left open at $enddefinitions.
	ErrUnbalancedScope = errors.New("unbalanced scope markers")

	// ErrDuplicateCode is returned when two $var entries share a short code.
	ErrDuplicateCode = errors.New("duplicate signal code")

	// ErrBadDeclaration is returned for a $var line with too few fields or a
	// non-numeric width.
	ErrBadDeclaration = errors.New("malformed $var declaration")
)

// MalformedWaveformError reports a header that could not be decoded.
//
// It is fatal for the one waveform being parsed. Callers extracting metrics
// convert it into a default value plus a warning.
type MalformedWaveformError struct {
	// Path is the source file, or the name passed to ParseReader.
	Path string

	// Line is the 1-based physical line where decoding failed, 0 when the
	// problem was only detectable at end of input.
	Line int

	// Err is one of the sentinel errors above.
	Err error
}

// Error implements the error interface.
func (e *MalformedWaveformError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed waveform %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("malformed waveform %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *MalformedWaveformError) Unwrap() error {
	return e.Err
}

// MissingArtifactError reports an expected log or waveform that is absent.
type MissingArtifactError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("missing artifact %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying filesystem error, so errors.Is(err,
// fs.ErrNotExist) holds for absent files.
func (e *MissingArtifactError) Unwrap() error {
	return e.Err
}
