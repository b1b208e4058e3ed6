// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package waveform

import (
	"fmt"
	"sort"
)

// Compare scores how closely two waveforms behave, in [0.0, 1.0].
//
// Description:
//
//	For every display name in the union of both signal sets, the deduplicated
//	value sequences are compared with a longest-common-subsequence ratio
//	2*LCS/(len(a)+len(b)). A name present on only one side scores 0. The
//	result is the mean over the union.
//
//	Waveforms sharing no signal names score exactly 0.0. Waveforms with
//	identical change streams score exactly 1.0. Event order within a single
//	timestamp is significant.
//
// Inputs:
//
//	a, b - Parsed waveforms. A nil waveform shares no signals.
//
// Outputs:
//
//	float64 - Similarity; Compare(a, b) == Compare(b, a).
//
// Thread Safety: Safe for concurrent use.
func Compare(a, b *Waveform) float64 {
	if a == nil || b == nil {
		return 0.0
	}

	namesA, namesB := a.SignalNames(), b.SignalNames()
	inB := make(map[string]struct{}, len(namesB))
	for _, n := range namesB {
		inB[n] = struct{}{}
	}

	union := make(map[string]struct{}, len(namesA)+len(namesB))
	var shared []string
	for _, n := range namesA {
		union[n] = struct{}{}
		if _, ok := inB[n]; ok {
			shared = append(shared, n)
		}
	}
	for _, n := range namesB {
		union[n] = struct{}{}
	}
	if len(shared) == 0 {
		return 0.0
	}

	// Summing in sorted order keeps the float result independent of argument order.
	sort.Strings(shared)
	var total float64
	for _, n := range shared {
		total += sequenceRatio(a.Values(n), b.Values(n))
	}
	return clamp(total / float64(len(union)))
}

// CompareFiles parses both paths and returns their similarity.
func CompareFiles(oldPath, newPath string) (float64, error) {
	a, err := Parse(oldPath)
	if err != nil {
		return 0, fmt.Errorf("parse old waveform: %w", err)
	}
	b, err := Parse(newPath)
	if err != nil {
		return 0, fmt.Errorf("parse new waveform: %w", err)
	}
	return Compare(a, b), nil
}

// CountSignals returns the declared signal count, 0 for nil.
func CountSignals(w *Waveform) int {
	if w == nil {
		return 0
	}
	return w.SignalCount()
}

// CountLines returns the physical line count of the source, 0 for nil.
func CountLines(w *Waveform) int {
	if w == nil {
		return 0
	}
	return w.Lines()
}

// sequenceRatio returns 2*LCS/(len(a)+len(b)). Two empty sequences are
// identical and score 1.
func sequenceRatio(a, b []string) float64 {
	if len(a)+len(b) == 0 {
		return 1.0
	}
	return clamp(2 * float64(lcsLength(a, b)) / float64(len(a)+len(b)))
}

// lcsLength is the classic two-row dynamic program.
func lcsLength(a, b []string) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
