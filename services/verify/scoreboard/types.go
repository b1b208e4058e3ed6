// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scoreboard decides pass or fail for an old-versus-new pair of runs.
//
// Each metric of each test case is judged against its threshold in the
// direction it improves; test cases the new run never produced fail
// outright. Output ordering is fixed (test cases by name, metrics in
// registry order) so identical inputs give identical verdicts.
package scoreboard

import (
	"github.com/AleutianAI/vercheck/services/verify/metrics"
)

// MissingTestCaseMessage is the failure text for a test case absent from
// the new run.
const MissingTestCaseMessage = "test case missing from new run"

// MissingMetricMessage is the failure text for a metric the old run
// recorded and the new run did not.
const MissingMetricMessage = "metric missing from new run"

// MetricVerdict is the judgement of one metric of one test case.
type MetricVerdict struct {
	Metric    string
	Label     string
	Direction metrics.Direction
	Threshold *float64
	Mandatory bool

	Old    float64
	New    float64
	HasOld bool
	HasNew bool

	// Delta is New - Old when both are present.
	Delta float64

	// Pass is false only for a violated threshold or a missing value.
	Pass bool

	// Informational metrics have no threshold and never fail.
	Informational bool

	// Defaulted is true when the new value is a default after a failed
	// extraction.
	Defaulted bool

	// Message describes the failure; empty on pass.
	Message string
}

// Comparison joins one test case across both runs.
type Comparison struct {
	TestCase string
	Old      *metrics.Record
	New      *metrics.Record
	Metrics  []MetricVerdict

	// Similarity is the waveform similarity when both runs had a waveform.
	Similarity *float64

	// Missing is true when the new run produced no record.
	Missing bool

	Pass bool
}

// Verdict is the outcome of a whole pipeline run.
type Verdict struct {
	Pass bool

	// Failures lists violated thresholds and missing test cases in
	// deterministic order.
	Failures []string

	// Warnings lists metrics that were unavailable, kept apart from
	// failures.
	Warnings []string

	Total  int
	Passed int
	Failed int

	Comparisons []Comparison
}

// Comparison returns the comparison for a test case.
func (v *Verdict) Comparison(testcase string) (Comparison, bool) {
	for _, c := range v.Comparisons {
		if c.TestCase == testcase {
			return c, true
		}
	}
	return Comparison{}, false
}
