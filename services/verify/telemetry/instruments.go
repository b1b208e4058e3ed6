// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/vercheck/services/verify/report"
)

// MeterName is the instrumentation scope of vercheck's instruments.
const MeterName = "github.com/AleutianAI/vercheck/services/verify"

// Instruments records pipeline runs.
//
// Description:
//
//	All instruments carry a "project" attribute. Test case counters add
//	"status" (pass, fail, missing) so pass rates can be graphed per
//	project without one series per test case.
//
// Thread Safety: Safe for concurrent use after creation.
type Instruments struct {
	RunsTotal      metric.Int64Counter
	RunDuration    metric.Float64Histogram
	TestCasesTotal metric.Int64Counter
	FailuresTotal  metric.Int64Counter
	WarningsTotal  metric.Int64Counter
	DefaultedTotal metric.Int64Counter
	PublishErrors  metric.Int64Counter
}

// NewInstruments registers the run instruments on meter. A nil meter uses
// the global meter provider.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	in := &Instruments{}
	var err error

	if in.RunsTotal, err = meter.Int64Counter(
		"vercheck_runs_total",
		metric.WithDescription("Completed verification runs by verdict"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	if in.RunDuration, err = meter.Float64Histogram(
		"vercheck_run_duration_seconds",
		metric.WithDescription("Wall time of a verification run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	); err != nil {
		return nil, fmt.Errorf("create run_duration: %w", err)
	}

	if in.TestCasesTotal, err = meter.Int64Counter(
		"vercheck_testcases_total",
		metric.WithDescription("Compared test cases by status"),
		metric.WithUnit("{testcase}"),
	); err != nil {
		return nil, fmt.Errorf("create testcases_total: %w", err)
	}

	if in.FailuresTotal, err = meter.Int64Counter(
		"vercheck_failures_total",
		metric.WithDescription("Threshold violations and missing test cases"),
		metric.WithUnit("{failure}"),
	); err != nil {
		return nil, fmt.Errorf("create failures_total: %w", err)
	}

	if in.WarningsTotal, err = meter.Int64Counter(
		"vercheck_warnings_total",
		metric.WithDescription("Run warnings (unavailable metrics, missing logs)"),
		metric.WithUnit("{warning}"),
	); err != nil {
		return nil, fmt.Errorf("create warnings_total: %w", err)
	}

	if in.DefaultedTotal, err = meter.Int64Counter(
		"vercheck_defaulted_metrics_total",
		metric.WithDescription("Metric values replaced by their default"),
		metric.WithUnit("{metric}"),
	); err != nil {
		return nil, fmt.Errorf("create defaulted_metrics_total: %w", err)
	}

	if in.PublishErrors, err = meter.Int64Counter(
		"vercheck_publish_errors_total",
		metric.WithDescription("Publisher failures by publisher"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, fmt.Errorf("create publish_errors_total: %w", err)
	}

	return in, nil
}

// RecordRun records one finished run described by doc.
func (in *Instruments) RecordRun(ctx context.Context, doc *report.Document, elapsed time.Duration) {
	if in == nil || doc == nil {
		return
	}
	project := attribute.String("project", doc.Project)
	in.RunsTotal.Add(ctx, 1, metric.WithAttributes(project, attribute.Bool("pass", doc.OverallPass)))
	in.RunDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(project))

	counts := map[string]int64{}
	var defaulted int64
	for _, tc := range doc.TestCases {
		switch {
		case tc.Missing:
			counts["missing"]++
		case tc.Pass:
			counts["pass"]++
		default:
			counts["fail"]++
		}
		for _, m := range tc.Metrics {
			if m.Defaulted {
				defaulted++
			}
		}
	}
	for _, status := range []string{"pass", "fail", "missing"} {
		if n := counts[status]; n > 0 {
			in.TestCasesTotal.Add(ctx, n, metric.WithAttributes(project, attribute.String("status", status)))
		}
	}
	if n := int64(len(doc.Messages)); n > 0 {
		in.FailuresTotal.Add(ctx, n, metric.WithAttributes(project))
	}
	if n := int64(len(doc.Warnings)); n > 0 {
		in.WarningsTotal.Add(ctx, n, metric.WithAttributes(project))
	}
	if defaulted > 0 {
		in.DefaultedTotal.Add(ctx, defaulted, metric.WithAttributes(project))
	}
}

// RecordPublishError counts a failed publisher.
func (in *Instruments) RecordPublishError(ctx context.Context, publisher string) {
	if in == nil {
		return
	}
	in.PublishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("publisher", publisher)))
}
