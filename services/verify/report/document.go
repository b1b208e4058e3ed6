// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report assembles the comparison document for a pair of runs and
// renders it as JSON or Markdown.
//
// The Document type is the external contract: its JSON field names are
// stable and other tools parse them. Rendering is a presentation concern
// layered on top.
package report

import (
	"errors"
	"time"

	"github.com/AleutianAI/vercheck/services/verify/metrics"
	"github.com/AleutianAI/vercheck/services/verify/scoreboard"
)

// ErrNilVerdict is returned when building a document without a verdict.
var ErrNilVerdict = errors.New("verdict must not be nil")

// Meta identifies the run a document describes.
type Meta struct {
	Project     string
	OldVersion  string
	NewVersion  string
	RunID       string
	GeneratedAt time.Time
}

// SchemaEntry describes one metric column.
type SchemaEntry struct {
	Name      string   `json:"name"`
	Label     string   `json:"label"`
	Kind      string   `json:"kind"`
	Direction string   `json:"direction"`
	Threshold *float64 `json:"threshold"`
	Mandatory bool     `json:"mandatory,omitempty"`
}

// MetricRow is one metric of one test case. Old, New and Delta are null
// when the value is absent on a side.
type MetricRow struct {
	Name          string   `json:"name"`
	Old           *float64 `json:"old"`
	New           *float64 `json:"new"`
	Delta         *float64 `json:"delta"`
	Pass          bool     `json:"pass"`
	Informational bool     `json:"informational,omitempty"`
	Defaulted     bool     `json:"defaulted,omitempty"`
}

// TestCaseRow is one test case of the comparison table.
type TestCaseRow struct {
	Name       string      `json:"name"`
	Pass       bool        `json:"pass"`
	Missing    bool        `json:"missing,omitempty"`
	Similarity *float64    `json:"similarity,omitempty"`
	Metrics    []MetricRow `json:"metrics"`
}

// Summary counts test cases by outcome.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Document is the comparison report.
type Document struct {
	Project     string        `json:"project"`
	OldVersion  string        `json:"old_version"`
	NewVersion  string        `json:"new_version"`
	GeneratedAt time.Time     `json:"generated_at"`
	RunID       string        `json:"run_id,omitempty"`
	OverallPass bool          `json:"overall_pass"`
	Schema      []SchemaEntry `json:"schema"`
	TestCases   []TestCaseRow `json:"testcases"`
	Messages    []string      `json:"messages"`
	Warnings    []string      `json:"warnings"`
	Summary     Summary       `json:"summary"`
}

// Build assembles a document from a verdict.
//
// Description:
//
//	The schema follows defs in registry declaration order, and each test
//	case lists its metrics in the same order. Failure messages and
//	warnings are copied from the verdict unchanged.
//
// Inputs:
//
//	meta - Run identification. A zero GeneratedAt is set to now (UTC).
//	defs - Registry definitions.
//	verdict - The scoreboard's verdict. Must not be nil.
//
// Outputs:
//
//	*Document - The report.
//	error - ErrNilVerdict.
func Build(meta Meta, defs []metrics.Definition, verdict *scoreboard.Verdict) (*Document, error) {
	if verdict == nil {
		return nil, ErrNilVerdict
	}
	generated := meta.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}

	doc := &Document{
		Project:     meta.Project,
		OldVersion:  meta.OldVersion,
		NewVersion:  meta.NewVersion,
		GeneratedAt: generated,
		RunID:       meta.RunID,
		OverallPass: verdict.Pass,
		Schema:      SchemaOf(defs),
		TestCases:   make([]TestCaseRow, 0, len(verdict.Comparisons)),
		Messages:    append([]string{}, verdict.Failures...),
		Warnings:    append([]string{}, verdict.Warnings...),
		Summary: Summary{
			Total:  verdict.Total,
			Passed: verdict.Passed,
			Failed: verdict.Failed,
		},
	}

	for _, c := range verdict.Comparisons {
		row := TestCaseRow{
			Name:       c.TestCase,
			Pass:       c.Pass,
			Missing:    c.Missing,
			Similarity: c.Similarity,
			Metrics:    make([]MetricRow, 0, len(c.Metrics)),
		}
		for _, mv := range c.Metrics {
			mr := MetricRow{
				Name:          mv.Metric,
				Pass:          mv.Pass,
				Informational: mv.Informational,
				Defaulted:     mv.Defaulted,
			}
			if mv.HasOld {
				mr.Old = ptr(mv.Old)
			}
			if mv.HasNew {
				mr.New = ptr(mv.New)
			}
			if mv.HasOld && mv.HasNew {
				mr.Delta = ptr(mv.Delta)
			}
			row.Metrics = append(row.Metrics, mr)
		}
		doc.TestCases = append(doc.TestCases, row)
	}
	return doc, nil
}

// SchemaOf converts definitions to schema entries.
func SchemaOf(defs []metrics.Definition) []SchemaEntry {
	out := make([]SchemaEntry, 0, len(defs))
	for _, d := range defs {
		out = append(out, SchemaEntry{
			Name:      d.Name,
			Label:     d.DisplayLabel(),
			Kind:      d.Kind.String(),
			Direction: d.Direction.String(),
			Threshold: d.Threshold,
			Mandatory: d.Mandatory,
		})
	}
	return out
}

// Label returns the display label of a metric from the schema, falling
// back to its name.
func (d *Document) Label(metric string) string {
	for _, s := range d.Schema {
		if s.Name == metric && s.Label != "" {
			return s.Label
		}
	}
	return metric
}

func ptr(v float64) *float64 {
	return &v
}
