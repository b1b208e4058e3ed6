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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/vercheck/services/verify/report"
)

// ErrNilDocument is returned when recording a nil document.
var ErrNilDocument = errors.New("document must not be nil")

// TextfileSink holds verdict gauges on a private registry and writes them
// in Prometheus text format.
//
// Each Record replaces the previous values for that project, so the file
// always describes the latest run.
//
// Thread Safety: Safe for concurrent use.
type TextfileSink struct {
	registry *prometheus.Registry

	pass        *prometheus.GaugeVec
	testcases   *prometheus.GaugeVec
	failures    *prometheus.GaugeVec
	warnings    *prometheus.GaugeVec
	lastRun     *prometheus.GaugeVec
	metricValue *prometheus.GaugeVec
	similarity  *prometheus.GaugeVec

	mu sync.Mutex
}

// NewTextfileSink creates a sink with its own registry.
func NewTextfileSink() (*TextfileSink, error) {
	s := &TextfileSink{registry: prometheus.NewRegistry()}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vercheck",
			Name:      name,
			Help:      help,
		}, labels)
	}

	s.pass = gauge("verdict_pass", "1 when the latest run passed", "project", "old_version", "new_version")
	s.testcases = gauge("testcases", "Test cases of the latest run by status", "project", "status")
	s.failures = gauge("failures", "Failure messages of the latest run", "project")
	s.warnings = gauge("warnings", "Warnings of the latest run", "project")
	s.lastRun = gauge("last_run_timestamp_seconds", "Generation time of the latest run", "project")
	s.metricValue = gauge("metric_value", "Metric value per test case and version", "project", "testcase", "metric", "version")
	s.similarity = gauge("waveform_similarity", "Waveform similarity per test case", "project", "testcase")

	for _, c := range []prometheus.Collector{
		s.pass, s.testcases, s.failures, s.warnings, s.lastRun, s.metricValue, s.similarity,
	} {
		if err := s.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register verdict gauge: %w", err)
		}
	}
	return s, nil
}

// Registry exposes the sink's registry, e.g. for promhttp.HandlerFor.
func (s *TextfileSink) Registry() *prometheus.Registry {
	return s.registry
}

// Record replaces the project's gauges with the values of doc.
func (s *TextfileSink) Record(doc *report.Document) error {
	if doc == nil {
		return ErrNilDocument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	project := prometheus.Labels{"project": doc.Project}
	for _, g := range []*prometheus.GaugeVec{s.pass, s.testcases, s.metricValue, s.similarity} {
		g.DeletePartialMatch(project)
	}

	pass := 0.0
	if doc.OverallPass {
		pass = 1
	}
	s.pass.WithLabelValues(doc.Project, doc.OldVersion, doc.NewVersion).Set(pass)
	s.failures.WithLabelValues(doc.Project).Set(float64(len(doc.Messages)))
	s.warnings.WithLabelValues(doc.Project).Set(float64(len(doc.Warnings)))
	s.lastRun.WithLabelValues(doc.Project).Set(float64(doc.GeneratedAt.Unix()))

	counts := map[string]float64{"pass": 0, "fail": 0, "missing": 0}
	for _, tc := range doc.TestCases {
		switch {
		case tc.Missing:
			counts["missing"]++
		case tc.Pass:
			counts["pass"]++
		default:
			counts["fail"]++
		}
		if tc.Similarity != nil {
			s.similarity.WithLabelValues(doc.Project, tc.Name).Set(*tc.Similarity)
		}
		for _, m := range tc.Metrics {
			if m.Old != nil {
				s.metricValue.WithLabelValues(doc.Project, tc.Name, m.Name, "old").Set(*m.Old)
			}
			if m.New != nil {
				s.metricValue.WithLabelValues(doc.Project, tc.Name, m.Name, "new").Set(*m.New)
			}
		}
	}
	for status, n := range counts {
		s.testcases.WithLabelValues(doc.Project, status).Set(n)
	}
	return nil
}

// WriteTextfile writes the registry to path. The file is replaced
// atomically so the textfile collector never reads a partial file.
func (s *TextfileSink) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create textfile dir: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
		return fmt.Errorf("write textfile: %w", err)
	}
	return nil
}
