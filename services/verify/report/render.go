// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Format selects a renderer.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "md"
)

// ErrUnknownFormat is returned by Render for an unsupported format.
var ErrUnknownFormat = errors.New("unknown report format")

// Render writes doc in the given format.
func Render(w io.Writer, doc *Document, format Format) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, doc)
	case FormatMarkdown, "markdown":
		return WriteMarkdown(w, doc)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteJSON writes doc as indented JSON.
func WriteJSON(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ReadJSON decodes a document written by WriteJSON.
func ReadJSON(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &doc, nil
}

// LoadJSON reads a JSON report from disk.
func LoadJSON(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}

// WriteMarkdown writes doc as a Markdown report.
func WriteMarkdown(w io.Writer, doc *Document) error {
	var sb strings.Builder

	sb.WriteString("# Version Verification Report\n\n")
	if doc.OverallPass {
		sb.WriteString("**Status: PASS**\n\n")
	} else {
		sb.WriteString("**Status: FAIL**\n\n")
	}

	sb.WriteString(fmt.Sprintf("- Project: %s\n", doc.Project))
	sb.WriteString(fmt.Sprintf("- Old version: %s\n", doc.OldVersion))
	sb.WriteString(fmt.Sprintf("- New version: %s\n", doc.NewVersion))
	sb.WriteString(fmt.Sprintf("- Generated: %s\n", doc.GeneratedAt.Format(time.RFC3339)))
	if doc.RunID != "" {
		sb.WriteString(fmt.Sprintf("- Run: %s\n", doc.RunID))
	}
	sb.WriteString(fmt.Sprintf("- Test cases: %d total, %d passed, %d failed\n\n",
		doc.Summary.Total, doc.Summary.Passed, doc.Summary.Failed))

	sb.WriteString("## Metrics\n\n")
	sb.WriteString("| Metric | Direction | Threshold |\n")
	sb.WriteString("|--------|-----------|-----------|\n")
	for _, s := range doc.Schema {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n", s.Label, s.Direction, formatOptional(s.Threshold)))
	}
	sb.WriteString("\n")

	sb.WriteString("## Test Cases\n\n")
	for _, tc := range doc.TestCases {
		status := "PASS"
		switch {
		case tc.Missing:
			status = "MISSING"
		case !tc.Pass:
			status = "FAIL"
		}
		sb.WriteString(fmt.Sprintf("### %s (%s)\n\n", tc.Name, status))
		if tc.Similarity != nil {
			sb.WriteString(fmt.Sprintf("Waveform similarity: %.4f\n\n", *tc.Similarity))
		}
		if len(tc.Metrics) == 0 {
			sb.WriteString("_no metrics recorded_\n\n")
			continue
		}
		sb.WriteString("| Metric | Old | New | Delta | Result |\n")
		sb.WriteString("|--------|-----|-----|-------|--------|\n")
		for _, m := range tc.Metrics {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				doc.Label(m.Name),
				formatOptional(m.Old),
				formatOptional(m.New),
				formatDelta(m.Delta),
				resultCell(m),
			))
		}
		sb.WriteString("\n")
	}

	if len(doc.Messages) > 0 {
		sb.WriteString("## Failures\n\n")
		for _, m := range doc.Messages {
			sb.WriteString(fmt.Sprintf("- %s\n", m))
		}
		sb.WriteString("\n")
	}
	if len(doc.Warnings) > 0 {
		sb.WriteString("## Warnings\n\n")
		for _, m := range doc.Warnings {
			sb.WriteString(fmt.Sprintf("- %s\n", m))
		}
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteFiles writes report.json and report.md into dir and returns their
// paths.
func WriteFiles(dir string, doc *Document) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	targets := []struct {
		name   string
		format Format
	}{
		{"report.json", FormatJSON},
		{"report.md", FormatMarkdown},
	}

	paths := make([]string, 0, len(targets))
	for _, t := range targets {
		path := filepath.Join(dir, t.name)
		f, err := os.Create(path)
		if err != nil {
			return paths, fmt.Errorf("create %s: %w", t.name, err)
		}
		if err := Render(f, doc, t.format); err != nil {
			f.Close()
			return paths, fmt.Errorf("render %s: %w", t.name, err)
		}
		if err := f.Close(); err != nil {
			return paths, fmt.Errorf("close %s: %w", t.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return formatValue(*v)
}

func formatDelta(v *float64) string {
	if v == nil {
		return "-"
	}
	if *v > 0 {
		return "+" + formatValue(*v)
	}
	return formatValue(*v)
}

func resultCell(m MetricRow) string {
	switch {
	case !m.Pass:
		return "FAIL"
	case m.Defaulted:
		return "n/a"
	case m.Informational:
		return "info"
	default:
		return "PASS"
	}
}
