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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/vercheck/services/verify/metrics"
)

// Fixed leading columns of the metrics table.
const (
	ColumnTestCase = "testcase_name"
	ColumnVersion  = "version"
)

// ColumnDefaulted is the trailing column listing, separated by ";", the
// metrics of a row whose value is a default rather than a measurement.
const ColumnDefaulted = "defaulted"

// TableFile is the conventional name of the metrics table.
const TableFile = "verification_metrics.csv"

// ErrBadTable is returned when a table lacks the fixed columns.
var ErrBadTable = errors.New("malformed metrics table")

// TableRow is one test case of one run.
type TableRow struct {
	TestCase  string
	Version   metrics.RunSide
	Values    map[string]float64
	Defaulted map[string]bool
}

// Table is the per-test-case metrics table. Columns are the metric names,
// discovered from the header when read back.
type Table struct {
	Columns []string
	Rows    []TableRow
}

// Records returns the rows of one run as metric records.
func (t *Table) Records(run metrics.RunSide) map[string]*metrics.Record {
	out := make(map[string]*metrics.Record)
	for _, row := range t.Rows {
		if row.Version != run {
			continue
		}
		rec := metrics.NewRecord(row.TestCase, run)
		for k, v := range row.Values {
			rec.Values[k] = v
		}
		for k, d := range row.Defaulted {
			if d {
				rec.Defaulted[k] = true
			}
		}
		out[row.TestCase] = rec
	}
	return out
}

// WriteTable stores one run's records in the table at path.
//
// Description:
//
//	Rows belonging to the other run are preserved; rows of this run are
//	replaced. Columns are the schema names followed by any extra columns
//	already in the file. Rows are sorted by test case then version.
//
// Inputs:
//
//	path - CSV file; created with its directory if absent.
//	run - The side being written.
//	records - Records by test case.
//	schema - Metric names in registry declaration order.
func WriteTable(path string, run metrics.RunSide, records map[string]*metrics.Record, schema []string) error {
	existing, err := ReadTable(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	columns := append([]string(nil), schema...)
	var rows []TableRow
	if existing != nil {
		have := make(map[string]bool, len(columns))
		for _, c := range columns {
			have[c] = true
		}
		for _, c := range existing.Columns {
			if !have[c] {
				columns = append(columns, c)
				have[c] = true
			}
		}
		for _, r := range existing.Rows {
			if r.Version != run {
				rows = append(rows, r)
			}
		}
	}
	for tc, rec := range records {
		rows = append(rows, TableRow{TestCase: tc, Version: run, Values: rec.Values, Defaulted: rec.Defaulted})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TestCase != rows[j].TestCase {
			return rows[i].TestCase < rows[j].TestCase
		}
		return rows[i].Version < rows[j].Version
	})

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create table dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if err := writeCSV(f, &Table{Columns: columns, Rows: rows}); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close table: %w", err)
	}
	return os.Rename(tmp, path)
}

func writeCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	header := append([]string{ColumnTestCase, ColumnVersion}, t.Columns...)
	header = append(header, ColumnDefaulted)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write table header: %w", err)
	}
	for _, r := range t.Rows {
		line := make([]string, 0, len(header))
		line = append(line, r.TestCase, string(r.Version))
		for _, c := range t.Columns {
			if v, ok := r.Values[c]; ok {
				line = append(line, strconv.FormatFloat(v, 'f', -1, 64))
			} else {
				line = append(line, "")
			}
		}
		line = append(line, joinDefaulted(r.Defaulted))
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write table row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func joinDefaulted(flags map[string]bool) string {
	names := make([]string, 0, len(flags))
	for name, d := range flags {
		if d {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ";")
}

// ReadTable loads a metrics table. Missing files return an error matching
// fs.ErrNotExist.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseTable(f)
}

// ParseTable decodes a metrics table. Empty cells are left out of the
// row's values. The defaulted column is optional.
func ParseTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read table header: %w", err)
	}
	if len(header) < 2 || header[0] != ColumnTestCase || header[1] != ColumnVersion {
		return nil, fmt.Errorf("%w: header %v", ErrBadTable, header)
	}

	defaultedAt := -1
	t := &Table{}
	for j, name := range header[2:] {
		if name == ColumnDefaulted {
			defaultedAt = j + 2
			continue
		}
		t.Columns = append(t.Columns, name)
	}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read table line %d: %w", line, err)
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrBadTable, line, len(rec))
		}
		row := TableRow{
			TestCase: rec[0],
			Version:  metrics.RunSide(rec[1]),
			Values:   make(map[string]float64),
		}
		for j, name := range header[2:] {
			i := j + 2
			if i == defaultedAt {
				if i < len(rec) && rec[i] != "" {
					row.Defaulted = make(map[string]bool)
					for _, m := range strings.Split(rec[i], ";") {
						row.Defaulted[m] = true
					}
				}
				continue
			}
			if i >= len(rec) || rec[i] == "" {
				continue
			}
			v, err := strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %s: %v", ErrBadTable, line, name, err)
			}
			row.Values[name] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
