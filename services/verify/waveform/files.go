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
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
)

// Extension is the file suffix of waveform dumps.
const Extension = ".vcd"

// FindAll yields the waveform files directly inside dir, sorted by name.
//
// Paths are produced on demand; stopping the range early skips the rest.
// A missing directory yields a single *MissingArtifactError.
func FindAll(dir string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = &MissingArtifactError{Path: dir, Err: err}
			}
			yield("", err)
			return
		}
		// os.ReadDir returns entries sorted by filename.
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), Extension) {
				continue
			}
			if !yield(filepath.Join(dir, e.Name()), nil) {
				return
			}
		}
	}
}

// FindAllSlice collects FindAll into a slice.
func FindAllSlice(dir string) ([]string, error) {
	var out []string
	for p, err := range FindAll(dir) {
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// MatchTestCase selects the waveform files that belong to a test case.
//
// A file whose stem equals the test case name wins outright; otherwise every
// file whose stem contains the name is returned, in input order.
func MatchTestCase(files []string, testcase string) []string {
	if testcase == "" {
		return nil
	}
	var partial []string
	for _, f := range files {
		stem := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		if stem == testcase {
			return []string{f}
		}
		if strings.Contains(stem, testcase) {
			partial = append(partial, f)
		}
	}
	return partial
}

// FindForTestCase returns the first waveform in dir matching testcase.
func FindForTestCase(dir, testcase string) (string, error) {
	files, err := FindAllSlice(dir)
	if err != nil {
		return "", err
	}
	matches := MatchTestCase(files, testcase)
	if len(matches) == 0 {
		return "", &MissingArtifactError{
			Path: filepath.Join(dir, testcase+Extension),
			Err:  fs.ErrNotExist,
		}
	}
	return matches[0], nil
}
