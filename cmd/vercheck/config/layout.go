// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Check is one layout check reported by `vercheck validate`.
type Check struct {
	Name string
	OK   bool

	// Hint suggests a fix, or describes what was done.
	Hint string
}

// CheckLayout verifies the project layout. Output directories are
// created; input directories must exist.
func CheckLayout(s Settings) []Check {
	var checks []Check
	inputs := []struct{ name, dir string }{
		{"testcases", s.Directories.Testcases},
		{"sim_old", s.Directories.SimOld},
		{"sim_new", s.Directories.SimNew},
	}
	for _, in := range inputs {
		c := Check{Name: in.name + " directory"}
		if info, err := os.Stat(in.dir); err == nil && info.IsDir() {
			c.OK = true
			c.Hint = in.dir
		} else {
			c.Hint = "create " + in.dir + " or fix directories." + in.name
		}
		checks = append(checks, c)
	}

	for _, sim := range []struct{ name, dir string }{
		{"sim_old", s.Directories.SimOld},
		{"sim_new", s.Directories.SimNew},
	} {
		log := filepath.Join(sim.dir, "aggregated.log")
		c := Check{Name: sim.name + " aggregated log"}
		if _, err := os.Stat(log); err == nil {
			c.OK = true
			c.Hint = log
		} else {
			c.Hint = "run the simulation driver for " + sim.name
		}
		checks = append(checks, c)
	}

	outputs := []struct{ name, dir string }{
		{"tmp", s.Directories.Tmp},
		{"reports", s.Directories.Reports},
		{"logs", s.Directories.Logs},
	}
	for _, out := range outputs {
		c := Check{Name: out.name + " directory"}
		if err := os.MkdirAll(out.dir, 0o755); err != nil {
			c.Hint = err.Error()
		} else {
			c.OK = true
			c.Hint = out.dir + " (auto-created)"
		}
		checks = append(checks, c)
	}

	if n := countTestcases(s.Directories.Testcases); n >= 0 {
		checks = append(checks, Check{
			Name: "testcase sources",
			OK:   n > 0,
			Hint: fmt.Sprintf("%d files", n),
		})
	}
	return checks
}

// Passed reports whether every check passed.
func Passed(checks []Check) bool {
	for _, c := range checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func countTestcases(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return -1
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}
