// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"regexp"
	"sort"
)

// summaryLine matches driver summary lines such as "alu: 0.15s, 0 errors".
var summaryLine = regexp.MustCompile(`(?m)(\w+):\s*[\d.]+s,\s*\d+\s*errors?`)

// DiscoverTestCases returns the sorted, de-duplicated test case names that
// have a summary line in log.
func DiscoverTestCases(log string) []string {
	seen := make(map[string]struct{})
	for _, m := range summaryLine.FindAllStringSubmatch(log, -1) {
		seen[m[1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Discovered returns the union of metric names present in records. Names
// listed in schema come first in schema order; any others follow sorted.
func Discovered(schema []string, records ...map[string]*Record) []string {
	present := make(map[string]struct{})
	for _, set := range records {
		for _, r := range set {
			for name := range r.Values {
				present[name] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(present))
	for _, name := range schema {
		if _, ok := present[name]; ok {
			out = append(out, name)
			delete(present, name)
		}
	}
	extra := make([]string, 0, len(present))
	for name := range present {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	return append(out, extra...)
}
