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
	"context"
	"fmt"
	"strings"

	aho "github.com/petar-dambovaliev/aho-corasick"
)

// KeywordCounter counts occurrences of a fixed keyword set in log text
// using an Aho-Corasick automaton, so the log is scanned once regardless of
// how many keywords are configured.
type KeywordCounter struct {
	automaton aho.AhoCorasick
	keywords  []string
}

// NewKeywordCounter compiles the keywords. Matching is ASCII
// case-insensitive.
func NewKeywordCounter(keywords []string) (*KeywordCounter, error) {
	kws := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			kws = append(kws, k)
		}
	}
	if len(kws) == 0 {
		return nil, fmt.Errorf("%w: no keywords", ErrInvalidDefinition)
	}

	builder := aho.NewAhoCorasickBuilder(aho.Opts{
		AsciiCaseInsensitive: true,
		DFA:                  true,
	})
	return &KeywordCounter{
		automaton: builder.Build(kws),
		keywords:  kws,
	}, nil
}

// Count returns the number of non-overlapping keyword matches in text.
func (k *KeywordCounter) Count(text string) int {
	return len(k.automaton.FindAll(text))
}

// CountByKeyword returns match counts per keyword.
func (k *KeywordCounter) CountByKeyword(text string) map[string]int {
	out := make(map[string]int, len(k.keywords))
	for _, m := range k.automaton.FindAll(text) {
		out[k.keywords[m.Pattern()]]++
	}
	return out
}

// Extractor counts keywords in the test case's own log. Without one, the
// aggregated log is scoped to the lines naming the test case.
func (k *KeywordCounter) Extractor() ExtractFunc {
	return func(_ context.Context, in Input) (float64, error) {
		if in.TestCaseLog != "" {
			return float64(k.Count(in.TestCaseLog)), nil
		}
		if in.Log == "" {
			return 0, fmt.Errorf("%w for %s: empty log", ErrNoMatch, in.TestCase)
		}
		return float64(k.Count(ScopeLog(in.Log, in.TestCase))), nil
	}
}

// ScopeLog returns the lines of log that mention testcase. When no line
// does, the log is taken to belong to the test case alone and is returned
// whole.
func ScopeLog(log, testcase string) string {
	if testcase == "" {
		return log
	}
	var b strings.Builder
	for _, line := range strings.Split(log, "\n") {
		if strings.Contains(line, testcase) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	if b.Len() == 0 {
		return log
	}
	return b.String()
}
