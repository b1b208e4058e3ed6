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
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildVCD renders a waveform with one 4-bit signal per entry of sigs, each
// taking the listed values at consecutive timestamps.
func buildVCD(sigs map[string][]int, names []string) string {
	var b strings.Builder
	codes := "!\"#$%&'()*"
	for i, name := range names {
		fmt.Fprintf(&b, "$var wire 4 %c %s $end\n", codes[i], name)
	}
	b.WriteString("$enddefinitions $end\n")
	for step := 0; ; step++ {
		wrote := false
		for i, name := range names {
			vals := sigs[name]
			if step < len(vals) {
				if !wrote {
					fmt.Fprintf(&b, "#%d\n", step*10)
					wrote = true
				}
				fmt.Fprintf(&b, "b%04b %c\n", vals[step], codes[i])
			}
		}
		if !wrote {
			break
		}
	}
	return b.String()
}

func mustParse(t *testing.T, src string) *Waveform {
	t.Helper()
	w, err := ParseReader("mem.vcd", strings.NewReader(src))
	require.NoError(t, err)
	return w
}

func TestCompare_Identity(t *testing.T) {
	w := mustParse(t, counterVCD)
	assert.Equal(t, 1.0, Compare(w, w))

	other := mustParse(t, counterVCD)
	assert.Equal(t, 1.0, Compare(w, other))
}

func TestCompare_NoSharedSignals(t *testing.T) {
	a := mustParse(t, buildVCD(map[string][]int{"x": {1, 2}}, []string{"x"}))
	b := mustParse(t, buildVCD(map[string][]int{"y": {1, 2}}, []string{"y"}))
	assert.Equal(t, 0.0, Compare(a, b))
	assert.Equal(t, 0.0, Compare(b, a))
	assert.Equal(t, 0.0, Compare(nil, a))
}

func TestCompare_ReversedSequence(t *testing.T) {
	names := []string{"clk", "data"}
	a := mustParse(t, buildVCD(map[string][]int{
		"clk":  {0, 1, 0, 1},
		"data": {1, 2, 3, 4},
	}, names))
	b := mustParse(t, buildVCD(map[string][]int{
		"clk":  {0, 1, 0, 1},
		"data": {4, 3, 2, 1},
	}, names))

	got := Compare(a, b)
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 1.0)
	// clk scores 1, data scores 2*1/8.
	assert.InDelta(t, (1.0+0.25)/2, got, 1e-12)

	for i := 0; i < 5; i++ {
		assert.Equal(t, got, Compare(a, b))
	}
}

func TestCompare_Commutative(t *testing.T) {
	cases := []struct {
		a, b map[string][]int
	}{
		{
			a: map[string][]int{"p": {1, 2, 3}, "q": {0, 1}},
			b: map[string][]int{"p": {3, 2, 1, 2}, "r": {5}},
		},
		{
			a: map[string][]int{"p": {1, 1, 2, 2, 3}},
			b: map[string][]int{"p": {1, 3}, "q": {1}, "s": {2, 4}},
		},
		{
			a: map[string][]int{"m": {}, "n": {7, 8, 9}},
			b: map[string][]int{"m": {1}, "n": {9, 8, 7}},
		},
	}

	for i, tc := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			a := mustParse(t, buildVCD(tc.a, sortedKeys(tc.a)))
			b := mustParse(t, buildVCD(tc.b, sortedKeys(tc.b)))
			assert.Equal(t, Compare(a, b), Compare(b, a))
		})
	}
}

func TestCompare_MissingSignalPenalized(t *testing.T) {
	a := mustParse(t, buildVCD(map[string][]int{"p": {1, 2}, "q": {3}}, []string{"p", "q"}))
	b := mustParse(t, buildVCD(map[string][]int{"p": {1, 2}}, []string{"p"}))
	assert.InDelta(t, 0.5, Compare(a, b), 1e-12)
}

func TestCompare_SameTimestampOrderIsSignificant(t *testing.T) {
	src := func(first, second string) string {
		return "$var wire 1 ! a $end\n$enddefinitions $end\n#0\n" + first + "!\n" + second + "!\n"
	}
	a := mustParse(t, src("0", "1"))
	b := mustParse(t, src("1", "0"))
	assert.Less(t, Compare(a, b), 1.0)
}

func TestLCSLength(t *testing.T) {
	assert.Equal(t, 0, lcsLength(nil, []string{"a"}))
	assert.Equal(t, 3, lcsLength([]string{"a", "b", "c", "d"}, []string{"a", "c", "d"}))
	assert.Equal(t, 1, lcsLength([]string{"1", "2", "3"}, []string{"3", "2", "1"}))
	assert.Equal(t, 1.0, sequenceRatio(nil, nil))
}

func TestCompareFiles(t *testing.T) {
	dir := t.TempDir()
	p1 := writeVCD(t, dir, "a.vcd", counterVCD)
	p2 := writeVCD(t, dir, "b.vcd", counterVCD)

	got, err := CompareFiles(p1, p2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	_, err = CompareFiles(p1, dir+"/missing.vcd")
	require.Error(t, err)
}

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
