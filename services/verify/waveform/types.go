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

import "sort"

// maxDiagnostics bounds how many skipped-line descriptions are retained.
const maxDiagnostics = 32

// Signal is one declared variable of a waveform.
type Signal struct {
	// Code is the short identifier used in value-change lines.
	Code string `json:"code"`

	// Name is the human-readable reference name.
	Name string `json:"name"`

	// Scope is the dotted hierarchy the signal was declared under.
	Scope string `json:"scope,omitempty"`

	// Width is the declared bit width.
	Width int `json:"width"`
}

// Change is a single value change at a point in simulation time.
type Change struct {
	Time  uint64 `json:"time"`
	Code  string `json:"code"`
	Value string `json:"value"`
}

// Waveform is the parsed form of one waveform file.
//
// All fields are unexported; a Waveform never changes after Parse returns.
type Waveform struct {
	path        string
	signals     map[string]Signal
	order       []string
	changes     []Change
	lines       int
	skipped     int
	diagnostics []string
}

// Path returns the source the waveform was parsed from.
func (w *Waveform) Path() string { return w.path }

// Lines returns the physical line count of the source.
func (w *Waveform) Lines() int { return w.lines }

// Skipped returns how many body lines were ignored as malformed.
func (w *Waveform) Skipped() int { return w.skipped }

// SignalCount returns the number of declared signals.
func (w *Waveform) SignalCount() int { return len(w.order) }

// Diagnostics returns descriptions of the first skipped lines.
func (w *Waveform) Diagnostics() []string {
	out := make([]string, len(w.diagnostics))
	copy(out, w.diagnostics)
	return out
}

// Signal looks up a declared signal by its short code.
func (w *Waveform) Signal(code string) (Signal, bool) {
	s, ok := w.signals[code]
	return s, ok
}

// Signals returns the declared signals in declaration order.
func (w *Waveform) Signals() []Signal {
	out := make([]Signal, 0, len(w.order))
	for _, code := range w.order {
		out = append(out, w.signals[code])
	}
	return out
}

// Events returns a copy of the change stream in input order.
func (w *Waveform) Events() []Change {
	out := make([]Change, len(w.changes))
	copy(out, w.changes)
	return out
}

// EventCount returns the number of parsed changes.
func (w *Waveform) EventCount() int { return len(w.changes) }

// SignalNames returns the distinct display names, sorted.
func (w *Waveform) SignalNames() []string {
	seen := make(map[string]struct{}, len(w.order))
	names := make([]string, 0, len(w.order))
	for _, code := range w.order {
		name := w.signals[code].Name
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values returns the ordered values taken by the named signal with
// consecutive repeats collapsed.
//
// When several codes share a display name the first declared code is used.
// Returns nil if no signal carries the name.
func (w *Waveform) Values(name string) []string {
	code, ok := w.codeForName(name)
	if !ok {
		return nil
	}
	var seq []string
	for _, c := range w.changes {
		if c.Code != code {
			continue
		}
		if n := len(seq); n > 0 && seq[n-1] == c.Value {
			continue
		}
		seq = append(seq, c.Value)
	}
	return seq
}

func (w *Waveform) codeForName(name string) (string, bool) {
	for _, code := range w.order {
		if w.signals[code].Name == name {
			return code, true
		}
	}
	return "", false
}
