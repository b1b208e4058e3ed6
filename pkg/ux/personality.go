// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Level controls how rich CLI output is.
type Level string

const (
	// LevelRich uses colors, icons and boxes.
	LevelRich Level = "rich"

	// LevelMinimal uses icons without boxes.
	LevelMinimal Level = "minimal"

	// LevelMachine prints plain tab-separated lines for scripts.
	LevelMachine Level = "machine"
)

// OutputEnv overrides terminal detection when set.
const OutputEnv = "VERCHECK_OUTPUT"

// ParseLevel maps a name or abbreviation to a Level. Unknown names are
// LevelRich.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return LevelMinimal
	case "machine", "plain", "quiet", "q":
		return LevelMachine
	default:
		return LevelRich
	}
}

// Detect picks the level for w. OutputEnv wins; otherwise a terminal gets
// LevelRich and anything else LevelMachine.
func Detect(w io.Writer) Level {
	if v := os.Getenv(OutputEnv); v != "" {
		return ParseLevel(v)
	}
	if IsTerminal(w) {
		return LevelRich
	}
	return LevelMachine
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
