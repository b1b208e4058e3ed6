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
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// Parse reads and decodes the waveform file at path.
//
// Description:
//
//	Opens the file and runs the two-phase parse described in the package
//	documentation. Malformed body lines are tolerated and tallied in
//	Waveform.Skipped; header problems are fatal.
//
// Inputs:
//
//	path - Filesystem path of a .vcd file.
//
// Outputs:
//
//	*Waveform - The parsed waveform. Never nil when err is nil.
//	error - *MissingArtifactError if the file does not exist,
//	        *MalformedWaveformError if the header cannot be decoded.
//
// Thread Safety: Safe for concurrent use.
func Parse(path string) (*Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingArtifactError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("open waveform: %w", err)
	}
	defer f.Close()
	return ParseReader(path, f)
}

// ParseReader decodes a waveform from r. The name is used in errors and
// returned by Waveform.Path.
func ParseReader(name string, r io.Reader) (*Waveform, error) {
	p := &parser{
		w: &Waveform{
			path:    name,
			signals: make(map[string]Signal),
		},
	}
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			p.w.lines++
			if perr := p.line(line); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read waveform %s: %w", name, err)
		}
	}
	if !p.headerDone {
		return nil, &MalformedWaveformError{Path: name, Err: ErrNoDefinitions}
	}
	return p.w, nil
}

// parser carries the state of one ParseReader call.
type parser struct {
	w *Waveform

	headerDone bool
	scopes     []string

	// Pending header command and its arguments; a command may span lines.
	cmd     string
	cmdLine int
	args    []string

	now       uint64
	inComment bool
}

func (p *parser) line(raw string) error {
	fields := strings.Fields(raw)
	if p.headerDone {
		p.body(fields)
		return nil
	}
	return p.header(fields)
}

// header accumulates $keyword ... $end commands.
func (p *parser) header(fields []string) error {
	for i, tok := range fields {
		if p.headerDone {
			// The rest of the line after "$enddefinitions $end" is body.
			p.body(fields[i:])
			return nil
		}
		if p.cmd == "" {
			if strings.HasPrefix(tok, "$") && tok != "$end" {
				p.cmd = tok
				p.cmdLine = p.w.lines
				p.args = p.args[:0]
			}
			continue
		}
		if tok != "$end" {
			p.args = append(p.args, tok)
			continue
		}
		if err := p.command(); err != nil {
			return &MalformedWaveformError{Path: p.w.path, Line: p.cmdLine, Err: err}
		}
		p.cmd = ""
	}
	return nil
}

func (p *parser) command() error {
	switch p.cmd {
	case "$scope":
		name := ""
		if n := len(p.args); n > 0 {
			name = p.args[n-1]
		}
		p.scopes = append(p.scopes, name)

	case "$upscope":
		if len(p.scopes) == 0 {
			return ErrUnbalancedScope
		}
		p.scopes = p.scopes[:len(p.scopes)-1]

	case "$var":
		// $var <type> <width> <code> <name> [range] $end
		if len(p.args) < 4 {
			return fmt.Errorf("%w: %q", ErrBadDeclaration, strings.Join(p.args, " "))
		}
		width, err := strconv.Atoi(p.args[1])
		if err != nil || width < 1 {
			return fmt.Errorf("%w: width %q", ErrBadDeclaration, p.args[1])
		}
		code := p.args[2]
		if _, dup := p.w.signals[code]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateCode, code)
		}
		p.w.signals[code] = Signal{
			Code:  code,
			Name:  p.args[3],
			Scope: strings.Join(p.scopes, "."),
			Width: width,
		}
		p.w.order = append(p.w.order, code)

	case "$enddefinitions":
		if len(p.scopes) != 0 {
			return ErrUnbalancedScope
		}
		if len(p.w.order) == 0 {
			return ErrNoSignals
		}
		p.headerDone = true
	}
	return nil
}

// body turns one line of value changes into events.
func (p *parser) body(fields []string) {
	for i := 0; i < len(fields); i++ {
		tok := fields[i]

		if p.inComment {
			if tok == "$end" {
				p.inComment = false
			}
			continue
		}

		switch tok[0] {
		case '$':
			if tok == "$comment" {
				p.inComment = true
			}
			// $dumpvars, $dumpall, $dumpon, $dumpoff and $end carry no data.

		case '#':
			t, err := strconv.ParseUint(tok[1:], 10, 64)
			if err != nil {
				p.skip("bad timestamp %q", tok)
				continue
			}
			if t < p.now {
				p.skip("timestamp %d before %d", t, p.now)
				continue
			}
			p.now = t

		case 'b', 'B', 'r', 'R':
			if i+1 >= len(fields) {
				p.skip("vector value %q without code", tok)
				continue
			}
			i++
			p.vector(tok, fields[i])

		default:
			p.scalar(tok)
		}
	}
}

func (p *parser) scalar(tok string) {
	v := strings.ToLower(tok[:1])
	if !isBit(v[0]) {
		p.skip("unrecognized token %q", tok)
		return
	}
	code := tok[1:]
	sig, ok := p.w.signals[code]
	if !ok {
		p.skip("unknown signal code %q", code)
		return
	}
	if sig.Width != 1 {
		p.skip("scalar value for %d-bit signal %q", sig.Width, sig.Name)
		return
	}
	p.emit(code, v)
}

func (p *parser) vector(tok, code string) {
	sig, ok := p.w.signals[code]
	if !ok {
		p.skip("unknown signal code %q", code)
		return
	}
	kind, digits := tok[0]|0x20, strings.ToLower(tok[1:])
	if kind == 'r' {
		if _, err := strconv.ParseFloat(digits, 64); err != nil {
			p.skip("bad real value %q", tok)
			return
		}
		p.emit(code, "r"+digits)
		return
	}
	if digits == "" {
		p.skip("empty vector value for %q", sig.Name)
		return
	}
	for i := 0; i < len(digits); i++ {
		if !isBit(digits[i]) {
			p.skip("non-binary vector value %q", tok)
			return
		}
	}
	if len(digits) > sig.Width {
		p.skip("%d-bit value for %d-bit signal %q", len(digits), sig.Width, sig.Name)
		return
	}
	p.emit(code, extend(digits, sig.Width))
}

func (p *parser) emit(code, value string) {
	p.w.changes = append(p.w.changes, Change{Time: p.now, Code: code, Value: value})
}

func (p *parser) skip(format string, args ...any) {
	p.w.skipped++
	if len(p.w.diagnostics) < maxDiagnostics {
		msg := fmt.Sprintf(format, args...)
		p.w.diagnostics = append(p.w.diagnostics, fmt.Sprintf("line %d: %s", p.w.lines, msg))
	}
}

func isBit(c byte) bool {
	switch c {
	case '0', '1', 'x', 'z':
		return true
	}
	return false
}

// extend left-pads a shortened vector to width: 1 pads with 0, x and z pad
// with themselves.
func extend(digits string, width int) string {
	if len(digits) >= width {
		return digits
	}
	pad := digits[0]
	if pad == '1' {
		pad = '0'
	}
	return strings.Repeat(string(pad), width-len(digits)) + digits
}
