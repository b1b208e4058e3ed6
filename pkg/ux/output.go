// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders vercheck's terminal output.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/vercheck/services/verify/report"
)

// Brand palette.
const (
	ColorTealBright = lipgloss.Color("#2CD7C7")
	ColorTealDeep   = lipgloss.Color("#16858E")
	ColorSlate      = lipgloss.Color("#2C4A54")
	ColorWarning    = lipgloss.Color("#F4D03F")
	ColorError      = lipgloss.Color("#E74C3C")
)

// Styles holds the shared lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	PassBox lipgloss.Style
	FailBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	PassBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	FailBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconPass    Icon = "✓"
	IconWarning Icon = "⚠"
	IconFail    Icon = "✗"
	IconBullet  Icon = "•"
)

func (i Icon) render() string {
	switch i {
	case IconPass:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconFail:
		return Styles.Error.Render(string(i))
	default:
		return Styles.Muted.Render(string(i))
	}
}

// Printer writes styled messages at a fixed level.
type Printer struct {
	w     io.Writer
	level Level
}

// NewPrinter writes to w at level.
func NewPrinter(w io.Writer, level Level) *Printer {
	return &Printer{w: w, level: level}
}

// Level returns the printer's level.
func (p *Printer) Level() Level {
	return p.level
}

// Success prints a line with a pass icon.
func (p *Printer) Success(text string) {
	p.line(IconPass, "OK", Styles.Success, text)
}

// Warning prints a line with a warning icon.
func (p *Printer) Warning(text string) {
	p.line(IconWarning, "WARN", Styles.Warning, text)
}

// Error prints a line with a failure icon.
func (p *Printer) Error(text string) {
	p.line(IconFail, "ERROR", Styles.Error, text)
}

// Info prints a plain line.
func (p *Printer) Info(text string) {
	if p.level == LevelMachine {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
}

func (p *Printer) line(icon Icon, tag string, style lipgloss.Style, text string) {
	switch p.level {
	case LevelMachine:
		fmt.Fprintf(p.w, "%s: %s\n", tag, text)
	case LevelMinimal:
		fmt.Fprintf(p.w, "%s %s\n", icon.render(), text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", icon.render(), style.Render(text))
	}
}

// Verdict prints the outcome of a comparison with its failures, warnings
// and the files written.
func (p *Printer) Verdict(doc *report.Document, files []string) {
	if p.level == LevelMachine {
		status := "FAIL"
		if doc.OverallPass {
			status = "PASS"
		}
		fmt.Fprintf(p.w, "VERDICT\t%s\t%s\t%s\t%s\n", status, doc.Project, doc.OldVersion, doc.NewVersion)
		fmt.Fprintf(p.w, "SUMMARY\ttotal=%d\tpassed=%d\tfailed=%d\twarnings=%d\n",
			doc.Summary.Total, doc.Summary.Passed, doc.Summary.Failed, len(doc.Warnings))
		for _, m := range doc.Messages {
			fmt.Fprintf(p.w, "FAILURE\t%s\n", m)
		}
		for _, m := range doc.Warnings {
			fmt.Fprintf(p.w, "WARNING\t%s\n", m)
		}
		for _, f := range files {
			fmt.Fprintf(p.w, "FILE\t%s\n", f)
		}
		return
	}

	var body strings.Builder
	body.WriteString(Styles.Title.Render(fmt.Sprintf("%s  %s → %s", doc.Project, doc.OldVersion, doc.NewVersion)))
	body.WriteString("\n")
	fmt.Fprintf(&body, "%s %s  %s %s  %s %s",
		Styles.Bold.Render(fmt.Sprint(doc.Summary.Total)), Styles.Muted.Render("test cases"),
		Styles.Success.Render(fmt.Sprint(doc.Summary.Passed)), Styles.Muted.Render("passed"),
		Styles.Error.Render(fmt.Sprint(doc.Summary.Failed)), Styles.Muted.Render("failed"),
	)

	box := Styles.PassBox
	headline := IconPass.render() + " " + Styles.Success.Bold(true).Render("PASS")
	if !doc.OverallPass {
		box = Styles.FailBox
		headline = IconFail.render() + " " + Styles.Error.Bold(true).Render("FAIL")
	}
	if p.level == LevelMinimal {
		fmt.Fprintln(p.w, headline)
		fmt.Fprintln(p.w, body.String())
	} else {
		fmt.Fprintln(p.w, box.Render(headline+"\n"+body.String()))
	}

	for _, m := range doc.Messages {
		p.Error(m)
	}
	for _, m := range doc.Warnings {
		p.Warning(m)
	}
	for _, f := range files {
		fmt.Fprintf(p.w, "%s %s\n", IconBullet.render(), Styles.Muted.Render(f))
	}
}
