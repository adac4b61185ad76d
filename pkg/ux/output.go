// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux renders audit flows, reports and history for the terminal.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Mode selects rich terminal output or plain, parseable text.
type Mode string

const (
	// ModeRich uses colors, icons, boxes and tables.
	ModeRich Mode = "rich"

	// ModePlain prints one fact per line with stable prefixes, suitable for
	// scripts and logs.
	ModePlain Mode = "plain"
)

// ParseMode parses an --output value. "" and "auto" return "" so the
// caller can fall back to DetectMode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", nil
	case "rich", "full", "standard":
		return ModeRich, nil
	case "plain", "machine", "quiet":
		return ModePlain, nil
	default:
		return "", fmt.Errorf("unknown output mode %q (want auto, rich or plain)", s)
	}
}

// DetectMode returns ModeRich when f is a terminal and ModePlain otherwise.
func DetectMode(f *os.File) Mode {
	if IsTerminal(f) {
		return ModeRich
	}
	return ModePlain
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// styles are bound to one renderer so color detection follows the writer,
// not the process's stdout.
type styles struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	box := r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	return styles{
		Title:     r.NewStyle().Bold(true).Foreground(ColorTealBright),
		Subtitle:  r.NewStyle().Foreground(ColorTealPrimary),
		Bold:      r.NewStyle().Bold(true),
		Muted:     r.NewStyle().Foreground(ColorSlate),
		Success:   r.NewStyle().Foreground(ColorSuccess),
		Warning:   r.NewStyle().Foreground(ColorWarning),
		Error:     r.NewStyle().Foreground(ColorError),
		Highlight: r.NewStyle().Foreground(ColorTealBright).Bold(true),

		Box:        box.BorderForeground(ColorTealDeep),
		WarningBox: box.BorderForeground(ColorWarning),
		ErrorBox:   box.BorderForeground(ColorError),
	}
}

// Printer writes styled output. Warnings and errors go to errOut.
//
// Thread Safety: A Printer is not synchronized; use one per goroutine or
// serialize calls.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	st     styles
}

// NewPrinter creates a Printer. An empty mode is treated as ModePlain.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	if mode == "" {
		mode = ModePlain
	}
	if errOut == nil {
		errOut = out
	}
	return &Printer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		st:     newStyles(lipgloss.NewRenderer(out)),
	}
}

// Mode returns the printer's output mode.
func (p *Printer) Mode() Mode { return p.mode }

// Out returns the main writer.
func (p *Printer) Out() io.Writer { return p.out }

func (p *Printer) plain() bool { return p.mode == ModePlain }

// Title prints a heading. Plain mode omits it.
func (p *Printer) Title(text string) {
	if p.plain() {
		return
	}
	fmt.Fprintln(p.out, p.st.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if p.plain() {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.st.Success.Render(string(IconSuccess)), p.st.Success.Render(text))
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.plain() {
		fmt.Fprintf(p.errOut, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.errOut, "%s %s\n", p.st.Warning.Render(string(IconWarning)), p.st.Warning.Render(text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.plain() {
		fmt.Fprintf(p.errOut, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.errOut, "%s %s\n", p.st.Error.Render(string(IconError)), p.st.Error.Render(text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.plain() {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.st.Muted.Render("│"), text)
}

// Muted prints secondary text. Plain mode omits it.
func (p *Printer) Muted(text string) {
	if p.plain() {
		return
	}
	fmt.Fprintln(p.out, p.st.Muted.Render(text))
}

// Box prints content under a title in a rounded box.
func (p *Printer) Box(title, content string) {
	if p.plain() {
		fmt.Fprintf(p.out, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.out, p.st.Box.Width(72).Render(p.st.Title.Render(title)+"\n"+content))
}

// WarningBox prints a highlighted notice, such as the queued-audit banner.
func (p *Printer) WarningBox(title, content string) {
	if p.plain() {
		fmt.Fprintf(p.errOut, "WARN %s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.out, p.st.WarningBox.Width(72).Render(p.st.Warning.Bold(true).Render(title)+"\n"+content))
}

// ProgressBar renders a bar for current out of total.
func (p *Printer) ProgressBar(current, total, width int) string {
	if total <= 0 {
		total = 1
	}
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}
	pct := float64(current) / float64(total)
	if p.plain() {
		return fmt.Sprintf("%d%%", int(pct*100+0.5))
	}
	filled := int(pct * float64(width))
	return fmt.Sprintf("%s%s %3.0f%%",
		p.st.Success.Render(strings.Repeat("█", filled)),
		p.st.Muted.Render(strings.Repeat("░", width-filled)),
		pct*100,
	)
}
