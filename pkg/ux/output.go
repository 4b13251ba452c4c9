// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output for the promptlab CLI.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Promptlab palette - deep ocean teals
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Header    lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Border    lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Header:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Border:    lipgloss.NewStyle().Foreground(ColorTealDeep),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// Mode selects how much decoration output carries.
type Mode int

const (
	// ModeRich uses colour, icons and box-drawing borders.
	ModeRich Mode = iota

	// ModePlain keeps tables and icons but drops colour.
	ModePlain

	// ModeMachine prints tab-separated lines and bare prefixes.
	ModeMachine
)

// DetectMode returns ModeRich when f is a terminal and ModePlain otherwise.
// NO_COLOR forces ModePlain.
func DetectMode(f *os.File) Mode {
	if os.Getenv("NO_COLOR") != "" {
		return ModePlain
	}
	if f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return ModeRich
	}
	return ModePlain
}

// Printer writes CLI output in one Mode.
type Printer struct {
	out  io.Writer
	err  io.Writer
	mode Mode
}

// NewPrinter creates a printer. Nil writers default to stdout and stderr.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Printer{out: out, err: errOut, mode: mode}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode { return p.mode }

func (p *Printer) style(s lipgloss.Style, text string) string {
	if p.mode != ModeRich {
		return text
	}
	return s.Render(text)
}

// Title prints a styled title. Suppressed in ModeMachine.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.out, p.style(Styles.Title, text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.style(Styles.Success, string(IconSuccess)), text)
}

// Warning prints a warning message to the error stream.
func (p *Printer) Warning(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.err, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", p.style(Styles.Warning, string(IconWarning)), p.style(Styles.Warning, text))
}

// Error prints an error message to the error stream.
func (p *Printer) Error(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.err, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", p.style(Styles.Error, string(IconError)), p.style(Styles.Error, text))
}

// KeyValue prints "key: value" with the key muted.
func (p *Printer) KeyValue(key string, value any) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "%s\t%v\n", key, value)
		return
	}
	fmt.Fprintf(p.out, "%s %v\n", p.style(Styles.Muted, key+":"), value)
}

// Table prints rows under headers.
//
// ModeRich draws rounded borders with styled headers, ModePlain draws ASCII
// borders and ModeMachine prints one tab-separated line per row with no
// header.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.mode == ModeMachine {
		for _, row := range rows {
			fmt.Fprintln(p.out, strings.Join(row, "\t"))
		}
		return
	}

	t := table.New().Headers(headers...).Rows(rows...)
	if p.mode == ModeRich {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(Styles.Border).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return Styles.Header
				}
				return lipgloss.NewStyle().Padding(0, 1)
			})
	} else {
		t = t.Border(lipgloss.ASCIIBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				return lipgloss.NewStyle().Padding(0, 1)
			})
	}
	fmt.Fprintln(p.out, t.Render())
}

// Bar renders fraction (clamped to [0,1]) as a bar width cells wide with a
// percentage. ModeMachine returns the fraction alone.
func (p *Printer) Bar(fraction float64, width int) string {
	if fraction < 0 || math.IsNaN(fraction) {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if p.mode == ModeMachine {
		return fmt.Sprintf("%.4f", fraction)
	}
	filled := int(fraction * float64(width))
	bar := p.style(Styles.Success, repeatChar('█', filled)) +
		p.style(Styles.Muted, repeatChar('░', width-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, fraction*100)
}

// JSON prints v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func repeatChar(c rune, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(string(c), n)
}
