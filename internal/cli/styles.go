// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)
)

var titleCaser = cases.Title(language.English)

// titleCase capitalises a role or heading, e.g. "cashier" -> "Cashier".
func titleCase(s string) string { return titleCaser.String(s) }

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printTitle(w io.Writer, s string) {
	fmt.Fprintln(w, titleStyle.Render(s))
	fmt.Fprintln(w, dimStyle.Render(strings.Repeat("=", runewidth.StringWidth(s))))
}

func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s%s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

// allowedLabel renders an access decision.
func allowedLabel(allowed bool) string {
	if allowed {
		return successStyle.Render("ALLOWED")
	}
	return errorStyle.Render("DENIED")
}

// =============================================================================
// TABLES
// =============================================================================

// padRight pads s with spaces to width display cells.
func padRight(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// writeTable writes rows under headers with columns aligned by display width.
// Cells may already carry ANSI styling; widths are computed from plain.
func writeTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], runewidth.StringWidth(cell))
			}
		}
	}

	writeRow := func(cells []string, style lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			if i == len(cells)-1 {
				parts[i] = style.Render(cell)
				continue
			}
			parts[i] = style.Render(padRight(cell, widths[i]))
		}
		fmt.Fprintln(w, "  "+strings.Join(parts, "  "))
	}

	writeRow(headers, sectionStyle)
	for _, row := range rows {
		writeRow(row, valueStyle)
	}
}
