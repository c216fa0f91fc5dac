// Package ui renders terminal output for the rifelab commands.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			MarginBottom(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#06B6D4")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

// Field is one labelled line in a Fields block.
type Field struct {
	Label string
	Value string
}

// Title renders a section heading.
func Title(s string) string {
	return titleStyle.Render(s)
}

// Success renders a completion line.
func Success(s string) string {
	return successStyle.Render("✓ " + s)
}

// Warn renders a non-fatal problem.
func Warn(s string) string {
	return warnStyle.Render("! " + s)
}

// Error renders a fatal problem.
func Error(s string) string {
	return errorStyle.Render("✗ " + s)
}

// Fields renders aligned label/value lines inside a rounded box.
func Fields(fields []Field) string {
	width := 0
	for _, f := range fields {
		width = max(width, lipgloss.Width(f.Label))
	}
	label := labelStyle.Width(width + 2)

	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = label.Render(f.Label+":") + f.Value
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// Table renders rows under headers with left-aligned, padded columns.
// Short rows are padded with empty cells.
func Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(headers) && i < len(row); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	render := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(headers))
		for i := range headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			w := widths[i]
			if i < len(headers)-1 {
				w += 2
			}
			parts[i] = style.Width(w).Render(cell)
		}
		return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " ")
	}

	var b strings.Builder
	b.WriteString(render(headers, headerStyle))
	b.WriteByte('\n')
	for _, row := range rows {
		b.WriteString(render(row, lipgloss.NewStyle()))
		b.WriteByte('\n')
	}
	return b.String()
}

// Rating colors a quality rating label.
func Rating(r string) string {
	switch r {
	case "Excellent":
		return successStyle.Render(r)
	case "Good":
		return warnStyle.Render(r)
	default:
		return errorStyle.Render(r)
	}
}

// Seconds formats a duration in seconds the way reports show it.
func Seconds(s float64) string {
	return fmt.Sprintf("%.2fs", s)
}
