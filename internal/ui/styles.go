// Package ui renders CLI output. Colors are used only when stdout is a
// terminal and NO_COLOR is unset.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	Accent  = lipgloss.Color("#7C3AED")
	Pass    = lipgloss.Color("#10B981")
	Warn    = lipgloss.Color("#F59E0B")
	Fail    = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")
	Pinned  = lipgloss.Color("#F59E0B")
	Heading = lipgloss.Color("#3B82F6")
)

var (
	accentStyle  = lipgloss.NewStyle().Foreground(Accent).Bold(true)
	passStyle    = lipgloss.NewStyle().Foreground(Pass)
	warnStyle    = lipgloss.NewStyle().Foreground(Warn)
	failStyle    = lipgloss.NewStyle().Foreground(Fail).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(Muted)
	headingStyle = lipgloss.NewStyle().Foreground(Heading).Bold(true)
)

var colorEnabled = detectColor()

func detectColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// SetColor forces colors on or off.
func SetColor(enabled bool) {
	colorEnabled = enabled
}

// ColorEnabled reports whether Render* functions emit styling.
func ColorEnabled() bool {
	return colorEnabled
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

func RenderAccent(s string) string  { return render(accentStyle, s) }
func RenderPass(s string) string    { return render(passStyle, s) }
func RenderWarn(s string) string    { return render(warnStyle, s) }
func RenderFail(s string) string    { return render(failStyle, s) }
func RenderMuted(s string) string   { return render(mutedStyle, s) }
func RenderHeading(s string) string { return render(headingStyle, s) }

// Width returns the terminal width of stdout, or fallback when stdout is
// not a terminal.
func Width(fallback int) int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

// Truncate shortens s to at most width cells, ending in an ellipsis.
func Truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

// Table lays out rows in left-aligned columns separated by two spaces.
// The first row is rendered as a heading.
func Table(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	widths := make([]int, 0)
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			pad := cell
			if i < len(row)-1 {
				pad += strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			}
			cells[i] = pad
		}
		line := strings.Join(cells, "  ")
		if r == 0 {
			line = RenderHeading(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
