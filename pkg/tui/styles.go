// Package tui renders orchestrator state for terminals: tables, markdown,
// prompts and the watch TUI.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/phonon/pkg/aiida"
	"github.com/ormasoftchile/phonon/pkg/orchestrator"
)

// Status glyphs convey meaning without relying on color alone.
const (
	GlyphPresent = "✓"
	GlyphAbsent  = "✗"
	GlyphPending = "○"
	GlyphRunning = "▸"
	GlyphUnknown = "?"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan).
			Padding(0, 1)

	okStyle      = lipgloss.NewStyle().Foreground(colorGreen)
	failStyle    = lipgloss.NewStyle().Foreground(colorRed)
	pendingStyle = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
)

// Header renders a section title.
func Header(s string) string { return headerStyle.Render(s) }

// Present renders a presence flag.
func Present(ok bool) string {
	if ok {
		return okStyle.Render(GlyphPresent + " present")
	}
	return failStyle.Render(GlyphAbsent + " absent")
}

// StatusGlyph returns the glyph and style of a calculation status.
func StatusGlyph(s aiida.Status) string {
	switch s {
	case aiida.StatusFinished:
		return okStyle.Render(GlyphPresent)
	case aiida.StatusFailed:
		return failStyle.Render(GlyphAbsent)
	case aiida.StatusRunning:
		return pendingStyle.Render(GlyphRunning)
	case aiida.StatusSubmitted:
		return pendingStyle.Render(GlyphPending)
	}
	return dimStyle.Render(GlyphUnknown)
}

// StateBadge renders a machine state.
func StateBadge(s orchestrator.State) string {
	switch {
	case s == orchestrator.StateCompleted:
		return okStyle.Bold(true).Render(string(s))
	case s == orchestrator.StateFailed:
		return failStyle.Bold(true).Render(string(s))
	case s.Gate():
		return pendingStyle.Bold(true).Render(string(s))
	}
	return string(s)
}
