// Package styles contains Lip Gloss style definitions.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/sortpool/internal/events"
)

var (
	TextPrimaryColor     = lipgloss.AdaptiveColor{Light: "#2D3436", Dark: "#CCCCCC"}
	TextMutedColor       = lipgloss.AdaptiveColor{Light: "#9CA0B0", Dark: "#696969"} // Hints, help text, footers
	TextDescriptionColor = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}

	BorderDefaultColor  = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}
	BorderSelectedColor = lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#89B4FA"}

	// Worker status colors
	StatusIdleColor       = lipgloss.AdaptiveColor{Light: "#9CA0B0", Dark: "#6C7086"}
	StatusBusyColor       = lipgloss.AdaptiveColor{Light: "#1E66F5", Dark: "#89B4FA"}
	StatusSuccessColor    = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	StatusErrorColor      = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	StatusTerminatedColor = lipgloss.AdaptiveColor{Light: "#DF8E1D", Dark: "#F9E2AF"}

	// Progress bar gradient endpoints
	ProgressStartColor = "#5A56E0"
	ProgressEndColor   = "#73F59F"

	TitleStyle       = lipgloss.NewStyle().Bold(true).Foreground(TextPrimaryColor)
	MutedStyle       = lipgloss.NewStyle().Foreground(TextMutedColor)
	DescriptionStyle = lipgloss.NewStyle().Foreground(TextDescriptionColor)
	ErrorTextStyle   = lipgloss.NewStyle().Foreground(StatusErrorColor)
)

// StatusColor returns the badge color for a worker. Idle workers that
// finished a task in the current run read as successful.
func StatusColor(ws events.WorkerStatus) lipgloss.TerminalColor {
	switch ws.Status {
	case events.StatusBusy:
		return StatusBusyColor
	case events.StatusError:
		return StatusErrorColor
	case events.StatusTerminated:
		return StatusTerminatedColor
	default:
		if ws.Dispatched && ws.Result != nil {
			return StatusSuccessColor
		}
		return StatusIdleColor
	}
}

// StatusBadge renders the worker's status word in its color.
func StatusBadge(ws events.WorkerStatus) string {
	label := ws.Status.String()
	if ws.Status == events.StatusIdle && ws.Dispatched && ws.Result != nil {
		label = "done"
	}
	return lipgloss.NewStyle().Bold(true).Foreground(StatusColor(ws)).Render(label)
}
