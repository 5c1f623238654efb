package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const (
	cornerTopLeft     = "╭"
	cornerTopRight    = "╮"
	cornerBottomLeft  = "╰"
	cornerBottomRight = "╯"
	edgeHorizontal    = "─"
	edgeVertical      = "│"
)

// Panel renders content inside a rounded box with title in the top edge:
//
//	╭─ worker 0 ─────╮
//	│ content        │
//	╰────────────────╯
//
// width and height include the border. Content is clipped to fit.
func Panel(content, title string, width, height int, borderColor lipgloss.TerminalColor) string {
	edge := lipgloss.NewStyle().Foreground(borderColor)

	inner := max(width-2, 1)
	rows := max(height-2, 1)

	body := lipgloss.NewStyle().Width(inner).MaxWidth(inner).Height(rows).MaxHeight(rows).Render(content)
	lines := strings.Split(body, "\n")

	var b strings.Builder
	b.WriteString(topEdge(title, inner, edge))
	for i := range rows {
		var line string
		if i < len(lines) {
			line = lines[i]
		}
		if w := lipgloss.Width(line); w < inner {
			line += strings.Repeat(" ", inner-w)
		}
		b.WriteString("\n")
		b.WriteString(edge.Render(edgeVertical) + line + edge.Render(edgeVertical))
	}
	b.WriteString("\n")
	b.WriteString(edge.Render(cornerBottomLeft + strings.Repeat(edgeHorizontal, inner) + cornerBottomRight))
	return b.String()
}

func topEdge(title string, inner int, edge lipgloss.Style) string {
	// "─ " + title + " " needs at least one cell of title.
	if title == "" || inner < 4 {
		return edge.Render(cornerTopLeft + strings.Repeat(edgeHorizontal, inner) + cornerTopRight)
	}
	title = Truncate(title, inner-4)
	rest := max(inner-3-lipgloss.Width(title), 0)
	return edge.Render(cornerTopLeft+edgeHorizontal+" ") +
		TitleStyle.Render(title) +
		edge.Render(" "+strings.Repeat(edgeHorizontal, rest)+cornerTopRight)
}

// Truncate shortens s to maxWidth cells, ending in "..." when cut.
// ANSI sequences in s are preserved.
func Truncate(s string, maxWidth int) string {
	if maxWidth < 1 {
		return ""
	}
	if ansi.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return strings.Repeat(".", maxWidth)
	}
	return ansi.Truncate(s, maxWidth, "...")
}
