// Package dashboard renders live pool status in the terminal.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/sortpool/internal/events"
	"github.com/zjrosen/sortpool/internal/keys"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/protocol"
	"github.com/zjrosen/sortpool/internal/pubsub"
	"github.com/zjrosen/sortpool/internal/ui/styles"
)

const (
	defaultWidth = 80
	panelHeight  = 5
	// maxPreview bounds how many result keys a panel shows.
	maxPreview = 12
	// maxLogLines is how many recent log entries the log pane keeps.
	maxLogLines = 8
)

// Source is the pool as seen by the dashboard.
type Source interface {
	pubsub.Subscriber[events.Snapshot]
	Snapshot() events.Snapshot
	Terminate(workerID int) error
}

// Config configures a dashboard Model.
type Config struct {
	Source Source
	// ExitWhenSettled quits once a run has started and no worker is busy.
	ExitWhenSettled bool
	// Logs feeds the log pane. Nil when logging is off.
	Logs <-chan pubsub.Event[string]
}

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	source   Source
	listener *pubsub.ContinuousListener[events.Snapshot]
	snap     events.Snapshot
	ctx      context.Context
	logs     <-chan pubsub.Event[string]
	logLines []string

	keys        keys.KeyMap
	help        help.Model
	bar         progress.Model
	selected    int
	showResults bool
	showLogs    bool
	exitSettled bool
	width       int
	notice      string
}

// New subscribes to the source for the lifetime of ctx.
func New(ctx context.Context, cfg Config) Model {
	bar := progress.New(
		progress.WithGradient(styles.ProgressStartColor, styles.ProgressEndColor),
		progress.WithoutPercentage(),
	)
	return Model{
		source:      cfg.Source,
		listener:    pubsub.NewContinuousListener(ctx, cfg.Source),
		snap:        cfg.Source.Snapshot(),
		ctx:         ctx,
		logs:        cfg.Logs,
		keys:        keys.DefaultKeyMap(),
		help:        help.New(),
		bar:         bar,
		exitSettled: cfg.ExitWhenSettled,
		width:       defaultWidth,
	}
}

// Init starts listening for snapshots. A run that settled before the
// subscription existed quits right away.
func (m Model) Init() tea.Cmd {
	if m.exitSettled && settled(m.snap) {
		return tea.Quit
	}
	return tea.Batch(m.listener.Listen(), m.listenLogs())
}

func (m Model) listenLogs() tea.Cmd {
	if m.logs == nil {
		return nil
	}
	return pubsub.ListenCmd(m.ctx, m.logs)
}

// Snapshot returns the last snapshot the model rendered.
func (m Model) Snapshot() events.Snapshot {
	return m.snap
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case pubsub.Event[events.Snapshot]:
		m.snap = msg.Payload
		if m.exitSettled && settled(m.snap) {
			return m, tea.Quit
		}
		return m, m.listener.Listen()

	case pubsub.Event[string]:
		m.logLines = append(m.logLines, strings.TrimRight(msg.Payload, "\n"))
		if n := len(m.logLines); n > maxLogLines {
			m.logLines = m.logLines[n-maxLogLines:]
		}
		return m, m.listenLogs()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func settled(s events.Snapshot) bool {
	return s.RunID != "" && !s.IsRunning
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.snap.WorkerStatuses)-1 {
			m.selected++
		}
	case key.Matches(msg, m.keys.Results):
		m.showResults = !m.showResults
	case key.Matches(msg, m.keys.Logs):
		m.showLogs = !m.showLogs
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Terminate):
		if err := m.source.Terminate(m.selected); err != nil {
			log.ErrorErr(log.CatCLI, "Terminate failed", err, "workerID", m.selected)
			m.notice = err.Error()
		} else {
			m.notice = fmt.Sprintf("worker %d terminated", m.selected)
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	title := "sortpool"
	if m.snap.RunID != "" {
		title += "  run " + shortID(m.snap.RunID)
	}
	b.WriteString(styles.TitleStyle.Render(title))
	b.WriteString("\n\n")

	m.bar.Width = max(m.width-12, 10)
	fmt.Fprintf(&b, "%s %5.1f%%\n\n", m.bar.ViewAs(m.snap.OverallProgress/100), m.snap.OverallProgress)

	for i, ws := range m.snap.WorkerStatuses {
		b.WriteString(m.renderWorker(ws, i == m.selected))
		b.WriteString("\n")
	}

	if m.showLogs {
		b.WriteString(m.renderLogs())
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(styles.MutedStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderWorker(ws events.WorkerStatus, selected bool) string {
	var border lipgloss.TerminalColor = styles.BorderDefaultColor
	if selected {
		border = styles.BorderSelectedColor
	}

	title := fmt.Sprintf("worker %d", ws.ID)
	if ws.Algorithm != "" {
		title += " · " + ws.Algorithm
	}

	m.bar.Width = max(m.width-14, 10)
	lines := []string{
		styles.StatusBadge(ws),
		fmt.Sprintf("%s %3d%%", m.bar.ViewAs(float64(ws.Progress)/100), ws.Progress),
		m.detail(ws),
	}
	height := panelHeight
	if m.showResults && ws.Result != nil {
		lines = append(lines, styles.DescriptionStyle.Render(preview(ws.Result)))
		height++
	}
	return styles.Panel(strings.Join(lines, "\n"), title, m.width, height, border)
}

func (m Model) renderLogs() string {
	if m.logs == nil {
		return styles.Panel(styles.MutedStyle.Render("logging is off (run with --debug)"), "logs", m.width, 3, styles.BorderDefaultColor)
	}
	lines := make([]string, len(m.logLines))
	for i, l := range m.logLines {
		lines[i] = styles.Truncate(l, m.width-2)
	}
	return styles.Panel(strings.Join(lines, "\n"), "logs", m.width, maxLogLines+2, styles.BorderDefaultColor)
}

func (m Model) detail(ws events.WorkerStatus) string {
	switch {
	case ws.Error != "":
		return styles.ErrorTextStyle.Render(ws.Error)
	case ws.Metrics != nil:
		return styles.MutedStyle.Render(fmt.Sprintf("%s in %s", ws.Metrics.FormatWork(), ws.Metrics.FormatDuration()))
	case ws.Status == events.StatusBusy:
		return styles.MutedStyle.Render("running " + ws.Duration().Truncate(time.Millisecond).String())
	default:
		return ""
	}
}

func preview(result []protocol.Element) string {
	ks := protocol.Keys(result)
	var parts []string
	for i, k := range ks {
		if i == maxPreview {
			parts = append(parts, fmt.Sprintf("… (%d more)", len(ks)-maxPreview))
			break
		}
		parts = append(parts, fmt.Sprintf("%g", k))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
