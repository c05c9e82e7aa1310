// Package tui implements the terminal user interface for watching the
// live event stream.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hearthctl/hearth/pkg/haws"
)

const maxLines = 500

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f97316"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	readyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	entityStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#60a5fa"))
)

// EventMsg carries one received event into the model.
type EventMsg struct {
	Received  time.Time
	EventType string
	Summary   string
}

// PhaseMsg carries a session phase transition into the model.
type PhaseMsg struct {
	Phase haws.Phase
}

type eventLine struct {
	at        time.Time
	eventType string
	summary   string
}

// Model is the watch screen: a scrolling event log plus a status bar
// tracking the session phase.
type Model struct {
	eventType string
	events    <-chan EventMsg
	phases    <-chan PhaseMsg

	viewport viewport.Model
	spinner  spinner.Model

	lines []eventLine
	phase haws.Phase
	count int

	width  int
	height int
	ready  bool
}

// NewModel creates a watch model fed by the two channels.
func NewModel(eventType string, events <-chan EventMsg, phases <-chan PhaseMsg) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#f97316"))

	vp := viewport.New(80, 20)

	return Model{
		eventType: eventType,
		events:    events,
		phases:    phases,
		spinner:   sp,
		viewport:  vp,
		phase:     haws.Phase{Kind: haws.PhaseDisconnected, ForReset: true},
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events), waitForPhase(m.phases))
}

func waitForEvent(events <-chan EventMsg) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return tea.Quit()
		}
		return ev
	}
}

func waitForPhase(phases <-chan PhaseMsg) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-phases
		if !ok {
			return tea.Quit()
		}
		return p
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 3
		m.ready = true
		m.refresh()

	case EventMsg:
		m.count++
		m.lines = append(m.lines, eventLine{at: msg.Received, eventType: msg.EventType, summary: msg.Summary})
		if len(m.lines) > maxLines {
			m.lines = m.lines[len(m.lines)-maxLines:]
		}
		m.refresh()
		cmds = append(cmds, waitForEvent(m.events))

	case PhaseMsg:
		m.phase = msg.Phase
		cmds = append(cmds, waitForPhase(m.phases))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) refresh() {
	var b strings.Builder
	for _, line := range m.lines {
		b.WriteString(timeStyle.Render(line.at.Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(entityStyle.Render(line.eventType))
		b.WriteString(" ")
		b.WriteString(line.summary)
		b.WriteString("\n")
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(b.String())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	filter := m.eventType
	if filter == "" {
		filter = "all events"
	}
	title := titleStyle.Render("hearth watch") + statusStyle.Render(" · "+filter)

	var status string
	switch m.phase.Kind {
	case haws.PhaseCommand:
		status = readyStyle.Render("● connected") +
			statusStyle.Render(fmt.Sprintf(" %s · %d events · q to quit", m.phase.ServerVersion, m.count))
	case haws.PhaseAuthenticating:
		status = m.spinner.View() + statusStyle.Render(" authenticating...")
	default:
		if m.phase.Err != nil {
			status = errorStyle.Render("● "+m.phase.Err.Error()) + statusStyle.Render(" · reconnecting")
		} else {
			status = m.spinner.View() + statusStyle.Render(" connecting...")
		}
	}

	return title + "\n" + m.viewport.View() + "\n" + status
}
