package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/coms/internal/scenario"
	"github.com/Iron-Ham/coms/internal/trace"
)

// chromeHeight is the number of rows used by everything except the
// timeline body: header, status, border, and help line.
const chromeHeight = 6

// recordMsg carries one trace record into the model.
type recordMsg struct {
	rec trace.Record
}

// doneMsg reports that playback finished.
type doneMsg struct {
	result *scenario.Result
	err    error
}

// Model is the live timeline view of a playback.
type Model struct {
	name     string
	renderer *trace.Renderer
	spinner  spinner.Model

	lines  []string
	counts map[trace.Kind]int

	width  int
	height int

	result   *scenario.Result
	err      error
	done     bool
	quitting bool
}

// NewModel creates a model for the scenario called name.
func NewModel(name string, renderer *trace.Renderer) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	return Model{
		name:     name,
		renderer: renderer,
		spinner:  s,
		counts:   make(map[trace.Kind]int),
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case recordMsg:
		m.counts[msg.rec.Kind]++
		m.lines = append(m.lines, m.renderer.Render(msg.rec))
		return m, nil

	case doneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("coms: " + m.name))
	b.WriteString("\n")
	b.WriteString(m.status())
	b.WriteString("\n")

	lines := m.visibleLines()
	if inner := m.width - 4; inner > 0 {
		fitted := make([]string, len(lines))
		for i, line := range lines {
			fitted[i] = truncateLine(line, inner)
		}
		lines = fitted
	}
	body := strings.Join(lines, "\n")
	if body == "" {
		body = statusStyle.Render("waiting for the first signal...")
	}
	box := timelineStyle
	if m.width > 2 {
		box = box.Width(m.width - 2)
	}
	b.WriteString(box.Render(body))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q quit"))
	return b.String()
}

func (m Model) status() string {
	summary := fmt.Sprintf("%d sent · %d delivered · %d failed",
		m.counts[trace.KindSend], m.counts[trace.KindDeliver], m.counts[trace.KindFail])

	switch {
	case m.err != nil:
		return errorStyle.Render("error: "+m.err.Error()) + "  " + statusStyle.Render(summary)
	case m.done && m.result != nil:
		return doneStyle.Render("done in "+m.result.Elapsed.String()) + "  " + statusStyle.Render(summary)
	case m.done:
		return doneStyle.Render("done") + "  " + statusStyle.Render(summary)
	default:
		return m.spinner.View() + " " + statusStyle.Render("playing  "+summary)
	}
}

// visibleLines returns the tail of the timeline that fits the window.
func (m Model) visibleLines() []string {
	if m.height <= 0 {
		return m.lines
	}
	rows := m.height - chromeHeight
	if rows < 1 {
		rows = 1
	}
	if len(m.lines) <= rows {
		return m.lines
	}
	return m.lines[len(m.lines)-rows:]
}

// Done reports whether playback finished before the view closed.
func (m Model) Done() bool {
	return m.done
}

// Quitting reports whether the user closed the view.
func (m Model) Quitting() bool {
	return m.quitting
}

// truncateLine cuts s to maxWidth visual columns, keeping escape sequences
// intact, and marks the cut with "...".
func truncateLine(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}
