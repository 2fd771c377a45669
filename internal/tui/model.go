// Package tui is the terminal control surface of a fill session: a status
// line, progress, and keys to pause, stop, continue and quit.
//
// The worker never touches the model. Everything it reports arrives as a
// message through Bridge, which wraps tea.Program.Send.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/otms-autofill/otms-autofill/internal/session"
)

const historySize = 8

// StatusMsg carries one worker status update.
type StatusMsg session.Status

// DoneMsg tells the model the worker has finished.
type DoneMsg struct{ Err error }

// nextRowMsg asks the operator to confirm moving on to row.
type nextRowMsg struct{ row string }

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	stateStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("114"))
	pausedStyle  = stateStyle.Background(lipgloss.Color("214"))
	stoppedStyle = stateStyle.Background(lipgloss.Color("203"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	historyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	promptStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle    = lipgloss.NewStyle().Faint(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

// Model is the bubbletea model of a session.
type Model struct {
	signal  *session.Signal
	rows    []string
	answers chan<- bool

	status   session.Status
	history  []string
	awaiting string
	done     bool
	err      error
	width    int

	spinner  spinner.Model
	progress progress.Model
}

// New creates the model for a session over rows. Answers to "next row"
// questions are delivered on answers, which must be buffered.
func New(signal *session.Signal, rows []string, answers chan<- bool) Model {
	return Model{
		signal:   signal,
		rows:     rows,
		answers:  answers,
		status:   session.Status{State: "idle", Message: "Starting…"},
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if w := msg.Width - 8; w > 10 && w < 60 {
			m.progress.Width = w
		}
		return m, nil

	case StatusMsg:
		if m.status.Message != "" && m.status.Row != "" {
			m.history = append(m.history, session.Status(m.status).String())
			if len(m.history) > historySize {
				m.history = m.history[len(m.history)-historySize:]
			}
		}
		m.status = session.Status(msg)
		m.awaiting = ""
		return m, nil

	case nextRowMsg:
		m.awaiting = msg.row
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "p", " ":
		m.signal.Toggle()
	case "s":
		m.signal.Stop()
		m.answer(false)
	case "n", "enter":
		if m.awaiting != "" {
			m.answer(true)
			m.awaiting = ""
		}
	case "q", "ctrl+c", "esc":
		m.signal.Stop()
		m.answer(false)
		return m, tea.Quit
	}
	return m, nil
}

// answer never blocks the UI goroutine.
func (m Model) answer(ok bool) {
	if m.answers == nil {
		return
	}
	select {
	case m.answers <- ok:
	default:
	}
}

// Done reports whether the worker finished and with which error.
func (m Model) Done() (bool, error) {
	return m.done, m.err
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("OTMS pre-enrolment autofill"))
	if pos := m.rowPosition(); pos != "" {
		b.WriteString("  " + historyStyle.Render(pos))
	}
	b.WriteString("\n\n")

	badge := stateStyle
	state := m.status.State
	switch {
	case m.signal.StopRequested():
		badge, state = stoppedStyle, "stopped"
	case m.signal.Paused():
		badge, state = pausedStyle, "paused"
	}
	indicator := m.spinner.View()
	if m.done || m.signal.Paused() {
		indicator = " "
	}
	b.WriteString(fmt.Sprintf("%s %s %s\n", indicator, badge.Render(strings.ToUpper(state)), statusStyle.Render(m.status.Message)))

	pct := 0.0
	if m.status.Steps > 0 {
		pct = float64(m.status.Step) / float64(m.status.Steps)
	}
	if m.status.State == "complete" {
		pct = 1
	}
	b.WriteString(m.progress.ViewAs(pct) + "\n")

	if len(m.history) > 0 {
		b.WriteString("\n" + historyStyle.Render(strings.Join(m.history, "\n")) + "\n")
	}
	if m.awaiting != "" {
		b.WriteString("\n" + promptStyle.Render(fmt.Sprintf("Review and submit on the site, then press n to fill row %s.", m.awaiting)) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("Error: "+m.err.Error()) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("p pause/resume · s stop · n next row · q quit"))
	return boxStyle.Render(b.String()) + "\n"
}

func (m Model) rowPosition() string {
	if m.status.Row == "" || len(m.rows) == 0 {
		return ""
	}
	for i, r := range m.rows {
		if r == m.status.Row {
			return fmt.Sprintf("row %s (%d of %d)", r, i+1, len(m.rows))
		}
	}
	return "row " + m.status.Row
}
