// Package tui provides the terminal views for hostagent: a live progress
// view for a single turn and static renderers for workers and sessions.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// EventMsg wraps an orchestrator lifecycle event for the TUI.
type EventMsg struct {
	Type         string
	DelegationID string
	Worker       string
	TaskID       string
	Message      string
	Error        string
	Timestamp    time.Time
	Duration     time.Duration
}

// TurnDoneMsg signals that the turn has finished.
type TurnDoneMsg struct {
	Output   string
	Degraded bool
	Err      error
}

// rowStatus is the display state of one delegation.
type rowStatus int

const (
	rowPending rowStatus = iota
	rowRunning
	rowDone
	rowFailed
	rowSkipped
)

type row struct {
	id       string
	worker   string
	status   rowStatus
	detail   string
	duration time.Duration
}

// TurnApp shows a spinner and per-delegation progress while a turn runs.
type TurnApp struct {
	input   string
	spinner spinner.Model
	// order is the delegation ids in first-seen order.
	order []string
	rows  map[string]*row
	start time.Time

	done     bool
	output   string
	degraded bool
	err      error
	quitting bool
	styles   styles
}

// NewTurnApp creates a TurnApp for the given user input.
func NewTurnApp(input string) *TurnApp {
	s := spinner.New()
	s.Spinner = spinner.Dot
	st := newStyles()
	s.Style = st.running
	return &TurnApp{
		input:   input,
		spinner: s,
		rows:    make(map[string]*row),
		start:   time.Now(),
		styles:  st,
	}
}

// Init implements tea.Model.
func (a *TurnApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *TurnApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			a.quitting = true
			return a, tea.Quit
		}

	case EventMsg:
		a.handleEvent(msg)

	case TurnDoneMsg:
		a.done = true
		a.output = msg.Output
		a.degraded = msg.Degraded
		a.err = msg.Err
		return a, tea.Quit

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *TurnApp) handleEvent(ev EventMsg) {
	if ev.DelegationID == "" {
		return
	}
	r, ok := a.rows[ev.DelegationID]
	if !ok {
		r = &row{id: ev.DelegationID, worker: ev.Worker}
		a.rows[ev.DelegationID] = r
		a.order = append(a.order, ev.DelegationID)
	}
	switch ev.Type {
	case "task_dispatched":
		r.status = rowRunning
		r.detail = ev.TaskID
	case "task_completed":
		r.status = rowDone
		r.duration = ev.Duration
		r.detail = ""
	case "task_failed", "task_timed_out":
		r.status = rowFailed
		r.duration = ev.Duration
		r.detail = strings.ReplaceAll(ev.Type, "task_", "")
	case "task_skipped":
		r.status = rowSkipped
		r.detail = ev.Message
	}
}

// Result returns the final output, whether the turn degraded, and any error.
func (a *TurnApp) Result() (string, bool, error) {
	return a.output, a.degraded, a.err
}

// Done reports whether the turn finished.
func (a *TurnApp) Done() bool {
	return a.done
}

// View implements tea.Model.
func (a *TurnApp) View() string {
	if a.quitting && !a.done {
		return a.styles.muted.Render("Detached; the turn keeps running on the host.") + "\n"
	}

	var b strings.Builder
	b.WriteString(a.styles.title.Render("> " + truncate(a.input, 72)))
	b.WriteString("\n\n")

	if len(a.order) == 0 && !a.done {
		fmt.Fprintf(&b, "%s planning...\n", a.spinner.View())
	}
	for _, id := range a.order {
		b.WriteString(a.renderRow(a.rows[id]))
		b.WriteString("\n")
	}

	if a.done {
		b.WriteString("\n")
		switch {
		case a.err != nil:
			b.WriteString(a.styles.failed.Render("Error: " + a.err.Error()))
		case a.degraded:
			b.WriteString(a.styles.warning.Render(a.output))
		default:
			b.WriteString(lipgloss.NewStyle().Render(a.output))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (a *TurnApp) renderRow(r *row) string {
	var icon string
	var style lipgloss.Style
	switch r.status {
	case rowRunning:
		icon, style = a.spinner.View(), a.styles.running
	case rowDone:
		icon, style = iconDone, a.styles.done
	case rowFailed:
		icon, style = iconFailed, a.styles.failed
	case rowSkipped:
		icon, style = iconSkipped, a.styles.muted
	default:
		icon, style = iconPending, a.styles.muted
	}

	line := fmt.Sprintf("%s %-4s %-18s", icon, r.id, r.worker)
	if r.duration > 0 {
		line += " " + formatDuration(r.duration)
	}
	if r.detail != "" {
		line += " " + a.styles.muted.Render(truncate(r.detail, 40))
	}
	return style.Render(line)
}
