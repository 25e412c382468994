package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

const (
	iconDone    = "✓"
	iconFailed  = "✗"
	iconSkipped = "↷"
	iconPending = "○"
	iconHealthy = "●"
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	box     lipgloss.Style
	running lipgloss.Style
	done    lipgloss.Style
	failed  lipgloss.Style
	warning lipgloss.Style
	muted   lipgloss.Style
}

func newStyles() styles {
	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")),
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("7")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		running: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange
		done: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")), // Green
		failed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")), // Yellow
		muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray
	}
}

// RenderWorkers renders the configured workers with their health.
func RenderWorkers(workers []models.WorkerEndpoint) string {
	st := newStyles()
	if len(workers) == 0 {
		return st.muted.Render("No workers configured.")
	}

	nameW := len("WORKER")
	for _, w := range workers {
		if len(w.Name) > nameW {
			nameW = len(w.Name)
		}
	}

	var b strings.Builder
	b.WriteString(st.header.Render(fmt.Sprintf("  %-*s  %-32s  %s", nameW, "WORKER", "URL", "CAPABILITY")))
	for _, w := range workers {
		icon := st.done.Render(iconHealthy)
		if !w.Healthy {
			icon = st.failed.Render(iconHealthy)
		}
		fmt.Fprintf(&b, "\n%s %-*s  %-32s  %s", icon, nameW, w.Name, truncate(w.URL, 32), w.CapabilityOrName())
	}
	return st.box.Render(b.String())
}

// RenderSession renders a session's turn log, newest last.
func RenderSession(s *models.Session) string {
	st := newStyles()
	var b strings.Builder
	b.WriteString(st.title.Render("Session " + s.ID))
	fmt.Fprintf(&b, "\n%s\n", st.muted.Render(fmt.Sprintf("context %s, %d turns, last active %s ago",
		s.ContextID, len(s.Turns), formatDuration(time.Since(s.LastActiveAt)))))

	for _, t := range s.Turns {
		b.WriteString("\n")
		b.WriteString(st.header.Render(fmt.Sprintf("#%d > %s", t.Seq, truncate(t.Input, 70))))
		b.WriteString("\n")
		out := t.Output
		if t.Degraded {
			out = st.warning.Render(out)
		}
		b.WriteString(out)
		b.WriteString("\n")
		for _, ref := range t.Tasks {
			style := st.done
			if ref.State != models.TaskCompleted {
				style = st.failed
			}
			b.WriteString(style.Render(fmt.Sprintf("  %s %s on %s", ref.DelegationID, ref.State, ref.Worker)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RenderSessions renders a one-line summary per session.
func RenderSessions(sessions []models.Session) string {
	st := newStyles()
	if len(sessions) == 0 {
		return st.muted.Render("No sessions.")
	}
	var b strings.Builder
	b.WriteString(st.header.Render(fmt.Sprintf("%-36s  %-24s  %5s  %s", "SESSION", "CONTEXT", "TURNS", "IDLE")))
	for _, s := range sessions {
		fmt.Fprintf(&b, "\n%-36s  %-24s  %5d  %s",
			s.ID, truncate(s.ContextID, 24), len(s.Turns), formatDuration(time.Since(s.LastActiveAt)))
	}
	return st.box.Render(b.String())
}

// truncate shortens s to maxLen runes, ending with "..." when cut.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
