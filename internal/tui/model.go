package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kestrelworks/conductor/internal/event"
	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/internal/scheduler"
	"github.com/kestrelworks/conductor/internal/session"
)

// busEventMsg carries a bus event into the program loop.
type busEventMsg struct {
	event event.Event
}

// tickMsg drives the periodic refresh of sessions and queue stats.
type tickMsg time.Time

type model struct {
	reg *registry.Registry

	sessions []*session.Session
	queue    scheduler.QueueStats
	feed     []string
	maxFeed  int
	refresh  time.Duration

	filter    textinput.Model
	filtering bool

	width  int
	height int
}

func newFilterInput() textinput.Model {
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "filter"
	ti.CharLimit = 64
	return ti
}

func newModel(reg *registry.Registry) model {
	return model{
		reg:      reg,
		sessions: reg.Store.List(),
		queue:    reg.Scheduler.QueueStats(),
		maxFeed:  reg.Config.TUI.MaxEventLines,
		refresh:  reg.Config.TUI.RefreshInterval(),
		filter:   newFilterInput(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.tick(), textinput.Blink)
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.filtering {
			switch msg.String() {
			case "esc":
				m.filtering = false
				m.filter.Blur()
				m.filter.SetValue("")
				return m, nil
			case "enter":
				m.filtering = false
				m.filter.Blur()
				return m, nil
			case "ctrl+c":
				return m, tea.Quit
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			return m, cmd
		}
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "/":
			m.filtering = true
			return m, m.filter.Focus()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.sessions = m.reg.Store.List()
		m.queue = m.reg.Scheduler.QueueStats()
		return m, m.tick()

	case busEventMsg:
		m.feed = append(m.feed, formatEvent(msg.event))
		if len(m.feed) > m.maxFeed {
			m.feed = m.feed[len(m.feed)-m.maxFeed:]
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("conductor"))
	b.WriteString("  ")
	b.WriteString(m.queueLine())
	b.WriteString("\n")
	if m.filtering || m.filter.Value() != "" {
		b.WriteString(m.filter.View())
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.sessionTable())
	b.WriteString("\n")
	b.WriteString(m.eventFeed())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q: quit  /: filter"))
	return b.String()
}

func (m model) queueLine() string {
	parts := []string{
		statLabelStyle.Render("running ") + statValueStyle.Render(fmt.Sprintf("%d/%d", m.queue.Running, m.queue.Max)),
		statLabelStyle.Render("waiting ") + statValueStyle.Render(fmt.Sprintf("%d", m.queue.Waiting)),
	}
	if m.queue.Waiting > 0 {
		parts = append(parts,
			statLabelStyle.Render("max wait ")+statValueStyle.Render(m.queue.MaxWait.Round(time.Second).String()))
	}
	return strings.Join(parts, "  ")
}

// visibleSessions applies the filter input as a case-insensitive substring
// match over thread id and repository.
func (m model) visibleSessions() []*session.Session {
	query := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	if query == "" {
		return m.sessions
	}
	var out []*session.Session
	for _, s := range m.sessions {
		if strings.Contains(strings.ToLower(s.ThreadID), query) ||
			strings.Contains(strings.ToLower(s.Repository), query) {
			out = append(out, s)
		}
	}
	return out
}

func (m model) sessionTable() string {
	sessions := m.visibleSessions()
	if len(sessions) == 0 {
		return boxStyle.Render(statLabelStyle.Render("no sessions"))
	}

	var rows []string
	rows = append(rows, headerStyle.Render(fmt.Sprintf("%-22s %-13s %-24s %s", "THREAD", "STATE", "REPOSITORY", "UPDATED")))
	for _, s := range sessions {
		state := lipgloss.NewStyle().Foreground(stateColor(s.State.String())).Render(fmt.Sprintf("%-13s", s.State))
		rows = append(rows, fmt.Sprintf("%-22s %s %-24s %s",
			clip(s.ThreadID, 22), state, clip(s.Repository, 24),
			s.UpdatedAt.Format("15:04:05")))
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

func (m model) eventFeed() string {
	if len(m.feed) == 0 {
		return boxStyle.Render(statLabelStyle.Render("no events yet"))
	}

	// Show as many trailing lines as fit under the table.
	lines := m.feed
	if max := m.height - len(m.sessions) - 10; max > 0 && len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	styled := make([]string, len(lines))
	for i, line := range lines {
		styled[i] = eventStyle.Render(line)
	}
	return boxStyle.Render(strings.Join(styled, "\n"))
}

func formatEvent(ev event.Event) string {
	ts := ev.Timestamp().Format("15:04:05")
	switch e := ev.(type) {
	case event.SessionStartedEvent:
		return fmt.Sprintf("%s started %s (running %d)", ts, e.SessionID, e.Running)
	case event.SessionQueuedEvent:
		return fmt.Sprintf("%s queued %s at %d (%s)", ts, e.SessionID, e.Position, e.Reason)
	case event.SessionCompletedEvent:
		return fmt.Sprintf("%s completed %s", ts, e.SessionID)
	case event.SessionTimeoutEvent:
		return fmt.Sprintf("%s timed out %s after %s", ts, e.SessionID, e.Waited.Round(time.Second))
	case event.DeadlockDetectedEvent:
		return fmt.Sprintf("%s deadlock at %s, dropped edge to %s", ts, e.SessionID, e.Dropped)
	case event.StateChangedEvent:
		return fmt.Sprintf("%s %s: %s -> %s", ts, e.ThreadID, e.PreviousState, e.CurrentState)
	case event.ErrorOccurredEvent:
		return fmt.Sprintf("%s %s error: %s", ts, e.ThreadID, e.Error)
	default:
		return fmt.Sprintf("%s %s", ts, ev.EventType())
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
