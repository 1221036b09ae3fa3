// Package tui implements the monitor dashboard: a live view of tracked
// sessions, scheduler load, and the event feed.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kestrelworks/conductor/internal/event"
	"github.com/kestrelworks/conductor/internal/registry"
)

// App wraps the bubbletea program and its event bus subscription.
type App struct {
	program *tea.Program
	subID   string
	reg     *registry.Registry
}

// New creates the monitor dashboard over a running registry.
func New(reg *registry.Registry) *App {
	m := newModel(reg)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Forward every bus event into the program loop.
	subID := reg.Bus.SubscribeAll(func(ev event.Event) {
		p.Send(busEventMsg{ev})
	})

	return &App{program: p, subID: subID, reg: reg}
}

// Run blocks until the dashboard exits.
func (a *App) Run() error {
	defer a.reg.Bus.Unsubscribe(a.subID)
	_, err := a.program.Run()
	return err
}

// Quit asks the dashboard to exit.
func (a *App) Quit() {
	a.program.Quit()
}
