// Package event defines the event bus and event types that decouple the
// scheduler, the session store, and their consumers (the chat front end,
// the monitor TUI). Events are delivered synchronously in registration
// order; a failing handler never affects the emitter or other handlers.
package event
