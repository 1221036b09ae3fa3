package scheduler

import (
	"context"
	"time"

	"github.com/kestrelworks/conductor/internal/event"
	"github.com/kestrelworks/conductor/internal/logging"
)

// DefaultDeadlockInterval is how often the deadlock sweep runs.
const DefaultDeadlockInterval = 30 * time.Second

// DependencyEdge describes one direct dependency edge of a deadlocked
// session, as seen by a resolution policy.
type DependencyEdge struct {
	SessionID  string
	Priority   int
	EnqueuedAt time.Time
}

// ResolutionPolicy picks which direct dependency edge to drop when a cycle
// is found. It receives the deadlocked session's edges that point at waiting
// sessions and returns the session id of the edge to remove. Returning an
// empty string leaves the cycle in place.
type ResolutionPolicy func(edges []DependencyEdge) string

// OldestDependency drops the edge whose target was enqueued earliest. This
// guarantees forward progress for simple cycles only; longer cycles may need
// several sweeps.
func OldestDependency(edges []DependencyEdge) string {
	if len(edges) == 0 {
		return ""
	}
	oldest := edges[0]
	for _, e := range edges[1:] {
		if e.EnqueuedAt.Before(oldest.EnqueuedAt) {
			oldest = e
		}
	}
	return oldest.SessionID
}

// MinimumPriorityVictim drops the edge whose target has the highest priority
// value, i.e. the least urgent member of the cycle.
func MinimumPriorityVictim(edges []DependencyEdge) string {
	if len(edges) == 0 {
		return ""
	}
	victim := edges[0]
	for _, e := range edges[1:] {
		if e.Priority > victim.Priority {
			victim = e
		}
	}
	return victim.SessionID
}

// DeadlockDetector periodically walks the dependency graph of waiting
// sessions and breaks cycles by dropping one dependency edge per detection.
type DeadlockDetector struct {
	sched    *Scheduler
	interval time.Duration
	policy   ResolutionPolicy
	logger   *logging.Logger
}

// NewDeadlockDetector creates a detector over the given scheduler. A nil
// policy defaults to OldestDependency; a non-positive interval defaults to
// DefaultDeadlockInterval.
func NewDeadlockDetector(sched *Scheduler, interval time.Duration, policy ResolutionPolicy, logger *logging.Logger) *DeadlockDetector {
	if interval <= 0 {
		interval = DefaultDeadlockInterval
	}
	if policy == nil {
		policy = OldestDependency
	}
	return &DeadlockDetector{
		sched:    sched,
		interval: interval,
		policy:   policy,
		logger:   logger.WithComponent("deadlock"),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (d *DeadlockDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}

// Sweep makes one pass over all waiting sessions and returns the number of
// cycles broken. Each detection drops a single dependency edge chosen by the
// resolution policy and triggers a queue re-evaluation.
func (d *DeadlockDetector) Sweep() int {
	s := d.sched
	s.mu.Lock()

	broken := 0
	var events []event.Event
	for sessionID, ctx := range s.contexts {
		if ctx.State != ContextWaiting {
			continue
		}
		if !s.hasCycleLocked(sessionID, map[string]bool{}) {
			continue
		}

		edges := s.waitingEdgesLocked(ctx)
		dropped := d.policy(edges)
		deps := append([]string(nil), ctx.Dependencies...)
		if dropped != "" {
			ctx.Dependencies = removeString(ctx.Dependencies, dropped)
		}
		broken++
		events = append(events, event.NewDeadlockDetectedEvent(sessionID, deps, dropped))
		d.logger.Warn("dependency deadlock detected",
			"session_id", sessionID, "dependencies", deps, "dropped_edge", dropped)
	}
	if broken > 0 {
		events = append(events, s.reevaluateLocked()...)
	}
	s.mu.Unlock()

	s.publish(events)
	return broken
}

// hasCycleLocked reports whether a depth-first walk from sessionID along
// dependency edges between waiting sessions revisits a node on the current
// path. Requires s.mu held.
func (s *Scheduler) hasCycleLocked(sessionID string, onPath map[string]bool) bool {
	if onPath[sessionID] {
		return true
	}
	ctx, ok := s.contexts[sessionID]
	if !ok || ctx.State != ContextWaiting {
		return false
	}

	onPath[sessionID] = true
	for _, dep := range ctx.Dependencies {
		if s.hasCycleLocked(dep, onPath) {
			return true
		}
	}
	delete(onPath, sessionID)
	return false
}

// waitingEdgesLocked returns the session's direct dependency edges that
// point at waiting sessions. Requires s.mu held.
func (s *Scheduler) waitingEdgesLocked(ctx *Context) []DependencyEdge {
	var edges []DependencyEdge
	for _, dep := range ctx.Dependencies {
		depCtx, ok := s.contexts[dep]
		if !ok || depCtx.State != ContextWaiting {
			continue
		}
		edges = append(edges, DependencyEdge{
			SessionID:  dep,
			Priority:   depCtx.Priority,
			EnqueuedAt: depCtx.EnqueuedAt,
		})
	}
	return edges
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
