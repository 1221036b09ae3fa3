// Package scheduler implements admission control over a fixed concurrency
// budget: a priority-ordered wait list with per-entry timeouts, a
// dependency-aware eligibility check, and a periodic deadlock sweep over the
// dependency graph of waiting sessions.
package scheduler

import (
	"sync"
	"time"

	"github.com/kestrelworks/conductor/internal/errors"
	"github.com/kestrelworks/conductor/internal/event"
	"github.com/kestrelworks/conductor/internal/logging"
)

// DefaultPriority is used when the caller does not care about ordering.
// Lower values are served first.
const DefaultPriority = 10

// Config holds the scheduler's tunables.
type Config struct {
	// MaxConcurrent is the run-slot budget. Must be >= 1.
	MaxConcurrent int

	// QueueTimeout bounds how long a request may wait for a slot.
	// Zero disables the timeout.
	QueueTimeout time.Duration
}

// ContextState is the scheduler-local lifecycle of a session, distinct from
// the persisted session state machine.
type ContextState string

const (
	ContextWaiting   ContextState = "waiting"
	ContextRunning   ContextState = "running"
	ContextCompleted ContextState = "completed"
)

// Context is the scheduler's shadow bookkeeping for one session.
type Context struct {
	SessionID    string
	State        ContextState
	Priority     int
	EnqueuedAt   time.Time
	StartedAt    time.Time
	Dependencies []string // session ids that must complete first
}

// clone returns a copy safe to hand outside the scheduler.
func (c *Context) clone() *Context {
	cp := *c
	cp.Dependencies = append([]string(nil), c.Dependencies...)
	return &cp
}

// entry is one record in the wait list.
type entry struct {
	sessionID  string
	priority   int
	enqueuedAt time.Time
	admission  *Admission
	timer      *time.Timer // nil when no queue timeout is configured
}

// DependencyChecker resolves dependency ids the scheduler holds no shadow
// context for, typically against the session store. A dependency that is
// known and not yet terminal blocks its dependents; one unknown to both the
// scheduler and the checker is treated as already satisfied.
type DependencyChecker interface {
	// TerminalState reports whether the session id is known and, if so,
	// whether it has reached a terminal state.
	TerminalState(sessionID string) (known, terminal bool)
}

// QueueStats is a point-in-time snapshot of scheduler load.
type QueueStats struct {
	Running int           `json:"running"`
	Waiting int           `json:"waiting"`
	Max     int           `json:"max"`
	AvgWait time.Duration `json:"avg_wait"`
	MaxWait time.Duration `json:"max_wait"`
}

// Scheduler grants run slots to sessions under a fixed concurrency budget.
// All methods are safe for concurrent use; each logical operation runs to
// completion under an internal mutex before the next begins. Events are
// published after the mutex is released so handlers may call back in.
type Scheduler struct {
	mu       sync.Mutex
	config   Config
	contexts map[string]*Context
	waitList []*entry
	running  int

	checker DependencyChecker // may be nil
	bus     *event.Bus
	logger  *logging.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Scheduler. A non-positive MaxConcurrent is raised to 1.
// checker may be nil, in which case only the scheduler's own contexts decide
// dependency eligibility.
func New(config Config, checker DependencyChecker, bus *event.Bus, logger *logging.Logger) *Scheduler {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	return &Scheduler{
		config:   config,
		contexts: make(map[string]*Context),
		checker:  checker,
		bus:      bus,
		logger:   logger.WithComponent("scheduler"),
		now:      time.Now,
	}
}

// RequestExecution asks for a run slot for the given session. The returned
// Admission resolves as Granted when a slot is assigned, TimedOut if the
// configured queue timeout expires first, or Cancelled on explicit
// cancellation. A session with a live (waiting or running) context cannot
// request again until it completes or is cancelled.
func (s *Scheduler) RequestExecution(sessionID string, priority int, dependencies []string) (*Admission, error) {
	s.mu.Lock()

	if ctx, ok := s.contexts[sessionID]; ok && ctx.State != ContextCompleted {
		s.mu.Unlock()
		return nil, errors.NewAlreadyExistsError("execution request", sessionID).
			WithCause(errors.ErrSessionExists)
	}

	now := s.now()
	ctx := &Context{
		SessionID:    sessionID,
		State:        ContextWaiting,
		Priority:     priority,
		EnqueuedAt:   now,
		Dependencies: append([]string(nil), dependencies...),
	}
	s.contexts[sessionID] = ctx

	var events []event.Event
	depsReady := s.dependenciesCompleted(ctx)
	if !depsReady {
		events = append(events, event.NewSessionQueuedEvent(sessionID, 0, priority, event.ReasonDependencies))
	}

	adm := newAdmission(sessionID)
	if s.running < s.config.MaxConcurrent && depsReady {
		s.grant(ctx, now)
		events = append(events, event.NewSessionStartedEvent(sessionID, s.running, 0))
		s.mu.Unlock()

		adm.resolve(Result{Outcome: OutcomeGranted})
		s.logger.Info("execution granted immediately",
			"session_id", sessionID, "priority", priority, "running", s.Running())
		s.publish(events)
		return adm, nil
	}

	e := &entry{
		sessionID:  sessionID,
		priority:   priority,
		enqueuedAt: now,
		admission:  adm,
	}
	s.insert(e)
	if s.config.QueueTimeout > 0 {
		e.timer = time.AfterFunc(s.config.QueueTimeout, func() {
			s.expire(sessionID)
		})
	}
	position := s.positionLocked(sessionID)
	events = append(events, event.NewSessionQueuedEvent(sessionID, position, priority, event.ReasonCapacity))
	s.mu.Unlock()

	s.logger.Info("execution queued",
		"session_id", sessionID, "priority", priority,
		"position", position, "deps_ready", depsReady)
	s.publish(events)
	return adm, nil
}

// CompleteExecution releases the session's run slot, marks its context
// completed (which may unblock dependents), and re-evaluates the wait list.
// Unknown sessions are a no-op apart from the re-evaluation. Completing a
// session that never left the queue retires its entry: the pending admission
// is resolved as cancelled since the slot can no longer be granted.
func (s *Scheduler) CompleteExecution(sessionID string) {
	s.mu.Lock()

	var retired *entry
	var events []event.Event
	if ctx, ok := s.contexts[sessionID]; ok && ctx.State != ContextCompleted {
		if ctx.State == ContextRunning && s.running > 0 {
			s.running--
		}
		if ctx.State == ContextWaiting {
			for i, e := range s.waitList {
				if e.sessionID == sessionID {
					retired = e
					s.waitList = append(s.waitList[:i], s.waitList[i+1:]...)
					break
				}
			}
			if retired != nil && retired.timer != nil {
				retired.timer.Stop()
			}
		}
		ctx.State = ContextCompleted
		events = append(events, event.NewSessionCompletedEvent(sessionID, s.running))
		s.logger.Info("execution completed", "session_id", sessionID, "running", s.running)
	}
	events = append(events, s.reevaluateLocked()...)
	s.mu.Unlock()

	if retired != nil {
		retired.admission.resolve(Result{
			Outcome: OutcomeCancelled,
			Waited:  s.now().Sub(retired.enqueuedAt),
			Err:     errors.ErrCanceled,
		})
	}
	s.publish(events)
}

// CancelExecution withdraws a session from the scheduler: a queued entry is
// removed and its admission rejected with ErrCanceled; a running session
// frees its slot. Idempotent and safe on unknown ids.
func (s *Scheduler) CancelExecution(sessionID string) {
	s.mu.Lock()

	var cancelled *entry
	for i, e := range s.waitList {
		if e.sessionID == sessionID {
			cancelled = e
			s.waitList = append(s.waitList[:i], s.waitList[i+1:]...)
			break
		}
	}
	if cancelled != nil && cancelled.timer != nil {
		cancelled.timer.Stop()
	}

	if ctx, ok := s.contexts[sessionID]; ok {
		if ctx.State == ContextRunning && s.running > 0 {
			s.running--
		}
		delete(s.contexts, sessionID)
	}
	events := s.reevaluateLocked()
	waited := time.Duration(0)
	if cancelled != nil {
		waited = s.now().Sub(cancelled.enqueuedAt)
	}
	s.mu.Unlock()

	if cancelled != nil {
		cancelled.admission.resolve(Result{
			Outcome: OutcomeCancelled,
			Waited:  waited,
			Err:     errors.ErrCanceled,
		})
		s.logger.Info("execution cancelled", "session_id", sessionID)
	}
	s.publish(events)
}

// QueueStats returns a snapshot of scheduler load, including the average and
// maximum current wait across queued entries.
func (s *Scheduler) QueueStats() QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := QueueStats{
		Running: s.running,
		Waiting: len(s.waitList),
		Max:     s.config.MaxConcurrent,
	}
	if len(s.waitList) == 0 {
		return stats
	}

	now := s.now()
	var total time.Duration
	for _, e := range s.waitList {
		age := now.Sub(e.enqueuedAt)
		total += age
		if age > stats.MaxWait {
			stats.MaxWait = age
		}
	}
	stats.AvgWait = total / time.Duration(len(s.waitList))
	return stats
}

// QueuePosition returns the 1-indexed rank of the session in the wait list,
// or -1 if it is not queued (running, completed, or unknown).
func (s *Scheduler) QueuePosition(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked(sessionID)
}

// Running returns the current running count.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetContext returns a copy of the scheduler's shadow context for a session,
// or nil if unknown.
func (s *Scheduler) GetContext(sessionID string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.contexts[sessionID]
	if !ok {
		return nil
	}
	return ctx.clone()
}

// RemoveContext drops a completed session's shadow context. Live contexts
// must go through CancelExecution instead.
func (s *Scheduler) RemoveContext(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.contexts[sessionID]
	if !ok || ctx.State != ContextCompleted {
		return false
	}
	delete(s.contexts, sessionID)
	return true
}

// -----------------------------------------------------------------------------
// Internals (all require s.mu held)
// -----------------------------------------------------------------------------

// insert places e immediately before the first entry with a strictly greater
// priority value, so equal priorities keep arrival order.
func (s *Scheduler) insert(e *entry) {
	at := len(s.waitList)
	for i, existing := range s.waitList {
		if existing.priority > e.priority {
			at = i
			break
		}
	}
	s.waitList = append(s.waitList, nil)
	copy(s.waitList[at+1:], s.waitList[at:])
	s.waitList[at] = e
}

func (s *Scheduler) positionLocked(sessionID string) int {
	for i, e := range s.waitList {
		if e.sessionID == sessionID {
			return i + 1
		}
	}
	return -1
}

// dependenciesCompleted reports whether every direct dependency is done: a
// completed scheduler context, or a terminal session per the checker.
// Dependencies unknown to both are treated as already satisfied.
func (s *Scheduler) dependenciesCompleted(ctx *Context) bool {
	for _, dep := range ctx.Dependencies {
		if depCtx, ok := s.contexts[dep]; ok {
			if depCtx.State != ContextCompleted {
				return false
			}
			continue
		}
		if s.checker != nil {
			if known, terminal := s.checker.TerminalState(dep); known && !terminal {
				return false
			}
		}
	}
	return true
}

// grant gives ctx a run slot.
func (s *Scheduler) grant(ctx *Context, now time.Time) {
	ctx.State = ContextRunning
	ctx.StartedAt = now
	s.running++
}

// reevaluateLocked drains the wait list into free slots: a bounded loop that
// repeatedly grants the first entry whose dependencies are all completed.
// Blocked entries are skipped in place, never reordered, so an ineligible
// high-priority entry does not starve eligible ones behind it. Returns the
// events to publish after the mutex is released.
func (s *Scheduler) reevaluateLocked() []event.Event {
	var events []event.Event
	var resolved []*entry

	for pass := len(s.waitList); pass > 0 && s.running < s.config.MaxConcurrent; pass-- {
		granted := false
		for i, e := range s.waitList {
			ctx, ok := s.contexts[e.sessionID]
			if !ok {
				// Context vanished (cancelled underneath); drop the entry.
				s.waitList = append(s.waitList[:i], s.waitList[i+1:]...)
				granted = true
				break
			}
			if !s.dependenciesCompleted(ctx) {
				continue
			}

			s.waitList = append(s.waitList[:i], s.waitList[i+1:]...)
			if e.timer != nil {
				e.timer.Stop()
			}
			now := s.now()
			s.grant(ctx, now)
			waited := now.Sub(e.enqueuedAt)
			resolved = append(resolved, e)
			events = append(events,
				event.NewSessionStartedEvent(e.sessionID, s.running, waited),
				event.NewQueueStatusChangedEvent(s.running, len(s.waitList), s.config.MaxConcurrent))
			s.logger.Info("execution granted from queue",
				"session_id", e.sessionID, "waited", waited.Round(time.Millisecond).String(),
				"running", s.running)
			granted = true
			break
		}
		if !granted {
			break
		}
	}

	for _, e := range resolved {
		e.admission.resolve(Result{
			Outcome: OutcomeGranted,
			Waited:  s.now().Sub(e.enqueuedAt),
		})
	}
	return events
}

// expire handles a queue timeout firing for a session. A race with a grant
// or cancellation is resolved by checking the wait list under the mutex:
// whichever side removes the entry first wins.
func (s *Scheduler) expire(sessionID string) {
	s.mu.Lock()

	var expired *entry
	for i, e := range s.waitList {
		if e.sessionID == sessionID {
			expired = e
			s.waitList = append(s.waitList[:i], s.waitList[i+1:]...)
			break
		}
	}
	if expired == nil {
		s.mu.Unlock()
		return
	}
	delete(s.contexts, sessionID)
	waited := s.now().Sub(expired.enqueuedAt)
	s.mu.Unlock()

	expired.admission.resolve(Result{
		Outcome: OutcomeTimedOut,
		Waited:  waited,
		Err: errors.NewTimeoutError("queue wait", s.config.QueueTimeout).
			WithCause(errors.ErrQueueTimeout),
	})
	s.logger.Warn("queued execution timed out",
		"session_id", sessionID, "waited", waited.Round(time.Millisecond).String())
	s.publish([]event.Event{event.NewSessionTimeoutEvent(sessionID, waited)})
}

func (s *Scheduler) publish(events []event.Event) {
	for _, ev := range events {
		s.bus.Publish(ev)
	}
}
