package event

import "time"

// Event is the interface all events implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g. "session.started", "queue.status_changed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers. Subscribers use these with Bus.Subscribe.
const (
	TypeSessionQueued      = "session.queued"
	TypeSessionStarted     = "session.started"
	TypeSessionCompleted   = "session.completed"
	TypeSessionTimeout     = "session.timeout"
	TypeDeadlockDetected   = "scheduler.deadlock_detected"
	TypeQueueStatusChanged = "queue.status_changed"

	TypeSessionCreated      = "session.created"
	TypeSessionUpdated      = "session.updated"
	TypeSessionStateChanged = "session.state_changed"
	TypeSessionLogAdded     = "session.log_added"
	TypeSessionError        = "session.error"
	TypeSessionDeleted      = "session.deleted"
)

// baseEvent provides the common fields for all events.
// Embed it in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// -----------------------------------------------------------------------------
// Scheduler Events
// -----------------------------------------------------------------------------

// QueueReason explains why a session was queued rather than started.
type QueueReason string

const (
	// ReasonCapacity means all run slots were occupied.
	ReasonCapacity QueueReason = "capacity"
	// ReasonDependencies means at least one dependency is not yet completed.
	ReasonDependencies QueueReason = "dependencies"
)

// SessionQueuedEvent is emitted when an admission request cannot be granted
// immediately. Position is the 1-indexed rank in the wait list, or 0 when the
// event is informational (dependency notice before the immediate-start check).
type SessionQueuedEvent struct {
	baseEvent
	SessionID string
	Position  int
	Priority  int
	Reason    QueueReason
}

// NewSessionQueuedEvent creates a SessionQueuedEvent.
func NewSessionQueuedEvent(sessionID string, position, priority int, reason QueueReason) SessionQueuedEvent {
	return SessionQueuedEvent{
		baseEvent: newBaseEvent(TypeSessionQueued),
		SessionID: sessionID,
		Position:  position,
		Priority:  priority,
		Reason:    reason,
	}
}

// SessionStartedEvent is emitted when a session is granted a run slot.
type SessionStartedEvent struct {
	baseEvent
	SessionID string
	Running   int // running count after the grant
	Waited    time.Duration
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(sessionID string, running int, waited time.Duration) SessionStartedEvent {
	return SessionStartedEvent{
		baseEvent: newBaseEvent(TypeSessionStarted),
		SessionID: sessionID,
		Running:   running,
		Waited:    waited,
	}
}

// SessionCompletedEvent is emitted when the work executor reports completion.
type SessionCompletedEvent struct {
	baseEvent
	SessionID string
	Running   int // running count after the release
}

// NewSessionCompletedEvent creates a SessionCompletedEvent.
func NewSessionCompletedEvent(sessionID string, running int) SessionCompletedEvent {
	return SessionCompletedEvent{
		baseEvent: newBaseEvent(TypeSessionCompleted),
		SessionID: sessionID,
		Running:   running,
	}
}

// SessionTimeoutEvent is emitted when a queued admission request times out
// before a slot becomes available.
type SessionTimeoutEvent struct {
	baseEvent
	SessionID string
	Waited    time.Duration
}

// NewSessionTimeoutEvent creates a SessionTimeoutEvent.
func NewSessionTimeoutEvent(sessionID string, waited time.Duration) SessionTimeoutEvent {
	return SessionTimeoutEvent{
		baseEvent: newBaseEvent(TypeSessionTimeout),
		SessionID: sessionID,
		Waited:    waited,
	}
}

// DeadlockDetectedEvent is emitted when the deadlock sweep finds a dependency
// cycle among waiting sessions. Dependencies is the session's direct
// dependency list at detection time.
type DeadlockDetectedEvent struct {
	baseEvent
	SessionID    string
	Dependencies []string
	Dropped      string // dependency edge removed by the resolution heuristic
}

// NewDeadlockDetectedEvent creates a DeadlockDetectedEvent.
func NewDeadlockDetectedEvent(sessionID string, dependencies []string, dropped string) DeadlockDetectedEvent {
	return DeadlockDetectedEvent{
		baseEvent:    newBaseEvent(TypeDeadlockDetected),
		SessionID:    sessionID,
		Dependencies: dependencies,
		Dropped:      dropped,
	}
}

// QueueStatusChangedEvent is emitted after a re-evaluation pass changes the
// queue (a waiting session was granted a slot).
type QueueStatusChangedEvent struct {
	baseEvent
	Running int
	Waiting int
	Max     int
}

// NewQueueStatusChangedEvent creates a QueueStatusChangedEvent.
func NewQueueStatusChangedEvent(running, waiting, max int) QueueStatusChangedEvent {
	return QueueStatusChangedEvent{
		baseEvent: newBaseEvent(TypeQueueStatusChanged),
		Running:   running,
		Waiting:   waiting,
		Max:       max,
	}
}

// -----------------------------------------------------------------------------
// Session Store Events
// -----------------------------------------------------------------------------

// SessionCreatedEvent is emitted when a session record is created.
type SessionCreatedEvent struct {
	baseEvent
	SessionID  string
	ThreadID   string
	Repository string
	Branch     string
}

// NewSessionCreatedEvent creates a SessionCreatedEvent.
func NewSessionCreatedEvent(sessionID, threadID, repository, branch string) SessionCreatedEvent {
	return SessionCreatedEvent{
		baseEvent:  newBaseEvent(TypeSessionCreated),
		SessionID:  sessionID,
		ThreadID:   threadID,
		Repository: repository,
		Branch:     branch,
	}
}

// SessionUpdatedEvent is emitted after any successful session update.
type SessionUpdatedEvent struct {
	baseEvent
	SessionID string
	ThreadID  string
}

// NewSessionUpdatedEvent creates a SessionUpdatedEvent.
func NewSessionUpdatedEvent(sessionID, threadID string) SessionUpdatedEvent {
	return SessionUpdatedEvent{
		baseEvent: newBaseEvent(TypeSessionUpdated),
		SessionID: sessionID,
		ThreadID:  threadID,
	}
}

// StateChangedEvent is emitted when an update changes the session state.
// States are mirrored as strings to avoid a dependency on the session package.
type StateChangedEvent struct {
	baseEvent
	SessionID     string
	ThreadID      string
	PreviousState string
	CurrentState  string
}

// NewStateChangedEvent creates a StateChangedEvent.
func NewStateChangedEvent(sessionID, threadID, previous, current string) StateChangedEvent {
	return StateChangedEvent{
		baseEvent:     newBaseEvent(TypeSessionStateChanged),
		SessionID:     sessionID,
		ThreadID:      threadID,
		PreviousState: previous,
		CurrentState:  current,
	}
}

// LogAddedEvent is emitted when log lines are appended to a session.
type LogAddedEvent struct {
	baseEvent
	SessionID string
	ThreadID  string
	Lines     []string
}

// NewLogAddedEvent creates a LogAddedEvent.
func NewLogAddedEvent(sessionID, threadID string, lines []string) LogAddedEvent {
	return LogAddedEvent{
		baseEvent: newBaseEvent(TypeSessionLogAdded),
		SessionID: sessionID,
		ThreadID:  threadID,
		Lines:     lines,
	}
}

// ErrorOccurredEvent is emitted when an update records a session error.
type ErrorOccurredEvent struct {
	baseEvent
	SessionID string
	ThreadID  string
	Error     string
}

// NewErrorOccurredEvent creates an ErrorOccurredEvent.
func NewErrorOccurredEvent(sessionID, threadID, errMsg string) ErrorOccurredEvent {
	return ErrorOccurredEvent{
		baseEvent: newBaseEvent(TypeSessionError),
		SessionID: sessionID,
		ThreadID:  threadID,
		Error:     errMsg,
	}
}

// SessionDeletedEvent is emitted when a session record is removed.
type SessionDeletedEvent struct {
	baseEvent
	SessionID string
	ThreadID  string
}

// NewSessionDeletedEvent creates a SessionDeletedEvent.
func NewSessionDeletedEvent(sessionID, threadID string) SessionDeletedEvent {
	return SessionDeletedEvent{
		baseEvent: newBaseEvent(TypeSessionDeleted),
		SessionID: sessionID,
		ThreadID:  threadID,
	}
}
