// Package session owns the session records tracked for each chat thread:
// the state machine with its validated transition table, bounded log
// retention, JSON persistence, and timeout-based auto-recovery.
package session

import "time"

// State represents the lifecycle state of a session.
type State string

const (
	// StateInitializing is the initial state: the session record exists but
	// no environment has been prepared yet.
	StateInitializing State = "initializing"

	// StateStarting indicates the execution environment (worktree,
	// container) is being prepared.
	StateStarting State = "starting"

	// StateReady indicates the environment is prepared and the session is
	// waiting for work to begin.
	StateReady State = "ready"

	// StateRunning indicates the coding agent is actively working.
	StateRunning State = "running"

	// StateWaiting indicates the agent is paused for user input.
	StateWaiting State = "waiting"

	// StateCompleted indicates the session finished successfully.
	StateCompleted State = "completed"

	// StateError indicates the session failed or was forced down by
	// auto-recovery.
	StateError State = "error"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if this state represents a final state. Terminal
// sessions satisfy scheduler dependencies and are only removed by an
// explicit delete.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateError
}

// transitions is the static table of permitted state changes. An update
// whose target state is absent from the source state's row is rejected.
var transitions = map[State][]State{
	StateInitializing: {StateStarting, StateError},
	StateStarting:     {StateReady, StateError},
	StateReady:        {StateRunning, StateWaiting, StateError},
	StateRunning:      {StateWaiting, StateCompleted, StateError},
	StateWaiting:      {StateRunning, StateCompleted, StateError},
	StateCompleted:    {},
	StateError:        {StateInitializing},
}

// CanTransition reports whether the transition table permits moving from
// one state to another. Staying in the same state is always permitted.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MaxLogLines is the capacity of a session's log ring. Appends past this
// drop the oldest lines.
const MaxLogLines = 100

// Session is the unit of tracked work: one per chat thread.
type Session struct {
	// ID is the internally generated session identifier.
	ID string `json:"id"`

	// ThreadID is the external correlation key. At most one live session
	// exists per thread.
	ThreadID string `json:"thread_id"`

	// Repository is the name of the repository the agent works on.
	Repository string `json:"repository"`

	// Branch is the working branch for this session.
	Branch string `json:"branch"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// WorktreePath is the filesystem path of the session's worktree, once
	// the environment layer has created one.
	WorktreePath string `json:"worktree_path,omitempty"`

	// ContainerID identifies the sandbox container, once started.
	ContainerID string `json:"container_id,omitempty"`

	// LastError holds the most recent error message, if any.
	LastError string `json:"last_error,omitempty"`

	// Logs is the bounded ring of recent log lines (newest last).
	Logs []string `json:"logs"`

	// UserID, GuildID and ChannelID identify the chat principal that owns
	// the session.
	UserID    string `json:"user_id"`
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id"`

	// Priority is the scheduling priority requested for this session.
	// Lower values are served first.
	Priority int `json:"priority"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is refreshed on every successful update.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the store.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Logs = make([]string, len(s.Logs))
	copy(cp.Logs, s.Logs)
	return &cp
}

// CreateParams carries the caller-supplied fields for a new session.
type CreateParams struct {
	ThreadID   string
	Repository string
	Branch     string
	UserID     string
	GuildID    string
	ChannelID  string
	Priority   int
}

// Patch describes a partial session update. Nil pointer fields are left
// unchanged; AppendLogs and ClearLogs may be combined (clear runs first).
type Patch struct {
	State        *State
	LastError    *string
	WorktreePath *string
	ContainerID  *string
	ClearLogs    bool
	AppendLogs   []string
}

// Stats is a snapshot of store-wide counters.
type Stats struct {
	Total   int           `json:"total"`
	ByState map[State]int `json:"by_state"`

	// Active is the count of sessions in non-terminal states.
	Active int `json:"active"`

	// ErrorRate is the percentage of all sessions currently in the error
	// state.
	ErrorRate float64 `json:"error_rate"`

	// AvgCompletedMinutes is the mean wall-clock duration, in minutes, of
	// sessions that reached the completed state.
	AvgCompletedMinutes float64 `json:"avg_completed_minutes"`
}
