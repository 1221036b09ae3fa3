package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/conductor/internal/errors"
	"github.com/kestrelworks/conductor/internal/event"
	"github.com/kestrelworks/conductor/internal/logging"
)

// Store is the single authority for session records. All methods are safe
// for concurrent use via an internal mutex; every logical mutation runs to
// completion before the next begins.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session // threadID -> session

	// flushMu serializes snapshot writes so concurrent flushes cannot
	// rename an older snapshot over a newer one.
	flushMu sync.Mutex

	bus    *event.Bus
	logger *logging.Logger

	// persistPath is where snapshots are written. Empty disables
	// persistence (used by tests).
	persistPath string
}

// NewStore creates an empty Store publishing on the given bus.
func NewStore(bus *event.Bus, logger *logging.Logger, persistPath string) *Store {
	return &Store{
		sessions:    make(map[string]*Session),
		bus:         bus,
		logger:      logger.WithComponent("store"),
		persistPath: persistPath,
	}
}

// Create registers a new session for the given chat thread in the
// initializing state. Fails with an AlreadyExistsError if a live session
// for the thread exists.
func (st *Store) Create(params CreateParams) (*Session, error) {
	st.mu.Lock()

	if _, ok := st.sessions[params.ThreadID]; ok {
		st.mu.Unlock()
		return nil, errors.NewAlreadyExistsError("session", params.ThreadID).
			WithCause(errors.ErrSessionExists)
	}

	now := time.Now()
	sess := &Session{
		ID:         uuid.NewString(),
		ThreadID:   params.ThreadID,
		Repository: params.Repository,
		Branch:     params.Branch,
		State:      StateInitializing,
		Logs:       []string{},
		UserID:     params.UserID,
		GuildID:    params.GuildID,
		ChannelID:  params.ChannelID,
		Priority:   params.Priority,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	st.sessions[params.ThreadID] = sess
	cp := sess.Clone()
	st.mu.Unlock()

	st.logger.Info("session created",
		"session_id", cp.ID, "thread_id", cp.ThreadID, "repository", cp.Repository)
	st.bus.Publish(event.NewSessionCreatedEvent(cp.ID, cp.ThreadID, cp.Repository, cp.Branch))
	st.saveAsync()
	return cp, nil
}

// Update applies a partial update to the session for the given thread.
// A state change not permitted by the transition table fails with
// ErrInvalidTransition and leaves the record unchanged.
func (st *Store) Update(threadID string, patch Patch) (*Session, error) {
	st.mu.Lock()

	sess, ok := st.sessions[threadID]
	if !ok {
		st.mu.Unlock()
		return nil, errors.NewNotFoundError("session", threadID).
			WithCause(errors.ErrSessionNotFound)
	}

	var prevState State
	stateChanged := false
	if patch.State != nil && *patch.State != sess.State {
		if !CanTransition(sess.State, *patch.State) {
			from, to := sess.State, *patch.State
			st.mu.Unlock()
			return nil, errors.NewSessionError("update rejected", errors.ErrInvalidTransition).
				WithThreadID(threadID).
				WithStates(from.String(), to.String())
		}
		prevState = sess.State
		sess.State = *patch.State
		stateChanged = true
	}

	errorSet := false
	if patch.LastError != nil {
		errorSet = *patch.LastError != "" && *patch.LastError != sess.LastError
		sess.LastError = *patch.LastError
	}
	if patch.WorktreePath != nil {
		sess.WorktreePath = *patch.WorktreePath
	}
	if patch.ContainerID != nil {
		sess.ContainerID = *patch.ContainerID
	}
	if patch.ClearLogs {
		sess.Logs = []string{}
	}
	if len(patch.AppendLogs) > 0 {
		sess.Logs = append(sess.Logs, patch.AppendLogs...)
		if len(sess.Logs) > MaxLogLines {
			sess.Logs = sess.Logs[len(sess.Logs)-MaxLogLines:]
		}
	}
	sess.UpdatedAt = time.Now()

	cp := sess.Clone()
	st.mu.Unlock()

	st.bus.Publish(event.NewSessionUpdatedEvent(cp.ID, cp.ThreadID))
	if stateChanged {
		st.logger.Info("session state changed",
			"session_id", cp.ID, "thread_id", cp.ThreadID,
			"from", prevState.String(), "to", cp.State.String())
		st.bus.Publish(event.NewStateChangedEvent(cp.ID, cp.ThreadID, prevState.String(), cp.State.String()))
	}
	if len(patch.AppendLogs) > 0 {
		st.bus.Publish(event.NewLogAddedEvent(cp.ID, cp.ThreadID, patch.AppendLogs))
	}
	if errorSet {
		st.bus.Publish(event.NewErrorOccurredEvent(cp.ID, cp.ThreadID, cp.LastError))
	}
	st.saveAsync()
	return cp, nil
}

// Delete removes the session for the given thread. Fails with a
// NotFoundError if absent.
func (st *Store) Delete(threadID string) error {
	st.mu.Lock()

	sess, ok := st.sessions[threadID]
	if !ok {
		st.mu.Unlock()
		return errors.NewNotFoundError("session", threadID).
			WithCause(errors.ErrSessionNotFound)
	}
	delete(st.sessions, threadID)
	id := sess.ID
	st.mu.Unlock()

	st.logger.Info("session deleted", "session_id", id, "thread_id", threadID)
	st.bus.Publish(event.NewSessionDeletedEvent(id, threadID))
	st.saveAsync()
	return nil
}

// Get returns a copy of the session for the given thread, or a
// NotFoundError.
func (st *Store) Get(threadID string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[threadID]
	if !ok {
		return nil, errors.NewNotFoundError("session", threadID).
			WithCause(errors.ErrSessionNotFound)
	}
	return sess.Clone(), nil
}

// GetByID returns a copy of the session with the given internal ID, or a
// NotFoundError.
func (st *Store) GetByID(sessionID string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, sess := range st.sessions {
		if sess.ID == sessionID {
			return sess.Clone(), nil
		}
	}
	return nil, errors.NewNotFoundError("session", sessionID).
		WithCause(errors.ErrSessionNotFound)
}

// List returns copies of all sessions ordered by creation time.
func (st *Store) List() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]*Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ThreadID < out[j].ThreadID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// TerminalState reports whether the session with the given internal ID is
// known to the store and, if so, whether it has reached a terminal state.
// Implements the scheduler's dependency eligibility check.
func (st *Store) TerminalState(sessionID string) (known, terminal bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, sess := range st.sessions {
		if sess.ID == sessionID {
			return true, sess.State.IsTerminal()
		}
	}
	return false, false
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Stats returns a snapshot of store-wide counters.
func (st *Store) Stats() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := Stats{
		Total:   len(st.sessions),
		ByState: make(map[State]int),
	}

	var completedCount int
	var completedMinutes float64
	for _, sess := range st.sessions {
		s.ByState[sess.State]++
		if !sess.State.IsTerminal() {
			s.Active++
		}
		if sess.State == StateCompleted {
			completedCount++
			completedMinutes += sess.UpdatedAt.Sub(sess.CreatedAt).Minutes()
		}
	}
	if s.Total > 0 {
		s.ErrorRate = float64(s.ByState[StateError]) / float64(s.Total) * 100
	}
	if completedCount > 0 {
		s.AvgCompletedMinutes = completedMinutes / float64(completedCount)
	}
	return s
}
