package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kestrelworks/conductor/internal/errors"
	"github.com/kestrelworks/conductor/internal/event"
	"github.com/kestrelworks/conductor/internal/logging"
)

func newTestStore(t *testing.T) (*Store, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	return NewStore(bus, logging.Nop(), ""), bus
}

func mustCreate(t *testing.T, st *Store, threadID string) *Session {
	t.Helper()
	sess, err := st.Create(CreateParams{
		ThreadID:   threadID,
		Repository: "acme/widgets",
		Branch:     "feature/" + threadID,
		UserID:     "u1",
		ChannelID:  "c1",
	})
	if err != nil {
		t.Fatalf("Create(%s): %v", threadID, err)
	}
	return sess
}

func setState(t *testing.T, st *Store, threadID string, s State) {
	t.Helper()
	if _, err := st.Update(threadID, Patch{State: &s}); err != nil {
		t.Fatalf("transition %s to %s: %v", threadID, s, err)
	}
}

func TestCreateStartsInitializing(t *testing.T) {
	st, _ := newTestStore(t)

	sess := mustCreate(t, st, "thread-1")
	if sess.State != StateInitializing {
		t.Errorf("new session state = %s, want %s", sess.State, StateInitializing)
	}
	if sess.ID == "" {
		t.Error("session ID not assigned")
	}
	if sess.CreatedAt.IsZero() || sess.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestCreateDuplicateThread(t *testing.T) {
	st, _ := newTestStore(t)
	mustCreate(t, st, "thread-1")

	_, err := st.Create(CreateParams{ThreadID: "thread-1"})
	if !errors.Is(err, errors.ErrSessionExists) {
		t.Errorf("duplicate create error = %v, want ErrSessionExists", err)
	}
}

func TestUpdateRejectsInvalidTransition(t *testing.T) {
	st, _ := newTestStore(t)
	mustCreate(t, st, "thread-1")

	completed := StateCompleted
	_, err := st.Update("thread-1", Patch{State: &completed})
	if !errors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("initializing->completed error = %v, want ErrInvalidTransition", err)
	}

	// The rejected update must leave the record untouched.
	sess, err := st.Get("thread-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != StateInitializing {
		t.Errorf("state after rejected update = %s, want %s", sess.State, StateInitializing)
	}
}

func TestUpdateWalksFullLifecycle(t *testing.T) {
	st, _ := newTestStore(t)
	mustCreate(t, st, "thread-1")

	for _, s := range []State{StateStarting, StateReady, StateRunning, StateWaiting, StateRunning, StateCompleted} {
		setState(t, st, "thread-1", s)
	}

	sess, _ := st.Get("thread-1")
	if sess.State != StateCompleted {
		t.Errorf("final state = %s", sess.State)
	}
}

func TestLogRingDropsOldest(t *testing.T) {
	st, _ := newTestStore(t)
	mustCreate(t, st, "thread-1")

	var lines []string
	for i := 0; i < MaxLogLines+25; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	if _, err := st.Update("thread-1", Patch{AppendLogs: lines}); err != nil {
		t.Fatal(err)
	}

	sess, _ := st.Get("thread-1")
	if len(sess.Logs) != MaxLogLines {
		t.Fatalf("log length = %d, want %d", len(sess.Logs), MaxLogLines)
	}
	if sess.Logs[0] != "line 25" {
		t.Errorf("oldest kept line = %q, want %q", sess.Logs[0], "line 25")
	}
	if last := sess.Logs[len(sess.Logs)-1]; last != fmt.Sprintf("line %d", MaxLogLines+24) {
		t.Errorf("newest line = %q", last)
	}
}

func TestClearLogsRunsBeforeAppend(t *testing.T) {
	st, _ := newTestStore(t)
	mustCreate(t, st, "thread-1")

	if _, err := st.Update("thread-1", Patch{AppendLogs: []string{"old"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Update("thread-1", Patch{ClearLogs: true, AppendLogs: []string{"new"}}); err != nil {
		t.Fatal(err)
	}

	sess, _ := st.Get("thread-1")
	if len(sess.Logs) != 1 || sess.Logs[0] != "new" {
		t.Errorf("logs = %v, want [new]", sess.Logs)
	}
}

func TestDeleteAndGet(t *testing.T) {
	st, _ := newTestStore(t)
	mustCreate(t, st, "thread-1")

	if err := st.Delete("thread-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Get("thread-1"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("Get after delete = %v, want ErrSessionNotFound", err)
	}
	if err := st.Delete("thread-1"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("second delete = %v, want ErrSessionNotFound", err)
	}
}

func TestGetByID(t *testing.T) {
	st, _ := newTestStore(t)
	created := mustCreate(t, st, "thread-1")

	sess, err := st.GetByID(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.ThreadID != "thread-1" {
		t.Errorf("ThreadID = %s", sess.ThreadID)
	}
	if _, err := st.GetByID("no-such-id"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("unknown ID = %v, want ErrSessionNotFound", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	st, _ := newTestStore(t)
	mustCreate(t, st, "thread-1")

	sess, _ := st.Get("thread-1")
	sess.State = StateCompleted
	sess.Logs = append(sess.Logs, "injected")

	again, _ := st.Get("thread-1")
	if again.State != StateInitializing || len(again.Logs) != 0 {
		t.Error("mutating a returned session leaked into the store")
	}
}

func TestStoreEventsPublished(t *testing.T) {
	st, bus := newTestStore(t)

	var mu sync.Mutex
	var types []string
	bus.SubscribeAll(func(ev event.Event) {
		mu.Lock()
		types = append(types, ev.EventType())
		mu.Unlock()
	})

	mustCreate(t, st, "thread-1")
	setState(t, st, "thread-1", StateStarting)
	if _, err := st.Update("thread-1", Patch{AppendLogs: []string{"hello"}}); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete("thread-1"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	joined := strings.Join(types, ",")
	mu.Unlock()
	for _, want := range []string{
		event.TypeSessionCreated,
		event.TypeSessionStateChanged,
		event.TypeSessionLogAdded,
		event.TypeSessionDeleted,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("event %s not published; saw %s", want, joined)
		}
	}
}

func TestErrorEventOnlyOnChange(t *testing.T) {
	st, bus := newTestStore(t)

	var mu sync.Mutex
	errorEvents := 0
	bus.Subscribe(event.TypeSessionError, func(ev event.Event) {
		mu.Lock()
		errorEvents++
		mu.Unlock()
	})

	mustCreate(t, st, "thread-1")
	msg := "clone failed"
	if _, err := st.Update("thread-1", Patch{LastError: &msg}); err != nil {
		t.Fatal(err)
	}
	// Re-applying the identical error is not a change.
	if _, err := st.Update("thread-1", Patch{LastError: &msg}); err != nil {
		t.Fatal(err)
	}
	other := "push failed"
	if _, err := st.Update("thread-1", Patch{LastError: &other}); err != nil {
		t.Fatal(err)
	}
	cleared := ""
	if _, err := st.Update("thread-1", Patch{LastError: &cleared}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if errorEvents != 2 {
		t.Errorf("published %d error events, want 2 (one per distinct error)", errorEvents)
	}

	got, err := st.Get("thread-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q after clearing", got.LastError)
	}
}

func TestListOrderedByCreation(t *testing.T) {
	st, _ := newTestStore(t)
	for _, id := range []string{"t-b", "t-a", "t-c"} {
		mustCreate(t, st, id)
	}

	list := st.List()
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.Before(list[i-1].CreatedAt) {
			t.Error("list not ordered by creation time")
		}
	}
}

func TestStats(t *testing.T) {
	st, _ := newTestStore(t)

	mustCreate(t, st, "t-1")
	mustCreate(t, st, "t-2")
	mustCreate(t, st, "t-3")
	mustCreate(t, st, "t-4")

	for _, s := range []State{StateStarting, StateReady, StateRunning, StateCompleted} {
		setState(t, st, "t-1", s)
	}
	setState(t, st, "t-2", StateError)

	stats := st.Stats()
	if stats.Total != 4 {
		t.Errorf("Total = %d", stats.Total)
	}
	if stats.Active != 2 {
		t.Errorf("Active = %d, want 2", stats.Active)
	}
	if stats.ByState[StateCompleted] != 1 || stats.ByState[StateError] != 1 {
		t.Errorf("ByState = %v", stats.ByState)
	}
	if stats.ErrorRate != 25 {
		t.Errorf("ErrorRate = %v, want 25", stats.ErrorRate)
	}
	if stats.AvgCompletedMinutes < 0 {
		t.Errorf("AvgCompletedMinutes = %v", stats.AvgCompletedMinutes)
	}
}

func TestConcurrentAccess(t *testing.T) {
	st, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			threadID := fmt.Sprintf("thread-%d", n)
			if _, err := st.Create(CreateParams{ThreadID: threadID}); err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			s := StateStarting
			if _, err := st.Update(threadID, Patch{State: &s}); err != nil {
				t.Errorf("Update: %v", err)
			}
			st.List()
			st.Stats()
		}(i)
	}
	wg.Wait()

	if st.Len() != 20 {
		t.Errorf("Len = %d, want 20", st.Len())
	}
}
