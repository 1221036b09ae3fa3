package scheduler

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kestrelworks/conductor/internal/errors"
	"github.com/kestrelworks/conductor/internal/event"
	"github.com/kestrelworks/conductor/internal/logging"
)

func newTestScheduler(t *testing.T, max int, timeout time.Duration) (*Scheduler, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	s := New(Config{MaxConcurrent: max, QueueTimeout: timeout}, nil, bus, logging.Nop())
	return s, bus
}

// fakeChecker maps session id -> terminal, standing in for the session store.
type fakeChecker map[string]bool

func (f fakeChecker) TerminalState(id string) (known, terminal bool) {
	terminal, known = f[id]
	return known, terminal
}

func request(t *testing.T, s *Scheduler, sessionID string, priority int, deps ...string) *Admission {
	t.Helper()
	adm, err := s.RequestExecution(sessionID, priority, deps)
	if err != nil {
		t.Fatalf("RequestExecution(%s): %v", sessionID, err)
	}
	return adm
}

// expectOutcome waits briefly for the admission to resolve.
func expectOutcome(t *testing.T, adm *Admission, want Outcome) Result {
	t.Helper()
	select {
	case res := <-adm.Done():
		if res.Outcome != want {
			t.Fatalf("%s resolved %s, want %s", adm.SessionID(), res.Outcome, want)
		}
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not resolve within 2s", adm.SessionID())
		return Result{}
	}
}

func expectPending(t *testing.T, adm *Admission) {
	t.Helper()
	select {
	case res := <-adm.Done():
		t.Fatalf("%s resolved early: %+v", adm.SessionID(), res)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestImmediateGrantUnderBudget(t *testing.T) {
	s, _ := newTestScheduler(t, 2, 0)

	a := request(t, s, "s1", DefaultPriority)
	res := expectOutcome(t, a, OutcomeGranted)
	if res.Err != nil {
		t.Errorf("granted result carries error: %v", res.Err)
	}
	if s.Running() != 1 {
		t.Errorf("running = %d, want 1", s.Running())
	}
	if pos := s.QueuePosition("s1"); pos != -1 {
		t.Errorf("position of running session = %d, want -1", pos)
	}
}

func TestDuplicateRequestRejected(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 0)
	request(t, s, "s1", DefaultPriority)

	if _, err := s.RequestExecution("s1", DefaultPriority, nil); !errors.Is(err, errors.ErrSessionExists) {
		t.Errorf("duplicate request error = %v, want ErrSessionExists", err)
	}
}

func TestPriorityOrderingWithTieBreak(t *testing.T) {
	// One slot, one runner, then three queued with priorities 15, 5, 10.
	// Grants must come in order 5, 10, 15.
	s, _ := newTestScheduler(t, 1, 0)

	running := request(t, s, "s-run", DefaultPriority)
	expectOutcome(t, running, OutcomeGranted)

	p15 := request(t, s, "s-15", 15)
	p5 := request(t, s, "s-5", 5)
	p10 := request(t, s, "s-10", 10)

	if pos := s.QueuePosition("s-5"); pos != 1 {
		t.Errorf("position of priority 5 = %d, want 1", pos)
	}
	if pos := s.QueuePosition("s-10"); pos != 2 {
		t.Errorf("position of priority 10 = %d, want 2", pos)
	}
	if pos := s.QueuePosition("s-15"); pos != 3 {
		t.Errorf("position of priority 15 = %d, want 3", pos)
	}

	s.CompleteExecution("s-run")
	expectOutcome(t, p5, OutcomeGranted)
	expectPending(t, p10)

	s.CompleteExecution("s-5")
	expectOutcome(t, p10, OutcomeGranted)
	expectPending(t, p15)

	s.CompleteExecution("s-10")
	expectOutcome(t, p15, OutcomeGranted)
}

func TestEqualPrioritiesKeepArrivalOrder(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 0)
	expectOutcome(t, request(t, s, "runner", 0), OutcomeGranted)

	first := request(t, s, "first", 5)
	second := request(t, s, "second", 5)

	s.CompleteExecution("runner")
	expectOutcome(t, first, OutcomeGranted)
	expectPending(t, second)
}

func TestTwoSlotsThirdQueued(t *testing.T) {
	// max = 2: S1 and S2 run immediately, S3 queues at position 1, and
	// completing S1 starts S3 with the running count pinned at 2.
	s, _ := newTestScheduler(t, 2, 0)

	s1 := request(t, s, "S1", DefaultPriority)
	s2 := request(t, s, "S2", DefaultPriority)
	s3 := request(t, s, "S3", DefaultPriority)

	expectOutcome(t, s1, OutcomeGranted)
	expectOutcome(t, s2, OutcomeGranted)
	if pos := s.QueuePosition("S3"); pos != 1 {
		t.Errorf("S3 position = %d, want 1", pos)
	}
	if s.Running() != 2 {
		t.Errorf("running = %d, want 2", s.Running())
	}

	s.CompleteExecution("S1")
	expectOutcome(t, s3, OutcomeGranted)
	if s.Running() != 2 {
		t.Errorf("running after hand-off = %d, want 2", s.Running())
	}
}

func TestRunningNeverExceedsBudget(t *testing.T) {
	const max = 3
	s, bus := newTestScheduler(t, max, 0)

	var mu sync.Mutex
	peak := 0
	bus.Subscribe(event.TypeSessionStarted, func(ev event.Event) {
		started := ev.(event.SessionStartedEvent)
		mu.Lock()
		if started.Running > peak {
			peak = started.Running
		}
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		request(t, s, fmt.Sprintf("s-%d", i), i%4)
	}
	for i := 0; i < 10; i++ {
		if s.Running() > max {
			t.Fatalf("running = %d exceeds max %d", s.Running(), max)
		}
		s.CompleteExecution(fmt.Sprintf("s-%d", i))
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > max {
		t.Errorf("peak running %d exceeds max %d", peak, max)
	}
}

func TestDependencyBlocksEvenWithFreeSlot(t *testing.T) {
	s, _ := newTestScheduler(t, 2, 0)

	dep := request(t, s, "dep", DefaultPriority)
	expectOutcome(t, dep, OutcomeGranted)

	blocked := request(t, s, "blocked", DefaultPriority, "dep")
	expectPending(t, blocked)
	if s.Running() != 1 {
		t.Errorf("running = %d, want 1: blocked session took a free slot", s.Running())
	}

	s.CompleteExecution("dep")
	expectOutcome(t, blocked, OutcomeGranted)
}

func TestDanglingDependencyIsSatisfied(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 0)

	adm := request(t, s, "s1", DefaultPriority, "never-registered")
	expectOutcome(t, adm, OutcomeGranted)
}

func TestBlockedEntryDoesNotStarveEligibleBehindIt(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 0)
	expectOutcome(t, request(t, s, "runner", 0), OutcomeGranted)

	blocked := request(t, s, "blocked", 1, "runner2") // dep forever waiting
	request(t, s, "runner2", 2)                       // queued behind blocked
	eligible := request(t, s, "eligible", 3)

	s.CompleteExecution("runner")
	// "blocked" depends on runner2 which is still queued, so runner2 gets
	// the slot despite sitting behind blocked in priority order.
	select {
	case res := <-blocked.Done():
		t.Fatalf("blocked resolved: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	s.CompleteExecution("runner2")
	expectOutcome(t, blocked, OutcomeGranted)
	s.CompleteExecution("blocked")
	expectOutcome(t, eligible, OutcomeGranted)
}

func TestQueueTimeout(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 80*time.Millisecond)
	expectOutcome(t, request(t, s, "runner", 0), OutcomeGranted)

	waiting := request(t, s, "waiting", DefaultPriority)
	res := expectOutcome(t, waiting, OutcomeTimedOut)
	if !errors.Is(res.Err, errors.ErrQueueTimeout) {
		t.Errorf("timeout result error = %v, want ErrQueueTimeout", res.Err)
	}
	if res.Waited < 80*time.Millisecond {
		t.Errorf("Waited = %v, want >= timeout", res.Waited)
	}
	if pos := s.QueuePosition("waiting"); pos != -1 {
		t.Errorf("position after timeout = %d, want -1", pos)
	}
}

func TestGrantDisarmsTimeout(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 100*time.Millisecond)
	expectOutcome(t, request(t, s, "runner", 0), OutcomeGranted)

	waiting := request(t, s, "waiting", DefaultPriority)
	s.CompleteExecution("runner")
	res := expectOutcome(t, waiting, OutcomeGranted)
	if res.Err != nil {
		t.Errorf("granted result error = %v", res.Err)
	}

	// Past the timeout deadline nothing further may arrive.
	time.Sleep(150 * time.Millisecond)
	select {
	case res := <-waiting.Done():
		t.Errorf("second resolution delivered: %+v", res)
	default:
	}
}

func TestCancelQueuedRequest(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 0)
	expectOutcome(t, request(t, s, "runner", 0), OutcomeGranted)

	waiting := request(t, s, "waiting", DefaultPriority)
	s.CancelExecution("waiting")

	res := expectOutcome(t, waiting, OutcomeCancelled)
	if !errors.Is(res.Err, errors.ErrCanceled) {
		t.Errorf("cancel result error = %v, want ErrCanceled", res.Err)
	}
	if pos := s.QueuePosition("waiting"); pos != -1 {
		t.Errorf("position after cancel = %d, want -1", pos)
	}
}

func TestCancelRunningFreesSlot(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 0)
	expectOutcome(t, request(t, s, "runner", 0), OutcomeGranted)
	waiting := request(t, s, "waiting", DefaultPriority)

	s.CancelExecution("runner")
	expectOutcome(t, waiting, OutcomeGranted)
	if s.Running() != 1 {
		t.Errorf("running = %d, want 1", s.Running())
	}
}

func TestCancelUnknownIsNoOp(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 0)
	s.CancelExecution("ghost")
	s.CancelExecution("ghost")
	if s.Running() != 0 {
		t.Errorf("running = %d", s.Running())
	}
}

func TestQueuePositionUnknown(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 0)
	if pos := s.QueuePosition("nobody"); pos != -1 {
		t.Errorf("position of unknown session = %d, want -1", pos)
	}
}

func TestQueueStats(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 0)
	expectOutcome(t, request(t, s, "runner", 0), OutcomeGranted)
	request(t, s, "w1", DefaultPriority)
	request(t, s, "w2", DefaultPriority)

	time.Sleep(20 * time.Millisecond)
	stats := s.QueueStats()
	if stats.Running != 1 || stats.Waiting != 2 || stats.Max != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.AvgWait <= 0 || stats.MaxWait < stats.AvgWait {
		t.Errorf("wait stats = avg %v max %v", stats.AvgWait, stats.MaxWait)
	}
}

func TestCompleteUnknownIsNoOp(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 0)
	s.CompleteExecution("ghost")
	if s.Running() != 0 {
		t.Errorf("running = %d", s.Running())
	}
}

func TestCompletedContextCanBeRemoved(t *testing.T) {
	s, _ := newTestScheduler(t, 1, 0)
	expectOutcome(t, request(t, s, "s1", 0), OutcomeGranted)

	if s.RemoveContext("s1") {
		t.Error("RemoveContext removed a running context")
	}
	s.CompleteExecution("s1")
	if !s.RemoveContext("s1") {
		t.Error("RemoveContext refused a completed context")
	}
	if s.GetContext("s1") != nil {
		t.Error("context still present after removal")
	}
}

func TestQueuedEventPositions(t *testing.T) {
	s, bus := newTestScheduler(t, 1, 0)

	var mu sync.Mutex
	var queued []event.SessionQueuedEvent
	bus.Subscribe(event.TypeSessionQueued, func(ev event.Event) {
		mu.Lock()
		queued = append(queued, ev.(event.SessionQueuedEvent))
		mu.Unlock()
	})

	expectOutcome(t, request(t, s, "runner", 0), OutcomeGranted)
	request(t, s, "w1", 5)
	request(t, s, "w2", 3)

	mu.Lock()
	defer mu.Unlock()
	if len(queued) != 2 {
		t.Fatalf("got %d queued events, want 2", len(queued))
	}
	if queued[0].SessionID != "w1" || queued[0].Position != 1 {
		t.Errorf("first queued event = %+v", queued[0])
	}
	// w2 has the lower priority value so it is inserted ahead of w1.
	if queued[1].SessionID != "w2" || queued[1].Position != 1 {
		t.Errorf("second queued event = %+v", queued[1])
	}
}
