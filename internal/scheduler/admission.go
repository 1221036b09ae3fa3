package scheduler

import (
	"context"
	"time"
)

// Outcome is the final disposition of an admission request. The three
// outcomes are disjoint: exactly one is ever delivered per request.
type Outcome int

const (
	// OutcomeGranted means the session was given a run slot.
	OutcomeGranted Outcome = iota
	// OutcomeTimedOut means the queue timeout fired before a slot opened.
	OutcomeTimedOut
	// OutcomeCancelled means the request was explicitly cancelled.
	OutcomeCancelled
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the tagged resolution of an admission request. Err is nil for
// OutcomeGranted and carries ErrQueueTimeout or ErrCanceled otherwise.
type Result struct {
	Outcome Outcome
	Waited  time.Duration
	Err     error
}

// Admission is the caller-visible handle for a pending execution request.
// It resolves exactly once, with one of the three outcomes.
type Admission struct {
	sessionID string
	done      chan Result
}

func newAdmission(sessionID string) *Admission {
	return &Admission{
		sessionID: sessionID,
		done:      make(chan Result, 1),
	}
}

// SessionID returns the session this admission tracks.
func (a *Admission) SessionID() string { return a.sessionID }

// Done returns a channel that receives the final Result. The channel is
// buffered, so resolution never blocks on the caller.
func (a *Admission) Done() <-chan Result {
	return a.done
}

// Wait blocks until the admission resolves or the context is cancelled.
func (a *Admission) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-a.done:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// resolve delivers the final result. Callers must guarantee single delivery;
// the scheduler does so by clearing the entry under its mutex before calling.
func (a *Admission) resolve(res Result) {
	a.done <- res
}
