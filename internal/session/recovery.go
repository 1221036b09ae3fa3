package session

import (
	"context"
	"time"

	"github.com/kestrelworks/conductor/internal/logging"
)

// Recovery timeout defaults. Sessions stuck in a pre-run state past these
// thresholds are forced into the error state so their threads can start over.
const (
	DefaultSweepInterval      = 10 * time.Minute
	DefaultInitializingMaxAge = 10 * time.Minute
	DefaultStartingMaxAge     = 15 * time.Minute
	DefaultRunningWarnAge     = 1 * time.Hour
)

// RecoveryConfig tunes the auto-recovery sweep.
type RecoveryConfig struct {
	// SweepInterval is how often the sweep runs.
	SweepInterval time.Duration

	// InitializingMaxAge forces initializing sessions older than this into
	// the error state.
	InitializingMaxAge time.Duration

	// StartingMaxAge forces starting sessions older than this into the
	// error state.
	StartingMaxAge time.Duration

	// RunningWarnAge logs a warning for running sessions older than this.
	// Long runs are legitimate, so no state is forced.
	RunningWarnAge time.Duration
}

// DefaultRecoveryConfig returns the standard sweep thresholds.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		SweepInterval:      DefaultSweepInterval,
		InitializingMaxAge: DefaultInitializingMaxAge,
		StartingMaxAge:     DefaultStartingMaxAge,
		RunningWarnAge:     DefaultRunningWarnAge,
	}
}

// Recovery periodically scans the store for sessions stuck mid-setup,
// typically after a crash or restart left them orphaned, and forces them
// into the error state so the thread can request a fresh session.
type Recovery struct {
	store  *Store
	config RecoveryConfig
	logger *logging.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewRecovery creates a sweeper over the given store.
func NewRecovery(store *Store, config RecoveryConfig, logger *logging.Logger) *Recovery {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.InitializingMaxAge <= 0 {
		config.InitializingMaxAge = DefaultInitializingMaxAge
	}
	if config.StartingMaxAge <= 0 {
		config.StartingMaxAge = DefaultStartingMaxAge
	}
	if config.RunningWarnAge <= 0 {
		config.RunningWarnAge = DefaultRunningWarnAge
	}
	return &Recovery{
		store:  store,
		config: config,
		logger: logger.WithComponent("recovery"),
		now:    time.Now,
	}
}

// Run sweeps on the configured interval until the context is cancelled. An
// initial sweep runs immediately to catch sessions orphaned by a restart.
func (r *Recovery) Run(ctx context.Context) {
	r.Sweep()

	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep makes one pass over all sessions and returns the number forced into
// the error state.
func (r *Recovery) Sweep() int {
	now := r.now()
	recovered := 0

	for _, sess := range r.store.List() {
		age := now.Sub(sess.UpdatedAt)

		switch sess.State {
		case StateInitializing:
			if age > r.config.InitializingMaxAge {
				r.force(sess, "initialization timed out", age)
				recovered++
			}
		case StateStarting:
			if age > r.config.StartingMaxAge {
				r.force(sess, "startup timed out", age)
				recovered++
			}
		case StateRunning:
			if age > r.config.RunningWarnAge {
				r.logger.Warn("session running unusually long",
					"session_id", sess.ID, "thread_id", sess.ThreadID,
					"age", age.Round(time.Second).String())
			}
		}
	}
	return recovered
}

func (r *Recovery) force(sess *Session, reason string, age time.Duration) {
	errState := StateError
	if _, err := r.store.Update(sess.ThreadID, Patch{
		State:     &errState,
		LastError: &reason,
	}); err != nil {
		// The session may have progressed or been deleted between the
		// list and the update. Not a recovery failure.
		r.logger.Debug("recovery update skipped",
			"thread_id", sess.ThreadID, "error", err)
		return
	}
	r.logger.Warn("session auto-recovered to error state",
		"session_id", sess.ID, "thread_id", sess.ThreadID,
		"from", sess.State.String(), "reason", reason,
		"age", age.Round(time.Second).String())
}
