// Package registry wires the conductor subsystems together: one explicit
// object constructed at startup and passed by reference, instead of
// process-wide singletons.
package registry

import (
	"context"
	"os"
	"sync"

	"github.com/kestrelworks/conductor/internal/config"
	"github.com/kestrelworks/conductor/internal/errors"
	"github.com/kestrelworks/conductor/internal/event"
	"github.com/kestrelworks/conductor/internal/logging"
	"github.com/kestrelworks/conductor/internal/scheduler"
	"github.com/kestrelworks/conductor/internal/session"
)

// Registry owns the core subsystems and their background loops.
type Registry struct {
	Config    *config.Config
	Logger    *logging.Logger
	Bus       *event.Bus
	Store     *session.Store
	Scheduler *scheduler.Scheduler
	Recovery  *session.Recovery
	Deadlock  *scheduler.DeadlockDetector

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs all subsystems from the given configuration. The session
// store is loaded from its persisted snapshot; a corrupt snapshot is fatal
// here and nowhere else.
func New(cfg *config.Config) (*Registry, error) {
	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "initialize logging")
	}

	bus := event.NewBus()
	store, err := session.Load(cfg.Persistence.StorePath(), bus, logger)
	if err != nil {
		logger.Close()
		return nil, errors.Wrap(err, "load session store")
	}

	sched := scheduler.New(scheduler.Config{
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		QueueTimeout:  cfg.Scheduler.QueueTimeout(),
	}, store, bus, logger)

	recovery := session.NewRecovery(store, session.RecoveryConfig{
		SweepInterval:      cfg.Recovery.SweepInterval(),
		InitializingMaxAge: cfg.Recovery.InitializingTimeout(),
		StartingMaxAge:     cfg.Recovery.StartingTimeout(),
		RunningWarnAge:     cfg.Recovery.RunningWarn(),
	}, logger)

	detector := scheduler.NewDeadlockDetector(sched, cfg.Deadlock.Interval(), resolutionPolicy(cfg), logger)

	return &Registry{
		Config:    cfg,
		Logger:    logger,
		Bus:       bus,
		Store:     store,
		Scheduler: sched,
		Recovery:  recovery,
		Deadlock:  detector,
	}, nil
}

// Start launches the background loops: periodic store flush, the
// auto-recovery sweep, and the deadlock sweep.
func (r *Registry) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel

	r.wg.Add(3)
	go func() {
		defer r.wg.Done()
		r.Store.AutoFlush(ctx, r.Config.Persistence.FlushInterval())
	}()
	go func() {
		defer r.wg.Done()
		r.Recovery.Run(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.Deadlock.Run(ctx)
	}()

	r.Logger.Info("background loops started",
		"flush_interval", r.Config.Persistence.FlushInterval().String(),
		"recovery_interval", r.Config.Recovery.SweepInterval().String(),
		"deadlock_interval", r.Config.Deadlock.Interval().String())
}

// Shutdown stops the background loops and flushes the store synchronously.
// Safe to call without a prior Start.
func (r *Registry) Shutdown() error {
	if r.cancel != nil {
		r.cancel()
		r.wg.Wait()
	}

	err := r.Store.Flush()
	if err != nil {
		r.Logger.Error("final store flush failed", "error", err)
	}
	r.Logger.Info("shutdown complete")
	r.Logger.Close()
	return err
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.File == "" {
		return logging.New(os.Stderr, level), nil
	}
	return logging.NewFile(cfg.Logging.File, level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

func resolutionPolicy(cfg *config.Config) scheduler.ResolutionPolicy {
	switch cfg.Deadlock.Policy {
	case "min_priority":
		return scheduler.MinimumPriorityVictim
	default:
		return scheduler.OldestDependency
	}
}
