// Package ticker implements the long-lived run loop executed by each ticker
// worker: an interruptible wait, a periodic unit of work inside a fresh
// transaction, cooperative reload/shutdown via latched signal flags, and an
// emergency exit when the host supervisor dies.
package ticker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tickerd/tickerd/internal/config"
	"github.com/tickerd/tickerd/internal/logging"
	"go.uber.org/zap"
)

var (
	// ErrStoppedByRequest is returned on a clean shutdown. The host restart
	// policy deliberately treats it the same as any other exit.
	ErrStoppedByRequest = errors.New("ticker stopped by request")

	// ErrSupervisorDied is returned when the wait observes supervisor death.
	ErrSupervisorDied = errors.New("supervisor died, terminating")

	// ErrNoDatabaseTarget is returned when neither target_database nor a
	// launch-supplied database identity is available.
	ErrNoDatabaseTarget = errors.New("no database to connect to: set target_database or supply a database identity at launch")
)

// Session is one runtime's exclusive handle on the transactional execution
// facility. Tick performs exactly one unit of work inside a freshly begun,
// freshly committed transaction; an error aborts only that transaction.
type Session interface {
	Tick(ctx context.Context) error
	Close()
}

// SessionFactory establishes a session against the named database. The
// session is owned by the runtime for its entire lifetime, never shared.
type SessionFactory interface {
	Connect(ctx context.Context, database string, applicationName string) (Session, error)
}

// Activity states reported to the host's observability surface around each
// unit of work.
const (
	ActivityStarting = "starting"
	ActivityRunning  = "running"
	ActivityIdle     = "idle"
)

// ActivityReporter receives best-effort worker activity updates. Reporting
// failures are never fatal to the runtime.
type ActivityReporter interface {
	ReportActivity(worker string, status string)
}

// Runtime is the state machine a single ticker worker executes:
// STARTING → {WAITING ⇄ RUNNING_TICK} → STOPPING. Exactly one goroutine runs
// the loop; the only cross-goroutine inputs are the signal flags and latch.
type Runtime struct {
	name           string
	launchDatabase string
	source         config.Source
	sessions       SessionFactory
	reporter       ActivityReporter
	logger         *logging.Logger
	supervisorDone <-chan struct{}

	latch    *Latch
	signals  *SignalState
	snapshot atomic.Pointer[config.Snapshot]
	session  Session
}

type RuntimeOption func(*Runtime)

// WithLaunchDatabase sets the database identity supplied at launch. It is
// used only when the configuration does not name a target_database.
func WithLaunchDatabase(database string) RuntimeOption {
	return func(r *Runtime) {
		r.launchDatabase = database
	}
}

// WithActivityReporter wires the host's observability surface.
func WithActivityReporter(reporter ActivityReporter) RuntimeOption {
	return func(r *Runtime) {
		r.reporter = reporter
	}
}

// WithSupervisorDone wires the channel that closes when the host supervisor
// dies. Without it the runtime never observes supervisor death.
func WithSupervisorDone(done <-chan struct{}) RuntimeOption {
	return func(r *Runtime) {
		r.supervisorDone = done
	}
}

func New(name string, source config.Source, sessions SessionFactory, logger *logging.Logger, opts ...RuntimeOption) *Runtime {
	latch := NewLatch()
	r := &Runtime{
		name:     name,
		source:   source,
		sessions: sessions,
		logger:   logger,
		latch:    latch,
		// Signal state exists before anything else can run: notifiers must be
		// deliverable (and latched) before the first wait begins, otherwise a
		// shutdown arriving during startup would be lost.
		signals: NewSignalState(latch),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) Name() string { return r.name }

// Signals exposes the runtime's notifier surface to the host.
func (r *Runtime) Signals() *SignalState { return r.signals }

// Snapshot returns the configuration snapshot in effect for the next cycle.
func (r *Runtime) Snapshot() config.Snapshot { return *r.snapshot.Load() }

// Start performs the startup sequence: reset signal flags (a restart stands
// in for a fresh process), load configuration, establish the database
// session, and announce the worker. Each step is a precondition for the next.
func (r *Runtime) Start(ctx context.Context) error {
	r.signals.reset()

	snap, err := r.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	r.snapshot.Store(&snap)

	// Explicit target_database overrides the launch-supplied identity.
	database := snap.TargetDatabase
	if database == "" {
		database = r.launchDatabase
	}
	if database == "" {
		return ErrNoDatabaseTarget
	}

	session, err := r.sessions.Connect(ctx, database, r.name)
	if err != nil {
		return fmt.Errorf("connect to %q: %w", database, err)
	}
	r.session = session

	// Best-effort announce; the runtime works fine without an observer.
	r.report(ActivityStarting)

	r.logger.Ctx(ctx).Info("ticker initialized",
		zap.String("worker", r.name),
		zap.String("database", database),
		zap.Duration("tick_interval", snap.TickInterval))
	return nil
}

// Run executes the main loop until shutdown is requested. It returns
// ErrStoppedByRequest on a clean stop, ErrSupervisorDied if the host
// supervisor vanished mid-wait, or ctx.Err() when the host interrupts it.
// Must be called after a successful Start.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.session.Close()
	logger := r.logger.Ctx(ctx)

	for {
		// Shutdown is checked once per full cycle, never mid-action.
		if r.signals.ShutdownRequested() {
			logger.Info("ticker stopping on request", zap.String("worker", r.name))
			return ErrStoppedByRequest
		}

		snap := r.snapshot.Load()
		reason := r.latch.Wait(ctx, snap.TickInterval, r.supervisorDone)

		if reason == WakeSupervisorDeath {
			// Emergency bailout: never keep ticking against an environment
			// whose supervisor is gone.
			logger.Error("supervisor death detected, terminating", zap.String("worker", r.name))
			return ErrSupervisorDied
		}

		// Honor a pending interrupt from the host before doing anything else.
		if reason == WakeCanceled || ctx.Err() != nil {
			return ctx.Err()
		}

		if r.signals.consumeReload() {
			if err := r.reload(ctx); err != nil {
				// Keep the previous snapshot; a broken config file must not
				// kill a running worker.
				logger.Error("config reload failed, keeping previous configuration",
					zap.String("worker", r.name), zap.Error(err))
			}
		}

		// A latch wake delivers signals only; the unit of work runs when the
		// sleep budget actually elapsed. This keeps reload from triggering a
		// tick and keeps consecutive ticks at least one interval apart.
		if reason == WakeTimeout && !r.signals.ShutdownRequested() {
			r.tick(ctx)
		}
	}
}

// reload swaps in a fresh configuration snapshot. Runs only between cycles,
// never while a unit of work is in flight.
func (r *Runtime) reload(ctx context.Context) error {
	snap, err := r.source.Load(ctx)
	if err != nil {
		return err
	}
	r.snapshot.Store(&snap)
	r.logger.Ctx(ctx).Info("configuration reloaded",
		zap.String("worker", r.name),
		zap.Duration("tick_interval", snap.TickInterval))
	return nil
}

// tick performs one unit of work. A failure aborts that transaction only; it
// is reported through the standard error path and the loop continues.
func (r *Runtime) tick(ctx context.Context) {
	r.report(ActivityRunning)
	if err := r.session.Tick(ctx); err != nil {
		r.logger.Ctx(ctx).Error("tick failed",
			zap.String("worker", r.name), zap.Error(err))
	}
	r.report(ActivityIdle)
}

func (r *Runtime) report(status string) {
	if r.reporter != nil {
		r.reporter.ReportActivity(r.name, status)
	}
}
