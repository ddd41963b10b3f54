// Package host is the process-management facility ticker workers run under.
// It supervises each worker in its own goroutine (the process analog),
// restarts workers after exit per their restart policy, delivers start
// acknowledgements for dynamically registered workers, and broadcasts
// shutdown/reload notifications.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tickerd/tickerd/internal/logging"
	"go.uber.org/zap"
)

var (
	// ErrRegistrationFull is returned when no dynamic worker slot is free.
	// Registration failure has no side effects.
	ErrRegistrationFull = errors.New("no free background worker slots")

	// ErrAlreadyRunning guards against double Run calls.
	ErrAlreadyRunning = errors.New("host is already running")
)

// Signal is a notification fanned out to running workers.
type Signal int

const (
	SignalShutdown Signal = iota + 1
	SignalReload
)

// RunFunc is a worker's main loop. It blocks until the worker stops.
type RunFunc func(ctx context.Context) error

// StartFunc performs a worker's startup sequence and hands back its run
// loop. The host derives the start acknowledgement from its outcome: an
// error means the worker stopped before confirming startup.
type StartFunc func(ctx context.Context) (RunFunc, error)

// WorkerSpec describes one worker to supervise. It is submitted once and
// never reused; the host owns it after registration.
type WorkerSpec struct {
	Name             string
	DatabaseIdentity string

	// RestartDelaySeconds is how long to wait before restarting the worker
	// after any exit — clean stop and crash are treated identically.
	// -1 disables restart and retires the slot after the first exit.
	RestartDelaySeconds int

	Start StartFunc

	// Notify receives broadcast signals while the worker is registered.
	// Optional.
	Notify func(Signal)
}

type supervised struct {
	spec   WorkerSpec
	pid    int
	handle *Handle // nil for static workers
}

type Host struct {
	logger          *logging.Logger
	health          *HealthTracker
	maxWorkers      int
	shutdownTimeout time.Duration

	mu       sync.Mutex
	static   []WorkerSpec
	workers  map[string]*supervised
	running  bool
	stopping bool
	nextPID  int

	workerCtx    context.Context
	cancelWorker context.CancelFunc
	wg           sync.WaitGroup

	// stopCh closes as soon as shutdown begins, so supervise goroutines
	// parked in a restart delay give up their slot instead of sleeping
	// out the delay.
	stopCh chan struct{}

	// done closes when the host itself is gone; runtimes treat it as
	// supervisor death.
	done chan struct{}
}

type HostOption func(*Host)

// WithMaxWorkers bounds the number of concurrently registered workers.
func WithMaxWorkers(n int) HostOption {
	return func(h *Host) {
		h.maxWorkers = n
	}
}

// WithShutdownTimeout bounds the graceful-shutdown wait. After the timeout
// the host cancels worker contexts and returns. Default 0 waits indefinitely
// for the cooperative stop.
func WithShutdownTimeout(timeout time.Duration) HostOption {
	return func(h *Host) {
		h.shutdownTimeout = timeout
	}
}

func New(logger *logging.Logger, opts ...HostOption) *Host {
	h := &Host{
		logger:     logger,
		health:     NewHealthTracker(),
		maxWorkers: 8,
		workers:    make(map[string]*supervised),
		done:       make(chan struct{}),
		stopCh:     make(chan struct{}),
		nextPID:    1000,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health returns the host's observability surface.
func (h *Host) Health() *HealthTracker { return h.health }

// Done closes when the host has stopped. Workers use it to detect
// supervisor death from inside their wait.
func (h *Host) Done() <-chan struct{} { return h.done }

// RegisterWorker registers a worker to auto-start when the host runs.
// Must be called before Run.
func (h *Host) RegisterWorker(spec WorkerSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrAlreadyRunning
	}
	if len(h.static) >= h.maxWorkers {
		return ErrRegistrationFull
	}
	h.static = append(h.static, spec)
	return nil
}

// RegisterDynamicWorker registers a worker on demand and returns a handle to
// wait for its start acknowledgement. A full registry fails immediately with
// ErrRegistrationFull and no side effects. When the host is not running, the
// returned handle reports StatusSupervisorUnavailable.
func (h *Host) RegisterDynamicWorker(spec WorkerSpec) (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.workers) >= h.maxWorkers {
		return nil, ErrRegistrationFull
	}

	handle := newHandle(uuid.NewString())
	if !h.running || h.stopping {
		handle.deliver(startAck{status: StatusSupervisorUnavailable})
		return handle, nil
	}

	w := &supervised{spec: spec, pid: h.allocPIDLocked(), handle: handle}
	h.workers[handle.id] = w
	h.wg.Add(1)
	go h.supervise(h.workerCtx, handle.id, w)

	h.logger.Debug("dynamic worker registered",
		zap.String("worker", spec.Name),
		zap.Int("pid", w.pid),
		zap.String("database", spec.DatabaseIdentity))
	return handle, nil
}

// Run starts all statically registered workers, then supervises until ctx is
// canceled. Shutdown is cooperative first (SignalShutdown broadcast), then
// forced after the shutdown timeout.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrAlreadyRunning
	}
	h.running = true
	h.workerCtx, h.cancelWorker = context.WithCancel(context.Background())
	for _, spec := range h.static {
		w := &supervised{spec: spec, pid: h.allocPIDLocked()}
		id := uuid.NewString()
		h.workers[id] = w
		h.wg.Add(1)
		go h.supervise(h.workerCtx, id, w)
	}
	count := len(h.workers)
	h.mu.Unlock()

	h.logger.Info("host running", zap.Int("workers", count))

	<-ctx.Done()
	return h.stop()
}

func (h *Host) stop() error {
	h.mu.Lock()
	h.stopping = true
	close(h.stopCh)
	pending := make([]*supervised, 0, len(h.workers))
	for _, w := range h.workers {
		pending = append(pending, w)
	}
	h.mu.Unlock()

	h.logger.Info("host stopping, notifying workers")
	for _, w := range pending {
		if w.handle != nil {
			// Anyone still waiting on a start ack learns the supervisor is gone.
			w.handle.deliver(startAck{status: StatusSupervisorUnavailable})
		}
		if w.spec.Notify != nil {
			w.spec.Notify(SignalShutdown)
		}
	}

	var err error
	if h.shutdownTimeout > 0 {
		select {
		case <-h.waitForWorkers():
		case <-time.After(h.shutdownTimeout):
			h.logger.Warn("shutdown timeout exceeded, interrupting workers",
				zap.Duration("timeout", h.shutdownTimeout))
			err = fmt.Errorf("shutdown timeout exceeded (%v)", h.shutdownTimeout)
		}
	} else {
		<-h.waitForWorkers()
	}
	h.cancelWorker()
	h.wg.Wait()

	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
	close(h.done)
	h.logger.Info("host stopped")
	return err
}

// Broadcast fans a signal out to every registered worker.
func (h *Host) Broadcast(sig Signal) {
	h.mu.Lock()
	targets := make([]*supervised, 0, len(h.workers))
	for _, w := range h.workers {
		targets = append(targets, w)
	}
	h.mu.Unlock()

	for _, w := range targets {
		if w.spec.Notify != nil {
			w.spec.Notify(sig)
		}
	}
}

// supervise runs one worker's start/run/restart cycle until the worker
// retires or the host stops. Only the first start attempt feeds the start
// acknowledgement.
func (h *Host) supervise(ctx context.Context, id string, w *supervised) {
	defer h.wg.Done()
	defer h.release(id)

	logger := h.logger.Ctx(ctx)
	first := true

	for {
		if h.isStopping() || ctx.Err() != nil {
			return
		}

		run, err := w.spec.Start(ctx)
		if err != nil {
			if first {
				w.ack(startAck{status: StatusStopped})
			}
			h.health.MarkFailed(w.spec.Name)
			logger.Error("worker failed to start",
				zap.String("worker", w.spec.Name),
				zap.Int("pid", w.pid),
				zap.Error(err))
		} else {
			if first {
				w.ack(startAck{status: StatusStarted, pid: w.pid})
			}
			logger.Info("worker started",
				zap.String("worker", w.spec.Name),
				zap.Int("pid", w.pid))

			err = run(ctx)
			// Clean stop and crash are indistinguishable to the restart
			// policy; both land here.
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Info("worker exited",
					zap.String("worker", w.spec.Name),
					zap.Int("pid", w.pid),
					zap.Error(err))
			}
		}
		first = false

		if w.spec.RestartDelaySeconds < 0 {
			h.health.MarkStopped(w.spec.Name)
			logger.Info("worker retired, restart disabled",
				zap.String("worker", w.spec.Name),
				zap.Int("pid", w.pid))
			return
		}

		delay := time.Duration(w.spec.RestartDelaySeconds) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-time.After(delay):
		}
	}
}

func (h *Host) release(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.workers, id)
}

// waitForWorkers converts wg.Wait into a channel usable in select.
func (h *Host) waitForWorkers() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	return done
}

func (h *Host) isStopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}

func (h *Host) allocPIDLocked() int {
	h.nextPID++
	return h.nextPID
}

func (w *supervised) ack(a startAck) {
	if w.handle != nil {
		w.handle.deliver(a)
	}
}
