// Package launcher implements the synchronous launch protocol: build a
// worker descriptor, register it with the host, block on the start
// acknowledgement, and translate the outcome into a typed result.
package launcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/tickerd/tickerd/internal/config"
	"github.com/tickerd/tickerd/internal/host"
	"github.com/tickerd/tickerd/internal/ticker"
)

var (
	// ErrInsufficientResources classifies launches that failed because the
	// registry was full or the worker exited before confirming startup.
	ErrInsufficientResources = errors.New("could not start background process")

	// ErrHostUnavailable classifies launches that failed because the host's
	// worker-management facility is gone. Distinct from resource exhaustion:
	// retrying is pointless until the facility is restarted.
	ErrHostUnavailable = errors.New("cannot start background processes without the worker supervisor")
)

// Error is a launch failure carrying an actionable hint alongside its
// classification. Unwrap exposes the class for errors.Is.
type Error struct {
	Err  error
	Hint string
}

func (e *Error) Error() string {
	if e.Hint == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (hint: %s)", e.Err, e.Hint)
}

func (e *Error) Unwrap() error { return e.Err }

// StartupWaiter is the host handle surface Launch blocks on.
type StartupWaiter interface {
	WaitForStartup(ctx context.Context) (host.Status, int, error)
}

// Registry is the host surface used to register workers on demand.
type Registry interface {
	RegisterDynamicWorker(spec host.WorkerSpec) (StartupWaiter, error)
}

// RuntimeFactory builds the ticker runtime a launched worker will execute,
// bound to the launch-supplied database identity.
type RuntimeFactory func(name string, databaseIdentity string) *ticker.Runtime

type Launcher struct {
	registry Registry
	source   config.Source
	runtimes RuntimeFactory
}

func New(registry Registry, source config.Source, runtimes RuntimeFactory) *Launcher {
	return &Launcher{
		registry: registry,
		source:   source,
		runtimes: runtimes,
	}
}

// NewWithHost wires a Launcher directly to a host.
func NewWithHost(h *host.Host, source config.Source, runtimes RuntimeFactory) *Launcher {
	return New(hostRegistry{h}, source, runtimes)
}

type hostRegistry struct {
	h *host.Host
}

func (r hostRegistry) RegisterDynamicWorker(spec host.WorkerSpec) (StartupWaiter, error) {
	return r.h.RegisterDynamicWorker(spec)
}

// Launch starts a ticker worker for the given database identity and blocks
// until the host acknowledges the start. On success it returns the worker's
// process id. Failures are never retried here; retry is the caller's call.
func (l *Launcher) Launch(ctx context.Context, databaseIdentity string) (int, error) {
	snap, err := l.source.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}

	name := fmt.Sprintf("tickerd worker: %s", databaseIdentity)
	rt := l.runtimes(name, databaseIdentity)
	spec := WorkerSpec(rt, databaseIdentity, snap.RestartDelaySeconds)

	handle, err := l.registry.RegisterDynamicWorker(spec)
	if err != nil {
		return 0, &Error{
			Err:  fmt.Errorf("%w: %w", ErrInsufficientResources, err),
			Hint: "Raise max_workers or stop an existing worker.",
		}
	}

	status, pid, err := handle.WaitForStartup(ctx)
	if err != nil {
		// The caller itself was interrupted while waiting.
		return 0, err
	}

	switch status {
	case host.StatusStarted:
		return pid, nil
	case host.StatusStopped:
		return 0, &Error{
			Err:  ErrInsufficientResources,
			Hint: "More details may be available in the server log.",
		}
	case host.StatusSupervisorUnavailable:
		return 0, &Error{
			Err:  ErrHostUnavailable,
			Hint: "Restart the worker-management subsystem and try again.",
		}
	default:
		// The ack is a closed three-way result; anything else is a bug in
		// the host, not a caller-visible case.
		return 0, fmt.Errorf("internal error: unexpected startup status %d", status)
	}
}

// WorkerSpec adapts a ticker runtime into a host worker descriptor: startup
// sequence, run loop, and the signal bridge for broadcast notifications.
func WorkerSpec(rt *ticker.Runtime, databaseIdentity string, restartDelaySeconds int) host.WorkerSpec {
	return host.WorkerSpec{
		Name:                rt.Name(),
		DatabaseIdentity:    databaseIdentity,
		RestartDelaySeconds: restartDelaySeconds,
		Start: func(ctx context.Context) (host.RunFunc, error) {
			if err := rt.Start(ctx); err != nil {
				return nil, err
			}
			return rt.Run, nil
		},
		Notify: func(sig host.Signal) {
			switch sig {
			case host.SignalShutdown:
				rt.Signals().RequestShutdown()
			case host.SignalReload:
				rt.Signals().RequestReload()
			}
		},
	}
}
