package ticker

import (
	"context"
	"time"
)

// WakeReason reports why an interruptible wait returned.
type WakeReason int

const (
	// WakeTimeout means the full sleep budget elapsed without interruption.
	WakeTimeout WakeReason = iota
	// WakeLatch means the latch was set by an asynchronous notifier.
	WakeLatch
	// WakeSupervisorDeath means the host supervisor is gone. The runtime must
	// terminate immediately rather than keep running as an orphan.
	WakeSupervisorDeath
	// WakeCanceled means the wait's context was canceled.
	WakeCanceled
)

func (r WakeReason) String() string {
	switch r {
	case WakeTimeout:
		return "timeout"
	case WakeLatch:
		return "latch"
	case WakeSupervisorDeath:
		return "supervisor-death"
	case WakeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Latch is the runtime's sticky wake-up primitive. Set never blocks and may
// be called from any goroutine; a Set that lands before Wait begins still
// wakes that Wait immediately, which closes the "signal arrives between
// flag-check and wait-start" window. Wait consumes the pending wake.
type Latch struct {
	ch chan struct{}
}

func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{}, 1)}
}

// Set latches a wake-up. Idempotent while a wake is already pending.
func (l *Latch) Set() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Wait blocks for up to timeout, returning early when the latch is set, the
// supervisor dies, or ctx is canceled. A nil supervisorDone never fires.
func (l *Latch) Wait(ctx context.Context, timeout time.Duration, supervisorDone <-chan struct{}) WakeReason {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.ch:
		return WakeLatch
	case <-supervisorDone:
		return WakeSupervisorDeath
	case <-ctx.Done():
		return WakeCanceled
	case <-timer.C:
		return WakeTimeout
	}
}
