package host

import (
	"context"
	"sync"
)

// Status is the closed three-way outcome of a dynamic worker start.
type Status int

const (
	// StatusStarted means the worker completed its startup sequence.
	StatusStarted Status = iota + 1
	// StatusStopped means the worker was registered but exited before
	// confirming startup.
	StatusStopped
	// StatusSupervisorUnavailable means the host itself is gone.
	StatusSupervisorUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusStopped:
		return "stopped"
	case StatusSupervisorUnavailable:
		return "supervisor-unavailable"
	default:
		return "unknown"
	}
}

type startAck struct {
	status Status
	pid    int
}

// Handle is the caller's side of a dynamic registration: a one-shot slot the
// host fills with the start acknowledgement.
type Handle struct {
	id    string
	once  sync.Once
	ackCh chan startAck
}

func newHandle(id string) *Handle {
	// Buffered so the host never blocks delivering the ack, even if the
	// caller has already gone away.
	return &Handle{id: id, ackCh: make(chan startAck, 1)}
}

// deliver records the start outcome. Only the first delivery counts.
func (h *Handle) deliver(a startAck) {
	h.once.Do(func() {
		h.ackCh <- a
	})
}

// WaitForStartup blocks until the host reports the start outcome. It is
// cancellable through ctx (the caller's own interruption facility) and has
// no timeout of its own: ack delivery is the host's guarantee.
func (h *Handle) WaitForStartup(ctx context.Context) (Status, int, error) {
	select {
	case a := <-h.ackCh:
		return a.status, a.pid, nil
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}
