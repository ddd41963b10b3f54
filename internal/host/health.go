package host

import (
	"sync"
	"time"
)

// Worker activity statuses tracked by the host. The first three come from
// the runtimes themselves (their pgstat-style activity reports); the last
// two are set by the supervisor.
const (
	WorkerStatusStarting = "starting"
	WorkerStatusRunning  = "running"
	WorkerStatusIdle     = "idle"
	WorkerStatusFailed   = "failed"
	WorkerStatusStopped  = "stopped"
)

// WorkerActivity is one worker's last reported state.
type WorkerActivity struct {
	Status     string    `json:"status"`
	LastChange time.Time `json:"last_change"`
}

// HealthTracker is the host's observability surface: workers report their
// activity around each unit of work, the supervisor reports failures and
// retirements. Safe for concurrent use.
type HealthTracker struct {
	mu      sync.RWMutex
	workers map[string]WorkerActivity
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		workers: make(map[string]WorkerActivity),
	}
}

// ReportActivity records a worker's self-reported state. Implements the
// runtime's activity reporter.
func (h *HealthTracker) ReportActivity(worker string, status string) {
	h.set(worker, status)
}

// MarkFailed records a startup failure observed by the supervisor.
func (h *HealthTracker) MarkFailed(worker string) {
	h.set(worker, WorkerStatusFailed)
}

// MarkStopped records a retired worker (restart disabled).
func (h *HealthTracker) MarkStopped(worker string) {
	h.set(worker, WorkerStatusStopped)
}

func (h *HealthTracker) set(worker, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[worker] = WorkerActivity{
		Status:     status,
		LastChange: time.Now(),
	}
}

// IsHealthy reports whether no tracked worker is in the failed state.
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isHealthyLocked()
}

func (h *HealthTracker) isHealthyLocked() bool {
	for _, w := range h.workers {
		if w.Status == WorkerStatusFailed {
			return false
		}
	}
	return true
}

// GetStatus returns the overall status plus per-worker detail.
func (h *HealthTracker) GetStatus() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	workers := make(map[string]WorkerActivity, len(h.workers))
	for name, w := range h.workers {
		workers[name] = w
	}

	status := "healthy"
	if !h.isHealthyLocked() {
		status = "failed"
	}

	return map[string]interface{}{
		"status":  status,
		"workers": workers,
	}
}
