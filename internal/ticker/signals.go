package ticker

import "sync/atomic"

// SignalState carries the two wake conditions an asynchronous notifier may
// set on a runtime. Notifier methods only set a flag and set the latch —
// nothing else — so they are safe to call from any goroutine at any time.
// Flags are consumed exclusively by the runtime's own loop.
type SignalState struct {
	shutdown atomic.Bool
	reload   atomic.Bool
	latch    *Latch
}

func NewSignalState(latch *Latch) *SignalState {
	return &SignalState{latch: latch}
}

// RequestShutdown asks the runtime to exit at the next cycle boundary.
func (s *SignalState) RequestShutdown() {
	s.shutdown.Store(true)
	s.latch.Set()
}

// RequestReload asks the runtime to re-read its configuration before the
// next cycle. It never triggers a tick by itself.
func (s *SignalState) RequestReload() {
	s.reload.Store(true)
	s.latch.Set()
}

func (s *SignalState) ShutdownRequested() bool {
	return s.shutdown.Load()
}

// consumeReload reports whether a reload was pending and clears it.
func (s *SignalState) consumeReload() bool {
	return s.reload.Swap(false)
}

// reset clears both flags. Called only at runtime startup: a restarted
// runtime stands in for a freshly forked process, which begins with no
// pending signals.
func (s *SignalState) reset() {
	s.shutdown.Store(false)
	s.reload.Store(false)
}
