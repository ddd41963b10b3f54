package ticker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatch_SetBeforeWaitWakesImmediately(t *testing.T) {
	t.Parallel()

	latch := NewLatch()
	latch.Set()

	start := time.Now()
	reason := latch.Wait(context.Background(), time.Second, nil)
	assert.Equal(t, WakeLatch, reason)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "pending wake should not sleep out the timeout")
}

func TestLatch_SetIsIdempotentWhilePending(t *testing.T) {
	t.Parallel()

	latch := NewLatch()
	latch.Set()
	latch.Set()
	latch.Set()

	assert.Equal(t, WakeLatch, latch.Wait(context.Background(), time.Second, nil))

	// The pending wake was consumed; the next wait times out.
	reason := latch.Wait(context.Background(), 10*time.Millisecond, nil)
	assert.Equal(t, WakeTimeout, reason)
}

func TestLatch_SetDuringWaitWakes(t *testing.T) {
	t.Parallel()

	latch := NewLatch()
	go func() {
		time.Sleep(20 * time.Millisecond)
		latch.Set()
	}()

	start := time.Now()
	reason := latch.Wait(context.Background(), 5*time.Second, nil)
	assert.Equal(t, WakeLatch, reason)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLatch_Timeout(t *testing.T) {
	t.Parallel()

	latch := NewLatch()
	reason := latch.Wait(context.Background(), 10*time.Millisecond, nil)
	assert.Equal(t, WakeTimeout, reason)
}

func TestLatch_SupervisorDeath(t *testing.T) {
	t.Parallel()

	latch := NewLatch()
	done := make(chan struct{})
	close(done)

	reason := latch.Wait(context.Background(), 5*time.Second, done)
	assert.Equal(t, WakeSupervisorDeath, reason)
}

func TestLatch_ContextCanceled(t *testing.T) {
	t.Parallel()

	latch := NewLatch()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reason := latch.Wait(ctx, 5*time.Second, nil)
	assert.Equal(t, WakeCanceled, reason)
}

func TestWakeReason_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "timeout", WakeTimeout.String())
	assert.Equal(t, "latch", WakeLatch.String())
	assert.Equal(t, "supervisor-death", WakeSupervisorDeath.String())
	assert.Equal(t, "canceled", WakeCanceled.String())
	assert.Equal(t, "unknown", WakeReason(99).String())
}
