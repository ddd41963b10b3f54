package ticker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tickerd/tickerd/internal/config"
	"github.com/tickerd/tickerd/internal/logging"
)

type fakeSession struct {
	mu      sync.Mutex
	ticks   []time.Time
	tickErr error
	closed  bool
}

func (s *fakeSession) Tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, time.Now())
	return s.tickErr
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) tickTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.ticks...)
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeFactory struct {
	mu           sync.Mutex
	session      *fakeSession
	err          error
	lastDatabase string
	lastAppName  string
}

func (f *fakeFactory) Connect(ctx context.Context, database, applicationName string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastDatabase = database
	f.lastAppName = applicationName
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type mutableSource struct {
	mu   sync.Mutex
	snap config.Snapshot
	err  error
}

func (s *mutableSource) Load(ctx context.Context) (config.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return config.Snapshot{}, s.err
	}
	return s.snap, nil
}

func (s *mutableSource) set(snap config.Snapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.err = err
}

type recordingReporter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReporter) ReportActivity(worker, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, worker+":"+status)
}

func (r *recordingReporter) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newTestRuntime(t *testing.T, source config.Source, factory SessionFactory, opts ...RuntimeOption) *Runtime {
	t.Helper()
	return New("test-ticker", source, factory, logging.NewNop(), opts...)
}

func TestRuntimeStart_NoDatabaseTarget(t *testing.T) {
	t.Parallel()

	source := config.StaticSource{Value: config.Snapshot{TickInterval: time.Second}}
	rt := newTestRuntime(t, source, &fakeFactory{session: &fakeSession{}})

	err := rt.Start(context.Background())
	require.ErrorIs(t, err, ErrNoDatabaseTarget)
}

func TestRuntimeStart_LaunchDatabaseFallback(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{session: &fakeSession{}}
	reporter := &recordingReporter{}
	source := config.StaticSource{Value: config.Snapshot{TickInterval: time.Second}}
	rt := newTestRuntime(t, source, factory,
		WithLaunchDatabase("launched_db"),
		WithActivityReporter(reporter),
	)

	require.NoError(t, rt.Start(context.Background()))
	assert.Equal(t, "launched_db", factory.lastDatabase)
	assert.Equal(t, "test-ticker", factory.lastAppName)
	assert.Contains(t, reporter.all(), "test-ticker:"+ActivityStarting)
}

func TestRuntimeStart_TargetDatabaseOverridesLaunch(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{session: &fakeSession{}}
	source := config.StaticSource{Value: config.Snapshot{
		TickInterval:   time.Second,
		TargetDatabase: "configured_db",
	}}
	rt := newTestRuntime(t, source, factory, WithLaunchDatabase("launched_db"))

	require.NoError(t, rt.Start(context.Background()))
	assert.Equal(t, "configured_db", factory.lastDatabase)
}

func TestRuntimeStart_ConnectError(t *testing.T) {
	t.Parallel()

	connectErr := errors.New("connection refused")
	factory := &fakeFactory{err: connectErr}
	source := config.StaticSource{Value: config.Snapshot{
		TickInterval:   time.Second,
		TargetDatabase: "db",
	}}
	rt := newTestRuntime(t, source, factory)

	err := rt.Start(context.Background())
	require.ErrorIs(t, err, connectErr)
}

func TestRuntimeRun_StopsOnPendingShutdown(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	source := config.StaticSource{Value: config.Snapshot{
		TickInterval:   time.Hour,
		TargetDatabase: "db",
	}}
	rt := newTestRuntime(t, source, &fakeFactory{session: session})
	require.NoError(t, rt.Start(context.Background()))

	rt.Signals().RequestShutdown()

	err := rt.Run(context.Background())
	require.ErrorIs(t, err, ErrStoppedByRequest)
	assert.Empty(t, session.tickTimes(), "shutdown must be honored before any tick")
	assert.True(t, session.isClosed())
}

func TestRuntimeRun_ShutdownInterruptsWait(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	source := config.StaticSource{Value: config.Snapshot{
		TickInterval:   time.Hour,
		TargetDatabase: "db",
	}}
	rt := newTestRuntime(t, source, &fakeFactory{session: session})
	require.NoError(t, rt.Start(context.Background()))

	errChan := make(chan error, 1)
	go func() { errChan <- rt.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	rt.Signals().RequestShutdown()

	select {
	case err := <-errChan:
		require.ErrorIs(t, err, ErrStoppedByRequest)
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not stop within the current wait")
	}
	assert.Empty(t, session.tickTimes())
}

func TestRuntimeRun_TicksKeepIntervalSpacing(t *testing.T) {
	t.Parallel()

	const interval = 20 * time.Millisecond

	session := &fakeSession{}
	reporter := &recordingReporter{}
	source := config.StaticSource{Value: config.Snapshot{
		TickInterval:   interval,
		TargetDatabase: "db",
	}}
	rt := newTestRuntime(t, source, &fakeFactory{session: session},
		WithActivityReporter(reporter))
	require.NoError(t, rt.Start(context.Background()))

	errChan := make(chan error, 1)
	go func() { errChan <- rt.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return len(session.tickTimes()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	rt.Signals().RequestShutdown()
	require.ErrorIs(t, <-errChan, ErrStoppedByRequest)

	ticks := session.tickTimes()
	for i := 1; i < len(ticks); i++ {
		spacing := ticks[i].Sub(ticks[i-1])
		assert.GreaterOrEqual(t, spacing, interval-2*time.Millisecond,
			"consecutive ticks must be at least one interval apart")
	}

	events := reporter.all()
	assert.Contains(t, events, "test-ticker:"+ActivityRunning)
	assert.Contains(t, events, "test-ticker:"+ActivityIdle)
}

func TestRuntimeRun_TickErrorDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	session := &fakeSession{tickErr: errors.New("deadlock detected")}
	source := config.StaticSource{Value: config.Snapshot{
		TickInterval:   15 * time.Millisecond,
		TargetDatabase: "db",
	}}
	rt := newTestRuntime(t, source, &fakeFactory{session: session})
	require.NoError(t, rt.Start(context.Background()))

	errChan := make(chan error, 1)
	go func() { errChan <- rt.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return len(session.tickTimes()) >= 2
	}, 2*time.Second, 5*time.Millisecond, "loop must survive failing ticks")

	rt.Signals().RequestShutdown()
	require.ErrorIs(t, <-errChan, ErrStoppedByRequest)
}

func TestRuntimeRun_ReloadSwapsSnapshotWithoutTicking(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	source := &mutableSource{snap: config.Snapshot{
		TickInterval:   time.Hour,
		TargetDatabase: "db",
	}}
	rt := newTestRuntime(t, source, &fakeFactory{session: session})
	require.NoError(t, rt.Start(context.Background()))

	errChan := make(chan error, 1)
	go func() { errChan <- rt.Run(context.Background()) }()

	source.set(config.Snapshot{
		TickInterval:   2 * time.Hour,
		TargetDatabase: "db",
	}, nil)
	rt.Signals().RequestReload()

	require.Eventually(t, func() bool {
		return rt.Snapshot().TickInterval == 2*time.Hour
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, session.tickTimes(), "a reload wake must not trigger a tick")

	rt.Signals().RequestShutdown()
	require.ErrorIs(t, <-errChan, ErrStoppedByRequest)
}

func TestRuntimeRun_ReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	source := &mutableSource{snap: config.Snapshot{
		TickInterval:   time.Hour,
		TargetDatabase: "db",
	}}
	rt := newTestRuntime(t, source, &fakeFactory{session: session})
	require.NoError(t, rt.Start(context.Background()))

	errChan := make(chan error, 1)
	go func() { errChan <- rt.Run(context.Background()) }()

	source.set(config.Snapshot{}, errors.New("config file is broken"))
	rt.Signals().RequestReload()

	// The worker keeps running on the previous configuration.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, time.Hour, rt.Snapshot().TickInterval)

	rt.Signals().RequestShutdown()
	require.ErrorIs(t, <-errChan, ErrStoppedByRequest)
}

func TestRuntimeRun_SupervisorDeath(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	session := &fakeSession{}
	source := config.StaticSource{Value: config.Snapshot{
		TickInterval:   time.Hour,
		TargetDatabase: "db",
	}}
	rt := newTestRuntime(t, source, &fakeFactory{session: session},
		WithSupervisorDone(done))
	require.NoError(t, rt.Start(context.Background()))

	errChan := make(chan error, 1)
	go func() { errChan <- rt.Run(context.Background()) }()

	close(done)

	select {
	case err := <-errChan:
		require.ErrorIs(t, err, ErrSupervisorDied)
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not terminate on supervisor death")
	}
	assert.True(t, session.isClosed())
}

func TestRuntimeRun_ContextCancel(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	source := config.StaticSource{Value: config.Snapshot{
		TickInterval:   time.Hour,
		TargetDatabase: "db",
	}}
	rt := newTestRuntime(t, source, &fakeFactory{session: session})
	require.NoError(t, rt.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- rt.Run(ctx) }()

	cancel()

	select {
	case err := <-errChan:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not observe context cancellation")
	}
}

func TestRuntimeStart_ResetsPendingSignals(t *testing.T) {
	t.Parallel()

	source := config.StaticSource{Value: config.Snapshot{
		TickInterval:   time.Hour,
		TargetDatabase: "db",
	}}
	rt := newTestRuntime(t, source, &fakeFactory{session: &fakeSession{}})

	rt.Signals().RequestShutdown()
	require.True(t, rt.Signals().ShutdownRequested())

	// A restart stands in for a fresh process; stale signals must not leak
	// into the new incarnation.
	require.NoError(t, rt.Start(context.Background()))
	assert.False(t, rt.Signals().ShutdownRequested())
}
