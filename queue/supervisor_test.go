package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/queue"
)

// stubUnit is a scriptable Unit whose behavior can change between
// restarts.
type stubUnit struct {
	name   string
	starts atomic.Int64
	serve  func(ctx context.Context, start int64) error
}

func (u *stubUnit) Name() string { return u.name }

func (u *stubUnit) Serve(ctx context.Context) error {
	return u.serve(ctx, u.starts.Add(1))
}

func blockUntilCanceled(ctx context.Context, _ int64) error {
	<-ctx.Done()
	return nil
}

func TestSupervisor_RunWithoutUnits(t *testing.T) {
	t.Parallel()

	sup := queue.NewSupervisor(queue.WithSupervisorLogger(testLogger()))
	assert.ErrorIs(t, sup.Run(context.Background()), queue.ErrNoUnits)
}

func TestSupervisor_RestartAlways(t *testing.T) {
	t.Parallel()

	unit := &stubUnit{
		name: "flapper",
		serve: func(ctx context.Context, start int64) error {
			// Exit immediately, alternating clean and failed
			if start%2 == 0 {
				return errors.New("transient")
			}
			return nil
		},
	}

	sup := queue.NewSupervisor(
		queue.WithRestartDelay(5*time.Millisecond),
		queue.WithSupervisorLogger(testLogger()))
	sup.Add(unit, queue.RestartAlways)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Both clean exits and failures are restarted
	require.Eventually(t, func() bool {
		return unit.starts.Load() >= 3
	}, 3*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop after context cancellation")
	}
}

func TestSupervisor_RestartOnFailure(t *testing.T) {
	t.Parallel()

	t.Run("failures are restarted", func(t *testing.T) {
		t.Parallel()

		unit := &stubUnit{
			name: "recovers",
			serve: func(ctx context.Context, start int64) error {
				if start <= 2 {
					return errors.New("still broken")
				}
				<-ctx.Done()
				return nil
			},
		}

		sup := queue.NewSupervisor(
			queue.WithRestartDelay(5*time.Millisecond),
			queue.WithSupervisorLogger(testLogger()))
		sup.Add(unit, queue.RestartOnFailure)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sup.Run(ctx) }()

		require.Eventually(t, func() bool {
			return unit.starts.Load() == 3
		}, 3*time.Second, 5*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("supervisor did not stop after context cancellation")
		}
	})

	t.Run("clean exit ends supervision", func(t *testing.T) {
		t.Parallel()

		unit := &stubUnit{
			name:  "one-shot",
			serve: func(ctx context.Context, start int64) error { return nil },
		}

		sup := queue.NewSupervisor(queue.WithSupervisorLogger(testLogger()))
		sup.Add(unit, queue.RestartOnFailure)

		require.NoError(t, sup.Run(context.Background()))
		assert.Equal(t, int64(1), unit.starts.Load())
	})
}

func TestSupervisor_RestartNever(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	var siblingCanceled atomic.Bool

	failing := &stubUnit{
		name:  "critical",
		serve: func(ctx context.Context, start int64) error { return errBoom },
	}
	sibling := &stubUnit{
		name: "sibling",
		serve: func(ctx context.Context, start int64) error {
			<-ctx.Done()
			siblingCanceled.Store(true)
			return nil
		},
	}

	sup := queue.NewSupervisor(queue.WithSupervisorLogger(testLogger()))
	sup.Add(failing, queue.RestartNever)
	sup.Add(sibling, queue.RestartAlways)

	// A permanent failure takes the whole supervisor down
	err := sup.Run(context.Background())
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "critical")
	assert.True(t, siblingCanceled.Load())
	assert.Equal(t, int64(1), failing.starts.Load())
}

func TestSupervisor_PanicIsIsolated(t *testing.T) {
	t.Parallel()

	panicky := &stubUnit{
		name: "panicky",
		serve: func(ctx context.Context, start int64) error {
			if start == 1 {
				panic("unit bug")
			}
			<-ctx.Done()
			return nil
		},
	}
	steady := &stubUnit{name: "steady", serve: blockUntilCanceled}

	sup := queue.NewSupervisor(
		queue.WithRestartDelay(5*time.Millisecond),
		queue.WithSupervisorLogger(testLogger()))
	sup.Add(panicky, queue.RestartAlways)
	sup.Add(steady, queue.RestartAlways)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// The panic is converted into a restart, not a crash
	require.Eventually(t, func() bool {
		return panicky.starts.Load() == 2
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), steady.starts.Load(), "sibling must not restart")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop after context cancellation")
	}
}

// panicStore wraps a MemoryStore and panics on the next Sizes call when
// armed, simulating a store fault inside the manager loop.
type panicStore struct {
	*queue.MemoryStore
	panicNext atomic.Bool
}

func (s *panicStore) Sizes(ctx context.Context) (queue.Sizes, error) {
	if s.panicNext.CompareAndSwap(true, false) {
		panic("store failure")
	}
	return s.MemoryStore.Sizes(ctx)
}

func TestSupervisor_ManagerCrashRecovery(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var blocked atomic.Int64
	var probed atomic.Int64
	blocker := queue.NewRawHandler("blocker", func(ctx context.Context, payload []byte) error {
		blocked.Add(1)
		<-release
		return nil
	})
	probe := queue.NewRawHandler("probe", func(ctx context.Context, payload []byte) error {
		probed.Add(1)
		return nil
	})

	store := &panicStore{MemoryStore: queue.NewMemoryStore()}
	dlq := queue.NewMemoryStore()
	cfg := testConfig()
	cfg.PoolSize = 2
	mgr, err := queue.NewManager(store, dlq,
		queue.WithConfig(cfg),
		queue.WithLogger(testLogger()))
	require.NoError(t, err)
	require.NoError(t, mgr.RegisterHandlers(blocker, probe))

	pool, err := queue.NewWorkerPool(mgr,
		queue.WithPoolSize(cfg.PoolSize),
		queue.WithPoolLogger(testLogger()))
	require.NoError(t, err)

	sup := queue.NewSupervisor(
		queue.WithRestartDelay(10*time.Millisecond),
		queue.WithSupervisorLogger(testLogger()))
	sup.Add(mgr, queue.RestartAlways)

	ctx, cancel := context.WithCancel(context.Background())
	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-supDone:
		case <-time.After(3 * time.Second):
			t.Error("supervisor did not stop")
		}
	})

	waitHealthy := func() {
		require.Eventually(t, func() bool {
			_, err := mgr.Stats(context.Background())
			return err == nil
		}, 3*time.Second, 5*time.Millisecond)
	}
	waitHealthy()

	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { _ = pool.Stop() })

	// Occupy one executor so a task is in flight across the crash
	_, err = mgr.Submit(context.Background(), "work", queue.WithHandlerName("blocker"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return blocked.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Arm the store fault; the loop panics inside this Stats call
	store.panicNext.Store(true)
	_, err = mgr.Stats(context.Background())
	require.Error(t, err)

	// The supervisor restarts the manager and service resumes
	waitHealthy()
	_, err = mgr.Submit(context.Background(), "ping", queue.WithHandlerName("probe"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return probed.Load() == 1
	}, 3*time.Second, 5*time.Millisecond)

	// The in-flight task survived the restart and settles exactly once
	close(release)
	require.Eventually(t, func() bool {
		stats, err := mgr.Stats(context.Background())
		return err == nil && stats.Metrics.Completed == 2 && stats.InFlight == 0
	}, 3*time.Second, 5*time.Millisecond)

	entries, err := mgr.DeadLetters(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries, "no task may be double-settled or lost")
	assert.Equal(t, int64(1), blocked.Load())
}
