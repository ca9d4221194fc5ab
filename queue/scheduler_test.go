package queue_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/queue"
)

func TestScheduler_New(t *testing.T) {
	t.Parallel()

	_, err := queue.NewScheduler(nil)
	assert.ErrorIs(t, err, queue.ErrManagerNil)
}

func TestScheduler_AddTask(t *testing.T) {
	t.Parallel()

	store := queue.NewMemoryStore()
	mgr, err := queue.NewManager(store, store, queue.WithLogger(testLogger()))
	require.NoError(t, err)
	sched, err := queue.NewScheduler(mgr, queue.WithSchedulerLogger(testLogger()))
	require.NoError(t, err)

	t.Run("nil schedule error", func(t *testing.T) {
		assert.ErrorIs(t, sched.AddTask("no-schedule", nil), queue.ErrNoScheduleSpecified)
	})

	t.Run("duplicate name error", func(t *testing.T) {
		require.NoError(t, sched.AddTask("nightly-report", queue.DailyAt(2, 0)))
		assert.ErrorIs(t, sched.AddTask("nightly-report", queue.Every(time.Hour)),
			queue.ErrTaskAlreadyRegistered)
	})

	t.Run("remove frees the name", func(t *testing.T) {
		require.NoError(t, sched.AddTask("cleanup", queue.Every(time.Hour)))
		sched.RemoveTask("cleanup")
		assert.NoError(t, sched.AddTask("cleanup", queue.Every(time.Minute)))
	})
}

func TestScheduler_ServeWithoutTasks(t *testing.T) {
	t.Parallel()

	store := queue.NewMemoryStore()
	mgr, err := queue.NewManager(store, store, queue.WithLogger(testLogger()))
	require.NoError(t, err)
	sched, err := queue.NewScheduler(mgr, queue.WithSchedulerLogger(testLogger()))
	require.NoError(t, err)

	assert.ErrorIs(t, sched.Serve(context.Background()), queue.ErrSchedulerNotConfigured)
}

func TestScheduler_SubmitsDueOccurrences(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	handler := queue.NewRawHandler("report-job", func(ctx context.Context, payload []byte) error {
		runs.Add(1)
		return nil
	})
	tq := startQueue(t, testConfig(), handler)

	sched, err := queue.NewScheduler(tq.mgr,
		queue.WithCheckInterval(10*time.Millisecond),
		queue.WithSchedulerClock(tq.clock),
		queue.WithSchedulerLogger(testLogger()))
	require.NoError(t, err)
	require.NoError(t, sched.AddTask("report-job", queue.Every(time.Minute)))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- sched.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("scheduler did not stop")
		}
	})

	// The first check only paces the schedule; nothing fires until the
	// interval elapses on the scheduler's clock
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runs.Load())

	tq.clock.Advance(61 * time.Second)
	require.Eventually(t, func() bool {
		return runs.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A frozen clock holds the next occurrence back
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), runs.Load())

	tq.clock.Advance(61 * time.Second)
	require.Eventually(t, func() bool {
		return runs.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_RetriesFailedSubmission(t *testing.T) {
	t.Parallel()

	var runs atomic.Int64
	handler := queue.NewRawHandler("deferred-start", func(ctx context.Context, payload []byte) error {
		runs.Add(1)
		return nil
	})

	// Manager stays stopped at first, so submissions fail and the
	// occurrence must be carried over to a later tick
	tq := newQueue(t, testConfig(), handler)

	sched, err := queue.NewScheduler(tq.mgr,
		queue.WithCheckInterval(10*time.Millisecond),
		queue.WithSchedulerClock(tq.clock),
		queue.WithSchedulerLogger(testLogger()))
	require.NoError(t, err)
	require.NoError(t, sched.AddTask("deferred-start", queue.Every(time.Minute)))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- sched.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-served:
		case <-time.After(3 * time.Second):
			t.Error("scheduler did not stop")
		}
	})

	// Give the initial check time to pace the schedule before advancing
	time.Sleep(50 * time.Millisecond)
	tq.clock.Advance(61 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runs.Load())

	require.NoError(t, tq.mgr.Start(context.Background()))
	require.NoError(t, tq.pool.Start(context.Background()))
	t.Cleanup(func() {
		_ = tq.pool.Stop()
		_ = tq.mgr.Stop()
	})

	require.Eventually(t, func() bool {
		return runs.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
