package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/queue"
)

func newStoreTask(priority queue.Priority) *queue.Task {
	now := time.Now()
	return &queue.Task{
		ID:          uuid.New(),
		HandlerName: "test-task",
		Payload:     []byte(`{"data":"test"}`),
		Priority:    priority,
		EnqueuedAt:  now,
		RunAt:       now,
		MaxRetries:  3,
	}
}

func newScheduledTask(priority queue.Priority, runIn time.Duration) *queue.Task {
	task := newStoreTask(priority)
	task.RunAt = task.EnqueuedAt.Add(runIn)
	return task
}

func TestMemoryStore_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("enqueues task successfully", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		err := store.Enqueue(context.Background(), newStoreTask(queue.PriorityNormal))
		require.NoError(t, err)

		sizes, err := store.Sizes(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sizes.Normal)
	})

	t.Run("fails on duplicate task ID", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		task := newStoreTask(queue.PriorityNormal)
		require.NoError(t, store.Enqueue(context.Background(), task))

		err := store.Enqueue(context.Background(), task)
		assert.ErrorIs(t, err, queue.ErrTaskExists)
	})

	t.Run("fails on invalid priority", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		task := newStoreTask(queue.Priority(42))
		err := store.Enqueue(context.Background(), task)
		assert.ErrorIs(t, err, queue.ErrInvalidPriority)
	})

	t.Run("routes future run times to the scheduled set", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.Enqueue(context.Background(), newScheduledTask(queue.PriorityHigh, time.Hour)))

		sizes, err := store.Sizes(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, sizes.High)
		assert.Equal(t, 1, sizes.Scheduled)

		_, err = store.Dequeue(context.Background())
		assert.ErrorIs(t, err, queue.ErrNoPendingTasks)
	})
}

func TestMemoryStore_Dequeue(t *testing.T) {
	t.Parallel()

	t.Run("empty store returns ErrNoPendingTasks", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		_, err := store.Dequeue(context.Background())
		assert.ErrorIs(t, err, queue.ErrNoPendingTasks)
	})

	t.Run("higher tiers always win", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		low := newStoreTask(queue.PriorityLow)
		normal := newStoreTask(queue.PriorityNormal)
		high := newStoreTask(queue.PriorityHigh)

		// Enqueued lowest-first so dequeue order cannot come from insertion order
		require.NoError(t, store.Enqueue(context.Background(), low))
		require.NoError(t, store.Enqueue(context.Background(), normal))
		require.NoError(t, store.Enqueue(context.Background(), high))

		got := make([]uuid.UUID, 0, 3)
		for range 3 {
			task, err := store.Dequeue(context.Background())
			require.NoError(t, err)
			got = append(got, task.ID)
		}
		assert.Equal(t, []uuid.UUID{high.ID, normal.ID, low.ID}, got)
	})

	t.Run("FIFO within a tier", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		first := newStoreTask(queue.PriorityNormal)
		second := newStoreTask(queue.PriorityNormal)
		third := newStoreTask(queue.PriorityNormal)
		for _, task := range []*queue.Task{first, second, third} {
			require.NoError(t, store.Enqueue(context.Background(), task))
		}

		for _, want := range []uuid.UUID{first.ID, second.ID, third.ID} {
			task, err := store.Dequeue(context.Background())
			require.NoError(t, err)
			assert.Equal(t, want, task.ID)
		}
	})
}

func TestMemoryStore_PromoteDue(t *testing.T) {
	t.Parallel()

	t.Run("promotes only due tasks", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		soon := newScheduledTask(queue.PriorityNormal, time.Minute)
		later := newScheduledTask(queue.PriorityNormal, time.Hour)
		require.NoError(t, store.Enqueue(context.Background(), soon))
		require.NoError(t, store.Enqueue(context.Background(), later))

		n, err := store.PromoteDue(context.Background(), time.Now().Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		task, err := store.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, soon.ID, task.ID)

		sizes, err := store.Sizes(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sizes.Scheduled)
	})

	t.Run("promotes in run time order", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		second := newScheduledTask(queue.PriorityNormal, 2*time.Minute)
		first := newScheduledTask(queue.PriorityNormal, time.Minute)
		require.NoError(t, store.Enqueue(context.Background(), second))
		require.NoError(t, store.Enqueue(context.Background(), first))

		n, err := store.PromoteDue(context.Background(), time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, 2, n)

		task, err := store.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first.ID, task.ID)
		task, err = store.Dequeue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, second.ID, task.ID)
	})

	t.Run("nothing due is a no-op", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.Enqueue(context.Background(), newScheduledTask(queue.PriorityLow, time.Hour)))

		n, err := store.PromoteDue(context.Background(), time.Now())
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMemoryStore_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("cancels pending task", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		task := newStoreTask(queue.PriorityHigh)
		require.NoError(t, store.Enqueue(context.Background(), task))

		ok, err := store.Cancel(context.Background(), task.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = store.Dequeue(context.Background())
		assert.ErrorIs(t, err, queue.ErrNoPendingTasks)
	})

	t.Run("cancels scheduled task", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		task := newScheduledTask(queue.PriorityNormal, time.Hour)
		require.NoError(t, store.Enqueue(context.Background(), task))

		ok, err := store.Cancel(context.Background(), task.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		sizes, err := store.Sizes(context.Background())
		require.NoError(t, err)
		assert.Zero(t, sizes.Scheduled)
	})

	t.Run("unknown task reports false", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		ok, err := store.Cancel(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		task := newStoreTask(queue.PriorityLow)
		require.NoError(t, store.Enqueue(context.Background(), task))

		ok, err := store.Cancel(context.Background(), task.ID)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.Cancel(context.Background(), task.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("dequeued task cannot be canceled", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		task := newStoreTask(queue.PriorityNormal)
		require.NoError(t, store.Enqueue(context.Background(), task))

		_, err := store.Dequeue(context.Background())
		require.NoError(t, err)

		ok, err := store.Cancel(context.Background(), task.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStore_Sizes(t *testing.T) {
	t.Parallel()

	store := queue.NewMemoryStore()
	for range 3 {
		require.NoError(t, store.Enqueue(context.Background(), newStoreTask(queue.PriorityHigh)))
	}
	require.NoError(t, store.Enqueue(context.Background(), newStoreTask(queue.PriorityLow)))
	require.NoError(t, store.Enqueue(context.Background(), newScheduledTask(queue.PriorityNormal, time.Hour)))

	sizes, err := store.Sizes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Sizes{High: 3, Normal: 0, Low: 1, Scheduled: 1}, sizes)
	assert.Equal(t, 5, sizes.Total())
}

func TestMemoryStore_DeadLetters(t *testing.T) {
	t.Parallel()

	newEntry := func(reason string) *queue.DeadLetterEntry {
		return &queue.DeadLetterEntry{
			TaskID:      uuid.New(),
			HandlerName: "test-task",
			Payload:     []byte(`{}`),
			Priority:    queue.PriorityNormal,
			MaxRetries:  3,
			Reason:      reason,
			FailedAt:    time.Now(),
			Attempts:    4,
		}
	}

	t.Run("push and list most-recent-first", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		older := newEntry("first failure")
		newer := newEntry("second failure")
		require.NoError(t, store.Push(context.Background(), older))
		require.NoError(t, store.Push(context.Background(), newer))

		entries, err := store.List(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, newer.TaskID, entries[0].TaskID)
		assert.Equal(t, older.TaskID, entries[1].TaskID)

		limited, err := store.List(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, newer.TaskID, limited[0].TaskID)
	})

	t.Run("repush replaces the entry", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		entry := newEntry("first failure")
		require.NoError(t, store.Push(context.Background(), entry))

		entry.Reason = "second failure"
		require.NoError(t, store.Push(context.Background(), entry))
		require.NoError(t, store.Push(context.Background(), newEntry("other task")))

		entries, err := store.List(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "other task", entries[0].Reason)
		assert.Equal(t, "second failure", entries[1].Reason)
	})

	t.Run("take removes the entry", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		entry := newEntry("boom")
		require.NoError(t, store.Push(context.Background(), entry))

		got, err := store.Take(context.Background(), entry.TaskID)
		require.NoError(t, err)
		assert.Equal(t, entry.TaskID, got.TaskID)
		assert.Equal(t, "boom", got.Reason)

		_, err = store.Take(context.Background(), entry.TaskID)
		assert.ErrorIs(t, err, queue.ErrDeadLetterNotFound)
	})

	t.Run("purge drops everything", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		require.NoError(t, store.Push(context.Background(), newEntry("a")))
		require.NoError(t, store.Push(context.Background(), newEntry("b")))

		n, err := store.Purge(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		entries, err := store.List(context.Background(), 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
