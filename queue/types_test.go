package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/queue"
)

func TestPriority(t *testing.T) {
	t.Parallel()

	t.Run("ordering", func(t *testing.T) {
		t.Parallel()

		assert.Greater(t, queue.PriorityHigh, queue.PriorityNormal)
		assert.Greater(t, queue.PriorityNormal, queue.PriorityLow)
		assert.Equal(t, queue.PriorityNormal, queue.PriorityDefault)
	})

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		assert.True(t, queue.PriorityLow.Valid())
		assert.True(t, queue.PriorityNormal.Valid())
		assert.True(t, queue.PriorityHigh.Valid())
		assert.False(t, queue.Priority(-1).Valid())
		assert.False(t, queue.Priority(3).Valid())
	})

	t.Run("string", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, "low", queue.PriorityLow.String())
		assert.Equal(t, "normal", queue.PriorityNormal.String())
		assert.Equal(t, "high", queue.PriorityHigh.String())
		assert.Equal(t, "unknown", queue.Priority(7).String())
	})

	t.Run("parse", func(t *testing.T) {
		t.Parallel()

		for name, want := range map[string]queue.Priority{
			"low":    queue.PriorityLow,
			"normal": queue.PriorityNormal,
			"high":   queue.PriorityHigh,
		} {
			got, err := queue.ParsePriority(name)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		_, err := queue.ParsePriority("urgent")
		assert.ErrorIs(t, err, queue.ErrInvalidPriority)
	})
}

func TestTask_Deferred(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("immediate when run time equals enqueue time", func(t *testing.T) {
		t.Parallel()

		task := &queue.Task{EnqueuedAt: now, RunAt: now}
		assert.False(t, task.Deferred())
	})

	t.Run("deferred when run time lies ahead", func(t *testing.T) {
		t.Parallel()

		task := &queue.Task{EnqueuedAt: now, RunAt: now.Add(time.Minute)}
		assert.True(t, task.Deferred())
	})

	t.Run("immediate when run time lies behind", func(t *testing.T) {
		t.Parallel()

		task := &queue.Task{EnqueuedAt: now, RunAt: now.Add(-time.Minute)}
		assert.False(t, task.Deferred())
	})
}

func TestSizes_Total(t *testing.T) {
	t.Parallel()

	sizes := queue.Sizes{High: 1, Normal: 2, Low: 3, Scheduled: 4}
	assert.Equal(t, 10, sizes.Total())
	assert.Zero(t, queue.Sizes{}.Total())
}
