package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store holds tasks that are waiting to run: three FIFO priority tiers
// for pending tasks plus a time-ordered scheduled set for tasks whose
// run time lies in the future.
//
// The manager is the store's single writer. Implementations must be
// safe for concurrent use (reads may come from other goroutines), but
// they never need to arbitrate between concurrent dequeuers.
type Store interface {
	// Enqueue adds a task. Tasks with RunAt in the future land in the
	// scheduled set; everything else is appended to the tail of its
	// priority tier. Returns ErrTaskExists for a duplicate task ID.
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue removes and returns the next pending task: head of the
	// highest non-empty tier, FIFO within the tier. The scheduled set is
	// never touched. Returns ErrNoPendingTasks when all tiers are empty.
	Dequeue(ctx context.Context) (*Task, error)

	// PromoteDue moves every scheduled task with RunAt <= now to the
	// tail of its priority tier, ordered by run time, and reports how
	// many were promoted.
	PromoteDue(ctx context.Context, now time.Time) (int, error)

	// Cancel removes a task from a tier or the scheduled set. Reports
	// false if the task is unknown or already dispatched; canceling the
	// same ID twice is a safe no-op.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)

	// Sizes counts the tasks in each tier and the scheduled set
	Sizes(ctx context.Context) (Sizes, error)
}

// DeadLetterStore holds tasks that exhausted their retry budget. It is
// append-only from the queue's perspective; entries leave only through
// operator resubmission or purge.
type DeadLetterStore interface {
	// Push appends a dead letter entry. Pushing the same task ID again
	// replaces the previous entry and refreshes its recency.
	Push(ctx context.Context, entry *DeadLetterEntry) error

	// List returns entries most-recent-first. A non-positive limit
	// returns every entry.
	List(ctx context.Context, limit int) ([]DeadLetterEntry, error)

	// Take removes and returns the entry for the given task ID.
	// Returns ErrDeadLetterNotFound when the ID is absent.
	Take(ctx context.Context, taskID uuid.UUID) (*DeadLetterEntry, error)

	// Purge removes all entries and reports how many were dropped
	Purge(ctx context.Context) (int, error)
}
