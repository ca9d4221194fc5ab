package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/queuekit/queue"
)

// Store is a PostgreSQL-backed implementation of queue.Store and
// queue.DeadLetterStore. Pending and scheduled tasks share one table
// with a scheduled flag; FIFO order within a tier rides on a bigserial
// sequence that is reassigned at promotion time, so promoted tasks join
// the tail of their tier.
//
// Dequeue claims with FOR UPDATE SKIP LOCKED. The manager is the only
// writer in a healthy deployment, but the claim stays correct if an
// operator ever points two processes at the same database.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ queue.Store           = (*Store)(nil)
	_ queue.DeadLetterStore = (*Store)(nil)
)

// New creates a Store on top of an established connection pool. The
// schema must be in place; see Migrate.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, ErrPoolNil
	}
	return &Store{pool: pool}, nil
}

const enqueueSQL = `
INSERT INTO queue_tasks (id, handler_name, payload, priority, enqueued_at, run_at, attempt, max_retries, timeout_ns, scheduled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Enqueue adds a task, routing deferred tasks to the scheduled set and
// everything else to the tail of its priority tier.
func (s *Store) Enqueue(ctx context.Context, task *queue.Task) error {
	if !task.Priority.Valid() {
		return queue.ErrInvalidPriority
	}

	_, err := s.pool.Exec(ctx, enqueueSQL,
		task.ID,
		task.HandlerName,
		task.Payload,
		int16(task.Priority),
		task.EnqueuedAt,
		task.RunAt,
		int16(task.Attempt),
		int16(task.MaxRetries),
		int64(task.Timeout),
		task.Deferred(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return queue.ErrTaskExists
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

const dequeueSQL = `
DELETE FROM queue_tasks
WHERE id = (
    SELECT id FROM queue_tasks
    WHERE NOT scheduled
    ORDER BY priority DESC, seq
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, handler_name, payload, priority, enqueued_at, run_at, attempt, max_retries, timeout_ns`

// Dequeue claims and removes the next pending task, highest tier first
func (s *Store) Dequeue(ctx context.Context) (*queue.Task, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, dequeueSQL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNoPendingTasks
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}
	return task, nil
}

// PromoteDue moves scheduled tasks whose run time has arrived into
// their priority tiers. Each promoted task receives a fresh sequence
// number, in run time order, so promotion lands at the tier tail.
func (s *Store) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin promotion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id FROM queue_tasks WHERE scheduled AND run_at <= $1 ORDER BY run_at, seq FOR UPDATE`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to select due tasks: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan due task id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read due tasks: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// One update per row keeps sequence assignment in run time order
	for _, id := range ids {
		_, err := tx.Exec(ctx,
			`UPDATE queue_tasks SET scheduled = FALSE, seq = nextval(pg_get_serial_sequence('queue_tasks', 'seq')) WHERE id = $1`, id)
		if err != nil {
			return 0, fmt.Errorf("failed to promote task %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit promotion: %w", err)
	}
	return len(ids), nil
}

// Cancel removes a pending or scheduled task
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue_tasks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const sizesSQL = `
SELECT
    COUNT(*) FILTER (WHERE NOT scheduled AND priority = 2),
    COUNT(*) FILTER (WHERE NOT scheduled AND priority = 1),
    COUNT(*) FILTER (WHERE NOT scheduled AND priority = 0),
    COUNT(*) FILTER (WHERE scheduled)
FROM queue_tasks`

// Sizes counts the tasks in each tier and the scheduled set
func (s *Store) Sizes(ctx context.Context) (queue.Sizes, error) {
	var sizes queue.Sizes
	err := s.pool.QueryRow(ctx, sizesSQL).Scan(&sizes.High, &sizes.Normal, &sizes.Low, &sizes.Scheduled)
	if err != nil {
		return queue.Sizes{}, fmt.Errorf("failed to read queue sizes: %w", err)
	}
	return sizes, nil
}

const pushSQL = `
INSERT INTO queue_dead_letters (task_id, handler_name, payload, priority, max_retries, timeout_ns, reason, failed_at, attempts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (task_id) DO UPDATE SET
    handler_name = EXCLUDED.handler_name,
    payload = EXCLUDED.payload,
    priority = EXCLUDED.priority,
    max_retries = EXCLUDED.max_retries,
    timeout_ns = EXCLUDED.timeout_ns,
    reason = EXCLUDED.reason,
    failed_at = EXCLUDED.failed_at,
    attempts = EXCLUDED.attempts,
    seq = nextval(pg_get_serial_sequence('queue_dead_letters', 'seq'))`

// Push appends a dead letter entry. A repeated push for the same task
// replaces the previous entry and refreshes its recency.
func (s *Store) Push(ctx context.Context, entry *queue.DeadLetterEntry) error {
	_, err := s.pool.Exec(ctx, pushSQL,
		entry.TaskID,
		entry.HandlerName,
		entry.Payload,
		int16(entry.Priority),
		int16(entry.MaxRetries),
		int64(entry.Timeout),
		entry.Reason,
		entry.FailedAt,
		int16(entry.Attempts),
	)
	if err != nil {
		return fmt.Errorf("failed to push dead letter entry: %w", err)
	}
	return nil
}

const listSQL = `
SELECT task_id, handler_name, payload, priority, max_retries, timeout_ns, reason, failed_at, attempts
FROM queue_dead_letters
ORDER BY seq DESC`

// List returns dead letter entries most-recent-first. A non-positive
// limit returns every entry.
func (s *Store) List(ctx context.Context, limit int) ([]queue.DeadLetterEntry, error) {
	sql := listSQL
	args := []any{}
	if limit > 0 {
		sql += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	entries := []queue.DeadLetterEntry{}
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	return entries, nil
}

const takeSQL = `
DELETE FROM queue_dead_letters
WHERE task_id = $1
RETURNING task_id, handler_name, payload, priority, max_retries, timeout_ns, reason, failed_at, attempts`

// Take removes and returns the dead letter entry for the given task ID
func (s *Store) Take(ctx context.Context, taskID uuid.UUID) (*queue.DeadLetterEntry, error) {
	entry, err := scanDeadLetter(s.pool.QueryRow(ctx, takeSQL, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take dead letter entry: %w", err)
	}
	return entry, nil
}

// Purge removes all dead letter entries and reports how many were dropped
func (s *Store) Purge(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`WITH purged AS (DELETE FROM queue_dead_letters RETURNING 1) SELECT COUNT(*) FROM purged`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead letters: %w", err)
	}
	return n, nil
}

// scanTask reads a task row in dequeueSQL column order
func scanTask(row pgx.Row) (*queue.Task, error) {
	var (
		task       queue.Task
		priority   int16
		attempt    int16
		maxRetries int16
		timeoutNs  int64
	)
	err := row.Scan(
		&task.ID,
		&task.HandlerName,
		&task.Payload,
		&priority,
		&task.EnqueuedAt,
		&task.RunAt,
		&attempt,
		&maxRetries,
		&timeoutNs,
	)
	if err != nil {
		return nil, err
	}
	task.Priority = queue.Priority(priority)
	task.Attempt = int8(attempt)
	task.MaxRetries = int8(maxRetries)
	task.Timeout = time.Duration(timeoutNs)
	return &task, nil
}

// scanDeadLetter reads a dead letter row in takeSQL column order
func scanDeadLetter(row pgx.Row) (*queue.DeadLetterEntry, error) {
	var (
		entry      queue.DeadLetterEntry
		priority   int16
		maxRetries int16
		timeoutNs  int64
		attempts   int16
	)
	err := row.Scan(
		&entry.TaskID,
		&entry.HandlerName,
		&entry.Payload,
		&priority,
		&maxRetries,
		&timeoutNs,
		&entry.Reason,
		&entry.FailedAt,
		&attempts,
	)
	if err != nil {
		return nil, err
	}
	entry.Priority = queue.Priority(priority)
	entry.MaxRetries = int8(maxRetries)
	entry.Timeout = time.Duration(timeoutNs)
	entry.Attempts = int8(attempts)
	return &entry, nil
}
