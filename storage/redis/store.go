package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/queuekit/queue"
)

// Store is a Redis-backed implementation of queue.Store and
// queue.DeadLetterStore. Task bodies live in a hash keyed by task ID;
// the priority tiers are lists of IDs, the scheduled set is a sorted
// set scored by run time, and dead letters are a list plus a body hash.
//
// The store relies on the manager's single-writer discipline: reads may
// come from any goroutine, but only one goroutine mutates the queue, so
// no cross-command locking is needed beyond per-write pipelines.
type Store struct {
	client *redis.Client
	keys   keys
}

var (
	_ queue.Store           = (*Store)(nil)
	_ queue.DeadLetterStore = (*Store)(nil)
)

// Option configures a Store
type Option func(*Store)

// WithKeyPrefix overrides the default "queuekit" key prefix
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.keys = keys{prefix: prefix}
		}
	}
}

// New creates a Store on top of an established Redis client
func New(client *redis.Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, ErrClientNil
	}

	s := &Store{
		client: client,
		keys:   keys{prefix: "queuekit"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enqueue adds a task, routing deferred tasks to the scheduled set and
// everything else to the tail of its priority tier.
func (s *Store) Enqueue(ctx context.Context, task *queue.Task) error {
	exists, err := s.client.HExists(ctx, s.keys.tasks(), task.ID.String()).Result()
	if err != nil {
		return fmt.Errorf("failed to check task existence: %w", err)
	}
	if exists {
		return queue.ErrTaskExists
	}
	if !task.Priority.Valid() {
		return queue.ErrInvalidPriority
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.keys.tasks(), task.ID.String(), body)
		if task.Deferred() {
			pipe.ZAdd(ctx, s.keys.scheduled(), redis.Z{
				Score:  float64(task.RunAt.UnixMilli()),
				Member: task.ID.String(),
			})
		} else {
			pipe.RPush(ctx, s.keys.tier(task.Priority), task.ID.String())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Dequeue pops the next pending task, highest tier first
func (s *Store) Dequeue(ctx context.Context) (*queue.Task, error) {
	for _, p := range []queue.Priority{queue.PriorityHigh, queue.PriorityNormal, queue.PriorityLow} {
		id, err := s.client.LPop(ctx, s.keys.tier(p)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop from %s tier: %w", p, err)
		}

		task, err := s.takeBody(ctx, id)
		if err != nil {
			return nil, err
		}
		return task, nil
	}
	return nil, queue.ErrNoPendingTasks
}

// takeBody reads and removes a task body from the hash
func (s *Store) takeBody(ctx context.Context, id string) (*queue.Task, error) {
	body, err := s.client.HGet(ctx, s.keys.tasks(), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrCorruptTask, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task body: %w", err)
	}
	if err := s.client.HDel(ctx, s.keys.tasks(), id).Err(); err != nil {
		return nil, fmt.Errorf("failed to remove task body: %w", err)
	}

	var task queue.Task
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptTask, id)
	}
	return &task, nil
}

// PromoteDue moves scheduled tasks whose run time has arrived to the
// tails of their priority tiers, in run time order.
func (s *Store) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.scheduled(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read due scheduled tasks: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	bodies, err := s.client.HMGet(ctx, s.keys.tasks(), ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read scheduled task bodies: %w", err)
	}

	promoted := 0
	for i, id := range ids {
		raw, ok := bodies[i].(string)
		if !ok {
			// Body lost; drop the dangling reference
			_ = s.client.ZRem(ctx, s.keys.scheduled(), id).Err()
			continue
		}
		var task queue.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return promoted, fmt.Errorf("%w: %s", ErrCorruptTask, id)
		}

		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, s.keys.scheduled(), id)
			pipe.RPush(ctx, s.keys.tier(task.Priority), id)
			return nil
		})
		if err != nil {
			return promoted, fmt.Errorf("failed to promote task %s: %w", id, err)
		}
		promoted++
	}
	return promoted, nil
}

// Cancel removes a pending or scheduled task
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	body, err := s.client.HGet(ctx, s.keys.tasks(), id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read task body: %w", err)
	}

	var task queue.Task
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return false, fmt.Errorf("%w: %s", ErrCorruptTask, id)
	}

	removed, err := s.client.ZRem(ctx, s.keys.scheduled(), id.String()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove scheduled task: %w", err)
	}
	if removed == 0 {
		// Not scheduled; it must sit in its priority tier
		removed, err = s.client.LRem(ctx, s.keys.tier(task.Priority), 1, id.String()).Result()
		if err != nil {
			return false, fmt.Errorf("failed to remove pending task: %w", err)
		}
	}
	if removed == 0 {
		return false, nil
	}

	if err := s.client.HDel(ctx, s.keys.tasks(), id.String()).Err(); err != nil {
		return false, fmt.Errorf("failed to remove task body: %w", err)
	}
	return true, nil
}

// Sizes counts the tasks in each tier and the scheduled set
func (s *Store) Sizes(ctx context.Context) (queue.Sizes, error) {
	var (
		sizes queue.Sizes
		high  *redis.IntCmd
		norm  *redis.IntCmd
		low   *redis.IntCmd
		sched *redis.IntCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		high = pipe.LLen(ctx, s.keys.tier(queue.PriorityHigh))
		norm = pipe.LLen(ctx, s.keys.tier(queue.PriorityNormal))
		low = pipe.LLen(ctx, s.keys.tier(queue.PriorityLow))
		sched = pipe.ZCard(ctx, s.keys.scheduled())
		return nil
	})
	if err != nil {
		return queue.Sizes{}, fmt.Errorf("failed to read queue sizes: %w", err)
	}

	sizes.High = int(high.Val())
	sizes.Normal = int(norm.Val())
	sizes.Low = int(low.Val())
	sizes.Scheduled = int(sched.Val())
	return sizes, nil
}

// Push appends a dead letter entry. A repeated push for the same task
// replaces the previous entry and refreshes its recency.
func (s *Store) Push(ctx context.Context, entry *queue.DeadLetterEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, s.keys.dead(), 0, entry.TaskID.String())
		pipe.LPush(ctx, s.keys.dead(), entry.TaskID.String())
		pipe.HSet(ctx, s.keys.deadEntries(), entry.TaskID.String(), body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push dead letter entry: %w", err)
	}
	return nil
}

// List returns dead letter entries most-recent-first. A non-positive
// limit returns every entry.
func (s *Store) List(ctx context.Context, limit int) ([]queue.DeadLetterEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.LRange(ctx, s.keys.dead(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	if len(ids) == 0 {
		return []queue.DeadLetterEntry{}, nil
	}

	bodies, err := s.client.HMGet(ctx, s.keys.deadEntries(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letter bodies: %w", err)
	}

	entries := make([]queue.DeadLetterEntry, 0, len(ids))
	for i := range ids {
		raw, ok := bodies[i].(string)
		if !ok {
			continue
		}
		var entry queue.DeadLetterEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Take removes and returns the dead letter entry for the given task ID
func (s *Store) Take(ctx context.Context, taskID uuid.UUID) (*queue.DeadLetterEntry, error) {
	body, err := s.client.HGet(ctx, s.keys.deadEntries(), taskID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letter entry: %w", err)
	}

	var entry queue.DeadLetterEntry
	if err := json.Unmarshal([]byte(body), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, s.keys.dead(), 1, taskID.String())
		pipe.HDel(ctx, s.keys.deadEntries(), taskID.String())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove dead letter entry: %w", err)
	}
	return &entry, nil
}

// Purge removes all dead letter entries and reports how many were dropped
func (s *Store) Purge(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.keys.dead()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.keys.dead(), s.keys.deadEntries())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead letters: %w", err)
	}
	return int(n), nil
}
