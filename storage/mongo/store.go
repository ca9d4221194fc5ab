package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/queuekit/queue"
)

const (
	tasksCollection       = "queue_tasks"
	deadLettersCollection = "queue_dead_letters"
)

// Store is a MongoDB-backed implementation of queue.Store and
// queue.DeadLetterStore. Pending and scheduled tasks share one
// collection separated by a scheduled flag; FIFO order within a
// priority tier rides on a monotonic sequence number that is reassigned
// at promotion time, so promoted tasks join the tail of their tier.
//
// Sequence numbers come from in-process counters seeded from the
// highest persisted value at construction. That is sufficient under the
// queue's single-writer contract: one manager process owns all writes.
type Store struct {
	tasks   *mongo.Collection
	dead    *mongo.Collection
	taskSeq atomic.Int64
	deadSeq atomic.Int64
}

var (
	_ queue.Store           = (*Store)(nil)
	_ queue.DeadLetterStore = (*Store)(nil)
)

// New creates a Store on top of a database handle and seeds the
// sequence counters from the persisted collections. Call EnsureIndexes
// once at deploy time (or on boot) before serving traffic.
func New(ctx context.Context, db *mongo.Database) (*Store, error) {
	if db == nil {
		return nil, ErrDatabaseNil
	}

	s := &Store{
		tasks: db.Collection(tasksCollection),
		dead:  db.Collection(deadLettersCollection),
	}

	taskSeq, err := maxSeq(ctx, s.tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to seed task sequence: %w", err)
	}
	deadSeq, err := maxSeq(ctx, s.dead)
	if err != nil {
		return nil, fmt.Errorf("failed to seed dead letter sequence: %w", err)
	}
	s.taskSeq.Store(taskSeq)
	s.deadSeq.Store(deadSeq)

	return s, nil
}

// EnsureIndexes creates the indexes backing dispatch order, promotion
// scans, and dead letter recency. Index creation is idempotent, so
// calling this on every boot is safe.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "scheduled", Value: 1}, {Key: "priority", Value: -1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetName("dispatch_order"),
		},
		{
			Keys:    bson.D{{Key: "scheduled", Value: 1}, {Key: "run_at", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetName("due_scan"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create task indexes: %w", err)
	}

	_, err = s.dead.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "seq", Value: -1}},
			Options: options.Index().SetName("recency"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create dead letter indexes: %w", err)
	}
	return nil
}

// taskDoc is the persisted form of queue.Task. The ID is stored as its
// canonical string so documents stay readable in mongosh.
type taskDoc struct {
	ID          string    `bson:"_id"`
	HandlerName string    `bson:"handler_name"`
	Payload     []byte    `bson:"payload,omitempty"`
	Priority    int8      `bson:"priority"`
	EnqueuedAt  time.Time `bson:"enqueued_at"`
	RunAt       time.Time `bson:"run_at"`
	Attempt     int8      `bson:"attempt"`
	MaxRetries  int8      `bson:"max_retries"`
	TimeoutNs   int64     `bson:"timeout_ns"`
	Scheduled   bool      `bson:"scheduled"`
	Seq         int64     `bson:"seq"`
}

type deadLetterDoc struct {
	TaskID      string    `bson:"_id"`
	HandlerName string    `bson:"handler_name"`
	Payload     []byte    `bson:"payload,omitempty"`
	Priority    int8      `bson:"priority"`
	MaxRetries  int8      `bson:"max_retries"`
	TimeoutNs   int64     `bson:"timeout_ns"`
	Reason      string    `bson:"reason"`
	FailedAt    time.Time `bson:"failed_at"`
	Attempts    int8      `bson:"attempts"`
	Seq         int64     `bson:"seq"`
}

// Enqueue adds a task, routing deferred tasks to the scheduled set and
// everything else to the tail of its priority tier.
func (s *Store) Enqueue(ctx context.Context, task *queue.Task) error {
	if !task.Priority.Valid() {
		return queue.ErrInvalidPriority
	}

	doc := taskDoc{
		ID:          task.ID.String(),
		HandlerName: task.HandlerName,
		Payload:     task.Payload,
		Priority:    int8(task.Priority),
		EnqueuedAt:  task.EnqueuedAt,
		RunAt:       task.RunAt,
		Attempt:     task.Attempt,
		MaxRetries:  task.MaxRetries,
		TimeoutNs:   int64(task.Timeout),
		Scheduled:   task.Deferred(),
		Seq:         s.taskSeq.Add(1),
	}

	if _, err := s.tasks.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return queue.ErrTaskExists
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Dequeue claims and removes the next pending task, highest tier first
func (s *Store) Dequeue(ctx context.Context) (*queue.Task, error) {
	var doc taskDoc
	err := s.tasks.FindOneAndDelete(ctx,
		bson.D{{Key: "scheduled", Value: false}},
		options.FindOneAndDelete().SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "seq", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrNoPendingTasks
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}
	return doc.task()
}

// PromoteDue moves scheduled tasks whose run time has arrived into
// their priority tiers. Each promoted task receives a fresh sequence
// number, in run time order, so promotion lands at the tier tail.
func (s *Store) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	cursor, err := s.tasks.Find(ctx,
		bson.D{{Key: "scheduled", Value: true}, {Key: "run_at", Value: bson.D{{Key: "$lte", Value: now}}}},
		options.Find().
			SetSort(bson.D{{Key: "run_at", Value: 1}, {Key: "seq", Value: 1}}).
			SetProjection(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to scan due tasks: %w", err)
	}

	var due []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &due); err != nil {
		return 0, fmt.Errorf("failed to read due tasks: %w", err)
	}

	promoted := 0
	for _, doc := range due {
		_, err := s.tasks.UpdateByID(ctx, doc.ID, bson.D{{Key: "$set", Value: bson.D{
			{Key: "scheduled", Value: false},
			{Key: "seq", Value: s.taskSeq.Add(1)},
		}}})
		if err != nil {
			return promoted, fmt.Errorf("failed to promote task %s: %w", doc.ID, err)
		}
		promoted++
	}
	return promoted, nil
}

// Cancel removes a pending or scheduled task
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.tasks.DeleteOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// Sizes counts the tasks in each tier and the scheduled set
func (s *Store) Sizes(ctx context.Context) (queue.Sizes, error) {
	var sizes queue.Sizes
	counts := []struct {
		dst    *int
		filter bson.D
	}{
		{&sizes.High, bson.D{{Key: "scheduled", Value: false}, {Key: "priority", Value: int8(queue.PriorityHigh)}}},
		{&sizes.Normal, bson.D{{Key: "scheduled", Value: false}, {Key: "priority", Value: int8(queue.PriorityNormal)}}},
		{&sizes.Low, bson.D{{Key: "scheduled", Value: false}, {Key: "priority", Value: int8(queue.PriorityLow)}}},
		{&sizes.Scheduled, bson.D{{Key: "scheduled", Value: true}}},
	}
	for _, c := range counts {
		n, err := s.tasks.CountDocuments(ctx, c.filter)
		if err != nil {
			return queue.Sizes{}, fmt.Errorf("failed to count tasks: %w", err)
		}
		*c.dst = int(n)
	}
	return sizes, nil
}

// Push appends a dead letter entry. A repeated push for the same task
// replaces the previous entry and refreshes its recency.
func (s *Store) Push(ctx context.Context, entry *queue.DeadLetterEntry) error {
	doc := deadLetterDoc{
		TaskID:      entry.TaskID.String(),
		HandlerName: entry.HandlerName,
		Payload:     entry.Payload,
		Priority:    int8(entry.Priority),
		MaxRetries:  entry.MaxRetries,
		TimeoutNs:   int64(entry.Timeout),
		Reason:      entry.Reason,
		FailedAt:    entry.FailedAt,
		Attempts:    entry.Attempts,
		Seq:         s.deadSeq.Add(1),
	}

	_, err := s.dead.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: doc.TaskID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to push dead letter entry: %w", err)
	}
	return nil
}

// List returns dead letter entries most-recent-first. A non-positive
// limit returns every entry.
func (s *Store) List(ctx context.Context, limit int) ([]queue.DeadLetterEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cursor, err := s.dead.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	var docs []deadLetterDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	entries := make([]queue.DeadLetterEntry, 0, len(docs))
	for _, doc := range docs {
		entry, err := doc.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Take removes and returns the dead letter entry for the given task ID
func (s *Store) Take(ctx context.Context, taskID uuid.UUID) (*queue.DeadLetterEntry, error) {
	var doc deadLetterDoc
	err := s.dead.FindOneAndDelete(ctx, bson.D{{Key: "_id", Value: taskID.String()}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take dead letter entry: %w", err)
	}
	return doc.entry()
}

// Purge removes all dead letter entries and reports how many were dropped
func (s *Store) Purge(ctx context.Context) (int, error) {
	res, err := s.dead.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead letters: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (d taskDoc) task() (*queue.Task, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse task id %q: %w", d.ID, err)
	}
	return &queue.Task{
		ID:          id,
		HandlerName: d.HandlerName,
		Payload:     d.Payload,
		Priority:    queue.Priority(d.Priority),
		EnqueuedAt:  d.EnqueuedAt,
		RunAt:       d.RunAt,
		Attempt:     d.Attempt,
		MaxRetries:  d.MaxRetries,
		Timeout:     time.Duration(d.TimeoutNs),
	}, nil
}

func (d deadLetterDoc) entry() (*queue.DeadLetterEntry, error) {
	id, err := uuid.Parse(d.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dead letter task id %q: %w", d.TaskID, err)
	}
	return &queue.DeadLetterEntry{
		TaskID:      id,
		HandlerName: d.HandlerName,
		Payload:     d.Payload,
		Priority:    queue.Priority(d.Priority),
		MaxRetries:  d.MaxRetries,
		Timeout:     time.Duration(d.TimeoutNs),
		Reason:      d.Reason,
		FailedAt:    d.FailedAt,
		Attempts:    d.Attempts,
	}, nil
}

// maxSeq finds the highest sequence value in a collection, or zero when
// the collection is empty.
func maxSeq(ctx context.Context, coll *mongo.Collection) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := coll.FindOne(ctx, bson.D{},
		options.FindOne().
			SetSort(bson.D{{Key: "seq", Value: -1}}).
			SetProjection(bson.D{{Key: "seq", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}
