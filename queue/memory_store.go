package queue

import (
	"container/heap"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of Store and
// DeadLetterStore for tests, examples, and single-process deployments
// that can tolerate losing queued tasks on restart. Durable
// deployments should use one of the storage adapters instead.
//
// All collections are guarded by a single mutex; the store performs no
// background work, so there is nothing to close.
type MemoryStore struct {
	mu        sync.Mutex
	tiers     [3][]*Task
	scheduled scheduledSet
	present   map[uuid.UUID]struct{}
	seq       uint64
	dead      []*DeadLetterEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		present: make(map[uuid.UUID]struct{}),
	}
}

// Compile-time interface checks
var (
	_ Store           = (*MemoryStore)(nil)
	_ DeadLetterStore = (*MemoryStore)(nil)
)

// Enqueue adds a task to the scheduled set or its priority tier,
// depending on whether its run time is still in the future.
func (s *MemoryStore) Enqueue(ctx context.Context, task *Task) error {
	if !task.Priority.Valid() {
		return ErrInvalidPriority
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.present[task.ID]; ok {
		return ErrTaskExists
	}

	// Store a copy so later caller mutations cannot reach into the queue
	t := *task
	s.present[t.ID] = struct{}{}
	if t.Deferred() {
		s.seq++
		heap.Push(&s.scheduled, &scheduledItem{task: &t, seq: s.seq})
		return nil
	}
	s.tiers[t.Priority] = append(s.tiers[t.Priority], &t)
	return nil
}

// Dequeue removes and returns the head of the highest non-empty tier
func (s *MemoryStore) Dequeue(ctx context.Context) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p := PriorityHigh; p >= PriorityLow; p-- {
		tier := s.tiers[p]
		if len(tier) == 0 {
			continue
		}
		task := tier[0]
		tier[0] = nil
		s.tiers[p] = tier[1:]
		delete(s.present, task.ID)
		return task, nil
	}
	return nil, ErrNoPendingTasks
}

// PromoteDue moves due scheduled tasks to their tier tails in run-time order
func (s *MemoryStore) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	promoted := 0
	for len(s.scheduled) > 0 && !s.scheduled[0].task.RunAt.After(now) {
		it := heap.Pop(&s.scheduled).(*scheduledItem)
		s.tiers[it.task.Priority] = append(s.tiers[it.task.Priority], it.task)
		promoted++
	}
	return promoted, nil
}

// Cancel removes a waiting task. Dispatched or unknown IDs report false.
func (s *MemoryStore) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.present[id]; !ok {
		return false, nil
	}
	delete(s.present, id)

	for p := range s.tiers {
		if i := slices.IndexFunc(s.tiers[p], func(t *Task) bool { return t.ID == id }); i >= 0 {
			s.tiers[p] = slices.Delete(s.tiers[p], i, i+1)
			return true, nil
		}
	}
	for i, it := range s.scheduled {
		if it.task.ID == id {
			heap.Remove(&s.scheduled, i)
			return true, nil
		}
	}
	return false, nil
}

// Sizes counts tasks per tier and in the scheduled set
func (s *MemoryStore) Sizes(ctx context.Context) (Sizes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Sizes{
		High:      len(s.tiers[PriorityHigh]),
		Normal:    len(s.tiers[PriorityNormal]),
		Low:       len(s.tiers[PriorityLow]),
		Scheduled: len(s.scheduled),
	}, nil
}

// Push appends a dead letter entry. A repeated push for the same task
// replaces the previous entry and refreshes its recency.
func (s *MemoryStore) Push(ctx context.Context, entry *DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := slices.IndexFunc(s.dead, func(e *DeadLetterEntry) bool { return e.TaskID == entry.TaskID }); i >= 0 {
		s.dead = slices.Delete(s.dead, i, i+1)
	}
	e := *entry
	s.dead = append(s.dead, &e)
	return nil
}

// List returns dead letter entries most-recent-first
func (s *MemoryStore) List(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetterEntry, 0, n)
	for i := len(s.dead) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *s.dead[i])
	}
	return out, nil
}

// Take removes and returns the dead letter entry for a task ID
func (s *MemoryStore) Take(ctx context.Context, taskID uuid.UUID) (*DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.dead, func(e *DeadLetterEntry) bool { return e.TaskID == taskID })
	if i < 0 {
		return nil, ErrDeadLetterNotFound
	}
	entry := s.dead[i]
	s.dead = slices.Delete(s.dead, i, i+1)
	return entry, nil
}

// Purge drops every dead letter entry
func (s *MemoryStore) Purge(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.dead)
	s.dead = nil
	return n, nil
}

// scheduledItem pairs a task with an insertion sequence so equal run
// times keep submission order.
type scheduledItem struct {
	task *Task
	seq  uint64
}

// scheduledSet is a min-heap ordered by run time
type scheduledSet []*scheduledItem

func (s scheduledSet) Len() int { return len(s) }

func (s scheduledSet) Less(i, j int) bool {
	if s[i].task.RunAt.Equal(s[j].task.RunAt) {
		return s[i].seq < s[j].seq
	}
	return s[i].task.RunAt.Before(s[j].task.RunAt)
}

func (s scheduledSet) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s *scheduledSet) Push(x any) { *s = append(*s, x.(*scheduledItem)) }

func (s *scheduledSet) Pop() any {
	old := *s
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*s = old[:n-1]
	return it
}
