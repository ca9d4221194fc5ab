package queue

import (
	"time"

	"github.com/google/uuid"
)

// Priority represents one of the three dispatch tiers.
// Using int8 keeps the memory footprint minimal while allowing
// direct comparison (higher value dispatches first).
type Priority int8

// Priority tiers, in ascending dispatch order
const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2

	PriorityDefault Priority = PriorityNormal
)

// Valid checks if the priority is one of the three known tiers
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// String returns the lower-case tier name, or "unknown" for out-of-range values
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePriority converts a tier name ("high", "normal", "low") to a Priority.
// Returns ErrInvalidPriority for anything else.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityDefault, ErrInvalidPriority
	}
}

// Task represents a single unit of work flowing through the queue.
// Tasks are immutable once enqueued except for Attempt and RunAt,
// which the manager rewrites on the retry path.
type Task struct {
	ID          uuid.UUID     `json:"id"`
	HandlerName string        `json:"handler_name"`
	Payload     []byte        `json:"payload,omitempty"`
	Priority    Priority      `json:"priority"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	RunAt       time.Time     `json:"run_at"`
	Attempt     int8          `json:"attempt"`
	MaxRetries  int8          `json:"max_retries"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Deferred reports whether the task carries a run time beyond its
// enqueue time. Deferred tasks belong in the scheduled set and stay
// invisible to dispatch until a promotion tick moves them out. The
// routing rule reads no clock, so every Store implementation agrees
// with the manager about where a task belongs.
func (t *Task) Deferred() bool {
	return t.RunAt.After(t.EnqueuedAt)
}

// Sizes is a point-in-time census of the store collections
type Sizes struct {
	High      int `json:"high"`
	Normal    int `json:"normal"`
	Low       int `json:"low"`
	Scheduled int `json:"scheduled"`
}

// Total returns the number of tasks across all store collections
func (s Sizes) Total() int {
	return s.High + s.Normal + s.Low + s.Scheduled
}

// Stats is the snapshot returned by Manager.Stats. It combines store
// sizes, the in-flight count, and the lifetime processing counters.
type Stats struct {
	Queued   Sizes           `json:"queued"`
	InFlight int             `json:"in_flight"`
	Metrics  MetricsSnapshot `json:"metrics"`
}

// DeadLetterEntry records a task that exhausted its retry budget.
// Enough of the original task is preserved to resubmit it with Retry.
type DeadLetterEntry struct {
	TaskID      uuid.UUID     `json:"task_id"`
	HandlerName string        `json:"handler_name"`
	Payload     []byte        `json:"payload,omitempty"`
	Priority    Priority      `json:"priority"`
	MaxRetries  int8          `json:"max_retries"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Reason      string        `json:"reason"`
	FailedAt    time.Time     `json:"failed_at"`
	Attempts    int8          `json:"attempts"`
}

// WorkerStatus represents the lifecycle state of a pool executor
type WorkerStatus string

const (
	WorkerStatusIdle WorkerStatus = "idle"
	WorkerStatusBusy WorkerStatus = "busy"
)

// WorkerInfo is a point-in-time view of a single pool executor
type WorkerInfo struct {
	ID             uuid.UUID    `json:"id"`
	Status         WorkerStatus `json:"status"`
	TasksCompleted uint64       `json:"tasks_completed"`
}
