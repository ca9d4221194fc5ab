package queue

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil task store is provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrDeadLetterStoreNil is returned when a nil dead letter store is provided
	ErrDeadLetterStoreNil = errors.New("dead letter store cannot be nil")

	// ErrManagerNil is returned when a component is constructed without a manager
	ErrManagerNil = errors.New("manager cannot be nil")

	// ErrPayloadNil is returned when attempting to submit a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrPayloadMarshal is returned when payload marshaling fails
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrInvalidPriority is returned when priority is not one of the three tiers
	ErrInvalidPriority = errors.New("priority must be high, normal, or low")

	// ErrInvalidPoolSize is returned when a pool is sized below zero
	ErrInvalidPoolSize = errors.New("pool size cannot be negative")

	// ErrNoPendingTasks is returned by Dequeue when every tier is empty
	ErrNoPendingTasks = errors.New("no pending tasks")

	// ErrTaskExists is returned when enqueueing a task whose ID is already stored
	ErrTaskExists = errors.New("task with this ID already exists")

	// ErrTaskNotFound is returned when a task lookup misses every collection
	ErrTaskNotFound = errors.New("task not found")

	// ErrDeadLetterNotFound is returned when a dead letter lookup misses
	ErrDeadLetterNotFound = errors.New("dead letter entry not found")

	// ErrHandlerNotFound is returned when no handler is registered for a task
	ErrHandlerNotFound = errors.New("no handler registered for task")

	// ErrNoHandlers is returned when the manager starts with no handlers registered
	ErrNoHandlers = errors.New("no task handlers registered")

	// ErrTaskAlreadyRegistered is returned when registering a duplicate periodic task
	ErrTaskAlreadyRegistered = errors.New("task already registered")

	// ErrSchedulerNotConfigured is returned when the scheduler has no tasks
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered tasks")

	// ErrNoScheduleSpecified is returned when no schedule is provided for a periodic task
	ErrNoScheduleSpecified = errors.New("no schedule specified for periodic task")

	// ErrAlreadyStarted is returned when starting a component twice
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted is returned when stopping a component that never started
	ErrNotStarted = errors.New("not started")

	// ErrManagerStopped is returned when submitting to a stopped manager
	ErrManagerStopped = errors.New("queue manager is not running")

	// ErrTaskTimeout is the failure reported when a task exceeds its execution timeout
	ErrTaskTimeout = errors.New("timeout")

	// ErrDrainTimeout is returned when a pool shutdown outlives its drain window
	ErrDrainTimeout = errors.New("shutdown drain timeout exceeded")

	// ErrNoUnits is returned when a supervisor runs with nothing to supervise
	ErrNoUnits = errors.New("no units registered")
)
