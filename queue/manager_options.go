package queue

import (
	"log/slog"
	"time"
)

// ManagerOption is a functional option for configuring a Manager
type ManagerOption func(*managerOptions)

type managerOptions struct {
	config Config
	clock  Clock
	logger *slog.Logger
}

// WithConfig applies a full queue configuration
func WithConfig(cfg Config) ManagerOption {
	return func(o *managerOptions) {
		o.config = cfg
	}
}

// WithClock sets the clock used for scheduling and backoff arithmetic.
// Intended for tests that need deterministic time.
func WithClock(clock Clock) ManagerOption {
	return func(o *managerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger for the manager
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// SubmitOption is a functional option for Submit and Schedule
type SubmitOption func(*submitOptions)

type submitOptions struct {
	priority    Priority
	maxRetries  int8
	delay       time.Duration
	timeout     time.Duration
	handlerName string
}

// WithPriority sets the dispatch tier for the task
func WithPriority(priority Priority) SubmitOption {
	return func(o *submitOptions) {
		o.priority = priority
	}
}

// WithMaxRetries sets the retry budget for the task (0-10)
// Capped at 10 to prevent infinite retry loops on persistent failures
func WithMaxRetries(maxRetries int8) SubmitOption {
	return func(o *submitOptions) {
		if maxRetries >= 0 && maxRetries <= 10 {
			o.maxRetries = maxRetries
		}
	}
}

// WithDelay holds the task in the scheduled set for the given duration
func WithDelay(delay time.Duration) SubmitOption {
	return func(o *submitOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithTimeout bounds a single execution attempt of the task
func WithTimeout(timeout time.Duration) SubmitOption {
	return func(o *submitOptions) {
		if timeout >= 0 {
			o.timeout = timeout
		}
	}
}

// WithHandlerName routes the task to an explicitly named handler
// instead of deriving the name from the payload type.
func WithHandlerName(name string) SubmitOption {
	return func(o *submitOptions) {
		if name != "" {
			o.handlerName = name
		}
	}
}
