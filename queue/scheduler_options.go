package queue

import (
	"log/slog"
	"time"
)

// SchedulerOption is a functional option for configuring a Scheduler
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	checkInterval time.Duration
	clock         Clock
	logger        *slog.Logger
}

// WithCheckInterval sets how often the scheduler checks for due tasks
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithSchedulerClock sets the clock used to decide when tasks are due.
// Intended for tests that need deterministic time.
func WithSchedulerClock(clock Clock) SchedulerOption {
	return func(o *schedulerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithSchedulerLogger sets the logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// ScheduleTaskOption is a functional option for a registered periodic task
type ScheduleTaskOption func(*scheduleTaskOptions)

type scheduleTaskOptions struct {
	priority   Priority
	maxRetries int8
	timeout    time.Duration
}

// WithTaskPriority sets the priority for the periodic task's occurrences
func WithTaskPriority(priority Priority) ScheduleTaskOption {
	return func(o *scheduleTaskOptions) {
		if priority.Valid() {
			o.priority = priority
		}
	}
}

// WithTaskMaxRetries sets the retry budget for occurrences (0-10)
// Capped at 10 to prevent infinite retry loops on persistent failures
func WithTaskMaxRetries(maxRetries int8) ScheduleTaskOption {
	return func(o *scheduleTaskOptions) {
		if maxRetries >= 0 && maxRetries <= 10 {
			o.maxRetries = maxRetries
		}
	}
}

// WithTaskTimeout bounds a single execution attempt of each occurrence
func WithTaskTimeout(timeout time.Duration) ScheduleTaskOption {
	return func(o *scheduleTaskOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}
