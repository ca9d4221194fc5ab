package queue

import (
	"log/slog"
	"time"
)

// SupervisorOption is a functional option for configuring a Supervisor
type SupervisorOption func(*supervisorOptions)

type supervisorOptions struct {
	restartDelay time.Duration
	maxDelay     time.Duration
	logger       *slog.Logger
}

// WithRestartDelay sets the initial delay before restarting a unit
func WithRestartDelay(d time.Duration) SupervisorOption {
	return func(o *supervisorOptions) {
		if d > 0 {
			o.restartDelay = d
		}
	}
}

// WithMaxRestartDelay caps the exponential restart backoff
func WithMaxRestartDelay(d time.Duration) SupervisorOption {
	return func(o *supervisorOptions) {
		if d > 0 {
			o.maxDelay = d
		}
	}
}

// WithSupervisorLogger sets the logger for the supervisor
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(o *supervisorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
