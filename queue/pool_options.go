package queue

import (
	"log/slog"
	"time"
)

// PoolOption is a functional option for configuring a WorkerPool
type PoolOption func(*poolOptions)

type poolOptions struct {
	size         int
	drainTimeout time.Duration
	logger       *slog.Logger
}

// WithPoolSize sets the initial number of executors
func WithPoolSize(size int) PoolOption {
	return func(o *poolOptions) {
		if size >= 0 {
			o.size = size
		}
	}
}

// WithDrainTimeout bounds how long Stop waits for busy executors
func WithDrainTimeout(d time.Duration) PoolOption {
	return func(o *poolOptions) {
		if d > 0 {
			o.drainTimeout = d
		}
	}
}

// WithPoolLogger sets the logger for the pool and its executors
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(o *poolOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
