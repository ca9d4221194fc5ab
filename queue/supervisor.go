package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Unit is a long-running component that can live under a Supervisor.
// Serve blocks until ctx is canceled (returning nil) or the unit hits
// an unrecoverable error. Both Manager and WorkerPool implement Unit.
type Unit interface {
	Name() string
	Serve(ctx context.Context) error
}

// RestartPolicy decides what a supervisor does when a unit stops
type RestartPolicy int8

const (
	// RestartAlways restarts the unit after any exit, clean or not
	RestartAlways RestartPolicy = iota

	// RestartOnFailure restarts only after an error or panic
	RestartOnFailure

	// RestartNever propagates the first exit; an error takes the
	// whole supervisor down
	RestartNever
)

func (p RestartPolicy) String() string {
	switch p {
	case RestartAlways:
		return "always"
	case RestartOnFailure:
		return "on-failure"
	case RestartNever:
		return "never"
	default:
		return "unknown"
	}
}

// Supervisor runs a set of units, restarting each according to its
// policy. Units are isolated: a crash in one unit never forces a
// sibling to restart. Restart delays back off exponentially and reset
// once a unit stays up past the cap.
type Supervisor struct {
	logger       *slog.Logger
	restartDelay time.Duration
	maxDelay     time.Duration

	units []supervisedUnit
}

type supervisedUnit struct {
	unit   Unit
	policy RestartPolicy
}

// NewSupervisor creates an empty supervisor
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	options := &supervisorOptions{
		restartDelay: time.Second,
		maxDelay:     time.Minute,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Supervisor{
		logger:       options.logger,
		restartDelay: options.restartDelay,
		maxDelay:     options.maxDelay,
	}
}

// Add registers a unit under the given restart policy. Add is not safe
// to call once Run has started.
func (s *Supervisor) Add(unit Unit, policy RestartPolicy) {
	if unit == nil {
		return
	}
	s.units = append(s.units, supervisedUnit{unit: unit, policy: policy})
}

// Run supervises every registered unit until ctx is canceled. It
// returns nil on graceful shutdown, or the error of the first unit
// that stopped permanently under RestartNever.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.units) == 0 {
		return ErrNoUnits
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, su := range s.units {
		g.Go(func() error {
			return s.supervise(gctx, su)
		})
	}
	return g.Wait()
}

// supervise runs one unit through its restart loop
func (s *Supervisor) supervise(ctx context.Context, su supervisedUnit) error {
	delay := s.restartDelay

	for {
		started := time.Now()
		err := s.serveUnit(ctx, su.unit)
		uptime := time.Since(started)

		if ctx.Err() != nil {
			// Shutdown in progress; whatever the unit returned is noise
			s.logger.Info("unit stopped", slog.String("unit", su.unit.Name()))
			return nil
		}

		switch su.policy {
		case RestartNever:
			if err != nil {
				s.logger.Error("unit failed, not restarting",
					slog.String("unit", su.unit.Name()),
					slog.String("error", err.Error()))
				return fmt.Errorf("unit %s failed: %w", su.unit.Name(), err)
			}
			s.logger.Info("unit exited", slog.String("unit", su.unit.Name()))
			return nil
		case RestartOnFailure:
			if err == nil {
				s.logger.Info("unit exited cleanly", slog.String("unit", su.unit.Name()))
				return nil
			}
		case RestartAlways:
		}

		// A long healthy run earns the unit a fresh backoff
		if uptime > s.maxDelay {
			delay = s.restartDelay
		}

		attrs := []any{
			slog.String("unit", su.unit.Name()),
			slog.String("policy", su.policy.String()),
			slog.Duration("delay", delay),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		s.logger.Warn("restarting unit", attrs...)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.maxDelay {
			delay = s.maxDelay
		}
	}
}

// serveUnit converts a unit panic into an error so one unit's defect
// cannot take down its siblings.
func (s *Supervisor) serveUnit(ctx context.Context, u Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panic: %v", r)
		}
	}()
	return u.Serve(ctx)
}
