package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler turns registered schedules into queue submissions. It
// never touches the store itself: every occurrence goes through the
// manager like any other task, so the single-writer discipline holds.
type Scheduler struct {
	mgr      *Manager
	clock    Clock
	logger   *slog.Logger
	interval time.Duration

	mu    sync.Mutex
	tasks map[string]*periodicTask
}

// periodicTask holds configuration and pacing state for one schedule
type periodicTask struct {
	name       string
	schedule   Schedule
	priority   Priority
	maxRetries int8
	timeout    time.Duration
	nextRun    time.Time
}

// NewScheduler creates a scheduler that submits through the given manager
func NewScheduler(mgr *Manager, opts ...SchedulerOption) (*Scheduler, error) {
	if mgr == nil {
		return nil, ErrManagerNil
	}

	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		clock:         systemClock{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		mgr:      mgr,
		clock:    options.clock,
		logger:   options.logger,
		interval: options.checkInterval,
		tasks:    make(map[string]*periodicTask),
	}, nil
}

// AddTask registers a periodic task. The name doubles as the handler
// name, so a handler registered under the same name on the manager
// receives every occurrence.
func (s *Scheduler) AddTask(name string, schedule Schedule, opts ...ScheduleTaskOption) error {
	if schedule == nil {
		return ErrNoScheduleSpecified
	}

	taskOpts := &scheduleTaskOptions{
		priority:   PriorityDefault,
		maxRetries: DefaultConfig().MaxRetries,
	}
	for _, opt := range opts {
		opt(taskOpts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return ErrTaskAlreadyRegistered
	}

	s.tasks[name] = &periodicTask{
		name:       name,
		schedule:   schedule,
		priority:   taskOpts.priority,
		maxRetries: taskOpts.maxRetries,
		timeout:    taskOpts.timeout,
	}

	s.logger.Info("registered periodic task",
		slog.String("task_name", name),
		slog.String("schedule", schedule.String()))
	return nil
}

// RemoveTask unregisters a periodic task. Occurrences already
// submitted are unaffected.
func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, name)
}

// Name identifies the scheduler to a supervisor
func (s *Scheduler) Name() string { return "scheduler" }

// Serve checks schedules until ctx is canceled, submitting an
// occurrence whenever one comes due.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.mu.Lock()
	taskCount := len(s.tasks)
	s.mu.Unlock()
	if taskCount == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Check immediately on start
	s.checkTasks(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.checkTasks(ctx)
		}
	}
}

// Run starts the scheduler and returns a function suitable for errgroup
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		return s.Serve(ctx)
	}
}

// checkTasks submits every due occurrence and paces out the next one
func (s *Scheduler) checkTasks(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]*periodicTask, 0, len(s.tasks))
	for _, pt := range s.tasks {
		if pt.nextRun.IsZero() {
			// First sighting: pace the task without firing it
			pt.nextRun = pt.schedule.Next(now)
			s.logger.Debug("periodic task paced",
				slog.String("task_name", pt.name),
				slog.Time("next_run", pt.nextRun))
			continue
		}
		if !pt.nextRun.After(now) {
			due = append(due, pt)
		}
	}
	s.mu.Unlock()

	for _, pt := range due {
		id, err := s.mgr.Submit(ctx, nil,
			WithHandlerName(pt.name),
			WithPriority(pt.priority),
			WithMaxRetries(pt.maxRetries),
			WithTimeout(pt.timeout))
		if err != nil {
			// Leave nextRun alone so the occurrence is retried next tick
			s.logger.Error("failed to submit periodic task",
				slog.String("task_name", pt.name),
				slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		pt.nextRun = pt.schedule.Next(now)
		next := pt.nextRun
		s.mu.Unlock()

		s.logger.Info("periodic task submitted",
			slog.String("task_name", pt.name),
			slog.String("task_id", id.String()),
			slog.Time("next_run", next))
	}
}
