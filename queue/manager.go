package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns all mutable queue state: the task store, the in-flight
// table, and the processing metrics. Every mutation flows through a
// single loop goroutine, so store implementations never see concurrent
// writers and ordering decisions are serialized by construction.
//
// Public methods are safe for concurrent use; they package the request
// as a command, hand it to the loop, and wait for the reply.
type Manager struct {
	store  Store
	dlq    DeadLetterStore
	clock  Clock
	logger *slog.Logger

	maxRetries      int8
	backoffBase     time.Duration
	promoteInterval time.Duration
	taskTimeout     time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
	pool     *WorkerPool
	running  bool
	loopDone chan struct{}
	cancel   context.CancelFunc
	stopped  chan struct{}

	cmds    chan command
	reports chan report
	idleCh  chan *executor

	// Owned by the loop goroutine. Kept on the struct so a restarted
	// loop can reconcile work that was in flight when its predecessor
	// died.
	idle     []*executor
	inflight map[uuid.UUID]*flight
	stats    metrics
}

// command is a unit of work executed inside the manager loop
type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// report is an executor's verdict on a single dispatched task
type report struct {
	worker   uuid.UUID
	task     *Task
	err      error
	duration time.Duration
}

// flight tracks a dispatched task until its executor reports back
type flight struct {
	task      *Task
	worker    uuid.UUID
	startedAt time.Time
}

// NewManager creates a queue manager backed by the given stores
func NewManager(store Store, dlq DeadLetterStore, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if dlq == nil {
		return nil, ErrDeadLetterStoreNil
	}

	options := &managerOptions{
		config: DefaultConfig(),
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if err := options.config.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		store:           store,
		dlq:             dlq,
		clock:           options.clock,
		logger:          options.logger,
		maxRetries:      options.config.MaxRetries,
		backoffBase:     options.config.BackoffBase,
		promoteInterval: options.config.PromoteInterval,
		taskTimeout:     options.config.TaskTimeout,
		handlers:        make(map[string]Handler),
		cmds:            make(chan command, 64),
		reports:         make(chan report, 256),
		idleCh:          make(chan *executor, 256),
		inflight:        make(map[uuid.UUID]*flight),
	}, nil
}

// RegisterHandler registers a single task handler
func (m *Manager) RegisterHandler(handler Handler) error {
	if handler == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[handler.Name()] = handler
	return nil
}

// RegisterHandlers registers multiple task handlers
func (m *Manager) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := m.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Submit enqueues a task for immediate dispatch. The payload is
// marshaled to JSON and routed to the handler matching its type name
// unless WithHandlerName overrides it. Returns the task ID once the
// store has accepted the task.
func (m *Manager) Submit(ctx context.Context, payload any, opts ...SubmitOption) (uuid.UUID, error) {
	task, err := m.newTask(payload, time.Time{}, opts)
	if err != nil {
		return uuid.Nil, err
	}
	if err := m.enqueue(ctx, task); err != nil {
		return uuid.Nil, err
	}
	return task.ID, nil
}

// Schedule enqueues a task that becomes dispatchable at runAt. A runAt
// in the past behaves like Submit.
func (m *Manager) Schedule(ctx context.Context, payload any, runAt time.Time, opts ...SubmitOption) (uuid.UUID, error) {
	if runAt.IsZero() {
		runAt = m.clock.Now()
	}
	task, err := m.newTask(payload, runAt, opts)
	if err != nil {
		return uuid.Nil, err
	}
	if err := m.enqueue(ctx, task); err != nil {
		return uuid.Nil, err
	}
	return task.ID, nil
}

// Cancel removes a task that has not been dispatched yet. Reports
// false for unknown, already running, or already finished tasks;
// canceling twice is a safe no-op.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := m.do(ctx, func(c context.Context) error {
		var cancelErr error
		ok, cancelErr = m.store.Cancel(c, id)
		if cancelErr != nil {
			return fmt.Errorf("failed to cancel task %s: %w", id, cancelErr)
		}
		if ok {
			m.logger.Debug("task canceled", slog.String("task_id", id.String()))
		}
		return nil
	})
	return ok, err
}

// Stats returns a consistent snapshot of queue depths, the in-flight
// count, and lifetime processing metrics.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := m.do(ctx, func(c context.Context) error {
		sizes, err := m.store.Sizes(c)
		if err != nil {
			return fmt.Errorf("failed to read store sizes: %w", err)
		}
		stats = Stats{
			Queued:   sizes,
			InFlight: len(m.inflight),
			Metrics:  m.stats.snapshot(),
		}
		return nil
	})
	return stats, err
}

// DeadLetters lists dead letter entries most-recent-first. A
// non-positive limit returns every entry. Reads bypass the manager
// loop: the dead letter store is internally synchronized and listing
// does not mutate queue state.
func (m *Manager) DeadLetters(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	return m.dlq.List(ctx, limit)
}

// Retry moves a dead letter entry back into the queue with its attempt
// counter reset to zero. Reports false when no entry exists for the ID.
func (m *Manager) Retry(ctx context.Context, taskID uuid.UUID) (bool, error) {
	var ok bool
	err := m.do(ctx, func(c context.Context) error {
		entry, err := m.dlq.Take(c, taskID)
		if errors.Is(err, ErrDeadLetterNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to take dead letter entry %s: %w", taskID, err)
		}

		now := m.clock.Now()
		task := &Task{
			ID:          entry.TaskID,
			HandlerName: entry.HandlerName,
			Payload:     entry.Payload,
			Priority:    entry.Priority,
			EnqueuedAt:  now,
			RunAt:       now,
			Attempt:     0,
			MaxRetries:  entry.MaxRetries,
			Timeout:     entry.Timeout,
		}
		if err := m.store.Enqueue(c, task); err != nil {
			// Put the entry back so the resubmission can be retried
			_ = m.dlq.Push(c, entry)
			return fmt.Errorf("failed to re-enqueue dead letter task %s: %w", taskID, err)
		}

		m.stats.observeEnqueued()
		ok = true
		m.logger.Info("dead letter task resubmitted",
			slog.String("task_id", task.ID.String()),
			slog.String("handler_name", task.HandlerName))
		m.dispatch(c)
		return nil
	})
	return ok, err
}

// PurgeDeadLetters drops every dead letter entry and reports how many
// were removed.
func (m *Manager) PurgeDeadLetters(ctx context.Context) (int, error) {
	var n int
	err := m.do(ctx, func(c context.Context) error {
		var purgeErr error
		n, purgeErr = m.dlq.Purge(c)
		if purgeErr != nil {
			return fmt.Errorf("failed to purge dead letters: %w", purgeErr)
		}
		if n > 0 {
			m.logger.Info("dead letter queue purged", slog.Int("count", n))
		}
		return nil
	})
	return n, err
}

// Name identifies the manager to a supervisor
func (m *Manager) Name() string { return "queue-manager" }

// Serve runs the manager loop until ctx is canceled. It recovers
// orphaned in-flight work left behind by a previous loop incarnation
// before processing new events, which makes it safe to run under a
// restarting supervisor.
func (m *Manager) Serve(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(m.handlers) == 0 {
		m.mu.Unlock()
		return ErrNoHandlers
	}
	m.running = true
	m.loopDone = make(chan struct{})
	done := m.loopDone
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	m.logger.Info("queue manager started",
		slog.Duration("promote_interval", m.promoteInterval),
		slog.Int("max_retries", int(m.maxRetries)),
		slog.Duration("backoff_base", m.backoffBase))

	m.discardStaleCommands()
	m.recoverInFlight(ctx)

	ticker := time.NewTicker(m.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("queue manager stopped")
			return nil
		case cmd := <-m.cmds:
			cmd.reply <- cmd.fn(ctx)
		case r := <-m.reports:
			m.handleReport(ctx, r)
		case e := <-m.idleCh:
			m.handleIdle(ctx, e)
		case <-ticker.C:
			m.promote(ctx)
		}
	}
}

// Start launches the manager loop in the background
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(m.handlers) == 0 {
		m.mu.Unlock()
		return ErrNoHandlers
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})
	stopped := m.stopped
	m.mu.Unlock()

	go func() {
		defer close(stopped)
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("queue manager crashed",
					slog.Any("panic", r))
				m.mu.Lock()
				m.running = false
				m.mu.Unlock()
			}
		}()
		if err := m.Serve(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("queue manager exited",
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop cancels the manager loop and waits for it to exit
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	cancel := m.cancel
	stopped := m.stopped
	m.cancel = nil
	m.stopped = nil
	m.mu.Unlock()

	cancel()
	<-stopped
	return nil
}

// Run starts the manager and returns a function suitable for errgroup
func (m *Manager) Run(ctx context.Context) func() error {
	return func() error {
		if err := m.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return m.Stop()
	}
}

// enqueue pushes a built task through the loop and wakes dispatch
func (m *Manager) enqueue(ctx context.Context, task *Task) error {
	return m.do(ctx, func(c context.Context) error {
		if err := m.store.Enqueue(c, task); err != nil {
			return fmt.Errorf("failed to enqueue task %q: %w", task.HandlerName, err)
		}
		m.stats.observeEnqueued()
		m.logger.Debug("task enqueued",
			slog.String("task_id", task.ID.String()),
			slog.String("handler_name", task.HandlerName),
			slog.String("priority", task.Priority.String()),
			slog.Time("run_at", task.RunAt))
		m.dispatch(c)
		return nil
	})
}

// newTask builds a Task from a payload and submit options. A zero
// runAt means "dispatch as soon as possible".
func (m *Manager) newTask(payload any, runAt time.Time, opts []SubmitOption) (*Task, error) {
	options := &submitOptions{
		priority:   PriorityDefault,
		maxRetries: m.maxRetries,
		timeout:    m.taskTimeout,
	}
	for _, opt := range opts {
		opt(options)
	}

	if payload == nil && options.handlerName == "" {
		return nil, ErrPayloadNil
	}
	if !options.priority.Valid() {
		return nil, ErrInvalidPriority
	}

	var payloadBytes []byte
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, errors.Join(ErrPayloadMarshal, err)
		}
	}

	handlerName := options.handlerName
	if handlerName == "" {
		handlerName = payloadName(payload)
	}

	now := m.clock.Now()
	if runAt.IsZero() {
		runAt = now
		if options.delay > 0 {
			runAt = now.Add(options.delay)
		}
	}

	return &Task{
		ID:          uuid.New(),
		HandlerName: handlerName,
		Payload:     payloadBytes,
		Priority:    options.priority,
		EnqueuedAt:  now,
		RunAt:       runAt,
		Attempt:     0,
		MaxRetries:  options.maxRetries,
		Timeout:     options.timeout,
	}, nil
}

// do runs fn inside the manager loop and returns its result. It fails
// fast with ErrManagerStopped when the loop is not running.
func (m *Manager) do(ctx context.Context, fn func(context.Context) error) error {
	m.mu.RLock()
	running, done := m.running, m.loopDone
	m.mu.RUnlock()
	if !running {
		return ErrManagerStopped
	}

	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case m.cmds <- cmd:
	case <-done:
		return ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-done:
		return ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch pairs idle executors with pending tasks until one side runs
// out. Only ever called from the loop goroutine.
func (m *Manager) dispatch(ctx context.Context) {
	for len(m.idle) > 0 {
		task, err := m.store.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, ErrNoPendingTasks) {
				m.logger.Error("failed to dequeue task",
					slog.String("error", err.Error()))
			}
			return
		}

		e := m.idle[0]
		m.idle[0] = nil
		m.idle = m.idle[1:]

		m.inflight[task.ID] = &flight{
			task:      task,
			worker:    e.id,
			startedAt: m.clock.Now(),
		}
		m.stats.observeStarted()
		m.logger.Debug("task dispatched",
			slog.String("task_id", task.ID.String()),
			slog.String("handler_name", task.HandlerName),
			slog.String("priority", task.Priority.String()),
			slog.String("worker_id", e.id.String()))
		e.assign(task)
	}
}

// handleIdle parks an executor and immediately tries to find it work
func (m *Manager) handleIdle(ctx context.Context, e *executor) {
	m.idle = append(m.idle, e)
	m.dispatch(ctx)
}

// handleReport settles an in-flight task. Reports that do not match
// the in-flight table are dropped so a task can never be settled twice.
func (m *Manager) handleReport(ctx context.Context, r report) {
	fl, ok := m.inflight[r.task.ID]
	if !ok || fl.worker != r.worker {
		m.logger.Warn("dropping stale task report",
			slog.String("task_id", r.task.ID.String()),
			slog.String("worker_id", r.worker.String()))
		return
	}
	delete(m.inflight, r.task.ID)

	if r.err == nil {
		m.stats.observeCompleted(r.duration)
		m.logger.Info("task completed successfully",
			slog.String("task_id", r.task.ID.String()),
			slog.String("handler_name", r.task.HandlerName),
			slog.Duration("duration", r.duration))
		return
	}

	m.stats.observeFailed(r.duration)
	m.handleFailure(ctx, r.task, r.err, r.duration)
}

// handleFailure routes a failed task to the retry path or, once the
// retry budget is spent, to the dead letter store. Tasks with no
// registered handler go straight to the dead letter store: retrying
// cannot help until an operator deploys the handler and resubmits.
func (m *Manager) handleFailure(ctx context.Context, task *Task, execErr error, duration time.Duration) {
	m.logger.Error("task failed",
		slog.String("task_id", task.ID.String()),
		slog.String("handler_name", task.HandlerName),
		slog.Int("attempt", int(task.Attempt)),
		slog.Int("max_retries", int(task.MaxRetries)),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	if errors.Is(execErr, ErrHandlerNotFound) {
		m.deadLetter(ctx, task, execErr)
		return
	}

	if task.Attempt < task.MaxRetries {
		task.Attempt++
		task.RunAt = m.clock.Now().Add(backoffDelay(m.backoffBase, task.Attempt))
		if err := m.store.Enqueue(ctx, task); err != nil {
			m.logger.Error("failed to requeue task for retry",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
			m.deadLetter(ctx, task, execErr)
			return
		}
		m.logger.Info("task scheduled for retry",
			slog.String("task_id", task.ID.String()),
			slog.Int("attempt", int(task.Attempt)),
			slog.Time("run_at", task.RunAt))
		return
	}

	m.deadLetter(ctx, task, execErr)
}

// deadLetter records a task that will not be retried
func (m *Manager) deadLetter(ctx context.Context, task *Task, execErr error) {
	entry := &DeadLetterEntry{
		TaskID:      task.ID,
		HandlerName: task.HandlerName,
		Payload:     task.Payload,
		Priority:    task.Priority,
		MaxRetries:  task.MaxRetries,
		Timeout:     task.Timeout,
		Reason:      execErr.Error(),
		FailedAt:    m.clock.Now(),
		Attempts:    task.Attempt + 1,
	}
	if err := m.dlq.Push(ctx, entry); err != nil {
		m.logger.Error("failed to move task to dead letter queue",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
		return
	}
	m.logger.Warn("task moved to dead letter queue",
		slog.String("task_id", task.ID.String()),
		slog.String("handler_name", task.HandlerName),
		slog.String("reason", entry.Reason))
}

// promote moves due scheduled tasks into their tiers and dispatches
func (m *Manager) promote(ctx context.Context) {
	n, err := m.store.PromoteDue(ctx, m.clock.Now())
	if err != nil {
		m.logger.Error("failed to promote scheduled tasks",
			slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		m.logger.Debug("promoted scheduled tasks", slog.Int("count", n))
		m.dispatch(ctx)
	}
}

// recoverInFlight settles work left over from a previous loop run.
// Buffered reports and idle announcements are applied first; whatever
// remains in the in-flight table without a live busy executor is
// treated as failed and sent down the retry path.
func (m *Manager) recoverInFlight(ctx context.Context) {
	for {
		select {
		case r := <-m.reports:
			m.handleReport(ctx, r)
			continue
		case e := <-m.idleCh:
			m.handleIdle(ctx, e)
			continue
		default:
		}
		break
	}

	if len(m.inflight) == 0 {
		return
	}

	m.mu.RLock()
	pool := m.pool
	m.mu.RUnlock()

	orphaned := 0
	for id, fl := range m.inflight {
		if pool != nil && pool.busyWith(fl.worker, id) {
			continue
		}
		delete(m.inflight, id)
		orphaned++
		m.stats.observeFailed(0)
		m.handleFailure(ctx, fl.task, errors.New("executor fault: task orphaned by manager restart"), 0)
	}
	if orphaned > 0 {
		m.logger.Warn("reconciled orphaned in-flight tasks",
			slog.Int("count", orphaned))
	}
}

// discardStaleCommands rejects commands that were queued while no loop
// was running; their senders have already been given ErrManagerStopped.
func (m *Manager) discardStaleCommands() {
	for {
		select {
		case cmd := <-m.cmds:
			cmd.reply <- ErrManagerStopped
		default:
			return
		}
	}
}

// evictIdle removes up to n executors from the idle set and returns
// them for the pool to stop. A negative n evicts every idle executor.
func (m *Manager) evictIdle(ctx context.Context, n int) []*executor {
	var evicted []*executor
	err := m.do(ctx, func(context.Context) error {
		count := n
		if count < 0 || count > len(m.idle) {
			count = len(m.idle)
		}
		keep := len(m.idle) - count
		evicted = append(evicted, m.idle[keep:]...)
		for i := keep; i < len(m.idle); i++ {
			m.idle[i] = nil
		}
		m.idle = m.idle[:keep]
		return nil
	})
	if err != nil {
		return nil
	}
	return evicted
}

// attachPool wires the worker pool so restart reconciliation can ask
// which executors are still busy.
func (m *Manager) attachPool(p *WorkerPool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool = p
}

// handlerFor resolves a handler by name
func (m *Manager) handlerFor(name string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[name]
	return h, ok
}

// backoffDelay computes base * 2^attempt, clamping the exponent so a
// runaway attempt counter cannot overflow the duration.
func backoffDelay(base time.Duration, attempt int8) time.Duration {
	if base <= 0 {
		return 0
	}
	shift := uint(attempt)
	if attempt < 0 {
		shift = 0
	}
	if shift > 20 {
		shift = 20
	}
	return base << shift
}
