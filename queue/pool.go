package queue

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkerPool owns the executor arena: it spawns executors, replaces
// the ones that crash, and resizes the arena on demand. Executors pull
// their work from the manager, so the pool itself never touches queue
// state.
type WorkerPool struct {
	mgr    *Manager
	logger *slog.Logger

	drainTimeout time.Duration

	// lifeMu serializes Start, ScaleTo, and Stop so resize decisions
	// never interleave
	lifeMu sync.Mutex

	mu       sync.Mutex
	workers  map[uuid.UUID]*executor
	target   int
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopping bool
}

// NewWorkerPool creates a pool of executors fed by the given manager
func NewWorkerPool(mgr *Manager, opts ...PoolOption) (*WorkerPool, error) {
	if mgr == nil {
		return nil, ErrManagerNil
	}

	options := &poolOptions{
		size:         DefaultConfig().PoolSize,
		drainTimeout: DefaultConfig().ShutdownTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.size < 0 {
		return nil, ErrInvalidPoolSize
	}

	p := &WorkerPool{
		mgr:          mgr,
		logger:       options.logger,
		drainTimeout: options.drainTimeout,
		target:       options.size,
		workers:      make(map[uuid.UUID]*executor),
	}
	mgr.attachPool(p)
	return p, nil
}

// Start spawns the configured number of executors
func (p *WorkerPool) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.stopping = false
	p.ctx, p.cancel = context.WithCancel(ctx)
	for range p.target {
		p.spawnLocked()
	}
	p.mu.Unlock()

	p.logger.Info("worker pool started", slog.Int("size", p.target))
	return nil
}

// ScaleTo resizes the arena to n executors. Growth spawns immediately;
// shrinking stops idle executors first and marks busy ones for
// retirement, so no running task is interrupted. Before Start it only
// adjusts the initial size.
func (p *WorkerPool) ScaleTo(ctx context.Context, n int) error {
	if n < 0 {
		return ErrInvalidPoolSize
	}

	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	p.mu.Lock()
	from := p.target
	p.target = n
	if !p.started || p.stopping {
		p.mu.Unlock()
		return nil
	}

	current := len(p.workers)
	if n >= current {
		for range n - current {
			p.spawnLocked()
		}
		p.mu.Unlock()
		p.logger.Info("worker pool scaled",
			slog.Int("from", from), slog.Int("to", n))
		return nil
	}
	p.mu.Unlock()

	// Shrinking: pull idle executors out of the manager first so they
	// stop without ever being assigned another task
	need := current - n
	evicted := p.mgr.evictIdle(ctx, need)

	p.mu.Lock()
	for _, e := range evicted {
		p.stopLocked(e)
	}
	deficit := need - len(evicted)
	for _, e := range p.workers {
		if deficit <= 0 {
			break
		}
		if e.retire.CompareAndSwap(false, true) {
			deficit--
			p.logger.Debug("executor marked for retirement",
				slog.String("worker_id", e.id.String()))
		}
	}
	p.mu.Unlock()

	p.logger.Info("worker pool scaled",
		slog.Int("from", from), slog.Int("to", n),
		slog.Int("stopped_idle", len(evicted)))
	return nil
}

// Stop retires every executor, letting busy ones finish their current
// task. Returns ErrDrainTimeout if the drain window elapses first.
func (p *WorkerPool) Stop() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.stopping = true
	cancel := p.cancel
	p.mu.Unlock()

	// Clear the manager's idle set before canceling so it cannot
	// dispatch to an executor that is about to exit
	p.mgr.evictIdle(context.Background(), -1)
	cancel()

	p.logger.Info("worker pool stopping, waiting for active tasks to complete")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.drainTimeout):
		p.logger.Warn("worker pool drain timeout exceeded",
			slog.Duration("drain_timeout", p.drainTimeout))
		return ErrDrainTimeout
	}

	p.mu.Lock()
	p.started = false
	p.workers = make(map[uuid.UUID]*executor)
	p.mu.Unlock()

	p.logger.Info("worker pool stopped")
	return nil
}

// ActiveCount reports the number of executors in the arena
func (p *WorkerPool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Workers returns a point-in-time view of every executor, ordered by ID
func (p *WorkerPool) Workers() []WorkerInfo {
	p.mu.Lock()
	infos := make([]WorkerInfo, 0, len(p.workers))
	for _, e := range p.workers {
		infos = append(infos, e.info())
	}
	p.mu.Unlock()

	slices.SortFunc(infos, func(a, b WorkerInfo) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return infos
}

// Name identifies the pool to a supervisor
func (p *WorkerPool) Name() string { return "worker-pool" }

// Serve runs the pool until ctx is canceled
func (p *WorkerPool) Serve(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	return p.Stop()
}

// Run starts the pool and returns a function suitable for errgroup
func (p *WorkerPool) Run(ctx context.Context) func() error {
	return func() error {
		return p.Serve(ctx)
	}
}

// busyWith reports whether the given worker is currently executing the
// given task. Used by manager restarts to tell orphaned tasks from
// live ones.
func (p *WorkerPool) busyWith(workerID, taskID uuid.UUID) bool {
	p.mu.Lock()
	e, ok := p.workers[workerID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	t := e.holding()
	return t != nil && t.ID == taskID
}

// spawnLocked adds one executor to the arena. Callers hold p.mu.
func (p *WorkerPool) spawnLocked() {
	e := newExecutor(p.mgr, p.logger)
	ectx, cancel := context.WithCancel(p.ctx)
	e.cancel = cancel
	p.workers[e.id] = e
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		e.run(ectx, p)
	}()
	p.logger.Debug("executor started", slog.String("worker_id", e.id.String()))
}

// stopLocked cancels an already-evicted idle executor. Callers hold p.mu.
func (p *WorkerPool) stopLocked(e *executor) {
	delete(p.workers, e.id)
	e.cancel()
	p.logger.Debug("executor stopped", slog.String("worker_id", e.id.String()))
}

// executorExited removes an executor that shut down with its context
func (p *WorkerPool) executorExited(e *executor) {
	p.mu.Lock()
	delete(p.workers, e.id)
	p.mu.Unlock()
}

// executorRetired removes an executor that finished its last task
// after being marked for retirement.
func (p *WorkerPool) executorRetired(e *executor) {
	p.mu.Lock()
	delete(p.workers, e.id)
	p.mu.Unlock()

	p.logger.Debug("executor retired", slog.String("worker_id", e.id.String()))
}

// executorAborted replaces an executor that terminated after a task
// timeout. The task itself was already reported.
func (p *WorkerPool) executorAborted(e *executor, task *Task) {
	p.mu.Lock()
	delete(p.workers, e.id)
	replaced := p.replaceLocked()
	p.mu.Unlock()

	p.logger.Warn("executor terminated after task timeout",
		slog.String("worker_id", e.id.String()),
		slog.String("task_id", task.ID.String()),
		slog.Bool("replaced", replaced))
}

// executorCrashed replaces an executor whose harness panicked. Any
// task it held is routed into the ordinary failure path so the crash
// never takes queue state down with it.
func (p *WorkerPool) executorCrashed(e *executor, cause error) {
	p.mu.Lock()
	delete(p.workers, e.id)
	replaced := p.replaceLocked()
	p.mu.Unlock()

	p.logger.Error("executor crashed",
		slog.String("worker_id", e.id.String()),
		slog.String("error", cause.Error()),
		slog.Bool("replaced", replaced))

	if held := e.holding(); held != nil {
		e.current.Store(nil)
		p.mgr.reports <- report{worker: e.id, task: held, err: cause}
	}
	// Recover an assignment that never reached the run loop
	select {
	case stranded := <-e.taskCh:
		p.mgr.reports <- report{worker: e.id, task: stranded, err: cause}
	default:
	}
}

// replaceLocked spawns a substitute executor while the pool is running
// below target. Callers hold p.mu.
func (p *WorkerPool) replaceLocked() bool {
	if p.stopping || !p.started || len(p.workers) >= p.target {
		return false
	}
	p.spawnLocked()
	return true
}
