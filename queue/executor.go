package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// executor is a single pool worker. It announces itself to the manager
// when idle, executes whatever task the manager assigns, and reports
// exactly one verdict per assignment.
//
// Failure handling is layered: panics raised by handler code are
// caught around the handler call and reported as ordinary task
// failures, while a panic in the executor's own machinery escapes to
// the run loop's recover and is treated as a worker crash.
type executor struct {
	id     uuid.UUID
	mgr    *Manager
	logger *slog.Logger

	taskCh    chan *Task
	retire    atomic.Bool
	current   atomic.Pointer[Task]
	completed atomic.Uint64

	// cancel tears down this executor alone; the pool calls it when an
	// idle executor is evicted during scale-down
	cancel context.CancelFunc
}

func newExecutor(mgr *Manager, logger *slog.Logger) *executor {
	return &executor{
		id:     uuid.New(),
		mgr:    mgr,
		logger: logger,
		taskCh: make(chan *Task, 1),
	}
}

// assign hands a task to the executor. Only the manager loop calls
// this, and only after the executor announced itself idle, so the
// buffered channel can never block.
func (e *executor) assign(task *Task) {
	e.taskCh <- task
}

// holding returns the task currently being executed, if any
func (e *executor) holding() *Task {
	return e.current.Load()
}

func (e *executor) info() WorkerInfo {
	status := WorkerStatusIdle
	if e.current.Load() != nil {
		status = WorkerStatusBusy
	}
	return WorkerInfo{
		ID:             e.id,
		Status:         status,
		TasksCompleted: e.completed.Load(),
	}
}

// run is the executor goroutine. It exits when ctx is canceled, when
// the pool marks it for retirement, or after a task timeout; a panic
// that reaches this frame counts as a crash and makes the pool spawn
// a replacement.
func (e *executor) run(ctx context.Context, pool *WorkerPool) {
	defer func() {
		if r := recover(); r != nil {
			pool.executorCrashed(e, fmt.Errorf("executor fault: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			pool.executorExited(e)
			return
		case e.mgr.idleCh <- e:
		}

		select {
		case <-ctx.Done():
			pool.executorExited(e)
			return
		case task := <-e.taskCh:
			verdict := e.execute(task)
			e.mgr.reports <- report{
				worker:   e.id,
				task:     task,
				err:      verdict.err,
				duration: verdict.duration,
			}
			if verdict.abort {
				pool.executorAborted(e, task)
				return
			}
			if e.retire.Load() {
				pool.executorRetired(e)
				return
			}
		}
	}
}

// verdict is the outcome of a single execution attempt. abort means
// the executor must terminate because the handler goroutine is still
// running past its deadline and cannot be trusted with another task.
type verdict struct {
	err      error
	duration time.Duration
	abort    bool
}

// execute runs one task to its verdict. The handler runs in a child
// goroutine so a deadline can fire even if the handler never checks
// its context.
func (e *executor) execute(task *Task) verdict {
	e.current.Store(task)
	defer e.current.Store(nil)

	start := e.mgr.clock.Now()

	handler, ok := e.mgr.handlerFor(task.HandlerName)
	if !ok {
		e.logger.Error("no handler registered for task",
			slog.String("worker_id", e.id.String()),
			slog.String("task_id", task.ID.String()),
			slog.String("handler_name", task.HandlerName))
		return verdict{
			err:      fmt.Errorf("%w: %s", ErrHandlerNotFound, task.HandlerName),
			duration: e.mgr.clock.Now().Sub(start),
		}
	}

	// Handler contexts are independent of the worker lifecycle;
	// graceful shutdown lets the running task finish
	hctx := context.Background()
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		hctx, cancel = context.WithTimeout(hctx, task.Timeout)
	} else {
		hctx, cancel = context.WithCancel(hctx)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("handler panicked",
					slog.String("worker_id", e.id.String()),
					slog.String("task_id", task.ID.String()),
					slog.String("handler_name", task.HandlerName),
					slog.Any("panic", r))
				done <- fmt.Errorf("panic in handler: %v", r)
			}
		}()
		done <- handler.Handle(hctx, task.Payload)
	}()

	if task.Timeout > 0 {
		select {
		case err := <-done:
			return e.settle(task, err, start)
		case <-hctx.Done():
			// The handler goroutine is abandoned; it settles into the
			// buffered channel whenever it finally returns
			e.logger.Warn("task execution timed out",
				slog.String("worker_id", e.id.String()),
				slog.String("task_id", task.ID.String()),
				slog.String("handler_name", task.HandlerName),
				slog.Duration("timeout", task.Timeout))
			return verdict{
				err:      fmt.Errorf("%w after %s", ErrTaskTimeout, task.Timeout),
				duration: e.mgr.clock.Now().Sub(start),
				abort:    true,
			}
		}
	}

	return e.settle(task, <-done, start)
}

func (e *executor) settle(task *Task, err error, start time.Time) verdict {
	if err == nil {
		e.completed.Add(1)
	}
	return verdict{err: err, duration: e.mgr.clock.Now().Sub(start)}
}
