// Package queue provides a fault-isolating task queue with three
// priority tiers, deferred execution, bounded retries, and a dead
// letter queue for tasks that exhaust their retry budget.
//
// The package is organised around four components:
//
//   - Manager: owns all queue state and serializes every mutation
//   - WorkerPool: supervises the executors that run task payloads
//   - Scheduler: converts Schedule definitions into submissions
//   - Supervisor: restarts the other components when they fail
//
// The Manager is the single writer: submissions, retries, promotions,
// cancellations, and metrics updates all pass through one loop
// goroutine. Executors and callers talk to it exclusively through
// messages, which removes every lock from the dispatch path and makes
// ordering decisions auditable.
//
// # Architecture
//
//  1. The Store and DeadLetterStore interfaces encapsulate all
//     persistence concerns. MemoryStore implements both; the storage
//     subpackages back them with Redis, PostgreSQL, and MongoDB.
//  2. Dispatch is strictly by tier: a Normal task runs only when no
//     High task is pending, and Low only when both upper tiers are
//     empty. Within a tier, tasks run in submission order. Sustained
//     high-priority load therefore starves lower tiers; there is no
//     fairness mechanism, so callers must choose tiers accordingly.
//  3. A failed task is re-enqueued with an exponentially growing delay
//     (backoff base * 2^attempt) until its retry budget is spent, then
//     lands in the dead letter queue with the last failure reason.
//  4. Executors are disposable: a handler panic is contained and
//     reported as an ordinary failure, while a fault in the executor
//     itself causes the pool to replace it without touching queue
//     state.
//
// # Usage
//
// Basic setup with an in-memory store:
//
//	import (
//	    "context"
//
//	    "github.com/dmitrymomot/queuekit/queue"
//	)
//
//	type SendEmailPayload struct {
//	    UserID int64
//	}
//
//	func example(ctx context.Context) error {
//	    store := queue.NewMemoryStore()
//	    mgr, err := queue.NewManager(store, store)
//	    if err != nil {
//	        return err
//	    }
//	    _ = mgr.RegisterHandler(queue.NewTaskHandler(
//	        func(ctx context.Context, p SendEmailPayload) error {
//	            // deliver the email
//	            return nil
//	        }))
//
//	    pool, err := queue.NewWorkerPool(mgr, queue.WithPoolSize(5))
//	    if err != nil {
//	        return err
//	    }
//
//	    sup := queue.NewSupervisor()
//	    sup.Add(mgr, queue.RestartOnFailure)
//	    sup.Add(pool, queue.RestartAlways)
//	    go sup.Run(ctx)
//
//	    _, err = mgr.Submit(ctx, SendEmailPayload{UserID: 42},
//	        queue.WithPriority(queue.PriorityHigh))
//	    return err
//	}
//
// Deferred and periodic work:
//
//	// Run once, twenty minutes from now
//	mgr.Schedule(ctx, ReminderPayload{ID: 7}, time.Now().Add(20*time.Minute))
//
//	// Run every day at 02:00
//	s, _ := queue.NewScheduler(mgr)
//	_ = s.AddTask("cleanup_sessions", queue.DailyAt(2, 0),
//	    queue.WithTaskPriority(queue.PriorityLow))
//	sup.Add(s, queue.RestartOnFailure)
//
// # Error Handling
//
// Package-level sentinel errors (e.g. ErrInvalidPriority,
// ErrManagerStopped, ErrNoPendingTasks) signal violations of business
// invariants and can be checked with errors.Is.
//
// # Examples
//
// Additional runnable examples live in the package's example_test.go files.
package queue
