package queue_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dmitrymomot/queuekit/queue"
)

type WelcomeEmail struct {
	To string `json:"to"`
}

func Example() {
	store := queue.NewMemoryStore()

	mgr, err := queue.NewManager(store, store)
	if err != nil {
		log.Fatal(err)
	}

	delivered := make(chan string, 1)
	err = mgr.RegisterHandler(queue.NewTaskHandler(func(ctx context.Context, p WelcomeEmail) error {
		delivered <- p.To
		return nil
	}))
	if err != nil {
		log.Fatal(err)
	}

	pool, err := queue.NewWorkerPool(mgr, queue.WithPoolSize(2))
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		log.Fatal(err)
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = pool.Stop()
		_ = mgr.Stop()
	}()

	if _, err := mgr.Submit(ctx, WelcomeEmail{To: "new.user@example.com"}); err != nil {
		log.Fatal(err)
	}

	fmt.Println("welcome email sent to", <-delivered)
	// Output: welcome email sent to new.user@example.com
}

// Running every component under a single supervisor gives the queue a
// uniform lifecycle: one context stops everything, and a crashed
// component is restarted without disturbing its siblings.
func ExampleSupervisor() {
	store := queue.NewMemoryStore()

	mgr, err := queue.NewManager(store, store)
	if err != nil {
		log.Fatal(err)
	}
	err = mgr.RegisterHandler(queue.NewPeriodicTaskHandler("session-cleanup", func(ctx context.Context) error {
		// Expire stale sessions here
		return nil
	}))
	if err != nil {
		log.Fatal(err)
	}

	pool, err := queue.NewWorkerPool(mgr, queue.WithPoolSize(4))
	if err != nil {
		log.Fatal(err)
	}

	sched, err := queue.NewScheduler(mgr, queue.WithCheckInterval(time.Minute))
	if err != nil {
		log.Fatal(err)
	}
	if err := sched.AddTask("session-cleanup", queue.HourlyAt(0)); err != nil {
		log.Fatal(err)
	}

	sup := queue.NewSupervisor(queue.WithRestartDelay(time.Second))
	sup.Add(mgr, queue.RestartAlways)
	sup.Add(pool, queue.RestartAlways)
	sup.Add(sched, queue.RestartOnFailure)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
