// Package pgstore provides a PostgreSQL-backed store for the queuekit
// queue using the pgx/v5 driver, covering both the pending/scheduled
// task collections and the dead letter queue.
//
// Pending and scheduled tasks live in one table separated by a
// scheduled flag. FIFO order within a priority tier rides on a
// bigserial sequence; promotion reassigns the sequence so tasks moved
// out of the scheduled set join the tail of their tier, in run time
// order. Dequeue claims rows with FOR UPDATE SKIP LOCKED, which keeps
// the claim correct even if two processes are ever pointed at the same
// database. The adapter persists only the pending, scheduled, and dead
// collections: in-flight state belongs to the manager process.
//
// # Usage
//
// Import the package:
//
//	import "github.com/dmitrymomot/queuekit/storage/postgres"
//
// Connect with auto-retry, apply the embedded migrations, and build a
// store:
//
//	ctx := context.Background()
//	pool, err := pgstore.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	if err := pgstore.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//	    log.Fatal(err)
//	}
//
//	store, err := pgstore.New(pool)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The store implements both queue.Store and queue.DeadLetterStore, so
// one instance can back a manager completely:
//
//	mgr, err := queue.NewManager(store, store)
//
// # Migrations
//
// Schema migrations are embedded in the package and applied with
// goose/v3 through Migrate. The goose version table name is
// configurable via Config.MigrationsTable so the queue's migration
// history stays separate from the host application's.
//
// # Errors
//
// Connection and migration failures wrap sentinel errors (e.g.
// ErrFailedToOpenDBConnection) using errors.Join. Store methods
// translate database conditions into the queue package's sentinels:
// unique violations on enqueue become queue.ErrTaskExists, an empty
// dequeue becomes queue.ErrNoPendingTasks, and a missing dead letter
// entry becomes queue.ErrDeadLetterNotFound.
package pgstore
