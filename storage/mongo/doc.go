// Package mongostore provides a MongoDB-backed store for the queuekit
// queue, covering both the pending/scheduled task collections and the
// dead letter queue.
//
// Pending and scheduled tasks share one collection separated by a
// scheduled flag. FIFO order within a priority tier rides on a
// monotonic sequence number; promotion reassigns the sequence so tasks
// moved out of the scheduled set join the tail of their tier, in run
// time order. Dequeue claims with FindOneAndDelete, which is atomic on
// a single document. The adapter persists only the pending, scheduled,
// and dead collections: in-flight state belongs to the manager process.
//
// Sequence numbers come from in-process counters seeded from the
// highest persisted value at construction, which is sufficient under
// the queue's single-writer contract: exactly one manager process owns
// all writes to the collections.
//
// # Usage
//
// Import the package:
//
//	import "github.com/dmitrymomot/queuekit/storage/mongo"
//
// Connect with auto-retry, create the indexes, and build a store:
//
//	ctx := context.Background()
//	db, err := mongostore.ConnectDatabase(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Client().Disconnect(ctx)
//
//	store, err := mongostore.New(ctx, db)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := store.EnsureIndexes(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The store implements both queue.Store and queue.DeadLetterStore, so
// one instance can back a manager completely:
//
//	mgr, err := queue.NewManager(store, store)
//
// # Errors
//
// Connection failures wrap sentinel errors (e.g.
// ErrFailedToConnectToMongo) compatible with errors.Is. Store methods
// translate driver conditions into the queue package's sentinels:
// duplicate key errors on enqueue become queue.ErrTaskExists, an empty
// dequeue becomes queue.ErrNoPendingTasks, and a missing dead letter
// entry becomes queue.ErrDeadLetterNotFound.
package mongostore
