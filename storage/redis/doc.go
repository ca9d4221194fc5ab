// Package redisstore provides a Redis-backed store for the queuekit
// queue, covering both the pending/scheduled task collections and the
// dead letter queue.
//
// The layout uses one list per priority tier (FIFO order), a sorted set
// scored by run time for scheduled tasks, and hashes for the task and
// dead letter bodies. Multi-key writes go through MULTI/EXEC pipelines
// so a crash never leaves a task half-moved. The adapter persists only
// the pending, scheduled, and dead collections: in-flight state belongs
// to the manager process.
//
// # Usage
//
// Import the package:
//
//	import "github.com/dmitrymomot/queuekit/storage/redis"
//
// Connect with auto-retry and build a store:
//
//	ctx := context.Background()
//	client, err := redisstore.Connect(ctx, redisstore.Config{
//	    ConnectionURL:  "redis://localhost:6379/0",
//	    RetryAttempts:  3,
//	    RetryInterval:  5 * time.Second,
//	    ConnectTimeout: 30 * time.Second,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	store, err := redisstore.New(client)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The store implements both queue.Store and queue.DeadLetterStore, so
// one instance can back a manager completely:
//
//	mgr, err := queue.NewManager(store, store)
//
// Multiple queues can share a Redis instance by giving each store its
// own key prefix:
//
//	store, err := redisstore.New(client, redisstore.WithKeyPrefix("billing"))
//
// # Errors
//
// The package defines sentinel errors (e.g. ErrRedisNotReady) that wrap
// the underlying go-redis errors using errors.Join. Store methods
// translate storage conditions into the queue package's sentinels, such
// as queue.ErrNoPendingTasks and queue.ErrDeadLetterNotFound.
package redisstore
