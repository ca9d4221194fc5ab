package redisstore

import "github.com/dmitrymomot/queuekit/queue"

// keys builds every key the store touches under a shared prefix, so two
// queues can coexist on one Redis instance.
type keys struct {
	prefix string
}

// tier is the FIFO list of pending task IDs for one priority
func (k keys) tier(p queue.Priority) string {
	return k.prefix + ":tier:" + p.String()
}

// tasks is the hash of task ID to task body
func (k keys) tasks() string {
	return k.prefix + ":tasks"
}

// scheduled is the sorted set of deferred task IDs scored by run time
func (k keys) scheduled() string {
	return k.prefix + ":scheduled"
}

// dead is the list of dead letter task IDs, newest first
func (k keys) dead() string {
	return k.prefix + ":dead"
}

// deadEntries is the hash of task ID to dead letter entry body
func (k keys) deadEntries() string {
	return k.prefix + ":dead:entries"
}
