package queue

import "time"

// Clock abstracts wall-clock reads so scheduling and backoff arithmetic
// can be driven deterministically in tests. The default implementation
// delegates to time.Now.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
