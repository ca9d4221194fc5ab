package redisstore

import "time"

type Config struct {
	ConnectionURL  string        `env:"QUEUE_REDIS_URL,required" envDefault:"redis://localhost:6379/0"` // ConnectionURL is the URL of the Redis server. It should be in the format "redis://:password@localhost:6379/0"
	RetryAttempts  int           `env:"QUEUE_REDIS_RETRY_ATTEMPTS" envDefault:"3"`                      // RetryAttempts is the number of retry attempts to connect to the server.
	RetryInterval  time.Duration `env:"QUEUE_REDIS_RETRY_INTERVAL" envDefault:"5s"`                     // RetryInterval is the interval between retry attempts. It should be in the format "5s" for 5 seconds.
	ConnectTimeout time.Duration `env:"QUEUE_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`                   // ConnectTimeout is the timeout for connecting to the server. It should be in the format "30s" for 30 seconds.
	KeyPrefix      string        `env:"QUEUE_REDIS_KEY_PREFIX" envDefault:"queuekit"`                   // KeyPrefix namespaces every key the store writes.
}
