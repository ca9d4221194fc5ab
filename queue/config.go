package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables for the queue subsystem. Zero values are
// replaced with defaults by Validate, so a partially populated Config
// is safe to pass around.
type Config struct {
	// PoolSize is the number of executors the worker pool starts with
	PoolSize int `env:"QUEUE_POOL_SIZE" envDefault:"5"`

	// MaxRetries is the per-task retry budget applied when a task does not set its own
	MaxRetries int8 `env:"QUEUE_MAX_RETRIES" envDefault:"3"`

	// BackoffBase seeds the exponential retry delay: base * 2^attempt
	BackoffBase time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"1s"`

	// PromoteInterval is the cadence of the scheduled-set promotion tick
	PromoteInterval time.Duration `env:"QUEUE_PROMOTE_INTERVAL" envDefault:"1s"`

	// TaskTimeout bounds a single execution; zero means no limit
	TaskTimeout time.Duration `env:"QUEUE_TASK_TIMEOUT" envDefault:"0"`

	// ShutdownTimeout bounds how long Stop waits for busy executors to drain
	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		PoolSize:        5,
		MaxRetries:      3,
		BackoffBase:     time.Second,
		PromoteInterval: time.Second,
		TaskTimeout:     0,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration for nonsensical values and fills
// zero fields with defaults. TaskTimeout is exempt: zero disables the
// per-task execution limit.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.PoolSize == 0 {
		c.PoolSize = def.PoolSize
	}
	if c.PoolSize < 0 {
		return ErrInvalidPoolSize
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.BackoffBase < 0 {
		return errors.New("backoff base cannot be negative")
	}
	if c.PromoteInterval == 0 {
		c.PromoteInterval = def.PromoteInterval
	}
	if c.PromoteInterval < 0 {
		return errors.New("promote interval must be positive")
	}
	if c.TaskTimeout < 0 {
		return errors.New("task timeout cannot be negative")
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return nil
}

// LoadConfig reads configuration from environment variables, loading a
// .env file first when one exists.
func LoadConfig() (Config, error) {
	// Ignore the error - the .env file might not exist and that's ok
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(errors.New("failed to parse environment variables into config"), err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fileConfig mirrors Config with string durations so config files can
// use human-readable values like "500ms" or "2s".
type fileConfig struct {
	PoolSize        int    `json:"pool_size" yaml:"pool_size"`
	MaxRetries      *int8  `json:"max_retries" yaml:"max_retries"`
	BackoffBase     string `json:"backoff_base" yaml:"backoff_base"`
	PromoteInterval string `json:"promote_interval" yaml:"promote_interval"`
	TaskTimeout     string `json:"task_timeout" yaml:"task_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoadConfigFile reads configuration from a JSON or YAML file, chosen
// by extension. Omitted fields keep their defaults. An empty path
// returns DefaultConfig unchanged.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("failed to parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("failed to parse json config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}

	if fc.PoolSize != 0 {
		cfg.PoolSize = fc.PoolSize
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	for _, f := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.BackoffBase, &cfg.BackoffBase, "backoff_base"},
		{fc.PromoteInterval, &cfg.PromoteInterval, "promote_interval"},
		{fc.TaskTimeout, &cfg.TaskTimeout, "task_timeout"},
		{fc.ShutdownTimeout, &cfg.ShutdownTimeout, "shutdown_timeout"},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %w", f.name, err)
		}
		*f.dst = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
