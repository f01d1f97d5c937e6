package dispatch

import (
	"flag"
	"time"

	"github.com/pkg/errors"
)

const (
	// maxAutoPoolSize caps the pool size derived from the hardware
	// parallelism hint. The offloaded computations are short-lived; more
	// than a handful of units buys nothing and costs memory.
	maxAutoPoolSize = 4

	defaultTaskTimeout = 10 * time.Second
)

// Config configures a Dispatcher.
type Config struct {
	// PoolSize is the number of execution units to provision at startup.
	// 0 derives the size from the hardware parallelism hint, clamped to
	// [1, 4]. The pool never resizes after startup.
	PoolSize int `yaml:"pool_size"`

	// MaxQueued bounds the backlog of tasks waiting for a free unit.
	// 0 means unbounded. When the bound is reached, Submit fails with
	// ErrQueueFull instead of growing the backlog.
	MaxQueued int `yaml:"max_queued"`

	// TaskTimeout is how long an assigned task may run before it is
	// resolved as a timeout failure. The unit is not terminated; it is
	// returned to the pool.
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// RegisterFlags registers dispatcher flags with the default "offload." prefix.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("offload.", f)
}

// RegisterFlagsWithPrefix registers dispatcher flags with a custom prefix.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.PoolSize, prefix+"pool-size", 0, "Number of execution units to provision. 0 derives the size from available CPUs, clamped to at most 4.")
	f.IntVar(&cfg.MaxQueued, prefix+"max-queued", 0, "Maximum number of tasks waiting for a free unit before submissions are rejected. 0 disables the bound.")
	f.DurationVar(&cfg.TaskTimeout, prefix+"task-timeout", defaultTaskTimeout, "How long an assigned task may run before it is failed with a timeout.")
}

func (cfg *Config) Validate() error {
	if cfg.PoolSize < 0 {
		return errors.New("pool size must not be negative")
	}
	if cfg.MaxQueued < 0 {
		return errors.New("max queued must not be negative")
	}
	if cfg.TaskTimeout <= 0 {
		return errors.New("task timeout must be positive")
	}
	return nil
}
