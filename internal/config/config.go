package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Cache     CacheConfig     `mapstructure:"cache"     validate:"required"`
	Breaker   BreakerConfig   `mapstructure:"breaker"   validate:"required"`
	Retry     RetryConfig     `mapstructure:"retry"     validate:"required"`
	Collab    CollabConfig    `mapstructure:"collab"    validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// SchedulerConfig controls the task scheduler's worker pool and queue.
type SchedulerConfig struct {
	WorkerCount   int           `mapstructure:"worker_count"   validate:"required,gt=0"`
	QueueCapacity int           `mapstructure:"queue_capacity" validate:"required,gt=0"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout"   validate:"required,gt=0"`
}

// CacheConfig controls the in-memory cache's capacity and expiry behavior.
type CacheConfig struct {
	CapacityBytes int64         `mapstructure:"capacity_bytes" validate:"required,gt=0"`
	ShardCount    int           `mapstructure:"shard_count"    validate:"required,gt=0"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"    validate:"gte=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"required,gt=0"`
}

// BreakerConfig controls circuit breaker thresholds shared by all
// per-dependency breaker instances.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"required,gt=0"`
	Window           time.Duration `mapstructure:"window"            validate:"required,gt=0"`
	Cooldown         time.Duration `mapstructure:"cooldown"          validate:"required,gt=0"`
	HalfOpenTrials   int           `mapstructure:"half_open_trials"  validate:"required,gt=0"`
}

// RetryConfig controls the backoff policy applied to failed task attempts.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"required,gt=0"`
	BaseDelay   time.Duration `mapstructure:"base_delay"   validate:"required,gt=0"`
	Multiplier  float64       `mapstructure:"multiplier"   validate:"required,gte=1"`
	MaxDelay    time.Duration `mapstructure:"max_delay"    validate:"required,gt=0"`
	Jitter      bool          `mapstructure:"jitter"`
}

// CollabConfig controls collaboration session lifecycle and broadcast behavior.
type CollabConfig struct {
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout" validate:"required,gt=0"`
	HeartbeatTimeout   time.Duration `mapstructure:"heartbeat_timeout"    validate:"required,gt=0"`
	BroadcastBuffer    int           `mapstructure:"broadcast_buffer"     validate:"required,gt=0"`
}
