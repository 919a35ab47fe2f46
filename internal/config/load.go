package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from defaults, an optional config file, and
// environment variables. Environment variables take precedence over values
// from config files, which take precedence over defaults.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file in the working directory.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine; defaults and env vars apply.
	}

	// Environment variables with RELAY_ prefix, e.g. RELAY_SERVER_PORT.
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers a complete default configuration so the server can
// start with no config file or environment at all.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("scheduler.worker_count", 4)
	v.SetDefault("scheduler.queue_capacity", 256)
	v.SetDefault("scheduler.task_timeout", "30s")

	v.SetDefault("cache.capacity_bytes", 64<<20)
	v.SetDefault("cache.shard_count", 16)
	v.SetDefault("cache.default_ttl", "5m")
	v.SetDefault("cache.sweep_interval", "1m")

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.window", "10s")
	v.SetDefault("breaker.cooldown", "30s")
	v.SetDefault("breaker.half_open_trials", 1)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "100ms")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("retry.jitter", true)

	v.SetDefault("collab.session_idle_timeout", "5m")
	v.SetDefault("collab.heartbeat_timeout", "30s")
	v.SetDefault("collab.broadcast_buffer", 64)
}
