// Package config loads the daemon configuration from YAML with
// environment-variable expansion.
package config

import (
	"time"

	"github.com/pawtrack/netguard/cache"
	"github.com/pawtrack/netguard/health"
	"github.com/pawtrack/netguard/queue"
	"github.com/pawtrack/netguard/retry"
	"github.com/pawtrack/netguard/storage/pgstore"
	"github.com/pawtrack/netguard/storage/redisstore"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`
	Cache   CacheConfig   `yaml:"cache"`
	Queue   QueueConfig   `yaml:"queue"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig holds inspection server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Durations are expressed as integer milliseconds so plain YAML
// scalars decode cleanly.

// RetryConfig holds retry/backoff settings.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelayMS int     `yaml:"initial_delay_ms"`
	MaxDelayMS     int     `yaml:"max_delay_ms"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
	Jitter         *bool   `yaml:"jitter"`
}

// BreakerConfig holds circuit-breaker settings.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownMS       int `yaml:"cooldown_ms"`
}

// CacheConfig holds response-cache settings.
type CacheConfig struct {
	MaxBytes     int64 `yaml:"max_bytes"`
	DefaultTTLMS int   `yaml:"default_ttl_ms"`
}

// QueueConfig holds offline-queue settings.
type QueueConfig struct {
	HostConcurrency int `yaml:"host_concurrency"`
	MaxAgeMS        int `yaml:"max_age_ms"`
}

// StorageConfig selects and configures the durable backend.
type StorageConfig struct {
	// Backend: memory, file, redis or postgres.
	Backend  string            `yaml:"backend"`
	Dir      string            `yaml:"dir"` // file backend
	Redis    redisstore.Config `yaml:"redis"`
	Postgres pgstore.Config    `yaml:"postgres"`
}

// RetryOptions converts to the library's retry configuration.
func (c RetryConfig) RetryOptions() retry.Config {
	cfg := retry.DefaultConfig
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialDelayMS > 0 {
		cfg.InitialDelay = time.Duration(c.InitialDelayMS) * time.Millisecond
	}
	if c.MaxDelayMS > 0 {
		cfg.MaxDelay = time.Duration(c.MaxDelayMS) * time.Millisecond
	}
	if c.BackoffFactor > 1 {
		cfg.BackoffMultiple = c.BackoffFactor
	}
	if c.Jitter != nil {
		cfg.Jitter = *c.Jitter
	}
	return cfg
}

// HealthOptions converts to the library's breaker configuration.
func (c BreakerConfig) HealthOptions() health.Config {
	cfg := health.DefaultConfig
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.CooldownMS > 0 {
		cfg.Cooldown = time.Duration(c.CooldownMS) * time.Millisecond
	}
	return cfg
}

// CacheOptions converts to the library's cache configuration.
func (c CacheConfig) CacheOptions() cache.Config {
	cfg := cache.DefaultConfig
	if c.MaxBytes > 0 {
		cfg.MaxBytes = c.MaxBytes
	}
	return cfg
}

// QueueOptions converts to the library's queue configuration.
func (c QueueConfig) QueueOptions() queue.Config {
	cfg := queue.DefaultConfig
	if c.HostConcurrency > 0 {
		cfg.HostConcurrency = c.HostConcurrency
	}
	if c.MaxAgeMS > 0 {
		cfg.MaxAge = time.Duration(c.MaxAgeMS) * time.Millisecond
	}
	return cfg
}
