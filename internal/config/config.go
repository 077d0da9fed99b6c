// Package config loads, merges, and validates application configuration from defaults, environment, and flags.
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	App            AppConfig
	Redis          RedisConfig
	Job            JobConfig
	HTTP           HTTPConfig
	CircuitBreaker CircuitBreakerConfig
	Health         HealthConfig
}

// AppConfig holds process-wide, non-domain settings.
type AppConfig struct {
	Name            string
	Environment     string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// RedisConfig describes the Redis deployment backing the input queue,
// per-job reply lists, and timing streams.
type RedisConfig struct {
	Host            string
	Port            int
	Password        string
	DB              int
	MasterName      string
	PoolSize        int
	MinIdleConns    int
	ConnMaxLifetime time.Duration
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRetries      int
	RetryInterval   time.Duration
}

// JobConfig describes the job topology: which queue jobs arrive on, which
// model identity this worker advertises, and the bounds on one job's run.
//
// PredictTimeout is a pointer because nil ("unset") and a configured zero
// are not the same thing: nil means the Driver never times out a job, while
// an explicit zero means every job times out immediately, before the Driver
// ever polls.
type JobConfig struct {
	InputQueue     string
	UploadURL      string
	ConsumerID     string
	ModelID        string
	LogQueue       string
	PredictTimeout *time.Duration
	ReclaimIdle    time.Duration
	ReadBlock      time.Duration
	PollInterval   time.Duration
	StatsQueueLen  int64
}

// HTTPConfig bounds the file-fetch and upload HTTP calls shared by the
// Input Decoder and Output Encoder.
type HTTPConfig struct {
	Timeout time.Duration
}

// CircuitBreakerConfig tunes the sliding-window breaker guarding the HTTP
// file-fetch/upload calls.
type CircuitBreakerConfig struct {
	ErrorThreshold   float64
	SuccessThreshold int
	OpenTimeout      time.Duration
	MaxConcurrent    int
	VolumeThreshold  int
}

// HealthConfig controls the optional liveness/readiness HTTP endpoint. It
// reports this process's own health, not a downstream dependency's.
type HealthConfig struct {
	Enabled      bool
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxIdle      time.Duration
}

// Load runs the full layered pipeline: defaults, then environment, then
// flags, then validation.
func Load() (*Config, error) {
	RegisterFlags()

	cfg := GetDefaults()
	LoadFromEnvironment(cfg)
	ApplyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
