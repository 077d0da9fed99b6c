package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnvironment overlays PREDICTOR_*-prefixed environment variables
// onto cfg, leaving any field whose variable is unset or empty untouched.
func LoadFromEnvironment(cfg *Config) {
	applyAppEnv(cfg)
	applyRedisEnv(cfg)
	applyJobEnv(cfg)
	applyHTTPEnv(cfg)
	applyCircuitBreakerEnv(cfg)
	applyHealthEnv(cfg)
}

func applyAppEnv(cfg *Config) {
	if val := os.Getenv("PREDICTOR_APP_NAME"); val != "" {
		cfg.App.Name = val
	}
	if val := os.Getenv("PREDICTOR_APP_ENV"); val != "" {
		cfg.App.Environment = val
	}
	if val := os.Getenv("PREDICTOR_LOG_LEVEL"); val != "" {
		cfg.App.LogLevel = val
	}
	if val := os.Getenv("PREDICTOR_LOG_FORMAT"); val != "" {
		cfg.App.LogFormat = val
	}
	if val := getEnvDuration("PREDICTOR_SHUTDOWN_TIMEOUT"); val != 0 {
		cfg.App.ShutdownTimeout = val
	}
}

func applyRedisEnv(cfg *Config) {
	if val := os.Getenv("PREDICTOR_REDIS_HOST"); val != "" {
		cfg.Redis.Host = val
	}
	if val := getEnvInt("PREDICTOR_REDIS_PORT"); val > 0 {
		cfg.Redis.Port = val
	}
	if val := os.Getenv("PREDICTOR_REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val, ok := getEnvIntOK("PREDICTOR_REDIS_DB"); ok {
		cfg.Redis.DB = val
	}
	if val := os.Getenv("PREDICTOR_REDIS_MASTER_NAME"); val != "" {
		cfg.Redis.MasterName = val
	}
	if val := getEnvInt("PREDICTOR_REDIS_POOL_SIZE"); val > 0 {
		cfg.Redis.PoolSize = val
	}
	if val := getEnvInt("PREDICTOR_REDIS_MIN_IDLE_CONNS"); val > 0 {
		cfg.Redis.MinIdleConns = val
	}
	if val := getEnvDuration("PREDICTOR_REDIS_CONN_MAX_LIFETIME"); val != 0 {
		cfg.Redis.ConnMaxLifetime = val
	}
	if val := getEnvDuration("PREDICTOR_REDIS_POOL_TIMEOUT"); val != 0 {
		cfg.Redis.PoolTimeout = val
	}
	if val := getEnvDuration("PREDICTOR_REDIS_CONN_MAX_IDLE_TIME"); val != 0 {
		cfg.Redis.ConnMaxIdleTime = val
	}
	if val := getEnvDuration("PREDICTOR_REDIS_CONNECT_TIMEOUT"); val != 0 {
		cfg.Redis.ConnectTimeout = val
	}
	if val := getEnvDuration("PREDICTOR_REDIS_READ_TIMEOUT"); val != 0 {
		cfg.Redis.ReadTimeout = val
	}
	if val := getEnvDuration("PREDICTOR_REDIS_WRITE_TIMEOUT"); val != 0 {
		cfg.Redis.WriteTimeout = val
	}
	if val := getEnvInt("PREDICTOR_REDIS_MAX_RETRIES"); val >= 0 {
		cfg.Redis.MaxRetries = val
	}
	if val := getEnvDuration("PREDICTOR_REDIS_RETRY_INTERVAL"); val != 0 {
		cfg.Redis.RetryInterval = val
	}
}

func applyJobEnv(cfg *Config) {
	if val := os.Getenv("PREDICTOR_INPUT_QUEUE"); val != "" {
		cfg.Job.InputQueue = val
	}
	if val := os.Getenv("PREDICTOR_UPLOAD_URL"); val != "" {
		cfg.Job.UploadURL = val
	}
	if val := os.Getenv("PREDICTOR_CONSUMER_ID"); val != "" {
		cfg.Job.ConsumerID = val
	}
	if val := os.Getenv("PREDICTOR_MODEL_ID"); val != "" {
		cfg.Job.ModelID = val
	}
	if val := os.Getenv("PREDICTOR_LOG_QUEUE"); val != "" {
		cfg.Job.LogQueue = val
	}
	if val, ok := getEnvDurationOK("PREDICTOR_PREDICT_TIMEOUT"); ok {
		cfg.Job.PredictTimeout = &val
	}
	if val := getEnvDuration("PREDICTOR_RECLAIM_IDLE"); val != 0 {
		cfg.Job.ReclaimIdle = val
	}
	if val := getEnvDuration("PREDICTOR_READ_BLOCK"); val != 0 {
		cfg.Job.ReadBlock = val
	}
	if val := getEnvDuration("PREDICTOR_POLL_INTERVAL"); val != 0 {
		cfg.Job.PollInterval = val
	}
	if val := getEnvInt64("PREDICTOR_STATS_QUEUE_LENGTH"); val > 0 {
		cfg.Job.StatsQueueLen = val
	}
}

func applyHTTPEnv(cfg *Config) {
	if val := getEnvDuration("PREDICTOR_HTTP_TIMEOUT"); val != 0 {
		cfg.HTTP.Timeout = val
	}
}

func applyCircuitBreakerEnv(cfg *Config) {
	if val := getEnvFloat64("PREDICTOR_CB_ERROR_THRESHOLD"); val > 0 {
		cfg.CircuitBreaker.ErrorThreshold = val
	}
	if val := getEnvInt("PREDICTOR_CB_SUCCESS_THRESHOLD"); val > 0 {
		cfg.CircuitBreaker.SuccessThreshold = val
	}
	if val := getEnvDuration("PREDICTOR_CB_OPEN_TIMEOUT"); val != 0 {
		cfg.CircuitBreaker.OpenTimeout = val
	}
	if val := getEnvInt("PREDICTOR_CB_MAX_CONCURRENT"); val > 0 {
		cfg.CircuitBreaker.MaxConcurrent = val
	}
	if val := getEnvInt("PREDICTOR_CB_VOLUME_THRESHOLD"); val > 0 {
		cfg.CircuitBreaker.VolumeThreshold = val
	}
}

func applyHealthEnv(cfg *Config) {
	if val, ok := getEnvBoolOK("PREDICTOR_HEALTH_ENABLED"); ok {
		cfg.Health.Enabled = val
	}
	if val := getEnvInt("PREDICTOR_HEALTH_PORT"); val > 0 {
		cfg.Health.Port = val
	}
	if val := getEnvDuration("PREDICTOR_HEALTH_READ_TIMEOUT"); val != 0 {
		cfg.Health.ReadTimeout = val
	}
	if val := getEnvDuration("PREDICTOR_HEALTH_WRITE_TIMEOUT"); val != 0 {
		cfg.Health.WriteTimeout = val
	}
	if val := getEnvDuration("PREDICTOR_HEALTH_MAX_IDLE"); val != 0 {
		cfg.Health.MaxIdle = val
	}
}

// Helper functions

func getEnvInt(key string) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return -1
}

// getEnvIntOK distinguishes "unset" from "set to zero", needed for
// PREDICTOR_REDIS_DB whose valid range includes 0.
func getEnvIntOK(key string) (int, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return intVal, true
}

// getEnvBoolOK distinguishes "unset" from "explicitly set to false".
func getEnvBoolOK(key string) (bool, bool) {
	value := os.Getenv(key)
	if value == "" {
		return false, false
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return boolVal, true
}

func getEnvInt64(key string) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return 0
}

func getEnvFloat64(key string) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return 0
}

func getEnvDuration(key string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return 0
}

// getEnvDurationOK distinguishes "unset" from "set to zero", needed for
// PREDICTOR_PREDICT_TIMEOUT where an explicit 0 means immediate timeout and
// is a valid override of the unset (unbounded) default.
func getEnvDurationOK(key string) (time.Duration, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, false
	}
	return duration, true
}
