package config

import "fmt"

// Validate validates the configuration per §4.G: an empty input queue, a
// non-positive Redis port, or a negative predict timeout are rejected.
func (c *Config) Validate() error {
	if err := validateApp(c); err != nil {
		return err
	}
	if err := validateRedis(c); err != nil {
		return err
	}
	if err := validateJob(c); err != nil {
		return err
	}
	if err := validateHTTP(c); err != nil {
		return err
	}
	if err := validateCircuitBreaker(c); err != nil {
		return err
	}
	if err := validateHealth(c); err != nil {
		return err
	}
	return nil
}

func validateApp(c *Config) error {
	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if !isValidLogLevel(c.App.LogLevel) {
		return fmt.Errorf("invalid log level: %s", c.App.LogLevel)
	}
	if !isValidLogFormat(c.App.LogFormat) {
		return fmt.Errorf("invalid log format: %s", c.App.LogFormat)
	}
	if c.App.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "json", "text":
		return true
	default:
		return false
	}
}

func validateRedis(c *Config) error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host cannot be empty")
	}
	if c.Redis.Port <= 0 {
		return fmt.Errorf("redis port must be positive")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis db must be non-negative")
	}
	if c.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis pool size must be positive")
	}
	if c.Redis.MaxRetries < 0 {
		return fmt.Errorf("redis max retries must be non-negative")
	}
	return nil
}

func validateJob(c *Config) error {
	if c.Job.InputQueue == "" {
		return fmt.Errorf("input queue cannot be empty")
	}
	if c.Job.PredictTimeout != nil && *c.Job.PredictTimeout < 0 {
		return fmt.Errorf("predict timeout must be non-negative")
	}
	if c.Job.ReclaimIdle <= 0 {
		return fmt.Errorf("reclaim idle threshold must be positive")
	}
	if c.Job.ReadBlock <= 0 {
		return fmt.Errorf("read block duration must be positive")
	}
	if c.Job.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Job.StatsQueueLen <= 0 {
		return fmt.Errorf("stats queue length must be positive")
	}
	return nil
}

func validateHTTP(c *Config) error {
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	return nil
}

func validateHealth(c *Config) error {
	if !c.Health.Enabled {
		return nil
	}
	if c.Health.Port <= 0 {
		return fmt.Errorf("health port must be positive when health endpoint is enabled")
	}
	if c.Health.MaxIdle <= 0 {
		return fmt.Errorf("health max idle must be positive")
	}
	return nil
}

func validateCircuitBreaker(c *Config) error {
	if c.CircuitBreaker.ErrorThreshold <= 0 || c.CircuitBreaker.ErrorThreshold > 100 {
		return fmt.Errorf("circuit breaker error threshold must be between 0 and 100")
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit breaker success threshold must be positive")
	}
	if c.CircuitBreaker.MaxConcurrent <= 0 {
		return fmt.Errorf("circuit breaker max concurrent calls must be positive")
	}
	if c.CircuitBreaker.VolumeThreshold <= 0 {
		return fmt.Errorf("circuit breaker volume threshold must be positive")
	}
	return nil
}
