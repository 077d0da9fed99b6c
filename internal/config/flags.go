package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/arbruzaz/cog-worker/internal/timeutil"
)

// RegisterFlags registers all command-line flags. Calling it more than once
// is safe (tests may call Load multiple times in one process).
func RegisterFlags() {
	if flag.Lookup("redis-host") != nil {
		return
	}

	registerAppFlags()
	registerRedisFlags()
	registerJobFlags()
	registerHTTPFlags()
	registerCircuitBreakerFlags()
	registerHealthFlags()
}

// ApplyFlags overlays parsed command-line flag values onto cfg, the
// highest-precedence layer.
func ApplyFlags(cfg *Config) {
	if !flag.Parsed() {
		flag.Parse()
	}

	applyAppFlags(cfg)
	applyRedisFlags(cfg)
	applyJobFlags(cfg)
	applyHTTPFlags(cfg)
	applyCircuitBreakerFlags(cfg)
	applyHealthFlags(cfg)
}

func registerAppFlags() {
	flag.String("app-name", "", "Application name")
	flag.String("app-env", "", "Application environment (production, staging, etc.)")
	flag.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flag.String("log-format", "", "Log format (json, text)")
	flag.Int("shutdown-timeout", -1, "Shutdown timeout in seconds")
}

func applyAppFlags(cfg *Config) {
	if v := getFlagString("app-name"); v != "" {
		cfg.App.Name = v
	}
	if v := getFlagString("app-env"); v != "" {
		cfg.App.Environment = v
	}
	if v := getFlagString("log-level"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := getFlagString("log-format"); v != "" {
		cfg.App.LogFormat = v
	}
	if v := getFlagInt("shutdown-timeout"); v > 0 {
		cfg.App.ShutdownTimeout = timeutil.FromSeconds(v)
	}
}

func registerRedisFlags() {
	flag.String("redis-host", "", "Redis server host")
	flag.Int("redis-port", -1, "Redis server port")
	flag.String("redis-password", "", "Redis server password")
	flag.Int("redis-db", -1, "Redis database index")
	flag.String("redis-master-name", "", "Redis sentinel master name")
	flag.Int("redis-pool-size", -1, "Redis connection pool size")
	flag.Int("redis-max-retries", -1, "Number of retries for transient Redis errors")
	flag.Int("redis-retry-interval", -1, "Interval in seconds between Redis retries")
}

func applyRedisFlags(cfg *Config) {
	if v := getFlagString("redis-host"); v != "" {
		cfg.Redis.Host = v
	}
	if v := getFlagInt("redis-port"); v > 0 {
		cfg.Redis.Port = v
	}
	if v := getFlagString("redis-password"); v != "" {
		cfg.Redis.Password = v
	}
	if f := flag.Lookup("redis-db"); f != nil {
		if v := getFlagInt("redis-db"); v >= 0 {
			cfg.Redis.DB = v
		}
	}
	if v := getFlagString("redis-master-name"); v != "" {
		cfg.Redis.MasterName = v
	}
	if v := getFlagInt("redis-pool-size"); v > 0 {
		cfg.Redis.PoolSize = v
	}
	if v := getFlagInt("redis-max-retries"); v >= 0 {
		cfg.Redis.MaxRetries = v
	}
	if v := getFlagInt("redis-retry-interval"); v > 0 {
		cfg.Redis.RetryInterval = timeutil.FromSeconds(v)
	}
}

func registerJobFlags() {
	flag.String("input-queue", "", "Input queue / consumer group name")
	flag.String("upload-url", "", "Output upload endpoint")
	flag.String("consumer-id", "", "Consumer identity; a random one is generated if unset")
	flag.String("model-id", "", "Model identity advertised by this worker")
	flag.String("log-queue", "", "Reserved log queue name; accepted but not read")
	flag.Int("predict-timeout", -1, "Per-job predict timeout in seconds (unset: unbounded, 0: immediate timeout)")
	flag.Int("reclaim-idle", -1, "Idle threshold in seconds before a pending entry is reclaimed")
	flag.Int("read-block", -1, "Read-one block duration in milliseconds")
	flag.Int("poll-interval-ms", -1, "Driver poll interval in milliseconds")
	flag.Int64("stats-queue-length", -1, "Maximum length retained for timing-stats streams")
}

func applyJobFlags(cfg *Config) {
	applyJobIdentityFlags(cfg)
	applyJobTimingFlags(cfg)
}

func applyJobIdentityFlags(cfg *Config) {
	if v := getFlagString("input-queue"); v != "" {
		cfg.Job.InputQueue = v
	}
	if v := getFlagString("upload-url"); v != "" {
		cfg.Job.UploadURL = v
	}
	if v := getFlagString("consumer-id"); v != "" {
		cfg.Job.ConsumerID = v
	}
	if v := getFlagString("model-id"); v != "" {
		cfg.Job.ModelID = v
	}
	if v := getFlagString("log-queue"); v != "" {
		cfg.Job.LogQueue = v
	}
}

func applyJobTimingFlags(cfg *Config) {
	if v := getFlagInt("predict-timeout"); v >= 0 {
		d := timeutil.FromSeconds(v)
		cfg.Job.PredictTimeout = &d
	}
	if v := getFlagInt("reclaim-idle"); v > 0 {
		cfg.Job.ReclaimIdle = timeutil.FromSeconds(v)
	}
	if v := getFlagInt("read-block"); v > 0 {
		cfg.Job.ReadBlock = timeutil.FromMillis(int64(v))
	}
	if v := getFlagInt("poll-interval-ms"); v > 0 {
		cfg.Job.PollInterval = timeutil.FromMillis(int64(v))
	}
	if v := getFlagInt64("stats-queue-length"); v > 0 {
		cfg.Job.StatsQueueLen = v
	}
}

func registerHTTPFlags() {
	flag.Int("http-timeout", -1, "Timeout in seconds for file fetch and upload HTTP calls")
}

func applyHTTPFlags(cfg *Config) {
	if v := getFlagInt("http-timeout"); v > 0 {
		cfg.HTTP.Timeout = timeutil.FromSeconds(v)
	}
}

func registerCircuitBreakerFlags() {
	flag.Float64("cb-error-threshold", -1, "Circuit breaker error threshold percentage")
	flag.Int("cb-success-threshold", -1, "Successes required to close the circuit breaker")
	flag.Int("cb-open-timeout", -1, "Circuit breaker open-state timeout in seconds")
	flag.Int("cb-max-concurrent", -1, "Max concurrent calls allowed through the circuit breaker")
	flag.Int("cb-volume-threshold", -1, "Minimum request volume before the circuit breaker can trip")
}

func applyCircuitBreakerFlags(cfg *Config) {
	if v := getFlagFloat64("cb-error-threshold"); v > 0 {
		cfg.CircuitBreaker.ErrorThreshold = v
	}
	if v := getFlagInt("cb-success-threshold"); v > 0 {
		cfg.CircuitBreaker.SuccessThreshold = v
	}
	if v := getFlagInt("cb-open-timeout"); v > 0 {
		cfg.CircuitBreaker.OpenTimeout = timeutil.FromSeconds(v)
	}
	if v := getFlagInt("cb-max-concurrent"); v > 0 {
		cfg.CircuitBreaker.MaxConcurrent = v
	}
	if v := getFlagInt("cb-volume-threshold"); v > 0 {
		cfg.CircuitBreaker.VolumeThreshold = v
	}
}

func registerHealthFlags() {
	flag.Bool("health-enabled", true, "Enable the liveness/readiness HTTP endpoint")
	flag.Int("health-port", -1, "Port for the liveness/readiness HTTP endpoint")
}

func applyHealthFlags(cfg *Config) {
	// health-enabled defaults to true, so only an explicitly-passed flag
	// (visited by flag.Visit) should override the layers beneath it.
	flag.Visit(func(f *flag.Flag) {
		if f.Name != "health-enabled" {
			return
		}
		if getter, ok := f.Value.(flag.Getter); ok {
			if v, ok := getter.Get().(bool); ok {
				cfg.Health.Enabled = v
			}
		}
	})
	if v := getFlagInt("health-port"); v > 0 {
		cfg.Health.Port = v
	}
}

func getFlagString(name string) string {
	f := flag.Lookup(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

func getFlagInt(name string) int {
	f := flag.Lookup(name)
	if f == nil {
		return -1
	}
	if getter, ok := f.Value.(flag.Getter); ok {
		if val, ok := getter.Get().(int); ok {
			return val
		}
	}
	return -1
}

func getFlagInt64(name string) int64 {
	f := flag.Lookup(name)
	if f == nil {
		return -1
	}
	if getter, ok := f.Value.(flag.Getter); ok {
		if val, ok := getter.Get().(int64); ok {
			return val
		}
	}
	return -1
}

func getFlagFloat64(name string) float64 {
	f := flag.Lookup(name)
	if f == nil {
		return -1
	}
	if getter, ok := f.Value.(flag.Getter); ok {
		if val, ok := getter.Get().(float64); ok {
			return val
		}
	}
	return -1
}

// PrintUsage prints the usage information for all flags.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
	flag.PrintDefaults()
}
