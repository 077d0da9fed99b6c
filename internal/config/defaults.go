package config

import "time"

// GetDefaults returns a Config with every field set to a safe default,
// except the job identity fields (InputQueue, UploadURL, ConsumerID,
// ModelID, LogQueue), which are left empty. Validate rejects an empty
// InputQueue, so a layer above must set it.
func GetDefaults() *Config {
	return &Config{
		App:            defaultApp(),
		Redis:          defaultRedis(),
		Job:            defaultJob(),
		HTTP:           defaultHTTP(),
		CircuitBreaker: defaultCircuitBreaker(),
		Health:         defaultHealth(),
	}
}

func defaultApp() AppConfig {
	return AppConfig{
		Name:            "cog-worker",
		Environment:     "production",
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: 30 * time.Second,
	}
}

func defaultRedis() RedisConfig {
	return RedisConfig{
		Host:            "localhost",
		Port:            6379,
		DB:              0,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		RetryInterval:   time.Second,
	}
}

func defaultJob() JobConfig {
	return JobConfig{
		// PredictTimeout left nil: unbounded unless a layer above sets it,
		// including to an explicit zero.
		PredictTimeout: nil,
		ReclaimIdle:    10 * time.Minute,
		ReadBlock:      time.Second,
		PollInterval:   10 * time.Millisecond,
		StatsQueueLen:  100,
	}
}

func defaultHTTP() HTTPConfig {
	return HTTPConfig{
		Timeout: 30 * time.Second,
	}
}

func defaultCircuitBreaker() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		ErrorThreshold:   50,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MaxConcurrent:    10,
		VolumeThreshold:  5,
	}
}

func defaultHealth() HealthConfig {
	return HealthConfig{
		Enabled:      true,
		Port:         8080,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxIdle:      2 * time.Minute,
	}
}
