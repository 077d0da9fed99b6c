// Package main boots the predictor worker, wiring configuration, logger,
// the Redis Stream Client, the resilience-wrapped HTTP client, the
// registered Predictor, and the Worker Loop.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/arbruzaz/cog-worker/internal/config"
	"github.com/arbruzaz/cog-worker/internal/decode"
	"github.com/arbruzaz/cog-worker/internal/logger"
	core "github.com/arbruzaz/cog-worker/internal/ports"
	"github.com/arbruzaz/cog-worker/internal/predictor"
	_ "github.com/arbruzaz/cog-worker/internal/predictor/echo"
	"github.com/arbruzaz/cog-worker/internal/resilience"
	"github.com/arbruzaz/cog-worker/internal/stream"
	"github.com/arbruzaz/cog-worker/internal/worker"
)

func main() {
	os.Exit(run())
}

// run contains the program logic and returns an exit code. Using this
// pattern ensures defers run and avoids exit-after-defer lint issues.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	logr, err := logger.NewLogrusLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	reg, err := predictor.Get()
	if err != nil {
		logr.Error("no predictor registered", core.Field{Key: "error", Value: err})
		return 1
	}

	schema, err := decode.NewSchema(reg.InputShape)
	if err != nil {
		logr.Error("invalid predictor input shape", core.Field{Key: "error", Value: err})
		return 1
	}

	streamClient := stream.NewClient(&stream.Config{
		Addresses:       []string{fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)},
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		MasterName:      cfg.Redis.MasterName,
		PoolSize:        cfg.Redis.PoolSize,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		ConnMaxLifetime: cfg.Redis.ConnMaxLifetime,
		PoolTimeout:     cfg.Redis.PoolTimeout,
		ConnMaxIdleTime: cfg.Redis.ConnMaxIdleTime,
		ConnectTimeout:  cfg.Redis.ConnectTimeout,
		ReadTimeout:     cfg.Redis.ReadTimeout,
		WriteTimeout:    cfg.Redis.WriteTimeout,
		MaxRetries:      cfg.Redis.MaxRetries,
		RetryInterval:   cfg.Redis.RetryInterval,
		ConsumerID:      cfg.Job.ConsumerID,
	}, logr)
	defer func() {
		if cerr := streamClient.Close(); cerr != nil {
			logr.Warn("failed to close stream client", core.Field{Key: "error", Value: cerr})
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := waitForRedisReady(ctx, streamClient, logr, cfg.Redis.RetryInterval); err != nil {
		logr.Error("redis never became ready", core.Field{Key: "error", Value: err})
		return 1
	}

	httpClient := resilience.New(resilience.Config{
		Timeout:                 cfg.HTTP.Timeout,
		BreakerErrorThreshold:   cfg.CircuitBreaker.ErrorThreshold,
		BreakerSuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		BreakerOpenTimeout:      cfg.CircuitBreaker.OpenTimeout,
		BreakerMaxConcurrent:    cfg.CircuitBreaker.MaxConcurrent,
		BreakerVolumeThreshold:  cfg.CircuitBreaker.VolumeThreshold,
	})

	w := worker.New(worker.Params{
		Predictor:      reg.New(),
		RedisHost:      cfg.Redis.Host,
		RedisPort:      cfg.Redis.Port,
		InputQueue:     cfg.Job.InputQueue,
		UploadURL:      cfg.Job.UploadURL,
		ConsumerID:     cfg.Job.ConsumerID,
		ModelID:        cfg.Job.ModelID,
		LogQueue:       cfg.Job.LogQueue,
		PredictTimeout: cfg.Job.PredictTimeout,
		RedisDB:        cfg.Redis.DB,
	}, worker.Deps{
		Stream:        streamClient,
		Logger:        logr,
		Schema:        schema,
		Fetcher:       httpClient,
		Uploader:      httpClient,
		ReclaimIdle:   cfg.Job.ReclaimIdle,
		ReadBlock:     cfg.Job.ReadBlock,
		PollInterval:  cfg.Job.PollInterval,
		StatsQueueLen: cfg.Job.StatsQueueLen,
	})

	if cfg.App.LogLevel == "debug" {
		go logMetrics(ctx, w, logr)
	}

	var health *healthServer
	if cfg.Health.Enabled {
		health = newHealthServer(cfg.Health, w, streamClient, logr)
		health.start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
			defer shutdownCancel()
			if err := health.shutdown(shutdownCtx); err != nil {
				logr.Warn("failed to shut down health server", core.Field{Key: "error", Value: err})
			}
		}()
	}

	logr.Info("starting predictor worker",
		core.Field{Key: "name", Value: cfg.App.Name},
		core.Field{Key: "environment", Value: cfg.App.Environment},
		core.Field{Key: "input_queue", Value: cfg.Job.InputQueue},
		core.Field{Key: "model_id", Value: cfg.Job.ModelID},
	)

	if err := w.Run(ctx); err != nil {
		logr.Error("worker exited with error", core.Field{Key: "error", Value: err})
		return 1
	}

	logr.Info("predictor worker shutdown complete")
	return 0
}

// waitForRedisReady blocks until the stream client can reach Redis or ctx
// is canceled, mirroring the teacher's own startup gate before it begins
// serving traffic.
func waitForRedisReady(ctx context.Context, client core.StreamClient, logr core.Logger, retryInterval time.Duration) error {
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		logr.Warn("failed to connect to redis, will retry", core.Field{Key: "error", Value: err})
		select {
		case <-time.After(retryInterval):
		case <-ctx.Done():
			return fmt.Errorf("context canceled before redis became ready: %w", ctx.Err())
		}
	}
}

// logMetrics periodically logs the worker's lifetime counters in debug
// mode, the way the teacher's own debug-mode metrics logger did.
func logMetrics(ctx context.Context, w *worker.Worker, logr core.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s := w.Metrics().Snapshot()
			logr.Debug("=== METRICS SNAPSHOT ===")
			logr.Debug("jobs",
				core.Field{Key: "processed", Value: s.JobsProcessed},
				core.Field{Key: "succeeded", Value: s.JobsSucceeded},
				core.Field{Key: "failed", Value: s.JobsFailed},
				core.Field{Key: "timed_out", Value: s.JobsTimedOut},
			)
			logr.Debug("errors",
				core.Field{Key: "malformed_messages", Value: s.MalformedMessages},
				core.Field{Key: "stream_errors", Value: s.StreamErrors},
			)
			logr.Debug("performance",
				core.Field{Key: "throughput_rate", Value: s.ThroughputRate},
				core.Field{Key: "last_setup_ms", Value: s.LastSetupMs},
				core.Field{Key: "last_run_ms", Value: s.LastRunMs},
			)
		case <-ctx.Done():
			return
		}
	}
}
