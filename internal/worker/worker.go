// Package worker implements the Worker Loop: it owns the reclaim/read/ack
// cycle against the input queue, decodes each job, drives it through the
// Prediction Driver, and reports the outcome on the job's reply channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/arbruzaz/cog-worker/internal/cleanup"
	"github.com/arbruzaz/cog-worker/internal/decode"
	"github.com/arbruzaz/cog-worker/internal/domain"
	"github.com/arbruzaz/cog-worker/internal/driver"
	"github.com/arbruzaz/cog-worker/internal/encode"
	"github.com/arbruzaz/cog-worker/internal/errs"
	"github.com/arbruzaz/cog-worker/internal/frame"
	"github.com/arbruzaz/cog-worker/internal/ports"
	"github.com/arbruzaz/cog-worker/pkg/jsonx"
)

// Params is the Worker's fixed constructor parameter set, positional order
// preserved per §4.G/§6 of the external interface: predictor, redis_host,
// redis_port, input_queue, upload_url, consumer_id, model_id, log_queue,
// predict_timeout, redis_db. RedisHost/RedisPort/RedisDB are accepted here
// to keep the parameter list complete even though the Stream Client
// connection itself is already established by the bootstrap before this
// struct is built.
// PredictTimeout is a pointer: nil means unbounded, while a pointer to a
// zero duration means every job times out immediately, before the Driver
// polls once. A plain time.Duration cannot distinguish those two cases.
type Params struct {
	Predictor      driver.Predictor
	RedisHost      string
	RedisPort      int
	InputQueue     string
	UploadURL      string
	ConsumerID     string
	ModelID        string
	LogQueue       string
	PredictTimeout *time.Duration
	RedisDB        int
}

// Deps carries the ambient wiring the bootstrap assembles from *config.Config
// that sits outside the fixed positional contract in Params: the Stream
// Client, logger, input schema, and the timing knobs from §4.G.
type Deps struct {
	Stream        ports.StreamClient
	Logger        ports.Logger
	Schema        *decode.Schema
	Fetcher       decode.Fetcher
	Uploader      encode.Uploader
	ReclaimIdle   time.Duration
	ReadBlock     time.Duration
	PollInterval  time.Duration
	StatsQueueLen int64
}

// Worker drives the reclaim/read/decode/predict/ack cycle for one input
// queue, one job at a time.
type Worker struct {
	predictor      driver.Predictor
	stream         ports.StreamClient
	logger         ports.Logger
	drive          *driver.Driver
	schema         *decode.Schema
	fetcher        decode.Fetcher
	inputQueue     string
	group          string
	consumerName   string
	predictTimeout *time.Duration
	reclaimIdle    time.Duration
	readBlock      time.Duration
	statsQueueLen  int64
	metrics        *domain.Metrics
	shouldExit     atomic.Bool
	lastActivity   atomic.Int64
}

// New assembles a Worker. The reclaim/read group defaults to inputQueue
// itself, preserving the source's single-group-per-stream topology (see
// SPEC_FULL.md's Supplemented note on the reclaim mechanism).
func New(params Params, deps Deps) *Worker {
	enc := encoderAdapter{uploader: deps.Uploader, uploadURL: params.UploadURL}
	w := &Worker{
		predictor:      params.Predictor,
		stream:         deps.Stream,
		logger:         deps.Logger.WithFields(ports.Field{Key: "component", Value: "worker"}, ports.Field{Key: "model_id", Value: params.ModelID}),
		drive:          driver.New(params.Predictor, enc, deps.PollInterval),
		schema:         deps.Schema,
		fetcher:        deps.Fetcher,
		inputQueue:     params.InputQueue,
		group:          params.InputQueue,
		consumerName:   deps.Stream.GetConsumerName(),
		predictTimeout: params.PredictTimeout,
		reclaimIdle:    deps.ReclaimIdle,
		readBlock:      deps.ReadBlock,
		statsQueueLen:  deps.StatsQueueLen,
		metrics:        domain.NewMetrics(time.Now()),
	}
	w.lastActivity.Store(time.Now().UnixNano())
	return w
}

// encoderAdapter binds internal/encode.Encode to the worker's configured
// upload URL so the Driver can treat output encoding as a plain function of
// one value.
type encoderAdapter struct {
	uploader  encode.Uploader
	uploadURL string
}

func (e encoderAdapter) Encode(ctx context.Context, value interface{}) (interface{}, error) {
	return encode.Encode(ctx, e.uploader, e.uploadURL, value)
}

// Metrics returns the worker's lifetime counters, for the bootstrap's own
// periodic debug logging.
func (w *Worker) Metrics() *domain.Metrics {
	return w.metrics
}

// LastActivity returns the time RunOnce last completed an iteration (the
// Worker's construction time before the first one), for the bootstrap's
// liveness endpoint to detect a stalled loop.
func (w *Worker) LastActivity() time.Time {
	ns := w.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stop requests that the loop exit after the job currently in flight (if
// any) reaches a terminal frame. It never aborts a job mid-flight.
func (w *Worker) Stop() {
	w.shouldExit.Store(true)
}

// Run installs a SIGINT/SIGTERM handler, runs Predictor.Setup once, then
// loops RunOnce until a shutdown signal arrives or ctx is canceled. A
// setup failure is the only error Run returns; all per-job errors are
// handled and logged inside the loop.
func (w *Worker) Run(ctx context.Context) error {
	setupStart := time.Now()
	if err := w.predictor.Setup(ctx); err != nil {
		return fmt.Errorf("predictor setup: %w", err)
	}
	setupSeconds := time.Since(setupStart).Seconds()
	w.metrics.LastSetupDurationNs.Store(uint64(time.Since(setupStart)))
	if err := w.stream.AppendDuration(ctx, w.inputQueue+"-setup-time", setupSeconds, w.statsQueueLen); err != nil {
		w.logger.Warn("failed to record setup duration", ports.Field{Key: "error", Value: err})
	}

	if err := w.stream.CreateConsumerGroup(ctx, w.inputQueue, w.group, "0-0"); err != nil {
		w.logger.Warn("failed to ensure consumer group", ports.Field{Key: "error", Value: err})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		w.logger.Info("received shutdown signal", ports.Field{Key: "signal", Value: sig})
		w.Stop()
	}()

	for !w.shouldExit.Load() {
		if ctx.Err() != nil {
			break
		}
		w.RunOnce(ctx)
	}
	w.logger.Info("worker loop exiting")
	return nil
}

// RunOnce executes one protocol iteration: reclaim_one first, else
// read_one; parses and processes at most one job. It never returns an
// error itself — all failures are logged and reflected in metrics, per
// §4.E's "uncaught errors are logged and the loop continues" rule.
func (w *Worker) RunOnce(ctx context.Context) {
	defer w.lastActivity.Store(time.Now().UnixNano())

	msg, err := w.stream.ReclaimOne(ctx, w.inputQueue, w.group, w.consumerName, w.reclaimIdle)
	if err != nil {
		w.metrics.StreamErrors.Add(1)
		w.logger.Error("reclaim_one failed", ports.Field{Key: "error", Value: err})
		return
	}
	if msg == nil {
		msg, err = w.stream.ReadOne(ctx, w.inputQueue, w.group, w.consumerName, w.readBlock)
		if err != nil {
			w.metrics.StreamErrors.Add(1)
			w.logger.Error("read_one failed", ports.Field{Key: "error", Value: err})
			return
		}
	}
	if msg == nil {
		return
	}

	var job domain.JobMessage
	if jsonErr := jsonx.Unmarshal(msg.Payload, &job); jsonErr != nil || job.ResponseQueue == "" {
		w.metrics.MalformedMessages.Add(1)
		w.logger.Error("message_malformed, leaving for reclaim",
			ports.Field{Key: "id", Value: msg.ID}, ports.Field{Key: "error", Value: jsonErr})
		return
	}

	w.processJob(ctx, msg.ID, &job)
}

// processJob runs the guarded per-job scope: decode, drive, ack-anyway,
// cleanup, timing. It never returns an error; the job's outcome is fully
// captured by the reply channel and the metrics counters. A panic raised
// anywhere in that chain — including inside the registered Predictor,
// which is arbitrary third-party code the Worker does not control — is
// recovered here rather than taking down the loop, per the "uncaught
// errors are logged and the loop continues" rule.
func (w *Worker) processJob(ctx context.Context, id string, job *domain.JobMessage) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			w.metrics.JobsFailed.Add(1)
			w.logger.Error("recovered from panic in job processing",
				ports.Field{Key: "job_id", Value: id},
				ports.Field{Key: "panic", Value: fmt.Sprintf("%v", r)},
				ports.Field{Key: "stack", Value: string(buf[:n])},
			)
		}
	}()

	start := time.Now()
	scope := cleanup.NewScope()
	// Deferred after the recover above, so it runs first and releases the
	// job's resources on every exit path, a recovered panic included.
	defer func() {
		for _, cerr := range scope.Close() {
			w.logger.Warn("cleanup error", ports.Field{Key: "job_id", Value: id}, ports.Field{Key: "error", Value: cerr})
		}
	}()
	pusher := frame.NewPusher(w.stream, job.ResponseQueue)

	// A nil PredictTimeout leaves deadline at its zero value, which
	// expired() treats as "never expires". An explicit zero (or negative,
	// though Validate rejects that at load time) still needs a real,
	// already-past deadline so the very first expired() check after
	// Predict fires terminates the job immediately.
	var deadline time.Time
	if w.predictTimeout != nil {
		deadline = time.Now().Add(*w.predictTimeout)
	}

	jobErr := w.runJob(ctx, job, pusher, deadline, scope)

	// Ack-anyway: the terminal frame push was already attempted inside
	// runJob/Drive regardless of its own success, so acking here never
	// waits on a second chance at delivery.
	if ackErr := w.stream.AckAndDelete(ctx, w.inputQueue, w.group, id); ackErr != nil {
		w.metrics.StreamErrors.Add(1)
		w.logger.Error("ack_and_delete failed", ports.Field{Key: "job_id", Value: id}, ports.Field{Key: "error", Value: ackErr})
	}

	w.metrics.JobsProcessed.Add(1)
	runSeconds := time.Since(start).Seconds()
	w.metrics.LastRunDurationNs.Store(uint64(time.Since(start)))
	if recErr := w.stream.AppendDuration(ctx, w.inputQueue+"-run-time", runSeconds, w.statsQueueLen); recErr != nil {
		w.logger.Warn("failed to record run duration", ports.Field{Key: "error", Value: recErr})
	}

	switch {
	case jobErr == nil:
		w.metrics.JobsSucceeded.Add(1)
	case errors.Is(jobErr, errs.ErrTimedOut):
		w.metrics.JobsTimedOut.Add(1)
	default:
		w.metrics.JobsFailed.Add(1)
		w.logger.Error("job failed", ports.Field{Key: "job_id", Value: id}, ports.Field{Key: "error", Value: jobErr})
	}
}

func (w *Worker) runJob(ctx context.Context, job *domain.JobMessage, pusher *frame.Pusher, deadline time.Time, scope *cleanup.Scope) error {
	input, err := decode.Decode(ctx, w.schema, job.Input, w.fetcher, scope)
	if err != nil {
		return w.pushTerminalFailure(ctx, pusher, err)
	}
	return w.drive.Drive(ctx, input, pusher, deadline)
}

// pushTerminalFailure pushes a single failed frame for an error raised
// before the Driver starts (input decoding), matching the terminal-frame
// contract the Driver itself upholds for errors raised after it starts.
func (w *Worker) pushTerminalFailure(ctx context.Context, pusher *frame.Pusher, cause error) error {
	acc := frame.NewAccumulator(false)
	f := acc.Snapshot(domain.StatusFailed, cause.Error())
	if err := pusher.Push(ctx, f); err != nil {
		w.logger.Error("failed to push terminal failure frame", ports.Field{Key: "error", Value: err})
	}
	return cause
}
