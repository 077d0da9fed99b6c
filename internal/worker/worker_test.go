package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arbruzaz/cog-worker/internal/decode"
	"github.com/arbruzaz/cog-worker/internal/domain"
	"github.com/arbruzaz/cog-worker/internal/ports"
)

// fakeStream is a minimal in-memory ports.StreamClient: one FIFO for
// read_one, a single slot for a pending reclaim, and recorders for every
// other call the worker makes.
type fakeStream struct {
	mu sync.Mutex

	readQueue   [][]byte
	reclaimOnce *ports.Message
	reclaimErr  error
	onServed    func()

	acked     []string
	durations map[string][]float64
	replies   map[string][]domain.StatusFrame

	consumerName string
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		durations:    map[string][]float64{},
		replies:      map[string][]domain.StatusFrame{},
		consumerName: "consumer-1",
	}
}

func (f *fakeStream) enqueue(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readQueue = append(f.readQueue, payload)
}

func (f *fakeStream) CreateConsumerGroup(ctx context.Context, stream, group, startID string) error {
	return nil
}

func (f *fakeStream) ReclaimOne(ctx context.Context, stream, group, consumer string, minIdle time.Duration) (*ports.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reclaimErr != nil {
		err := f.reclaimErr
		f.reclaimErr = nil
		return nil, err
	}
	m := f.reclaimOnce
	f.reclaimOnce = nil
	if m != nil && f.onServed != nil {
		f.onServed()
	}
	return m, nil
}

func (f *fakeStream) ReadOne(ctx context.Context, stream, group, consumer string, block time.Duration) (*ports.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.readQueue) == 0 {
		return nil, nil
	}
	payload := f.readQueue[0]
	f.readQueue = f.readQueue[1:]
	if f.onServed != nil {
		f.onServed()
	}
	return &ports.Message{ID: "msg-1", Payload: payload}, nil
}

func (f *fakeStream) AckAndDelete(ctx context.Context, stream, group, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeStream) AppendDuration(ctx context.Context, stream string, seconds float64, maxlen int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations[stream] = append(f.durations[stream], seconds)
	return nil
}

func (f *fakeStream) PushReply(ctx context.Context, queue string, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var frame domain.StatusFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	f.replies[queue] = append(f.replies[queue], frame)
	return nil
}

func (f *fakeStream) GetConsumerName() string { return f.consumerName }
func (f *fakeStream) Ping(ctx context.Context) error { return nil }
func (f *fakeStream) Close() error { return nil }

func (f *fakeStream) framesFor(queue string) []domain.StatusFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StatusFrame, len(f.replies[queue]))
	copy(out, f.replies[queue])
	return out
}

func (f *fakeStream) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.acked))
	copy(out, f.acked)
	return out
}

// noopLogger discards everything; tests assert on fakeStream state, not logs.
type noopLogger struct{}

func (noopLogger) Trace(string, ...ports.Field) {}
func (noopLogger) Debug(string, ...ports.Field) {}
func (noopLogger) Info(string, ...ports.Field)  {}
func (noopLogger) Warn(string, ...ports.Field)  {}
func (noopLogger) Error(string, ...ports.Field) {}
func (noopLogger) Fatal(string, ...ports.Field) {}
func (noopLogger) WithFields(...ports.Field) ports.Logger { return noopLogger{} }

// scriptedPredictor replays a fixed sequence of poll events. Each
// IsProcessing() call advances to the next event, matching the poll
// cadence the Driver itself drives; HasLogsWaiting/ReadLogs/
// HasOutputWaiting/ReadOutput/Error all read back whatever event the most
// recent IsProcessing() call landed on. internal/driver's own test double
// works the same way, except that it also holds an event whose output has
// not been read yet.
type scriptedPredictor struct {
	generator      bool
	events         []predictorEvent
	idx            int
	cur            predictorEvent
	setupErr       error
	predictErr     error
	finalErr       error
	panicOnPredict bool
}

type predictorEvent struct {
	processing bool
	hasLogs    bool
	logs       []string
	hasOutput  bool
	output     []interface{}
}

func (p *scriptedPredictor) Setup(ctx context.Context) error { return p.setupErr }

func (p *scriptedPredictor) Predict(ctx context.Context, input interface{}) error {
	if p.panicOnPredict {
		panic("simulated predictor panic")
	}
	return p.predictErr
}

func (p *scriptedPredictor) IsOutputGenerator() bool { return p.generator }

func (p *scriptedPredictor) IsProcessing() bool {
	if p.idx >= len(p.events) {
		return false
	}
	p.cur = p.events[p.idx]
	p.idx++
	return p.cur.processing
}

func (p *scriptedPredictor) HasLogsWaiting() bool     { return p.cur.hasLogs }
func (p *scriptedPredictor) ReadLogs() []string       { return p.cur.logs }
func (p *scriptedPredictor) HasOutputWaiting() bool   { return p.cur.hasOutput }
func (p *scriptedPredictor) ReadOutput() []interface{} { return p.cur.output }
func (p *scriptedPredictor) Error() error             { return p.finalErr }

type fixedUploader struct{}

func (fixedUploader) Upload(ctx context.Context, uploadURL, filename string, data []byte) ([]byte, error) {
	return []byte(`{"url":"https://uploads.example/` + filename + `"}`), nil
}

type noopFetcher struct{}

func (noopFetcher) Get(ctx context.Context, url string) ([]byte, error) { return nil, nil }

type testInput struct {
	Text string `input:"text"`
}

// durPtr is a convenience for tests that need to distinguish a configured
// PredictTimeout from an unset one; pass nil directly for "unbounded".
func durPtr(d time.Duration) *time.Duration { return &d }

func newTestWorker(t *testing.T, stream *fakeStream, predictor *scriptedPredictor, predictTimeout *time.Duration) *Worker {
	t.Helper()
	schema, err := decode.NewSchema(testInput{})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return New(
		Params{
			Predictor:      predictor,
			InputQueue:     "predict-queue",
			UploadURL:      "https://uploads.example/put",
			ModelID:        "test-model",
			PredictTimeout: predictTimeout,
		},
		Deps{
			Stream:        stream,
			Logger:        noopLogger{},
			Schema:        schema,
			Fetcher:       noopFetcher{},
			Uploader:      fixedUploader{},
			ReclaimIdle:   time.Minute,
			ReadBlock:     time.Second,
			PollInterval:  time.Millisecond,
			StatsQueueLen: 10,
		},
	)
}

func jobPayload(t *testing.T, responseQueue, text string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"response_queue": responseQueue,
		"input":          map[string]interface{}{"text": text},
	})
	if err != nil {
		t.Fatalf("marshal job payload: %v", err)
	}
	return payload
}

func TestWorker_ScalarSuccess(t *testing.T) {
	stream := newFakeStream()
	stream.enqueue(jobPayload(t, "reply-1", "hello"))

	predictor := &scriptedPredictor{
		events: []predictorEvent{
			{processing: false, output: []interface{}{"it worked!"}},
		},
	}
	w := newTestWorker(t, stream, predictor, nil)
	w.RunOnce(context.Background())

	frames := stream.framesFor("reply-1")
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(frames))
	}
	f := frames[0]
	if f.Status != domain.StatusSucceeded {
		t.Fatalf("expected succeeded status, got %q", f.Status)
	}
	if f.Output != "it worked!" {
		t.Fatalf("expected scalar output passthrough, got %v", f.Output)
	}
	if len(stream.ackedIDs()) != 1 {
		t.Fatalf("expected the job to be acked")
	}
	if len(stream.durations["predict-queue-run-time"]) != 1 {
		t.Fatalf("expected one run-time duration recorded")
	}
}

func TestWorker_ScalarTimeout(t *testing.T) {
	stream := newFakeStream()
	stream.enqueue(jobPayload(t, "reply-2", "hello"))

	predictor := &scriptedPredictor{
		events: []predictorEvent{
			{processing: true},
			{processing: true},
		},
	}
	// A deadline already in the past guarantees the driver's first
	// expired() check after Predict fires before any output is read.
	w := newTestWorker(t, stream, predictor, durPtr(time.Nanosecond))
	time.Sleep(time.Millisecond)
	w.RunOnce(context.Background())

	frames := stream.framesFor("reply-2")
	if len(frames) != 1 {
		t.Fatalf("expected exactly one terminal frame, got %d", len(frames))
	}
	if frames[0].Status != domain.StatusFailed {
		t.Fatalf("expected failed status on timeout, got %q", frames[0].Status)
	}
	if len(stream.ackedIDs()) != 1 {
		t.Fatalf("expected the timed-out job to still be acked")
	}
}

func TestWorker_ExplicitZeroPredictTimeoutIsImmediateTimeout(t *testing.T) {
	stream := newFakeStream()
	stream.enqueue(jobPayload(t, "reply-zero-timeout", "hello"))

	// The Predictor would otherwise keep processing forever; an explicit
	// zero PredictTimeout must still cut it off before the first poll.
	predictor := &scriptedPredictor{
		events: []predictorEvent{
			{processing: true},
			{processing: true},
			{processing: true},
		},
	}
	w := newTestWorker(t, stream, predictor, durPtr(0))
	w.RunOnce(context.Background())

	frames := stream.framesFor("reply-zero-timeout")
	if len(frames) != 1 {
		t.Fatalf("expected exactly one terminal frame, got %d", len(frames))
	}
	if frames[0].Status != domain.StatusFailed {
		t.Fatalf("expected failed status on immediate timeout, got %q", frames[0].Status)
	}
	if predictor.idx != 0 {
		t.Fatalf("expected no polling before the zero timeout fired, got idx=%d", predictor.idx)
	}
	if len(stream.ackedIDs()) != 1 {
		t.Fatalf("expected the immediately-timed-out job to still be acked")
	}
	if w.metrics.JobsTimedOut.Load() != 1 {
		t.Fatalf("expected the zero-timeout job to be classified as timed out")
	}
}

func TestWorker_GeneratorStreaming(t *testing.T) {
	stream := newFakeStream()
	stream.enqueue(jobPayload(t, "reply-3", "hello"))

	predictor := &scriptedPredictor{
		generator: true,
		events: []predictorEvent{
			{processing: true, hasLogs: true, logs: []string{"warming up"}},
			{processing: false, output: []interface{}{"frame-1", "frame-2", "frame-3"}},
		},
	}
	w := newTestWorker(t, stream, predictor, nil)
	w.RunOnce(context.Background())

	frames := stream.framesFor("reply-3")
	if len(frames) != 2 {
		t.Fatalf("expected one processing frame and one terminal frame, got %d: %+v", len(frames), frames)
	}
	if frames[0].Status != domain.StatusProcessing {
		t.Fatalf("expected first frame to be processing, got %q", frames[0].Status)
	}
	last := frames[len(frames)-1]
	if last.Status != domain.StatusSucceeded {
		t.Fatalf("expected final frame to be succeeded, got %q", last.Status)
	}
	output, ok := last.Output.([]interface{})
	if !ok {
		t.Fatalf("expected generator output to be a slice, got %T", last.Output)
	}
	if len(output) != 3 {
		t.Fatalf("expected all three chunks in the terminal frame, got %d entries: %v", len(output), output)
	}
	if len(last.Logs) != 1 || last.Logs[0] != "warming up" {
		t.Fatalf("expected logs accumulated from the processing frame to carry into the terminal frame, got %v", last.Logs)
	}
}

func TestWorker_ValidationFailureIsAckedWithFailedFrame(t *testing.T) {
	stream := newFakeStream()
	payload, err := json.Marshal(map[string]interface{}{
		"response_queue": "reply-4",
		"input":          map[string]interface{}{"text": 12345},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	stream.enqueue(payload)

	predictor := &scriptedPredictor{events: []predictorEvent{{processing: false}}}
	w := newTestWorker(t, stream, predictor, nil)
	w.RunOnce(context.Background())

	frames := stream.framesFor("reply-4")
	if len(frames) != 1 {
		t.Fatalf("expected exactly one failed frame, got %d", len(frames))
	}
	if frames[0].Status != domain.StatusFailed {
		t.Fatalf("expected failed status for bad input, got %q", frames[0].Status)
	}
	if len(stream.ackedIDs()) != 1 {
		t.Fatalf("expected the invalid job to still be acked")
	}
}

func TestWorker_MalformedMessageIsNeverAcked(t *testing.T) {
	stream := newFakeStream()
	stream.enqueue([]byte(`not json`))

	predictor := &scriptedPredictor{}
	w := newTestWorker(t, stream, predictor, nil)
	w.RunOnce(context.Background())

	if len(stream.ackedIDs()) != 0 {
		t.Fatalf("expected a malformed message to be left unacked for reclaim")
	}
	if w.metrics.MalformedMessages.Load() != 1 {
		t.Fatalf("expected malformed message counter to increment")
	}
}

func TestWorker_MissingResponseQueueIsMalformed(t *testing.T) {
	stream := newFakeStream()
	stream.enqueue([]byte(`{"input":{"text":"hi"}}`))

	predictor := &scriptedPredictor{}
	w := newTestWorker(t, stream, predictor, nil)
	w.RunOnce(context.Background())

	if len(stream.ackedIDs()) != 0 {
		t.Fatalf("expected a message with no response_queue to be left unacked")
	}
}

func TestWorker_ReclaimTakesPriorityOverRead(t *testing.T) {
	stream := newFakeStream()
	stream.enqueue(jobPayload(t, "reply-should-not-run", "ignored"))
	stream.reclaimOnce = &ports.Message{ID: "reclaimed-1", Payload: jobPayload(t, "reply-5", "hello")}

	predictor := &scriptedPredictor{events: []predictorEvent{{processing: false, output: []interface{}{"done"}}}}
	w := newTestWorker(t, stream, predictor, nil)
	w.RunOnce(context.Background())

	if frames := stream.framesFor("reply-should-not-run"); len(frames) != 0 {
		t.Fatalf("expected the reclaimed job to run instead of the fresh read, got frames: %v", frames)
	}
	frames := stream.framesFor("reply-5")
	if len(frames) != 1 || frames[0].Status != domain.StatusSucceeded {
		t.Fatalf("expected the reclaimed job to run to completion, got %v", frames)
	}
	acked := stream.ackedIDs()
	if len(acked) != 1 || acked[0] != "reclaimed-1" {
		t.Fatalf("expected the reclaimed message id to be acked, got %v", acked)
	}
}

func TestWorker_StopFinishesInFlightJobBeforeExiting(t *testing.T) {
	stream := newFakeStream()
	stream.enqueue(jobPayload(t, "reply-6", "hello"))
	stream.enqueue(jobPayload(t, "reply-7", "hello"))

	predictor := &scriptedPredictor{events: []predictorEvent{{processing: false, output: []interface{}{"done"}}}}
	w := newTestWorker(t, stream, predictor, nil)

	// Simulate a shutdown signal arriving while the first job is already
	// dequeued: the loop condition is only re-checked between iterations,
	// so the in-flight job still reaches a terminal frame.
	stream.onServed = func() { w.Stop() }

	for !w.shouldExit.Load() {
		w.RunOnce(context.Background())
	}

	if frames := stream.framesFor("reply-6"); len(frames) != 1 || frames[0].Status != domain.StatusSucceeded {
		t.Fatalf("expected the in-flight job to complete, got %v", frames)
	}
	if frames := stream.framesFor("reply-7"); len(frames) != 0 {
		t.Fatalf("expected the second queued job to never run after Stop, got %v", frames)
	}
}

func TestWorker_ReclaimErrorIsCountedAndLoopContinues(t *testing.T) {
	stream := newFakeStream()
	stream.reclaimErr = errors.New("redis unavailable")
	stream.enqueue(jobPayload(t, "reply-10", "hello"))

	predictor := &scriptedPredictor{events: []predictorEvent{{processing: false, output: []interface{}{"done"}}}}
	w := newTestWorker(t, stream, predictor, nil)

	w.RunOnce(context.Background())
	if w.metrics.StreamErrors.Load() != 1 {
		t.Fatalf("expected the reclaim failure to be counted")
	}
	if len(stream.framesFor("reply-10")) != 0 {
		t.Fatalf("expected the iteration that hit a reclaim error to give up before reading, got a frame anyway")
	}

	// The next iteration is unaffected: the loop does not stop on an
	// uncaught stream error, it just skips that one pass.
	w.RunOnce(context.Background())
	if frames := stream.framesFor("reply-10"); len(frames) != 1 || frames[0].Status != domain.StatusSucceeded {
		t.Fatalf("expected the queued job to run on the next iteration, got %v", frames)
	}
}

func TestWorker_RunOnceUpdatesLastActivity(t *testing.T) {
	stream := newFakeStream()
	predictor := &scriptedPredictor{}
	w := newTestWorker(t, stream, predictor, nil)

	before := w.LastActivity()
	w.RunOnce(context.Background())
	after := w.LastActivity()

	if !after.After(before) && !after.Equal(before) {
		t.Fatalf("expected LastActivity to advance or hold, got before=%v after=%v", before, after)
	}
	if after.IsZero() {
		t.Fatalf("expected a non-zero LastActivity after RunOnce")
	}
}

func TestWorker_JobFailureClassifiesAsTimedOutMetric(t *testing.T) {
	stream := newFakeStream()
	stream.enqueue(jobPayload(t, "reply-8", "hello"))
	predictor := &scriptedPredictor{events: []predictorEvent{{processing: true}}}
	w := newTestWorker(t, stream, predictor, durPtr(time.Nanosecond))
	time.Sleep(time.Millisecond)

	w.RunOnce(context.Background())

	if w.metrics.JobsTimedOut.Load() != 1 {
		t.Fatalf("expected the timed-out job to be classified as such, got snapshot %+v", w.metrics.Snapshot())
	}
	if w.metrics.JobsFailed.Load() != 0 {
		t.Fatalf("a timeout must not also count as a generic failure")
	}
}

func TestWorker_PredictorErrorIsClassifiedAsFailure(t *testing.T) {
	stream := newFakeStream()
	stream.enqueue(jobPayload(t, "reply-9", "hello"))
	predictor := &scriptedPredictor{predictErr: errors.New("boom")}
	w := newTestWorker(t, stream, predictor, nil)

	w.RunOnce(context.Background())

	if w.metrics.JobsFailed.Load() != 1 {
		t.Fatalf("expected predictor error to count as a job failure")
	}
	frames := stream.framesFor("reply-9")
	if len(frames) != 1 || frames[0].Status != domain.StatusFailed {
		t.Fatalf("expected a single failed frame, got %v", frames)
	}
	if frames[0].Error == "" {
		t.Fatalf("expected a non-empty error message on the failed frame")
	}
}

func TestWorker_PanicInPredictorIsRecoveredAndCountsAsFailure(t *testing.T) {
	stream := newFakeStream()
	stream.enqueue(jobPayload(t, "reply-panic", "hello"))
	stream.enqueue(jobPayload(t, "reply-after-panic", "hello"))

	predictor := &scriptedPredictor{panicOnPredict: true}
	w := newTestWorker(t, stream, predictor, nil)

	// Reaching the assertions below already proves RunOnce recovered the
	// panic instead of letting it unwind out of the loop.
	w.RunOnce(context.Background())

	if w.metrics.JobsFailed.Load() != 1 {
		t.Fatalf("expected the panicking job to be counted as a failure, got snapshot %+v", w.metrics.Snapshot())
	}

	// The loop must still be usable afterward: a panic in one job must
	// not corrupt worker state for the next one.
	predictor.panicOnPredict = false
	predictor.events = []predictorEvent{{processing: false, output: []interface{}{"done"}}}
	w.RunOnce(context.Background())

	frames := stream.framesFor("reply-after-panic")
	if len(frames) != 1 || frames[0].Status != domain.StatusSucceeded {
		t.Fatalf("expected the loop to continue serving jobs after a recovered panic, got %v", frames)
	}
}
