// Package frame implements the Prediction Driver's shared "push a status
// frame" primitive and the log/output accumulator both polling modes build
// on, so the scalar and generator state machines differ only in how they
// decide a frame is due, not in how one gets encoded and delivered.
package frame

import (
	"context"
	"fmt"

	"github.com/arbruzaz/cog-worker/internal/domain"
	"github.com/arbruzaz/cog-worker/pkg/jsonfast"
	"github.com/arbruzaz/cog-worker/pkg/jsonx"
)

// ReplyPublisher is the narrow slice of ports.StreamClient a Pusher needs.
type ReplyPublisher interface {
	PushReply(ctx context.Context, queue string, frame []byte) error
}

// Accumulator holds the append-only logs and output state shared by a
// single job's scalar or generator run. Not safe for concurrent use; the
// Driver owns one per job and polls its Predictor sequentially.
type Accumulator struct {
	generator bool
	logs      []string
	output    []interface{}
}

// NewAccumulator returns an empty accumulator for a job in the given mode.
func NewAccumulator(generator bool) *Accumulator {
	return &Accumulator{generator: generator}
}

// AppendLogs extends the log accumulator; lines is typically the result of
// one ReadLogs() call.
func (a *Accumulator) AppendLogs(lines []string) {
	a.logs = append(a.logs, lines...)
}

// AppendOutput extends the generator output accumulator; values is
// typically the encoded result of one ReadOutput() call. Only meaningful
// in generator mode.
func (a *Accumulator) AppendOutput(values []interface{}) {
	a.output = append(a.output, values...)
}

// SetScalarOutput records the single terminal output value in scalar mode.
func (a *Accumulator) SetScalarOutput(value interface{}) {
	a.output = []interface{}{value}
}

// HasLogs reports whether any log lines have accumulated.
func (a *Accumulator) HasLogs() bool {
	return len(a.logs) > 0
}

// Snapshot builds the complete frame for status and an optional errMsg
// (empty for non-failed frames), per the append-only-snapshot design: every
// push carries the full logs and output accumulated so far, never a delta.
func (a *Accumulator) Snapshot(status domain.Status, errMsg string) domain.StatusFrame {
	logs := make([]string, len(a.logs))
	copy(logs, a.logs)

	var output interface{}
	switch {
	case a.generator:
		out := make([]interface{}, len(a.output))
		copy(out, a.output)
		output = out
	case len(a.output) == 1:
		output = a.output[0]
	default:
		output = nil
	}

	return domain.StatusFrame{Status: status, Output: output, Logs: logs, Error: errMsg}
}

// Pusher encodes a StatusFrame and appends it to a job's reply channel. It
// owns one jsonfast.Builder for the lifetime of a job and Resets it between
// pushes rather than allocating a fresh one per frame: a generator-mode job
// can push many processing frames before its terminal one, and the Worker
// drives at most one Pusher at a time, so there is no concurrent access to
// guard against.
type Pusher struct {
	client ReplyPublisher
	queue  string
	buf    *jsonfast.Builder
}

// NewPusher binds a Pusher to one job's reply queue.
func NewPusher(client ReplyPublisher, queue string) *Pusher {
	return &Pusher{client: client, queue: queue, buf: jsonfast.New(256)}
}

// Push encodes f and appends it to the bound reply queue. The status and
// logs fields are written through jsonfast's fixed-schema builder; output
// is marshaled once through encoding/json since its shape is caller-defined
// and not amenable to a hand-rolled encoder.
func (p *Pusher) Push(ctx context.Context, f domain.StatusFrame) error {
	outputJSON, err := jsonx.Marshal(f.Output)
	if err != nil {
		return fmt.Errorf("frame: marshal output: %w", err)
	}

	p.buf.Reset()
	p.buf.BeginObject()
	p.buf.AddStringField("status", string(f.Status))
	p.buf.AddRawJSONField("output", outputJSON)
	p.buf.AddStringArrayField("logs", f.Logs)
	if f.Error != "" {
		p.buf.AddStringField("error", f.Error)
	}
	p.buf.EndObject()

	return p.client.PushReply(ctx, p.queue, p.buf.Bytes())
}
