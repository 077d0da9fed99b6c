// Package driver implements the Prediction Driver: it owns one Predictor
// invocation end to end, polling its three channels and assembling status
// frames, with a wall-clock deadline enforced between polls rather than by
// hijacking a process-wide signal.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/arbruzaz/cog-worker/internal/domain"
	"github.com/arbruzaz/cog-worker/internal/errs"
	"github.com/arbruzaz/cog-worker/internal/frame"
)

// DefaultPollInterval is used when a Driver is constructed with a
// non-positive interval.
const DefaultPollInterval = 10 * time.Millisecond

// Predictor is the capability set the Driver polls. It is a set of
// independent flags and accessors rather than a base class an embedding
// program must subclass: a Predictor need only report what it can do.
type Predictor interface {
	Setup(ctx context.Context) error
	Predict(ctx context.Context, input interface{}) error
	IsOutputGenerator() bool
	IsProcessing() bool
	HasLogsWaiting() bool
	ReadLogs() []string
	HasOutputWaiting() bool
	ReadOutput() []interface{}
	Error() error
}

// Encoder encodes one raw output value from the Predictor, substituting an
// uploaded URL for a binary handle. Satisfied by internal/worker's adapter
// that binds internal/encode.Encode to the configured upload URL.
type Encoder interface {
	Encode(ctx context.Context, value interface{}) (interface{}, error)
}

// Driver drives a single Predictor instance across many jobs; it holds no
// per-job state itself, only per-job locals inside Drive.
type Driver struct {
	predictor    Predictor
	encoder      Encoder
	pollInterval time.Duration
}

// New builds a Driver. A non-positive pollInterval falls back to
// DefaultPollInterval.
func New(predictor Predictor, encoder Encoder, pollInterval time.Duration) *Driver {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Driver{predictor: predictor, encoder: encoder, pollInterval: pollInterval}
}

// Drive starts one Predictor invocation on input and pushes status frames
// to pusher until a terminal frame is reached. deadline bounds the
// Predictor's wall-clock run time; the zero Time means no timeout. ctx
// governs the reply-channel pushes and output uploads, not the deadline —
// keeping the two independent means a slow Redis write never masquerades
// as a Predictor timeout.
//
// The returned error is nil only when the job succeeded and its terminal
// frame was pushed. A non-nil error after a terminal frame was still
// pushed (e.g. predictor_error, timed_out) is the job's recorded failure;
// the caller still acks. A non-nil error wrapping a push failure means no
// terminal frame reached the reply channel at all.
func (d *Driver) Drive(ctx context.Context, input interface{}, pusher *frame.Pusher, deadline time.Time) error {
	if err := d.predictor.Predict(ctx, input); err != nil {
		acc := frame.NewAccumulator(false)
		return d.terminalFail(ctx, pusher, acc, fmt.Errorf("%w: %s", errs.ErrPredictorError, err))
	}

	generator := d.predictor.IsOutputGenerator()
	acc := frame.NewAccumulator(generator)

	if expired(deadline) {
		return d.terminalFail(ctx, pusher, acc, errs.ErrTimedOut)
	}

	if generator {
		return d.runGenerator(ctx, pusher, acc, deadline)
	}
	return d.runScalar(ctx, pusher, acc, deadline)
}

func (d *Driver) runScalar(ctx context.Context, pusher *frame.Pusher, acc *frame.Accumulator, deadline time.Time) error {
	for d.predictor.IsProcessing() {
		if expired(deadline) {
			return d.terminalFail(ctx, pusher, acc, errs.ErrTimedOut)
		}
		if d.predictor.HasLogsWaiting() {
			acc.AppendLogs(d.predictor.ReadLogs())
			if err := pusher.Push(ctx, acc.Snapshot(domain.StatusProcessing, "")); err != nil {
				return fmt.Errorf("push processing frame: %w", err)
			}
		}
		d.sleep(ctx)
	}

	if perr := d.predictor.Error(); perr != nil {
		return d.terminalFail(ctx, pusher, acc, fmt.Errorf("%w: %s", errs.ErrPredictorError, perr))
	}

	values := d.predictor.ReadOutput()
	if len(values) != 1 {
		return d.terminalFail(ctx, pusher, acc, errs.ErrScalarOutputInvariant)
	}

	encoded, err := d.encoder.Encode(ctx, values[0])
	if err != nil {
		return d.terminalFail(ctx, pusher, acc, err)
	}

	acc.AppendLogs(d.predictor.ReadLogs())
	acc.SetScalarOutput(encoded)
	return d.pushTerminal(ctx, pusher, acc, domain.StatusSucceeded, "")
}

func (d *Driver) runGenerator(ctx context.Context, pusher *frame.Pusher, acc *frame.Accumulator, deadline time.Time) error {
	for d.predictor.IsProcessing() && !d.predictor.HasOutputWaiting() {
		if expired(deadline) {
			return d.terminalFail(ctx, pusher, acc, errs.ErrTimedOut)
		}
		if d.predictor.HasLogsWaiting() {
			acc.AppendLogs(d.predictor.ReadLogs())
			if err := pusher.Push(ctx, acc.Snapshot(domain.StatusProcessing, "")); err != nil {
				return fmt.Errorf("push processing frame: %w", err)
			}
		}
		if perr := d.predictor.Error(); perr != nil {
			return d.terminalFail(ctx, pusher, acc, fmt.Errorf("%w: %s", errs.ErrPredictorError, perr))
		}
		d.sleep(ctx)
	}

	for d.predictor.IsProcessing() {
		if expired(deadline) {
			return d.terminalFail(ctx, pusher, acc, errs.ErrTimedOut)
		}
		if d.predictor.HasOutputWaiting() || d.predictor.HasLogsWaiting() {
			rawOutput := d.predictor.ReadOutput()
			newLogs := d.predictor.ReadLogs()
			if len(rawOutput) == 0 && len(newLogs) == 0 {
				// Spurious wakeup: nothing to report, no frame pushed.
				d.sleep(ctx)
				continue
			}
			encoded, err := d.encodeAll(ctx, rawOutput)
			if err != nil {
				return d.terminalFail(ctx, pusher, acc, err)
			}
			acc.AppendOutput(encoded)
			acc.AppendLogs(newLogs)
			if err := pusher.Push(ctx, acc.Snapshot(domain.StatusProcessing, "")); err != nil {
				return fmt.Errorf("push processing frame: %w", err)
			}
		}
		d.sleep(ctx)
	}

	if perr := d.predictor.Error(); perr != nil {
		return d.terminalFail(ctx, pusher, acc, fmt.Errorf("%w: %s", errs.ErrPredictorError, perr))
	}

	// Final drain: has_output_waiting() may have gone true only after
	// is_processing() turned false, so one last read is still valid.
	encoded, err := d.encodeAll(ctx, d.predictor.ReadOutput())
	if err != nil {
		return d.terminalFail(ctx, pusher, acc, err)
	}
	acc.AppendOutput(encoded)
	acc.AppendLogs(d.predictor.ReadLogs())
	return d.pushTerminal(ctx, pusher, acc, domain.StatusSucceeded, "")
}

func (d *Driver) encodeAll(ctx context.Context, values []interface{}) ([]interface{}, error) {
	encoded := make([]interface{}, len(values))
	for i, v := range values {
		e, err := d.encoder.Encode(ctx, v)
		if err != nil {
			return nil, err
		}
		encoded[i] = e
	}
	return encoded, nil
}

func (d *Driver) pushTerminal(ctx context.Context, pusher *frame.Pusher, acc *frame.Accumulator, status domain.Status, errMsg string) error {
	if err := pusher.Push(ctx, acc.Snapshot(status, errMsg)); err != nil {
		return fmt.Errorf("push terminal frame: %w", err)
	}
	return nil
}

func (d *Driver) terminalFail(ctx context.Context, pusher *frame.Pusher, acc *frame.Accumulator, cause error) error {
	f := acc.Snapshot(domain.StatusFailed, cause.Error())
	if err := pusher.Push(ctx, f); err != nil {
		return fmt.Errorf("push terminal frame: %w (job failure was: %s)", err, cause)
	}
	return cause
}

func (d *Driver) sleep(ctx context.Context) {
	t := time.NewTimer(d.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func expired(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}
