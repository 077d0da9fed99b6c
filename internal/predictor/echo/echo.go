// Package echo is a reference Predictor used by the stock
// cmd/predictor-worker binary when no other model package is linked in:
// it echoes its text input back as a single scalar output after a short
// simulated processing delay, and exists to exercise the Worker Loop and
// the Prediction Driver end to end without any real model dependency.
package echo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arbruzaz/cog-worker/internal/driver"
	"github.com/arbruzaz/cog-worker/internal/predictor"
)

func init() {
	predictor.Register(predictor.Registration{
		New:        func() driver.Predictor { return &Predictor{} },
		InputShape: Input{},
	})
}

// Input is the declared shape for the echo model: a single required text
// field.
type Input struct {
	Text  string `input:"text,required"`
	Delay int    `input:"delay_ms"`
}

// Predictor implements driver.Predictor. One instance is reused across
// every job the worker processes, per the Driver's single-instance
// contract.
type Predictor struct {
	mu         sync.Mutex
	processing bool
	logs       []string
	output     []interface{}
	err        error
}

// Setup does nothing; the echo model has no weights to load.
func (p *Predictor) Setup(_ context.Context) error {
	return nil
}

// Predict starts a background run that completes after the input's
// configured delay (default 10ms), then reports the echoed text as its
// single output value.
func (p *Predictor) Predict(_ context.Context, input interface{}) error {
	in, ok := input.(*Input)
	if !ok {
		return fmt.Errorf("echo: unexpected input type %T", input)
	}

	delay := time.Duration(in.Delay) * time.Millisecond
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}

	p.mu.Lock()
	p.processing = true
	p.logs = nil
	p.output = nil
	p.err = nil
	p.mu.Unlock()

	go func() {
		time.Sleep(delay)
		p.mu.Lock()
		defer p.mu.Unlock()
		p.logs = append(p.logs, fmt.Sprintf("echoing %d characters", len(in.Text)))
		p.output = []interface{}{in.Text}
		p.processing = false
	}()

	return nil
}

// IsOutputGenerator reports false: echo always produces exactly one
// terminal output value.
func (p *Predictor) IsOutputGenerator() bool {
	return false
}

// IsProcessing reports whether the background run has completed.
func (p *Predictor) IsProcessing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processing
}

// HasLogsWaiting reports whether unread log lines have accumulated.
func (p *Predictor) HasLogsWaiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.logs) > 0
}

// ReadLogs drains and returns the accumulated log lines.
func (p *Predictor) ReadLogs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	logs := p.logs
	p.logs = nil
	return logs
}

// HasOutputWaiting always reports false for a scalar predictor; the
// Driver reads terminal output directly via ReadOutput once IsProcessing
// goes false.
func (p *Predictor) HasOutputWaiting() bool {
	return false
}

// ReadOutput drains and returns the accumulated output values.
func (p *Predictor) ReadOutput() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.output
	p.output = nil
	return out
}

// Error reports the last run's failure, if any. The echo model never
// fails on its own.
func (p *Predictor) Error() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
