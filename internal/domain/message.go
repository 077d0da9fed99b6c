// Package domain contains the core data types shared across the worker:
// the job message consumed from the input queue and the status frame
// produced on a job's reply channel.
package domain

import "encoding/json"

// JobMessage is the decoded payload of a single input queue entry.
type JobMessage struct {
	ResponseQueue string                     `json:"response_queue"`
	Input         map[string]json.RawMessage `json:"input"`
}

// Status is the lifecycle state carried by a StatusFrame.
type Status string

// The three status values a StatusFrame may carry.
const (
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// StatusFrame is a complete snapshot of a job's observable state at a point
// in time. Frames are pushed to a job's reply channel in order; logs and,
// in generator mode, output are append-only across a job's frames.
type StatusFrame struct {
	Status Status      `json:"status"`
	Output interface{} `json:"output"`
	Logs   []string    `json:"logs"`
	Error  string      `json:"error,omitempty"`
}

// Clone returns a deep-enough copy of the frame for safe reuse of the
// caller's backing slices across pushes (logs/output are reassigned, not
// mutated in place, by the driver's accumulators, but callers that keep a
// frame around after pushing it should still clone defensively).
func (f StatusFrame) Clone() StatusFrame {
	logs := make([]string, len(f.Logs))
	copy(logs, f.Logs)
	return StatusFrame{
		Status: f.Status,
		Output: f.Output,
		Logs:   logs,
		Error:  f.Error,
	}
}
