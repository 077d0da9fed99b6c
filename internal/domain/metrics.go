package domain

import (
	"sync/atomic"
	"time"
)

// Metrics holds atomic counters for the worker's own lifetime. This is an
// ambient observability surface; no SPEC_FULL.md component requires
// reporting it externally, but the process logs a periodic snapshot the
// same way the teacher's worker did for its own throughput metrics.
type Metrics struct {
	JobsProcessed atomic.Uint64
	JobsSucceeded atomic.Uint64
	JobsFailed    atomic.Uint64
	JobsTimedOut  atomic.Uint64

	MalformedMessages atomic.Uint64
	StreamErrors      atomic.Uint64

	LastSetupDurationNs atomic.Uint64
	LastRunDurationNs   atomic.Uint64

	StartTime time.Time
}

// NewMetrics creates a zeroed metrics instance stamped with the given start time.
func NewMetrics(startTime time.Time) *Metrics {
	return &Metrics{StartTime: startTime}
}

// GetThroughputRate returns completed jobs per second since StartTime.
func (m *Metrics) GetThroughputRate() float64 {
	elapsed := time.Since(m.StartTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.JobsProcessed.Load()) / elapsed
}

// MetricsSnapshot is a point-in-time view of Metrics suitable for logging.
type MetricsSnapshot struct {
	Timestamp         time.Time
	JobsProcessed     uint64
	JobsSucceeded     uint64
	JobsFailed        uint64
	JobsTimedOut      uint64
	MalformedMessages uint64
	StreamErrors      uint64
	ThroughputRate    float64
	LastSetupMs       float64
	LastRunMs         float64
}

// Snapshot captures the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Timestamp:         time.Now(),
		JobsProcessed:     m.JobsProcessed.Load(),
		JobsSucceeded:     m.JobsSucceeded.Load(),
		JobsFailed:        m.JobsFailed.Load(),
		JobsTimedOut:      m.JobsTimedOut.Load(),
		MalformedMessages: m.MalformedMessages.Load(),
		StreamErrors:      m.StreamErrors.Load(),
		ThroughputRate:    m.GetThroughputRate(),
		LastSetupMs:       float64(m.LastSetupDurationNs.Load()) / 1_000_000,
		LastRunMs:         float64(m.LastRunDurationNs.Load()) / 1_000_000,
	}
}
