// Package ports defines the interfaces used by the worker to decouple domain
// logic from concrete adapters (stream client, logger, circuit breaker).
package ports

import (
	"context"
	"time"
)

// StreamClient is the thin adapter over the queue service's consumer-group
// operations, plus bounded-length append used by the timing stats sink.
type StreamClient interface {
	// CreateConsumerGroup ensures the consumer group for stream exists,
	// creating the stream itself if necessary. Idempotent.
	CreateConsumerGroup(ctx context.Context, stream, group, startID string) error

	// ReclaimOne atomically transfers ownership of at most one pending
	// entry idle for at least minIdle to consumer. Returns (nil, nil) if
	// none qualify.
	ReclaimOne(ctx context.Context, stream, group, consumer string, minIdle time.Duration) (*Message, error)

	// ReadOne blocks up to block for a new entry not yet delivered to the
	// group. Returns (nil, nil) on timeout.
	ReadOne(ctx context.Context, stream, group, consumer string, block time.Duration) (*Message, error)

	// AckAndDelete acknowledges and then deletes id. Delete is best-effort.
	AckAndDelete(ctx context.Context, stream, group, id string) error

	// AppendDuration appends a single {duration: seconds} entry to stream,
	// trimming it to at most maxlen entries (approximate trimming allowed).
	AppendDuration(ctx context.Context, stream string, seconds float64, maxlen int64) error

	// PushReply appends frame to the push-only reply list named queue.
	PushReply(ctx context.Context, queue string, frame []byte) error

	// GetConsumerName returns this client's generated or configured consumer identity.
	GetConsumerName() string

	Ping(ctx context.Context) error
	Close() error
}

// Message is a single consumer-group stream entry as delivered to the caller.
type Message struct {
	ID      string
	Payload []byte
}

// Logger defines the structured logging surface used throughout the worker.
type Logger interface {
	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// Field represents a single structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// CircuitBreaker guards an unreliable call with a sliding-window breaker.
type CircuitBreaker interface {
	Execute(fn func() error) error
	GetState() string
	GetStats() CircuitBreakerStats
}

// CircuitBreakerStats reports point-in-time circuit breaker counters.
type CircuitBreakerStats struct {
	Requests            uint64
	TotalSuccess        uint64
	TotalFailure        uint64
	ConsecutiveFailures uint64
	State               string
}
