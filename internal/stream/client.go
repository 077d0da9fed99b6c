// Package stream implements ports.StreamClient against a Redis-Streams-backed
// consumer group: the input queue the worker reads jobs from, and the per-job
// reply list and timing streams it writes to.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arbruzaz/cog-worker/internal/ports"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Config carries the connection and retry parameters for a Client.
type Config struct {
	Addresses       []string
	Username        string
	Password        string
	DB              int
	MasterName      string
	PoolSize        int
	MinIdleConns    int
	ConnMaxLifetime time.Duration
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRetries      int
	RetryInterval   time.Duration
	ConsumerID      string
}

// client implements ports.StreamClient using go-redis v9.
type client struct {
	rdb          goredis.UniversalClient
	cfg          *Config
	logger       ports.Logger
	consumerName string
}

// NewClient dials Redis per cfg and names this process's consumer identity.
// If cfg.ConsumerID is empty a random one is generated, mirroring the
// teacher's fallback for unattended deployments.
func NewClient(cfg *Config, logger ports.Logger) ports.StreamClient {
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:           cfg.Addresses,
		Username:        cfg.Username,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MasterName:      cfg.MasterName,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		DialTimeout:     cfg.ConnectTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
	})

	consumerName := cfg.ConsumerID
	if consumerName == "" {
		consumerName = fmt.Sprintf("consumer-%s", uuid.New().String())
	}

	return &client{
		rdb:          rdb,
		cfg:          cfg,
		logger:       logger.WithFields(ports.Field{Key: "component", Value: "stream-client"}),
		consumerName: consumerName,
	}
}

// CreateConsumerGroup creates the group (and the stream, if absent) starting
// delivery at startID. BUSYGROUP, meaning the group already exists, is not
// an error.
func (c *client) CreateConsumerGroup(ctx context.Context, stream, group, startID string) error {
	return c.executeWithRetry(ctx, func(ctx context.Context) error {
		err := c.rdb.XGroupCreateMkStream(ctx, stream, group, startID).Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
		return nil
	})
}

// ReclaimOne claims a single pending entry idle for at least minIdle, in one
// round trip, matching XAUTOCLAIM's scan-and-claim semantics. It returns
// (nil, nil) when nothing is eligible.
func (c *client) ReclaimOne(ctx context.Context, streamName, group, consumer string, minIdle time.Duration) (*ports.Message, error) {
	var msg *ports.Message

	err := c.executeWithRetry(ctx, func(ctx context.Context) error {
		xmsgs, _, err := c.rdb.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   streamName,
			Group:    group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return nil
			}
			if strings.Contains(err.Error(), "NOGROUP") {
				return nil
			}
			return err
		}
		if len(xmsgs) == 0 {
			return nil
		}
		msg = toMessage(xmsgs[0])
		return nil
	})

	return msg, err
}

// ReadOne blocks up to block for the single next undelivered entry in
// stream, assigning ownership to consumer under group. It returns (nil,
// nil) on a read timeout with no new entries.
func (c *client) ReadOne(ctx context.Context, streamName, group, consumer string, block time.Duration) (*ports.Message, error) {
	var msg *ports.Message

	err := c.executeWithRetry(ctx, func(ctx context.Context) error {
		streams, err := c.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{streamName, ">"},
			Count:    1,
			Block:    block,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return nil
			}
			if strings.Contains(err.Error(), "NOGROUP") {
				cgErr := c.rdb.XGroupCreateMkStream(ctx, streamName, group, "0-0").Err()
				if cgErr != nil && !strings.Contains(cgErr.Error(), "BUSYGROUP") {
					return cgErr
				}
				return nil
			}
			return err
		}
		for _, s := range streams {
			for _, xmsg := range s.Messages {
				msg = toMessage(xmsg)
				return nil
			}
		}
		return nil
	})

	return msg, err
}

// AckAndDelete acknowledges id and removes it from the stream. Both steps
// are attempted even if one reports the group or entry is already gone, so
// the worker loop's ack-anyway policy never blocks on partial cleanup.
func (c *client) AckAndDelete(ctx context.Context, streamName, group, id string) error {
	return c.executeWithRetry(ctx, func(ctx context.Context) error {
		pipe := c.rdb.Pipeline()
		ackCmd := pipe.XAck(ctx, streamName, group, id)
		delCmd := pipe.XDel(ctx, streamName, id)

		if _, err := pipe.Exec(ctx); err != nil {
			if errors.Is(err, goredis.Nil) {
				return nil
			}
			if strings.Contains(err.Error(), "NOGROUP") {
				return nil
			}
			return err
		}

		if aerr := ackCmd.Err(); aerr != nil && !errors.Is(aerr, goredis.Nil) && !strings.Contains(aerr.Error(), "NOGROUP") {
			return aerr
		}
		if derr := delCmd.Err(); derr != nil && !errors.Is(derr, goredis.Nil) {
			return derr
		}
		return nil
	})
}

// AppendDuration records a single timing sample to a capped stream, used
// for both the setup-time and run-time sinks.
func (c *client) AppendDuration(ctx context.Context, streamName string, seconds float64, maxlen int64) error {
	return c.executeWithRetry(ctx, func(ctx context.Context) error {
		return c.rdb.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamName,
			MaxLen: maxlen,
			Approx: true,
			Values: map[string]interface{}{"duration": seconds},
		}).Err()
	})
}

// PushReply appends frame to the push-only reply list named queue, via
// RPUSH so readers consuming in list order see frames oldest-first.
func (c *client) PushReply(ctx context.Context, queue string, frame []byte) error {
	return c.executeWithRetry(ctx, func(ctx context.Context) error {
		return c.rdb.RPush(ctx, queue, frame).Err()
	})
}

// GetConsumerName returns this client's consumer-group identity.
func (c *client) GetConsumerName() string {
	return c.consumerName
}

// Ping checks connectivity.
func (c *client) Ping(ctx context.Context) error {
	return c.executeWithRetry(ctx, func(ctx context.Context) error {
		return c.rdb.Ping(ctx).Err()
	})
}

// Close releases the underlying connection pool.
func (c *client) Close() error {
	return c.rdb.Close()
}

func toMessage(xmsg goredis.XMessage) *ports.Message {
	raw := xmsg.Values["value"]
	var payload []byte
	switch v := raw.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		payload = nil
	}
	return &ports.Message{ID: xmsg.ID, Payload: payload}
}

// executeWithRetry retries fn on transient connection errors with a fixed
// interval, bounded by cfg.MaxRetries. redis.Nil is treated as success with
// no data, never retried.
func (c *client) executeWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var attempt int
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if !isTransientError(err) || attempt >= c.cfg.MaxRetries {
			return err
		}
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryInterval):
		}
	}
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	return strings.Contains(es, "LOADING") ||
		strings.Contains(es, "connect: connection refused") ||
		strings.Contains(es, "i/o timeout") ||
		strings.Contains(es, "EOF") ||
		strings.Contains(es, "read: connection reset")
}
