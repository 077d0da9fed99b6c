package stream

import (
	"errors"
	"testing"

	goredis "github.com/redis/go-redis/v9"
)

// Most Client behavior requires a live Redis instance (XAUTOCLAIM,
// XREADGROUP, pipelined XACK/XDEL) and is not covered by the tests in this
// package. These cases cover the pure conversion and
// classification helpers.

func TestToMessage_StringValue(t *testing.T) {
	xmsg := goredis.XMessage{ID: "1-1", Values: map[string]interface{}{"value": `{"a":1}`}}
	msg := toMessage(xmsg)
	if msg.ID != "1-1" {
		t.Fatalf("expected id 1-1, got %s", msg.ID)
	}
	if string(msg.Payload) != `{"a":1}` {
		t.Fatalf("unexpected payload: %s", msg.Payload)
	}
}

func TestToMessage_BytesValue(t *testing.T) {
	xmsg := goredis.XMessage{ID: "2-1", Values: map[string]interface{}{"value": []byte(`{"b":2}`)}}
	msg := toMessage(xmsg)
	if string(msg.Payload) != `{"b":2}` {
		t.Fatalf("unexpected payload: %s", msg.Payload)
	}
}

func TestToMessage_MissingValueField(t *testing.T) {
	xmsg := goredis.XMessage{ID: "3-1", Values: map[string]interface{}{"other": "x"}}
	msg := toMessage(xmsg)
	if msg.Payload != nil {
		t.Fatalf("expected nil payload, got %q", msg.Payload)
	}
}

func TestIsTransientError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("LOADING Redis is loading the dataset in memory"), true},
		{errors.New("dial tcp: connect: connection refused"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("WRONGTYPE Operation against a key"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := isTransientError(c.err); got != c.want {
			t.Fatalf("isTransientError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestGetConsumerName(t *testing.T) {
	c := &client{consumerName: "consumer-abc"}
	if got := c.GetConsumerName(); got != "consumer-abc" {
		t.Fatalf("expected consumer-abc, got %s", got)
	}
}
