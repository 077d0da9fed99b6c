package decode

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/arbruzaz/cog-worker/internal/cleanup"
	"github.com/arbruzaz/cog-worker/internal/errs"
)

type testInput struct {
	SleepTime float64 `input:"sleep_time,required"`
	Name      string  `input:"name"`
	Image     *File   `input:"image,file"`
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f fakeFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	return f.data, f.err
}

func rawInput(t *testing.T, m map[string]interface{}) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", k, err)
		}
		out[k] = b
	}
	return out
}

func TestDecode_ValidInput(t *testing.T) {
	schema, err := NewSchema(testInput{})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}

	raw := rawInput(t, map[string]interface{}{"sleep_time": 1.5, "name": "job-1"})
	scope := cleanup.NewScope()
	out, err := Decode(context.Background(), schema, raw, fakeFetcher{}, scope)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := out.(*testInput)
	if got.SleepTime != 1.5 || got.Name != "job-1" {
		t.Fatalf("unexpected decoded input: %#v", got)
	}
}

func TestDecode_RejectsExtraField(t *testing.T) {
	schema, _ := NewSchema(testInput{})
	raw := rawInput(t, map[string]interface{}{"sleep_time": 1.0, "bogus": "x"})

	_, err := Decode(context.Background(), schema, raw, fakeFetcher{}, cleanup.NewScope())
	if !errors.Is(err, errs.ErrInputInvalid) {
		t.Fatalf("expected ErrInputInvalid, got %v", err)
	}
}

func TestDecode_RejectsWrongType(t *testing.T) {
	schema, _ := NewSchema(testInput{})
	raw := rawInput(t, map[string]interface{}{"sleep_time": "not a number"})

	_, err := Decode(context.Background(), schema, raw, fakeFetcher{}, cleanup.NewScope())
	if !errors.Is(err, errs.ErrInputInvalid) {
		t.Fatalf("expected ErrInputInvalid, got %v", err)
	}
}

func TestDecode_MissingRequiredField(t *testing.T) {
	schema, _ := NewSchema(testInput{})
	raw := rawInput(t, map[string]interface{}{"name": "no-sleep-time"})

	_, err := Decode(context.Background(), schema, raw, fakeFetcher{}, cleanup.NewScope())
	if !errors.Is(err, errs.ErrInputInvalid) {
		t.Fatalf("expected ErrInputInvalid, got %v", err)
	}
}

func TestDecode_FileFieldFetchedAndCleanupRegistered(t *testing.T) {
	schema, _ := NewSchema(testInput{})
	raw := rawInput(t, map[string]interface{}{"sleep_time": 1.0, "image": "https://example.test/in.bin"})

	scope := cleanup.NewScope()
	out, err := Decode(context.Background(), schema, raw, fakeFetcher{data: []byte("bytes")}, scope)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := out.(*testInput)
	if got.Image == nil || string(got.Image.Data) != "bytes" {
		t.Fatalf("expected fetched file bytes, got %#v", got.Image)
	}

	scope.Close()
	if got.Image.Data != nil {
		t.Fatalf("expected cleanup to release file bytes")
	}
}

func TestDecode_FileFetchFailureIsInputInvalid(t *testing.T) {
	schema, _ := NewSchema(testInput{})
	raw := rawInput(t, map[string]interface{}{"sleep_time": 1.0, "image": "https://example.test/in.bin"})

	_, err := Decode(context.Background(), schema, raw, fakeFetcher{err: errors.New("connection refused")}, cleanup.NewScope())
	if !errors.Is(err, errs.ErrInputInvalid) {
		t.Fatalf("expected ErrInputInvalid (input_fetch_failed), got %v", err)
	}
}
