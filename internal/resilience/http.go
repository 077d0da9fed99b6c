// Package resilience wraps the outbound HTTP calls the worker makes on a
// job's behalf — fetching file/binary input URLs and uploading generated
// output — behind the same sliding-window circuit breaker the teacher uses
// to guard its own unreliable downstream call.
package resilience

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/arbruzaz/cog-worker/internal/ports"
	"github.com/arbruzaz/cog-worker/pkg/circuitbreaker"
)

// Config tunes the shared HTTP client and its circuit breaker.
type Config struct {
	Timeout                 time.Duration
	BreakerErrorThreshold   float64
	BreakerSuccessThreshold int
	BreakerOpenTimeout      time.Duration
	BreakerMaxConcurrent    int
	BreakerVolumeThreshold  int
}

// HTTPClient performs circuit-breaker-guarded GET and multipart PUT calls.
type HTTPClient struct {
	client  *http.Client
	breaker ports.CircuitBreaker
}

// New builds an HTTPClient from cfg, naming the breaker "file-transfer"
// since GET (input fetch) and PUT (output upload) share one failure domain:
// the job's worker process has no use for them succeeding independently.
func New(cfg Config) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New("file-transfer", cfg.BreakerErrorThreshold, cfg.BreakerSuccessThreshold, cfg.BreakerOpenTimeout, cfg.BreakerMaxConcurrent, cfg.BreakerVolumeThreshold),
	}
}

// Get fetches url, returning the full response body. A non-2xx response is
// reported as an error; the caller is responsible for classifying it as
// input_invalid per the spec's input_fetch_failed rule.
func (h *HTTPClient) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := h.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}

// Upload PUTs data as a multipart "file" field to uploadURL and returns the
// raw response body, which the caller decodes for its "url" field.
func (h *HTTPClient) Upload(ctx context.Context, uploadURL, filename string, data []byte) ([]byte, error) {
	var respBody []byte
	err := h.breaker.Execute(func() error {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)

		go func() {
			part, err := mw.CreateFormFile("file", filename)
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if _, err := part.Write(data); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			_ = pw.CloseWithError(mw.Close())
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, pr)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("PUT %s: unexpected status %d", uploadURL, resp.StatusCode)
		}
		respBody, err = io.ReadAll(resp.Body)
		return err
	})
	return respBody, err
}
