// Package encode walks a Predictor's output value, replacing any binary
// handle it finds with an uploaded URL, ready for JSON marshaling into a
// status frame.
package encode

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arbruzaz/cog-worker/internal/errs"
)

// Binary is the handle a Predictor returns in place of raw bytes it wants
// uploaded rather than inlined.
type Binary struct {
	Filename string
	Data     []byte
}

// Uploader performs the HTTP PUT used to upload a Binary's bytes.
// Satisfied by *resilience.HTTPClient.
type Uploader interface {
	Upload(ctx context.Context, uploadURL, filename string, data []byte) ([]byte, error)
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Encode recursively walks value, uploading any Binary leaf to uploadURL
// and substituting the response's url field in its place. Maps, slices and
// JSON primitives pass through unchanged (but maps/slices are walked so a
// Binary nested inside one is still uploaded).
func Encode(ctx context.Context, uploader Uploader, uploadURL string, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case Binary:
		return uploadBinary(ctx, uploader, uploadURL, v)
	case *Binary:
		if v == nil {
			return nil, nil
		}
		return uploadBinary(ctx, uploader, uploadURL, *v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			encoded, err := Encode(ctx, uploader, uploadURL, item)
			if err != nil {
				return nil, err
			}
			out[k] = encoded
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			encoded, err := Encode(ctx, uploader, uploadURL, item)
			if err != nil {
				return nil, err
			}
			out[i] = encoded
		}
		return out, nil
	default:
		return v, nil
	}
}

func uploadBinary(ctx context.Context, uploader Uploader, uploadURL string, b Binary) (interface{}, error) {
	respBody, err := uploader.Upload(ctx, uploadURL, b.Filename, b.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrUploadFailed, err)
	}
	var resp uploadResponse
	if err := json.Unmarshal(respBody, &resp); err != nil || resp.URL == "" {
		return nil, fmt.Errorf("%w: upload response missing url field", errs.ErrUploadFailed)
	}
	return resp.URL, nil
}
