// Package errs defines the job-level error kinds named in the worker's
// error handling design, so the worker loop can classify an error with
// errors.Is/errors.As instead of comparing strings.
package errs

import "errors"

// Sentinel error kinds. Wrap with fmt.Errorf("...: %w", Kind) to attach
// context while keeping errors.Is matching intact.
var (
	// ErrInputInvalid marks a job input that failed schema validation.
	ErrInputInvalid = errors.New("input_invalid")
	// ErrUploadFailed marks an output upload that returned a non-2xx response.
	ErrUploadFailed = errors.New("upload_failed")
	// ErrPredictorError marks a Predictor-reported failure.
	ErrPredictorError = errors.New("predictor_error")
	// ErrScalarOutputInvariant marks a scalar-mode Predictor that produced
	// other than exactly one output value.
	ErrScalarOutputInvariant = errors.New("scalar_output_invariant")
	// ErrTimedOut marks a prediction that exceeded its wall-clock deadline.
	ErrTimedOut = errors.New("timed_out")
	// ErrMessageMalformed marks a queue entry that is not valid JSON or is
	// missing response_queue. Jobs failing with this error are never acked.
	ErrMessageMalformed = errors.New("message_malformed")
	// ErrStreamTransient marks a queue-service RPC failure that does not
	// terminate the worker loop.
	ErrStreamTransient = errors.New("stream_transient")
)

// InputFetchFailed wraps a file-input HTTP GET failure as ErrInputInvalid,
// per the spec's "input_fetch_failed is treated as input_invalid" rule.
func InputFetchFailed(cause error) error {
	return &wrapped{kind: ErrInputInvalid, cause: cause, label: "input_fetch_failed"}
}

type wrapped struct {
	kind  error
	cause error
	label string
}

func (w *wrapped) Error() string {
	if w.cause == nil {
		return w.label
	}
	return w.label + ": " + w.cause.Error()
}

func (w *wrapped) Unwrap() error { return w.kind }

func (w *wrapped) Is(target error) bool {
	return target == w.kind
}
