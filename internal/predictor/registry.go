// Package predictor is the registration seam between this worker and the
// embedding program's model: the Predictor implementation itself is a
// black box out of scope for this repository, so the embedding program
// registers a factory and its declared input shape at init time, the same
// way database/sql drivers register themselves for a driver name.
package predictor

import (
	"fmt"
	"sync"

	"github.com/arbruzaz/cog-worker/internal/driver"
)

// Registration binds a Predictor factory to the input shape it expects,
// so the bootstrap can build both the Driver and the Input Decoder's
// Schema from a single registration call.
type Registration struct {
	// New constructs a fresh Predictor instance. Called once per process.
	New func() driver.Predictor
	// InputShape is a struct value (not a pointer) carrying `input:"..."`
	// tags, passed to decode.NewSchema.
	InputShape interface{}
}

var (
	mu       sync.Mutex
	current  *Registration
)

// Register installs reg as the active Predictor registration. Calling it
// more than once replaces the previous registration; the last import-time
// call wins, matching the convention for single-binary deployments where
// exactly one model is wired into each build.
func Register(reg Registration) {
	mu.Lock()
	defer mu.Unlock()
	r := reg
	current = &r
}

// Get returns the active registration, or an error if the embedding
// program never called Register.
func Get() (*Registration, error) {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil, fmt.Errorf("predictor: no Predictor registered, import a package that calls predictor.Register in an init()")
	}
	return current, nil
}
