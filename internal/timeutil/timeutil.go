// Package timeutil provides helpers for constructing time.Duration values
// from integer counts without performing duration-by-duration arithmetic,
// which is flagged by linters like durationcheck.
package timeutil

import "time"

// FromMillis converts a non-negative millisecond count to time.Duration
// without multiplying two durations (avoids durationcheck).
// Negative inputs return 0.
func FromMillis(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	// 1 millisecond = 1e6 nanoseconds. Avoid duration * duration.
	return time.Duration(ms * int64(time.Millisecond))
}

// FromSeconds converts a non-negative second count to time.Duration the
// same way, for the many flag values (timeouts, intervals) expressed in
// whole seconds. Negative inputs return 0.
func FromSeconds(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(int64(s) * int64(time.Second))
}
