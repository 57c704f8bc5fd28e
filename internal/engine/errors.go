package engine

import "errors"

var (
	// ErrDuplicateMonitor is returned when Start is called for a cache_key
	// that already has an active monitor. Duplicates are rejected, never
	// merged.
	ErrDuplicateMonitor = errors.New("monitor already active for position")

	// ErrMonitorStopped is returned when an operation targets a monitor
	// that has completed or been stopped.
	ErrMonitorStopped = errors.New("monitor stopped")
)
