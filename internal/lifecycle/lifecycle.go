package lifecycle

import "sync/atomic"

var shuttingDown atomic.Bool

// SetShuttingDown flips the drain flag. Set on SIGTERM/SIGINT so the health
// endpoint reports shutting-down (503) while requests finish.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining and should stop
// receiving new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
