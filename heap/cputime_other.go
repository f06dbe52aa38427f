//go:build !unix

package heap

import "time"

var processStart = time.Now()

// cpuTime falls back to monotonic wall time where getrusage is not
// available.
func cpuTime() time.Duration {
	return time.Since(processStart)
}
