package heap

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// CycleReport summarizes one finished collection cycle.
type CycleReport struct {
	Before    int // occupied slots when the cycle started
	Collected int // slots freed by the sweep
	After     int // occupied slots when the cycle finished
	Slabs     int // slabs in the pool when the cycle finished

	CPUTime  time.Duration // process CPU time spent in the cycle's steps
	WallTime time.Duration // from the start of the cycle to its end
}

// WriteTo writes the report in the block format printed by the gc builtin.
func (r CycleReport) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.WriteString("------ GARBAGE COLLECTOR ------\n")
	fmt.Fprintf(&buf, "   Objects before:     %d\n", r.Before)
	fmt.Fprintf(&buf, "   Objects collected:  %d\n", r.Collected)
	fmt.Fprintf(&buf, "   Objects after:      %d ( %d blocks )\n", r.After, r.Slabs)
	fmt.Fprintf(&buf, "   CPU Time elapsed:   %f\n", r.CPUTime.Seconds())
	buf.WriteString("-------------------------------\n")
	return buf.WriteTo(w)
}
