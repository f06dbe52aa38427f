package diagnostics

import (
	"fmt"
	"io"
	"strings"

	"github.com/inhies/go-bytesize"

	"github.com/tinygo-org/slabgc/heap"
)

// MemReport writes a summary of the pool and the collector of h.
func MemReport(w io.Writer, h *heap.Heap) {
	var m heap.MemStats
	h.ReadMemStats(&m)
	var gc heap.GCStats
	h.ReadGCStats(&gc)

	fmt.Fprintf(w, "heap:   %d slabs of %d slots, %d live, %d free\n", m.Slabs, m.SlotsPerSlab, m.Live, m.Free)
	fmt.Fprintf(w, "memory: %s in payloads, %s in slot tables\n", size(m.HeapBytes), size(m.SlotBytes))
	fmt.Fprintf(w, "totals: %d allocations, %d frees, %s allocated\n", m.Mallocs, m.Frees, size(m.TotalAlloc))
	fmt.Fprintf(w, "gc:     %d cycles in %d steps, %s paused, state %s\n", gc.NumGC, gc.NumSteps, gc.PauseTotal, h.Collector().State())
}

func size(n uint64) string {
	return bytesize.New(float64(n)).String()
}

// DumpSlabs prints one character per slot: '·' for a free slot, '*' for a
// used slot and '#' for a marked slot. Lines are 64 slots wide.
func DumpSlabs(w io.Writer, h *heap.Heap) {
	pool := h.Pool()
	fmt.Fprintln(w, "heap:")
	var line strings.Builder
	for i := 0; i < pool.Len(); i++ {
		fmt.Fprintf(w, "slab %d (%d free):\n", i, pool.Free(i))
		states := pool.States(i)
		for j, st := range states {
			switch st {
			case heap.SlotUsed:
				line.WriteByte('*')
			case heap.SlotMarked:
				line.WriteByte('#')
			default: // free
				line.WriteString("·")
			}
			if j%64 == 63 || j+1 == len(states) {
				fmt.Fprintln(w, line.String())
				line.Reset()
			}
		}
	}
}
