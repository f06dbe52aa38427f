package heap

import (
	"time"
	"unsafe"
)

var slotSize = unsafe.Sizeof(slot{})

// MemStats records statistics about the pool.
type MemStats struct {
	// Slabs is the number of slabs in the pool.
	Slabs int

	// SlotsPerSlab is the fixed capacity of every slab.
	SlotsPerSlab int

	// Live is the number of occupied slots.
	Live int

	// Free is the number of free slots across all slabs.
	Free int

	// HeapBytes is the size of the live payloads in bytes: string lengths
	// plus array capacities times the size of a Value.
	HeapBytes uint64

	// SlotBytes is the size of the slot tables themselves.
	SlotBytes uint64

	// Mallocs is the cumulative count of payloads allocated.
	Mallocs uint64

	// Frees is the cumulative count of payloads freed.
	Frees uint64

	// TotalAlloc is the cumulative payload bytes allocated.
	TotalAlloc uint64
}

// ReadMemStats populates m with statistics about the pool.
func (h *Heap) ReadMemStats(m *MemStats) {
	p := h.pool
	m.Slabs = len(p.slabs)
	m.SlotsPerSlab = p.capacity
	m.Live = p.live
	m.Free = 0
	for _, s := range p.slabs {
		m.Free += s.free
	}
	m.HeapBytes = uint64(p.liveBytes)
	m.SlotBytes = uint64(len(p.slabs)*p.capacity) * uint64(slotSize)
	m.Mallocs = p.mallocs
	m.Frees = p.frees
	m.TotalAlloc = p.totalBytes
}

// GCStats collect information about recent collector activity.
type GCStats struct {
	LastGC     time.Time       // time the last cycle finished
	NumGC      int64           // number of finished cycles
	NumSteps   int64           // number of collector steps, including whole cycles
	PauseTotal time.Duration   // total pause of all steps
	Pause      []time.Duration // pause history, most recent first
}

// ReadGCStats reads statistics about the collector into stats. The Pause
// slice is reused if it has room.
func (h *Heap) ReadGCStats(stats *GCStats) {
	c := h.gc
	stats.LastGC = c.lastDone
	stats.NumGC = c.numGC
	stats.NumSteps = c.numSteps
	stats.PauseTotal = c.pauseTotal
	stats.Pause = stats.Pause[:0]
	for i := len(c.pauses) - 1; i >= 0; i-- {
		stats.Pause = append(stats.Pause, c.pauses[i])
	}
}
