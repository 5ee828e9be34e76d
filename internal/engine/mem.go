package engine

import "runtime"

// sampleMemory reads the current heap allocation.
func sampleMemory() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// memSpan measures memory movement across a region of work.
type memSpan struct {
	start uint64
}

func startMemSpan() memSpan {
	return memSpan{start: sampleMemory()}
}

// end returns (used, peak) for the span. The runtime only exposes current
// allocation, so peak is approximated by the larger of the two samples and
// used is clamped at zero when the GC shrank the heap mid-span.
func (s memSpan) end() (used, peak uint64) {
	now := sampleMemory()
	peak = now
	if s.start > peak {
		peak = s.start
	}
	if now > s.start {
		used = now - s.start
	}
	return used, peak
}
