package heap

import (
	"golang.org/x/exp/slog"
)

// LogHeap writes the entire heap layout to the provided logger, one record
// per block plus one per non-empty size class list. Intended for diagnosing
// allocator issues; very slow on large heaps.
func (h *Heap) LogHeap(logger *slog.Logger) {
	for class := 0; class < segClassCount; class++ {
		if h.free.heads[class] == nilBlock {
			continue
		}
		logger.Debug("size class",
			slog.Int("class", class),
			slog.Int("lowerBound", segClassBounds[class]),
			slog.Int("head", h.free.heads[class]),
		)
	}

	_ = h.VisitAllBlocks(func(offset, size int, free bool) error {
		b := blockRef{h, offset}
		logger.Debug("block",
			slog.Int("offset", offset),
			slog.Int("size", size),
			slog.Bool("free", free),
			slog.Bool("mini", b.isMini()),
			slog.Bool("prevAllocated", b.prevAllocated()),
		)
		return nil
	})
}

// DebugLogAllAllocations calls logFunc on the provided logger once for each
// live allocation in the heap.
func (h *Heap) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int)) {
	_ = h.VisitAllBlocks(func(offset, size int, free bool) error {
		if !free {
			logFunc(logger, offset, size)
		}
		return nil
	})
}

// LogUnfreedAllocations reports every pointer still present in the live
// allocation registry. It requires Config.TrackAllocations and is meant to
// be called when the heap is expected to be empty, such as at teardown.
// It returns the number of unfreed allocations.
func (h *Heap) LogUnfreedAllocations(logger *slog.Logger) int {
	if h.live == nil {
		return h.allocCount
	}

	count := 0
	h.live.Iter(func(p Pointer, size int) bool {
		count++
		logger.Warn("unfreed allocation",
			slog.Int("pointer", int(p)),
			slog.Int("size", size),
		)
		return false
	})
	return count
}
