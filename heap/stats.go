package heap

import (
	"github.com/pkg/errors"

	"github.com/memkit/segheap/memutils"
)

// VisitAllBlocks calls the provided callback once for each block in the
// heap, in address order, excluding the boundary sentinels. The callback
// must not allocate or free from this heap.
func (h *Heap) VisitAllBlocks(visit func(offset, size int, free bool) error) error {
	off := h.start
	for off < h.end {
		word := h.word(off)
		size := sizeFromWord(word)
		if size == 0 {
			return errors.Errorf("unexpected zero-size block at offset %d during heap walk", off)
		}

		if err := visit(off, size, !allocFromWord(word)); err != nil {
			return err
		}
		off += size
	}

	return nil
}

// AddStatistics sums this heap's allocation statistics into the statistics
// currently present in the provided memutils.Statistics object.
func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	stats.HeapCount++
	stats.AllocationCount += h.allocCount
	stats.HeapBytes += h.Size()
	stats.AllocationBytes += h.Size() - h.freeBytes
}

// AddDetailedStatistics sums this heap's allocation statistics into the
// statistics currently present in the provided memutils.DetailedStatistics
// object. Unlike AddStatistics, this requires a full heap walk.
func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.HeapCount++
	stats.HeapBytes += h.Size()

	_ = h.VisitAllBlocks(func(offset, size int, free bool) error {
		if free {
			stats.AddFreeRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}
