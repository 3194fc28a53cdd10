package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/memkit/segheap/memutils"
)

// PrintDetailedMap populates a json object with summary information about
// the heap and one entry per block, allocated and free alike.
func (h *Heap) PrintDetailedMap(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	var stats memutils.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	h.printDetailedMapHeader(&obj, stats.HeapBytes-stats.AllocationBytes, stats.AllocationCount, stats.FreeRangeCount)
	h.printDetailedMapBlocks(&obj)
}

func (h *Heap) printDetailedMapHeader(json *jwriter.ObjectState, unusedBytes, allocationCount, freeRangeCount int) {
	json.Name("TotalBytes").Int(h.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(freeRangeCount)
}

func (h *Heap) printDetailedMapBlocks(json *jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	_ = h.VisitAllBlocks(func(offset, size int, free bool) error {
		blockObj := arrayState.Object()
		defer blockObj.End()

		blockObj.Name("Offset").Int(offset)
		blockObj.Name("Size").Int(size)
		if free {
			blockObj.Name("Type").String("FREE")
		} else {
			blockObj.Name("Type").String("ALLOCATED")
		}

		return nil
	})
}
