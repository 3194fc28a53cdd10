package heap

import (
	"github.com/pkg/errors"

	"github.com/memkit/segheap/memutils"
)

// Validate performs a full consistency check of the heap: every block is
// walked in address order and cross-checked against the free-list index, the
// boundary sentinels and the running counters. When the allocator is
// functioning correctly this can never fail, but it pinpoints the first
// violation when something has gone wrong. The walk is bounded, so it
// terminates and reports even on a corrupted heap.
//
// Validate is not run in production paths; it is invoked by DebugValidate
// under the debug_segheap build tag and directly by tests.
func (h *Heap) Validate() error {
	if h.freeBytes > h.Size() {
		return errors.Errorf("the free byte counter is %d, which exceeds the heap size %d", h.freeBytes, h.Size())
	}

	prologue := h.word(h.start - wordSize)
	if sizeFromWord(prologue) != 0 || !allocFromWord(prologue) {
		return errors.New("the prologue sentinel has been overwritten")
	}

	var allocCount, freeCount, freeBytes int
	prevAlloc := true
	prevFree := false

	off := h.start
	for {
		if off > h.end {
			return errors.Errorf("block at offset %d is outside of the heap, which ends at %d", off, h.end)
		}

		word := h.word(off)
		size := sizeFromWord(word)

		if size == 0 {
			if off != h.end {
				return errors.Errorf("unexpected zero-size block at offset %d before the heap end %d", off, h.end)
			}
			if !allocFromWord(word) {
				return errors.New("the epilogue sentinel is not marked allocated")
			}
			if prevAllocFromWord(word) != prevAlloc {
				return errors.Errorf("the epilogue's prevAllocated bit does not match its predecessor")
			}
			break
		}

		if off+size > h.end {
			return errors.Errorf("block at offset %d has size %d and extends past the heap end %d", off, size, h.end)
		}
		if size < miniBlockSize {
			return errors.Errorf("block at offset %d has size %d, which is below the miniblock size %d", off, size, miniBlockSize)
		}
		if size%blockAlignment != 0 {
			return errors.Errorf("block at offset %d has size %d, which is not a multiple of the alignment %d", off, size, blockAlignment)
		}
		if (size < minBlockSize) != miniFromWord(word) {
			return errors.Errorf("block at offset %d has size %d but its miniblock flag is %t", off, size, miniFromWord(word))
		}
		if prevAllocFromWord(word) != prevAlloc {
			return errors.Errorf("block at offset %d has prevAllocated=%t but its predecessor's allocation status is %t", off, prevAllocFromWord(word), prevAlloc)
		}

		alloc := allocFromWord(word)
		if !alloc {
			if prevFree {
				return errors.Errorf("adjacent free blocks were not coalesced, the second block is at offset %d", off)
			}

			if size >= minBlockSize {
				footer := h.word(off + size - wordSize)
				if footer != word {
					return errors.Errorf("block at offset %d has header %#x but footer %#x", off, word, footer)
				}
			}

			if err := h.validateFreeListMembership(off, size); err != nil {
				return err
			}

			freeCount++
			freeBytes += size
		} else {
			allocCount++
		}

		prevFree = !alloc
		prevAlloc = alloc
		off += size
	}

	if allocCount != h.allocCount {
		return errors.Errorf("the allocation count of the heap is %d, but the allocated blocks only added up to %d", h.allocCount, allocCount)
	}
	if freeCount != h.freeCount {
		return errors.Errorf("the free block count of the heap is %d, but there were only %d free blocks", h.freeCount, freeCount)
	}
	if freeBytes != h.freeBytes {
		return errors.Errorf("the free size of the heap is %d, but the free blocks only added up to %d", h.freeBytes, freeBytes)
	}

	if err := h.validateFreeLists(freeCount); err != nil {
		return err
	}

	if h.live != nil {
		if err := h.validateRegistry(); err != nil {
			return err
		}
	}

	return nil
}

// maxBlockCount is an upper bound on the number of blocks the heap can hold,
// used to keep list walks finite on a corrupted heap.
func (h *Heap) maxBlockCount() int {
	return h.Size()/miniBlockSize + 1
}

// validateFreeListMembership checks that the free block at off is reachable
// from the head of the size class list matching its size.
func (h *Heap) validateFreeListMembership(off, size int) error {
	class := segClassFor(size)
	head := h.free.heads[class]
	if head == nilBlock {
		return errors.Errorf("free block at offset %d is missing from its size class list %d, which is empty", off, class)
	}

	b := blockRef{h, head}
	for steps := 0; steps <= h.maxBlockCount(); steps++ {
		if b.off == off {
			return nil
		}

		next := b.listNext()
		if b.isMini() {
			next = b.miniNext()
		}
		if next == head {
			return errors.Errorf("free block at offset %d is missing from its size class list %d", off, class)
		}
		b = blockRef{h, next}
	}

	return errors.Errorf("size class list %d does not close back on its head", class)
}

// validateFreeLists walks every size class list, checking that every listed
// block is a free block of the right size class and that the lists
// collectively hold exactly the heap's free blocks.
func (h *Heap) validateFreeLists(expectedCount int) error {
	listed := 0

	for class := 0; class < segClassCount; class++ {
		head := h.free.heads[class]
		if head == nilBlock {
			continue
		}

		b := blockRef{h, head}
		for steps := 0; ; steps++ {
			if steps > h.maxBlockCount() {
				return errors.Errorf("size class list %d does not close back on its head", class)
			}

			if b.off < h.start || b.off >= h.end {
				return errors.Errorf("size class list %d links to offset %d, which is outside the heap", class, b.off)
			}
			if b.allocated() {
				return errors.Errorf("block at offset %d is in size class list %d but is not free", b.off, class)
			}
			if segClassFor(b.size()) != class {
				return errors.Errorf("block at offset %d with size %d is in size class list %d but belongs in %d", b.off, b.size(), class, segClassFor(b.size()))
			}

			if !b.isMini() {
				next := blockRef{h, b.listNext()}
				if next.listPrev() != b.off {
					return errors.Errorf("block at offset %d lists the block at offset %d as its next block, but the reverse reference is broken", b.off, next.off)
				}
			}

			listed++
			next := b.listNext()
			if b.isMini() {
				next = b.miniNext()
			}
			if next == head {
				break
			}
			b = blockRef{h, next}
		}
	}

	if listed != expectedCount {
		return errors.Errorf("the number of free blocks in the heap and the number of blocks in the free lists do not match! free lists: %d, heap walk: %d", listed, expectedCount)
	}

	return nil
}

// validateRegistry cross-checks the live allocation registry against the
// heap when TrackAllocations is enabled.
func (h *Heap) validateRegistry() error {
	var err error
	count := 0

	h.live.Iter(func(p Pointer, size int) bool {
		count++

		var b blockRef
		b, err = h.blockForPayload(p)
		if err != nil {
			err = errors.Errorf("the registry tracks pointer %d, which does not reference a live allocation", int(p))
			return true
		}
		if b.payloadSize() < size {
			err = errors.Errorf("the registry tracks pointer %d with size %d, but its block only has a %d-byte payload", int(p), size, b.payloadSize())
			return true
		}
		return false
	})

	if err != nil {
		return err
	}
	if count != h.allocCount {
		return errors.Errorf("the registry tracks %d allocations, but the heap has %d", count, h.allocCount)
	}
	return nil
}

// CheckCorruption verifies the anti-corruption markers written after every
// allocation. Markers are only written when segheap is built with the
// debug_segheap build tag; without it this method cannot fail, but it walks
// the heap regardless, so only call it when memutils.DebugMargin is not 0.
func (h *Heap) CheckCorruption() error {
	return h.VisitAllBlocks(func(off, size int, free bool) error {
		if free {
			return nil
		}
		if !memutils.ValidateMagicValue(h.buf, off+size-memutils.DebugMargin) {
			return errors.Errorf("memory corruption detected after the allocation at offset %d", off)
		}
		return nil
	})
}
