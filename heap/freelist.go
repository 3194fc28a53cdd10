package heap

// The free-list index groups free blocks into size classes. Every class owns
// one circular list threaded through the payloads of its free blocks:
// doubly-linked for regular blocks, singly-linked for miniblocks. Insertion
// is LIFO so that recently freed memory is reused first.

// segClassCount is the number of size classes in the index.
const segClassCount = 13

// segClassBounds holds the inclusive lower bound of each size class. The
// classes are half-open intervals: class i covers [segClassBounds[i],
// segClassBounds[i+1]), and the last class is unbounded above.
var segClassBounds = [segClassCount]int{
	16, 32, 48, 64, 96, 128, 256, 384, 512, 1024, 2048, 4096, 8192,
}

// segClassFor maps a block size to the index of its size class. Larger
// sizes never map to a smaller class.
func segClassFor(size int) int {
	for i := 1; i < segClassCount; i++ {
		if size < segClassBounds[i] {
			return i - 1
		}
	}
	return segClassCount - 1
}

// freeIndex holds the head offset of each size class list. A zero head
// marks an empty class.
type freeIndex struct {
	heads [segClassCount]int
}

func (f *freeIndex) clear() {
	f.heads = [segClassCount]int{}
}

// insertFree pushes a free block onto the list for its size class.
// Regular blocks become the new head; miniblocks are linked directly after
// the head, which keeps the single-link splice cheap.
func (h *Heap) insertFree(b blockRef) {
	class := segClassFor(b.size())
	head := h.free.heads[class]

	h.freeCount++
	h.freeBytes += b.size()

	if b.isMini() {
		if head == nilBlock {
			h.free.heads[class] = b.off
			b.setMiniNext(b.off)
			return
		}

		first := blockRef{h, head}
		b.setMiniNext(first.miniNext())
		first.setMiniNext(b.off)
		return
	}

	if head == nilBlock {
		h.free.heads[class] = b.off
		b.setListNext(b.off)
		b.setListPrev(b.off)
		return
	}

	first := blockRef{h, head}
	last := blockRef{h, first.listPrev()}
	b.setListPrev(last.off)
	b.setListNext(first.off)
	first.setListPrev(b.off)
	last.setListNext(b.off)
	h.free.heads[class] = b.off
}

// removeFree splices a free block out of its size class list and clears its
// link words. Miniblock lists are singly linked, so the predecessor is
// found by walking the circle.
func (h *Heap) removeFree(b blockRef) {
	class := segClassFor(b.size())

	h.freeCount--
	h.freeBytes -= b.size()

	next := b.listNext()
	if b.isMini() {
		next = b.miniNext()
	}

	if next == b.off {
		// sole element
		h.free.heads[class] = nilBlock
	} else if b.isMini() {
		prev := b
		for prev.miniNext() != b.off {
			prev = blockRef{h, prev.miniNext()}
		}
		prev.setMiniNext(next)
	} else {
		prev := blockRef{h, b.listPrev()}
		prev.setListNext(next)
		blockRef{h, next}.setListPrev(prev.off)
	}

	if h.free.heads[class] == b.off {
		h.free.heads[class] = next
	}

	if b.isMini() {
		b.setMiniNext(nilBlock)
	} else {
		b.setListNext(nilBlock)
		b.setListPrev(nilBlock)
	}
}

// findFit runs a bounded better-fit search for the smallest free block of at
// least minSize bytes. The search starts in minSize's own class and falls
// back to larger classes while nothing has been found. Once a candidate is
// found, up to betterFitLimit further blocks are inspected in the hope of a
// tighter fit; an exact size match ends the search immediately.
func (h *Heap) findFit(minSize int) (blockRef, bool) {
	var best blockRef
	found := false
	bestSize := 0
	inspected := 0

	for class := segClassFor(minSize); class < segClassCount; class++ {
		head := h.free.heads[class]
		if head == nilBlock {
			continue
		}

		b := blockRef{h, head}
		for {
			size := b.size()
			if size >= minSize && (!found || size < bestSize) {
				best = b
				bestSize = size
				found = true
			}

			if found {
				inspected++
			}

			if bestSize == minSize || inspected >= h.betterFitLimit {
				return best, true
			}

			next := b.listNext()
			if b.isMini() {
				next = b.miniNext()
			}
			if next == head {
				break
			}
			b = blockRef{h, next}
		}

		if found {
			break
		}
	}

	return best, found
}
