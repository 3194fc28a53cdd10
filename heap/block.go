package heap

import "github.com/memkit/segheap/memutils"

// blockRef is a view over one block's backing bytes, addressed by the offset
// of its header word. The same bytes are interpreted differently depending
// on the block's state: an allocated block is header + payload, a free
// regular block is header + intrusive list links + footer, and a free
// miniblock is header + a single link word. blockRef is a value type and is
// never retained across operations that can move or resize blocks.
type blockRef struct {
	h   *Heap
	off int
}

func (b blockRef) header() uint64 {
	return b.h.word(b.off)
}

func (b blockRef) size() int {
	return sizeFromWord(b.header())
}

func (b blockRef) allocated() bool {
	return allocFromWord(b.header())
}

func (b blockRef) prevAllocated() bool {
	return prevAllocFromWord(b.header())
}

func (b blockRef) isMini() bool {
	return miniFromWord(b.header())
}

// payloadOff returns the offset of the first payload byte.
func (b blockRef) payloadOff() int {
	return b.off + wordSize
}

// payloadSize returns the number of bytes the client may use. Allocated
// blocks carry no footer, so the only overhead is the header word and the
// debug margin, if any.
func (b blockRef) payloadSize() int {
	return b.size() - wordSize - memutils.DebugMargin
}

// next returns the physically adjacent block that follows b. Must not be
// called on the epilogue.
func (b blockRef) next() blockRef {
	return blockRef{b.h, b.off + b.size()}
}

// prev returns the physically adjacent block that precedes b. It locates
// the predecessor through its footer, so it may only be called when the
// predecessor is known to be free (the prevAllocated bit is clear). The
// second return value is false when b is the first block in the heap.
func (b blockRef) prev() (blockRef, bool) {
	footer := b.h.word(b.off - wordSize)
	size := sizeFromWord(footer)
	if size == 0 {
		// the prologue
		return blockRef{}, false
	}
	return blockRef{b.h, b.off - size}, true
}

// write stores the header word and, for free blocks, the footer or mini
// link status bits. Free-list links inside the payload are left untouched,
// so a block can be rewritten while linked.
func (b blockRef) write(size int, prevAlloc, alloc bool) {
	word := packWord(size, prevAlloc, alloc)
	b.h.putWord(b.off, word)

	// allocated blocks and miniblocks carry no footer
	if !alloc && size >= minBlockSize {
		b.h.putWord(b.off+size-wordSize, word)
	}

	// a free miniblock mirrors its status bits into the low bits of its
	// link word, where backward traversal expects to find a footer
	if !alloc && size < minBlockSize {
		link := b.h.word(b.off+wordSize) & miniLinkMask
		b.h.putWord(b.off+wordSize, link|statusBits(word))
	}
}

// writeEpilogue stores a zero-size allocated boundary header at b.
func (b blockRef) writeEpilogue(prevAlloc bool) {
	b.h.putWord(b.off, packWord(0, prevAlloc, true))
}

// syncNextPrevAlloc refreshes the prevAllocated bit of the physically
// following block (or the epilogue) to match b's allocation status.
func (b blockRef) syncNextPrevAlloc() {
	next := b.next()
	if size := next.size(); size != 0 {
		next.write(size, b.allocated(), next.allocated())
	} else {
		next.writeEpilogue(b.allocated())
	}
}

// Free-list links of a regular free block live in the first two payload
// words. Links are header offsets; nilBlock marks the empty link.

const nilBlock = 0

func (b blockRef) listNext() int {
	return int(b.h.word(b.off + wordSize))
}

func (b blockRef) setListNext(off int) {
	b.h.putWord(b.off+wordSize, uint64(off))
}

func (b blockRef) listPrev() int {
	return int(b.h.word(b.off + 2*wordSize))
}

func (b blockRef) setListPrev(off int) {
	b.h.putWord(b.off+2*wordSize, uint64(off))
}

// A free miniblock has room for a single link. Its low bits double as the
// block's status bits and must survive link updates.

func (b blockRef) miniNext() int {
	return int(b.h.word(b.off+wordSize) & miniLinkMask)
}

func (b blockRef) setMiniNext(off int) {
	bits := statusBits(b.h.word(b.off + wordSize))
	b.h.putWord(b.off+wordSize, uint64(off)|bits)
}
