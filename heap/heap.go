package heap

import (
	"encoding/binary"
	"math"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/memkit/segheap/memutils"
)

// Pointer identifies the payload of a live allocation. It is the byte offset
// of the payload within the heap's memory source.
type Pointer int

// NullPointer is the null allocation. Offset 0 always falls inside the heap
// prologue, so no real payload can ever be located there.
const NullPointer Pointer = 0

// maxAllocSize is the largest payload request whose block size survives the
// header, margin and alignment rounding without overflowing an int.
const maxAllocSize = math.MaxInt - wordSize - memutils.DebugMargin - (blockAlignment - 1)

// DefaultBetterFitLimit is the number of extra free blocks the fit search
// inspects after finding the first candidate, when Config does not override it.
const DefaultBetterFitLimit = 20

// Config contains optional settings when creating a Heap
type Config struct {
	// BetterFitLimit bounds the better-fit search: after the first suitable
	// free block is found, at most this many further candidates are inspected
	// in the hope of a tighter fit. Zero selects DefaultBetterFitLimit.
	BetterFitLimit int

	// TrackAllocations maintains a registry of live payload pointers. It makes
	// Free and Realloc reject pointers that do not reference a live allocation,
	// lets Validate cross-check the registry against the heap, and enables
	// LogUnfreedAllocations. It costs one map operation per Malloc/Free.
	TrackAllocations bool
}

// Heap is a single growable heap region packed with allocated and free
// blocks. Blocks are carved from the region by splitting, reclaimed by
// adjacency coalescing, and indexed by a segregated free list.
//
// A Heap is not safe for concurrent use. Callers that share one across
// goroutines must serialize access externally.
type Heap struct {
	mem Memory
	buf []byte
	cfg Config

	betterFitLimit int

	// start is the offset of the first block header, one word past the
	// prologue. end is the offset of the epilogue header.
	start int
	end   int

	free       freeIndex
	allocCount int
	freeCount  int
	freeBytes  int

	live *swiss.Map[Pointer, int]
}

// New initializes a heap on the provided memory source: the prologue and
// epilogue sentinels are written and the free-list index is emptied. The
// source's current break must be aligned to the block alignment.
func New(mem Memory, config Config) (*Heap, error) {
	if config.BetterFitLimit == 0 {
		config.BetterFitLimit = DefaultBetterFitLimit
	}
	if config.BetterFitLimit < 0 {
		return nil, cerrors.Newf("segheap: invalid better-fit limit %d", config.BetterFitLimit)
	}

	h := &Heap{
		mem:            mem,
		cfg:            config,
		betterFitLimit: config.BetterFitLimit,
	}

	base, err := h.sbrk(2 * wordSize)
	if err != nil {
		return nil, err
	}
	if err := memutils.CheckAligned(uint(base), blockAlignment, "memory source break"); err != nil {
		return nil, err
	}

	// prologue and initial epilogue, both zero-size allocated sentinels
	blockRef{h, base}.writeEpilogue(true)
	h.start = base + wordSize
	h.end = h.start
	blockRef{h, h.end}.writeEpilogue(true)

	if config.TrackAllocations {
		h.live = swiss.NewMap[Pointer, int](64)
	}

	return h, nil
}

// Size returns the number of bytes between the prologue and the epilogue,
// i.e. the total size of all blocks in the heap.
func (h *Heap) Size() int {
	return h.end - h.start
}

// AllocationCount returns the number of live allocations.
func (h *Heap) AllocationCount() int {
	return h.allocCount
}

// FreeRegionsCount returns the number of free blocks in the heap. Adjacent
// free blocks are always coalesced, so each counted region is surrounded by
// allocated memory or heap boundaries.
func (h *Heap) FreeRegionsCount() int {
	return h.freeCount
}

// SumFreeSize returns the number of free bytes in the heap.
func (h *Heap) SumFreeSize() int {
	return h.freeBytes
}

// IsEmpty returns true if the heap has no live allocations
func (h *Heap) IsEmpty() bool {
	return h.allocCount == 0
}

func (h *Heap) word(off int) uint64 {
	return binary.LittleEndian.Uint64(h.buf[off:])
}

func (h *Heap) putWord(off int, w uint64) {
	binary.LittleEndian.PutUint64(h.buf[off:], w)
}

// sbrk wraps the memory source's growth primitive and refreshes the heap's
// view of the backing bytes.
func (h *Heap) sbrk(incr int) (int, error) {
	oldEnd, err := h.mem.Sbrk(incr)
	if err != nil {
		return 0, err
	}
	h.buf = h.mem.Bytes()
	return oldEnd, nil
}

// Malloc allocates a block with a payload of at least size bytes and returns
// a pointer to the payload. A zero size is a no-op that returns NullPointer.
// A size too large for the block arithmetic yields an error wrapping
// ErrSizeOverflow. Otherwise Malloc fails only when the memory source cannot
// extend the heap, in which case the error wraps ErrOutOfMemory and the heap
// remains consistent.
func (h *Heap) Malloc(size int) (Pointer, error) {
	if size == 0 {
		return NullPointer, nil
	}
	if size < 0 {
		return NullPointer, cerrors.Newf("segheap: negative allocation size %d", size)
	}
	if size > maxAllocSize {
		return NullPointer, cerrors.Wrapf(ErrSizeOverflow, "allocation size %d", size)
	}

	asize := memutils.AlignUp(size+wordSize+memutils.DebugMargin, blockAlignment)

	b, ok := h.findFit(asize)
	if !ok {
		var err error
		b, err = h.extendHeap(memutils.Max(asize, chunkSize))
		if err != nil {
			return NullPointer, err
		}
	}

	h.removeFree(b)
	b.write(b.size(), b.prevAllocated(), true)
	b.syncNextPrevAlloc()

	h.split(b, asize)
	h.allocCount++

	if memutils.DebugMargin > 0 {
		memutils.WriteMagicValue(h.buf, b.off+b.size()-memutils.DebugMargin)
	}

	p := Pointer(b.payloadOff())
	if h.live != nil {
		h.live.Put(p, size)
	}

	memutils.DebugValidate(h)
	return p, nil
}

// Free returns the allocation referenced by p to the heap, coalescing it
// with free neighbors and reinserting the result into the free-list index.
// Freeing NullPointer is a no-op. A pointer that does not reference a live
// allocation yields an error wrapping ErrBadPointer.
func (h *Heap) Free(p Pointer) error {
	if p == NullPointer {
		return nil
	}

	b, err := h.blockForPayload(p)
	if err != nil {
		return err
	}
	if h.live != nil {
		if _, tracked := h.live.Get(p); !tracked {
			return cerrors.Wrapf(ErrBadPointer, "pointer %d is not in the live allocation registry", int(p))
		}
		h.live.Delete(p)
	}

	b.write(b.size(), b.prevAllocated(), false)
	b.syncNextPrevAlloc()

	b = h.coalesce(b)
	h.insertFree(b)
	h.allocCount--

	memutils.DebugValidate(h)
	return nil
}

// Realloc resizes the allocation referenced by p to at least size bytes,
// preserving the payload prefix that fits in both the old and new sizes.
// Realloc(NullPointer, size) behaves like Malloc(size); Realloc(p, 0)
// behaves like Free(p) and returns NullPointer. When the current block
// already has room, the pointer is returned unchanged and any excess is
// split off. Otherwise the payload moves to a fresh allocation; if that
// allocation fails, the original block is left untouched.
func (h *Heap) Realloc(p Pointer, size int) (Pointer, error) {
	if size == 0 {
		return NullPointer, h.Free(p)
	}
	if p == NullPointer {
		return h.Malloc(size)
	}
	if size < 0 {
		return NullPointer, cerrors.Newf("segheap: negative allocation size %d", size)
	}
	if size > maxAllocSize {
		return NullPointer, cerrors.Wrapf(ErrSizeOverflow, "allocation size %d", size)
	}

	b, err := h.blockForPayload(p)
	if err != nil {
		return NullPointer, err
	}

	asize := memutils.AlignUp(size+wordSize+memutils.DebugMargin, blockAlignment)
	if asize <= b.size() {
		h.split(b, asize)
		if memutils.DebugMargin > 0 {
			memutils.WriteMagicValue(h.buf, b.off+b.size()-memutils.DebugMargin)
		}
		if h.live != nil {
			h.live.Put(p, size)
		}
		memutils.DebugValidate(h)
		return p, nil
	}

	newP, err := h.Malloc(size)
	if err != nil {
		return NullPointer, err
	}

	copyLen := memutils.Min(size, b.payloadSize())
	copy(h.buf[int(newP):int(newP)+copyLen], h.buf[int(p):int(p)+copyLen])

	if err := h.Free(p); err != nil {
		return NullPointer, err
	}
	return newP, nil
}

// Calloc allocates a zero-filled payload for count elements of elemSize
// bytes each. A zero count is a no-op that returns NullPointer; a total
// size that overflows yields an error wrapping ErrSizeOverflow.
func (h *Heap) Calloc(count, elemSize int) (Pointer, error) {
	if count == 0 {
		return NullPointer, nil
	}

	total := count * elemSize
	if total/count != elemSize {
		return NullPointer, cerrors.Wrapf(ErrSizeOverflow, "%d elements of %d bytes each", count, elemSize)
	}

	p, err := h.Malloc(total)
	if err != nil || p == NullPointer {
		return NullPointer, err
	}

	clear(h.buf[int(p) : int(p)+total])
	return p, nil
}

// Bytes returns the payload of the live allocation referenced by p. The
// slice may be longer than the requested allocation size, up to the block's
// payload capacity, and is invalidated when the allocation is freed or
// resized.
func (h *Heap) Bytes(p Pointer) ([]byte, error) {
	b, err := h.blockForPayload(p)
	if err != nil {
		return nil, err
	}
	return h.buf[int(p) : int(p)+b.payloadSize()], nil
}

// PayloadSize returns the payload capacity in bytes of the live allocation
// referenced by p.
func (h *Heap) PayloadSize(p Pointer) (int, error) {
	b, err := h.blockForPayload(p)
	if err != nil {
		return 0, err
	}
	return b.payloadSize(), nil
}

func (h *Heap) blockForPayload(p Pointer) (blockRef, error) {
	off := int(p) - wordSize
	if off < h.start || off >= h.end || int(p)%blockAlignment != 0 {
		return blockRef{}, cerrors.Wrapf(ErrBadPointer, "pointer %d is not a payload offset inside the heap", int(p))
	}

	b := blockRef{h, off}
	if !b.allocated() {
		return blockRef{}, cerrors.Wrapf(ErrBadPointer, "pointer %d references a free block", int(p))
	}
	return b, nil
}

// extendHeap grows the heap by at least size bytes, wraps the new space as
// one free block in place of the old epilogue, coalesces it with a free
// predecessor and inserts it into the free-list index.
func (h *Heap) extendHeap(size int) (blockRef, error) {
	size = memutils.AlignUp(size, blockAlignment)

	if _, err := h.sbrk(size); err != nil {
		return blockRef{}, err
	}

	// the old epilogue header becomes the new block's header
	b := blockRef{h, h.end}
	prevAlloc := b.prevAllocated()
	h.end += size

	b.write(size, prevAlloc, false)
	b.next().writeEpilogue(false)

	b = h.coalescePrev(b)
	h.insertFree(b)
	return b, nil
}

// split carves the tail of an allocated block into a new free block when the
// leftover is at least one miniblock. The leftover coalesces with a free
// successor before entering the free-list index.
func (h *Heap) split(b blockRef, asize int) {
	blockSize := b.size()
	if blockSize-asize < miniBlockSize {
		return
	}

	b.write(asize, b.prevAllocated(), true)

	rest := blockRef{h, b.off + asize}
	rest.write(blockSize-asize, true, false)
	rest.syncNextPrevAlloc()

	rest = h.coalesceNext(rest)
	h.insertFree(rest)
}

// coalesce merges a free block with its free physical neighbors on both
// sides. Neighbors are pulled out of the free-list index first, since the
// merged size may land in a different size class. The caller inserts the
// returned block.
func (h *Heap) coalesce(b blockRef) blockRef {
	prevFree := !b.prevAllocated()
	next := b.next()
	nextFree := !next.allocated()

	switch {
	case prevFree && !nextFree:
		prev, ok := b.prev()
		if ok {
			h.removeFree(prev)
			prev.write(prev.size()+b.size(), prev.prevAllocated(), false)
			b = prev
		}
	case !prevFree && nextFree:
		h.removeFree(next)
		b.write(b.size()+next.size(), b.prevAllocated(), false)
	case prevFree && nextFree:
		prev, ok := b.prev()
		if !ok {
			h.removeFree(next)
			b.write(b.size()+next.size(), b.prevAllocated(), false)
			break
		}
		h.removeFree(next)
		h.removeFree(prev)
		prev.write(prev.size()+b.size()+next.size(), prev.prevAllocated(), false)
		b = prev
	}

	return b
}

// coalesceNext merges a free block with its free successor only.
func (h *Heap) coalesceNext(b blockRef) blockRef {
	next := b.next()
	if !next.allocated() {
		h.removeFree(next)
		b.write(b.size()+next.size(), b.prevAllocated(), false)
	}
	return b
}

// coalescePrev merges a free block with its free predecessor only.
func (h *Heap) coalescePrev(b blockRef) blockRef {
	if b.prevAllocated() {
		return b
	}
	prev, ok := b.prev()
	if !ok {
		return b
	}
	h.removeFree(prev)
	prev.write(prev.size()+b.size(), prev.prevAllocated(), false)
	return prev
}
