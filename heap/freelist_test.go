package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T) *Heap {
	h, err := New(NewArenaMemory(1<<20), Config{})
	require.NoError(t, err)
	return h
}

// carveFreeBlocks produces one isolated free block per requested payload
// size. All payloads are allocated first, each followed by a small guard
// allocation, then freed in the given order, so the freed blocks can never
// coalesce with each other and the free order dictates list order.
func carveFreeBlocks(t *testing.T, h *Heap, payloadSizes ...int) []blockRef {
	pointers := make([]Pointer, len(payloadSizes))
	blocks := make([]blockRef, len(payloadSizes))

	for i, size := range payloadSizes {
		p, err := h.Malloc(size)
		require.NoError(t, err)
		pointers[i] = p

		_, err = h.Malloc(8) // guard against coalescing
		require.NoError(t, err)

		blocks[i], err = h.blockForPayload(p)
		require.NoError(t, err)
	}

	for _, p := range pointers {
		require.NoError(t, h.Free(p))
	}
	return blocks
}

func TestInsertFreeLIFO(t *testing.T) {
	h := newTestHeap(t)

	blocks := carveFreeBlocks(t, h, 100, 100)
	b1, b2 := blocks[0], blocks[1]

	class := segClassFor(b1.size())
	require.Equal(t, class, segClassFor(b2.size()))

	// most recently freed block is the head of its class
	require.Equal(t, b2.off, h.free.heads[class])
	require.Equal(t, b1.off, b2.listNext())
	require.Equal(t, b1.off, b2.listPrev())
	require.Equal(t, b2.off, b1.listNext())
	require.Equal(t, b2.off, b1.listPrev())

	require.NoError(t, h.Validate())
}

func TestRemoveFreeSoleElement(t *testing.T) {
	h := newTestHeap(t)

	b := carveFreeBlocks(t, h, 100)[0]
	class := segClassFor(b.size())
	require.Equal(t, b.off, h.free.heads[class])

	h.removeFree(b)
	require.Equal(t, nilBlock, h.free.heads[class])
	require.Equal(t, nilBlock, b.listNext())
	require.Equal(t, nilBlock, b.listPrev())

	// the index no longer references the block, so put it back before the
	// heap walk cross-check would notice
	h.insertFree(b)
	require.NoError(t, h.Validate())
}

func TestRemoveFreeHeadAndInterior(t *testing.T) {
	h := newTestHeap(t)

	blocks := carveFreeBlocks(t, h, 200, 200, 200)
	b1, b2, b3 := blocks[0], blocks[1], blocks[2]
	class := segClassFor(b1.size())
	require.Equal(t, b3.off, h.free.heads[class])

	// interior removal
	h.removeFree(b2)
	require.Equal(t, b3.off, h.free.heads[class])
	require.Equal(t, b1.off, b3.listNext())
	require.Equal(t, b3.off, b1.listPrev())

	// head removal promotes the next block
	h.removeFree(b3)
	require.Equal(t, b1.off, h.free.heads[class])
	require.Equal(t, b1.off, b1.listNext())
	require.Equal(t, b1.off, b1.listPrev())

	h.insertFree(b2)
	h.insertFree(b3)
	require.NoError(t, h.Validate())
}

func TestMiniblockListLinks(t *testing.T) {
	h := newTestHeap(t)

	blocks := carveFreeBlocks(t, h, 8, 8)
	b1, b2 := blocks[0], blocks[1]
	require.True(t, b1.isMini())
	require.Equal(t, miniBlockSize, b1.size())

	// the head stays put; miniblocks splice in directly after it
	class := segClassFor(miniBlockSize)
	require.Equal(t, b1.off, h.free.heads[class])
	require.Equal(t, b2.off, b1.miniNext())
	require.Equal(t, b1.off, b2.miniNext())

	h.removeFree(b2)
	require.Equal(t, b1.off, b1.miniNext())
	require.Equal(t, nilBlock, b2.miniNext())

	h.insertFree(b2)
	require.NoError(t, h.Validate())
}

func TestFindFitPrefersTighterBlock(t *testing.T) {
	h := newTestHeap(t)

	// 384- and 480-byte blocks, both in size class [384,512)
	blocks := carveFreeBlocks(t, h, 368, 464)
	require.Equal(t, 384, blocks[0].size())
	require.Equal(t, 480, blocks[1].size())

	// the 480 block heads the list, but the better-fit search keeps looking
	// and settles on the tighter 384 block
	b, ok := h.findFit(384)
	require.True(t, ok)
	require.Equal(t, blocks[0].off, b.off)
}

func TestFindFitExactMatchStopsEarly(t *testing.T) {
	h := newTestHeap(t)

	blocks := carveFreeBlocks(t, h, 120, 120)

	b, ok := h.findFit(128)
	require.True(t, ok)
	require.Equal(t, 128, b.size())
	// exact match returns the most recently freed candidate in LIFO order
	require.Equal(t, blocks[1].off, b.off)
}

func TestFindFitFallsBackToLargerClass(t *testing.T) {
	h := newTestHeap(t)

	big := carveFreeBlocks(t, h, 1040)[0] // 1056 bytes, class [1024,2048)

	b, ok := h.findFit(64)
	require.True(t, ok)
	require.Equal(t, big.off, b.off)
}

func TestFindFitRespectsSearchBound(t *testing.T) {
	h, err := New(NewArenaMemory(1<<20), Config{BetterFitLimit: 1})
	require.NoError(t, err)

	// head of the class is a loose fit; with the search bounded to a single
	// candidate, the tighter 384 block deeper in the list is never reached
	carveFreeBlocks(t, h, 368, 464, 464)

	b, ok := h.findFit(384)
	require.True(t, ok)
	require.Equal(t, 480, b.size())
}

func TestFindFitMissReturnsFalse(t *testing.T) {
	h := newTestHeap(t)

	_, ok := h.findFit(1 << 16)
	require.False(t, ok)
}
