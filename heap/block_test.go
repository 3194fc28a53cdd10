package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memkit/segheap/memutils"
)

func TestPrevThroughRegularFooter(t *testing.T) {
	h := newTestHeap(t)

	blocks := carveFreeBlocks(t, h, 100)
	freed := blocks[0]

	next := freed.next()
	require.True(t, next.allocated())
	require.False(t, next.prevAllocated())

	back, ok := next.prev()
	require.True(t, ok)
	require.Equal(t, freed.off, back.off)
}

func TestPrevThroughMiniLinkWord(t *testing.T) {
	h := newTestHeap(t)

	// two free miniblocks: the second one's link word holds a real offset,
	// and backward traversal must still decode the fixed miniblock size
	// from the status bits mirrored into it
	blocks := carveFreeBlocks(t, h, 8, 8)
	mini := blocks[1]
	require.True(t, mini.isMini())
	require.NotEqual(t, nilBlock, mini.miniNext())

	next := mini.next()
	back, ok := next.prev()
	require.True(t, ok)
	require.Equal(t, mini.off, back.off)
}

func TestPrevStopsAtPrologue(t *testing.T) {
	h := newTestHeap(t)

	p, err := h.Malloc(100)
	require.NoError(t, err)
	b, err := h.blockForPayload(p)
	require.NoError(t, err)
	require.Equal(t, h.start, b.off)

	_, ok := b.prev()
	require.False(t, ok)
}

func TestSyncNextPrevAlloc(t *testing.T) {
	h := newTestHeap(t)

	p1, err := h.Malloc(100)
	require.NoError(t, err)
	p2, err := h.Malloc(100)
	require.NoError(t, err)

	b1, err := h.blockForPayload(p1)
	require.NoError(t, err)
	b2, err := h.blockForPayload(p2)
	require.NoError(t, err)
	require.True(t, b2.prevAllocated())

	require.NoError(t, h.Free(p1))
	require.False(t, b2.prevAllocated())
	require.False(t, b1.allocated())
}

func TestAllocatedPayloadHasNoFooter(t *testing.T) {
	h := newTestHeap(t)

	p, err := h.Malloc(104)
	require.NoError(t, err)
	b, err := h.blockForPayload(p)
	require.NoError(t, err)

	// every byte of the payload is usable, including the block's last word
	require.Equal(t, b.size()-wordSize, b.payloadSize()+memutils.DebugMargin)

	payload, err := h.Bytes(p)
	require.NoError(t, err)
	for i := range payload {
		payload[i] = 0xAB
	}
	require.NoError(t, h.Validate())
}
