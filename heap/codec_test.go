package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackWordRoundTrip(t *testing.T) {
	for _, size := range []int{32, 48, 64, 4096, 1 << 20} {
		for _, alloc := range []bool{false, true} {
			for _, prevAlloc := range []bool{false, true} {
				word := packWord(size, prevAlloc, alloc)

				require.Equal(t, size, sizeFromWord(word))
				require.Equal(t, alloc, allocFromWord(word))
				require.Equal(t, prevAlloc, prevAllocFromWord(word))
				require.False(t, miniFromWord(word))
			}
		}
	}
}

func TestPackWordMini(t *testing.T) {
	word := packWord(miniBlockSize, true, false)

	require.True(t, miniFromWord(word))
	require.Equal(t, miniBlockSize, sizeFromWord(word))
	require.True(t, prevAllocFromWord(word))
	require.False(t, allocFromWord(word))
}

func TestPackWordSentinel(t *testing.T) {
	// prologue and epilogue are zero-size allocated words with no mini flag
	word := packWord(0, true, true)

	require.Equal(t, 0, sizeFromWord(word))
	require.False(t, miniFromWord(word))
	require.True(t, allocFromWord(word))
}

func TestSizeFromWordIgnoresMiniLinkBits(t *testing.T) {
	// a free miniblock's link word carries an offset in its high bits and
	// status bits in its low bits; the size decode must not be confused
	linkWord := uint64(0x12345678)&miniLinkMask | miniMask | prevAllocMask

	require.Equal(t, miniBlockSize, sizeFromWord(linkWord))
	require.False(t, allocFromWord(linkWord))
}

func TestSegClassForBounds(t *testing.T) {
	cases := []struct {
		size  int
		class int
	}{
		{16, 0},
		{31, 0},
		{32, 1},
		{48, 2},
		{63, 2},
		{64, 3},
		{96, 4},
		{127, 4},
		{128, 5},
		{255, 5},
		{256, 6},
		{384, 7},
		{512, 8},
		{1023, 8},
		{1024, 9},
		{2048, 10},
		{4096, 11},
		{8191, 11},
		{8192, 12},
		{1 << 30, 12},
	}

	for _, c := range cases {
		require.Equal(t, c.class, segClassFor(c.size), "size %d", c.size)
	}
}

func TestSegClassForMonotonic(t *testing.T) {
	prev := 0
	for size := miniBlockSize; size <= 10000; size += blockAlignment {
		class := segClassFor(size)
		require.GreaterOrEqual(t, class, prev, "size %d", size)
		prev = class
	}
}
