package heap

// Block metadata is packed into single 8-byte boundary words. Since block
// sizes are always multiples of the 16-byte alignment, the low 4 bits of a
// size are always zero and can carry status flags instead. Miniblock
// free-list links reuse the same trick: link offsets are themselves
// 8-aligned, leaving the low 3 bits for status flags.

const (
	// wordSize is the size in bytes of one boundary word (header or footer)
	wordSize = 8
	// blockAlignment is the alignment of every block size and payload offset
	blockAlignment = 16
	// miniBlockSize is the size in bytes of a miniblock: a header plus a
	// single word that holds either the payload or the free-list link
	miniBlockSize = 16
	// minBlockSize is the minimum size in bytes of a regular block: header,
	// two free-list links and a footer
	minBlockSize = 4 * wordSize
	// chunkSize is the minimum number of bytes requested from the memory
	// source when the heap must grow
	chunkSize = 1 << 12
)

const (
	allocMask     uint64 = 0x1
	prevAllocMask uint64 = 0x2
	miniMask      uint64 = 0x4
	sizeMask             = ^uint64(0xF)
	miniLinkMask         = ^uint64(0x7)
)

// packWord encodes a boundary word from a block size and its status flags.
// The mini flag is derived from the size rather than passed in: every block
// smaller than minBlockSize is a miniblock.
func packWord(size int, prevAlloc, alloc bool) uint64 {
	word := uint64(size)
	if alloc {
		word |= allocMask
	}
	if prevAlloc {
		word |= prevAllocMask
	}
	if size != 0 && size < minBlockSize {
		word |= miniMask
	}
	return word
}

// sizeFromWord decodes the block size from a boundary word. Miniblocks
// store status bits in their link word rather than a real size, so the mini
// flag forces the fixed miniblock size. This is what makes footer-based
// backward traversal work when the preceding block is a free miniblock: the
// miniblock's link word sits where a footer would be, and its mini bit
// yields the correct size.
func sizeFromWord(word uint64) int {
	if word&miniMask != 0 {
		return miniBlockSize
	}
	return int(word & sizeMask)
}

func allocFromWord(word uint64) bool {
	return word&allocMask != 0
}

func prevAllocFromWord(word uint64) bool {
	return word&prevAllocMask != 0
}

func miniFromWord(word uint64) bool {
	return word&miniMask != 0
}

// statusBits extracts the low flag bits of a word, as stored in miniblock
// link words.
func statusBits(word uint64) uint64 {
	return word &^ miniLinkMask
}
