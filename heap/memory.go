package heap

import (
	cerrors "github.com/cockroachdb/errors"
)

// Memory is the primitive a Heap draws its backing storage from. Implementations
// own a contiguous, growable region of bytes addressed from offset 0.
type Memory interface {
	// Sbrk extends the region by incr bytes and returns the offset of the previous
	// end of the region. incr must be non-negative. When the region cannot grow,
	// Sbrk returns an error wrapping ErrOutOfMemory and leaves the region unchanged.
	Sbrk(incr int) (int, error)
	// Bytes returns the current region. The slice is invalidated by the next call
	// to Sbrk.
	Bytes() []byte
}

// ArenaMemory is an in-process Memory backed by a byte slice with a fixed byte
// limit. Reaching the limit simulates out-of-memory rather than growing further.
type ArenaMemory struct {
	buf   []byte
	limit int
}

var _ Memory = (*ArenaMemory)(nil)

// NewArenaMemory creates an ArenaMemory that will refuse to grow beyond limit
// bytes. The full capacity is reserved up front so that Sbrk never relocates
// previously returned bytes.
func NewArenaMemory(limit int) *ArenaMemory {
	return &ArenaMemory{
		buf:   make([]byte, 0, limit),
		limit: limit,
	}
}

func (m *ArenaMemory) Sbrk(incr int) (int, error) {
	if incr < 0 {
		return 0, cerrors.Newf("segheap: negative sbrk increment %d", incr)
	}

	oldEnd := len(m.buf)
	if oldEnd+incr > m.limit {
		return 0, cerrors.Wrapf(ErrOutOfMemory, "cannot extend heap from %d by %d bytes, limit is %d", oldEnd, incr, m.limit)
	}

	m.buf = m.buf[:oldEnd+incr]
	return oldEnd, nil
}

func (m *ArenaMemory) Bytes() []byte {
	return m.buf
}
