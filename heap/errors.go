package heap

import "github.com/pkg/errors"

// ErrOutOfMemory is returned from Malloc, Realloc and Calloc when the memory source
// cannot extend the heap far enough to satisfy the request. The heap remains fully
// usable: the request can be retried after other allocations are freed.
var ErrOutOfMemory error = errors.New("segheap: out of memory")

// ErrSizeOverflow is returned from Malloc, Realloc and Calloc when the requested
// size overflows the block arithmetic.
var ErrSizeOverflow error = errors.New("segheap: allocation size overflows")

// ErrBadPointer is returned when a pointer does not reference the payload of a live
// allocation in this heap.
var ErrBadPointer error = errors.New("segheap: pointer does not reference a live allocation")
