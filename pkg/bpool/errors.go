package bpool

import "errors"

// Sentinel error kinds. Each is fatal only to the triggering call; the pool
// remains usable afterwards unless otherwise noted.
var (
	// ErrBadFile is returned when the backing file is missing, too small,
	// or misaligned to the page/block size.
	ErrBadFile = errors.New("bpool: bad file")

	// ErrOutOfMemory is returned when the VM reservation or the arena
	// allocator cannot satisfy a request.
	ErrOutOfMemory = errors.New("bpool: out of memory")

	// ErrOutOfRange is returned when a page index is past page_count.
	ErrOutOfRange = errors.New("bpool: page index out of range")

	// ErrCorruptPage is returned when a page fails verification on load.
	ErrCorruptPage = errors.New("bpool: corrupt page")

	// ErrTooManyThreads is returned when the thread registry is full.
	ErrTooManyThreads = errors.New("bpool: too many threads")

	// ErrShutdown is returned for any operation attempted after Close.
	ErrShutdown = errors.New("bpool: pool is closed")
)
