package bpool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// vmReservation owns one contiguous anonymous mapping reserved for the
// pool's lifetime. Arenas inside it are committed (PROT_READ|PROT_WRITE,
// zero-filled) and decommitted (MADV_DONTNEED + PROT_NONE) independently;
// the reservation itself is released as a whole on teardown. The mapping
// is anonymous (MAP_ANON) rather than file-backed: the pool reads the
// backing file into committed memory itself and decides independently
// when to hand arenas back to the OS.
type vmReservation struct {
	data      []byte
	arenaSize int
	committed []bool // per-arena commit state, for idempotent commit/decommit
}

// reserveVM reserves bytes (must be an arena multiple) of uncommitted
// address space.
func reserveVM(bytes int) (*vmReservation, error) {
	if bytes <= 0 || bytes%ArenaSize != 0 {
		return nil, fmt.Errorf("%w: reservation size %d is not an arena multiple", ErrOutOfMemory, bytes)
	}
	data, err := unix.Mmap(-1, 0, bytes, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve %d bytes: %v", ErrOutOfMemory, bytes, err)
	}
	return &vmReservation{
		data:      data,
		arenaSize: ArenaSize,
		committed: make([]bool, bytes/ArenaSize),
	}, nil
}

// commit brings arena idx into committed, zero-filled state. Idempotent.
func (vm *vmReservation) commit(idx int) error {
	if vm.committed[idx] {
		return nil
	}
	off := idx * vm.arenaSize
	region := vm.data[off : off+vm.arenaSize]
	if err := unix.Mprotect(region, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("%w: commit arena %d: %v", ErrOutOfMemory, idx, err)
	}
	vm.committed[idx] = true
	return nil
}

// decommit returns arena idx's pages to the OS and revokes access.
// Idempotent.
func (vm *vmReservation) decommit(idx int) error {
	if !vm.committed[idx] {
		return nil
	}
	off := idx * vm.arenaSize
	region := vm.data[off : off+vm.arenaSize]
	// Best effort: MADV_DONTNEED drops the backing pages immediately on
	// Linux; the subsequent PROT_NONE guards against stale reads through
	// any lingering slice alias.
	_ = unix.Madvise(region, unix.MADV_DONTNEED)
	if err := unix.Mprotect(region, unix.PROT_NONE); err != nil {
		return fmt.Errorf("decommit arena %d: %w", idx, err)
	}
	vm.committed[idx] = false
	return nil
}

// releaseAll unreserves the entire range.
func (vm *vmReservation) releaseAll() error {
	return unix.Munmap(vm.data)
}

// blockBytes returns the full BlockSize-byte window for virtual block vb.
// The caller must only touch bytes within a committed arena.
func (vm *vmReservation) blockBytes(vb uint32) []byte {
	off := int(vb) * BlockSize
	return vm.data[off : off+BlockSize]
}
