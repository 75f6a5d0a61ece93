package bpool

import "math/bits"

const fullMask = uint16(0xFFFF)
const noArena = int32(-1)

// arenaMeta tracks one arena's occupancy. Non-full, non-empty arenas are
// always linked into the mixed-arena list via next; empty, decommitted
// arenas are linked into the free-arena list the same way. A full arena
// is linked into neither.
type arenaMeta struct {
	committed bool
	blockMask uint16
	next      int32
}

// arenaAllocator partitions a vmReservation into BlocksPerArena-block
// arenas and hands out single blocks in O(1) amortized time, via a
// free-arena list (fully decommitted arenas) and a mixed-arena list
// (partially occupied, committed arenas), each a singly linked list
// threaded through arenaMeta.next and addressed by lowest-free-bit.
type arenaAllocator struct {
	vm         *vmReservation
	arenas     []arenaMeta
	freeHead   int32
	mixedHead  int32
	highWater  int
	liveBlocks int
}

func newArenaAllocator(vm *vmReservation, capacityArenas int) *arenaAllocator {
	arenas := make([]arenaMeta, capacityArenas)
	for i := range arenas {
		arenas[i].next = noArena
	}
	return &arenaAllocator{
		vm:        vm,
		arenas:    arenas,
		freeHead:  noArena,
		mixedHead: noArena,
	}
}

func (a *arenaAllocator) pushMixed(idx int32) {
	a.arenas[idx].next = a.mixedHead
	a.mixedHead = idx
}

func (a *arenaAllocator) pushFree(idx int32) {
	a.arenas[idx].next = a.freeHead
	a.freeHead = idx
}

// removeFromMixed unlinks idx from the mixed-arena list. O(n) in the
// number of mixed arenas, acceptable since that count is bounded by
// max_pool/arena_size.
func (a *arenaAllocator) removeFromMixed(idx int32) {
	cur := a.mixedHead
	var prev int32 = noArena
	for cur != noArena {
		if cur == idx {
			if prev == noArena {
				a.mixedHead = a.arenas[cur].next
			} else {
				a.arenas[prev].next = a.arenas[cur].next
			}
			a.arenas[cur].next = noArena
			return
		}
		prev = cur
		cur = a.arenas[cur].next
	}
}

// allocBlock returns a virtual block id whose VM is committed and zeroed.
func (a *arenaAllocator) allocBlock() (uint32, error) {
	if a.mixedHead != noArena {
		idx := a.mixedHead
		m := &a.arenas[idx]
		bit := bits.TrailingZeros16(^m.blockMask)
		m.blockMask |= 1 << uint(bit)
		a.mixedHead = m.next
		m.next = noArena
		if m.blockMask != fullMask {
			a.pushMixed(idx)
		}
		a.liveBlocks++
		vb := uint32(idx)*BlocksPerArena + uint32(bit)
		// A slot freed inside a still-committed arena keeps its old bytes.
		clear(a.vm.blockBytes(vb))
		return vb, nil
	}

	if a.freeHead != noArena {
		idx := a.freeHead
		m := &a.arenas[idx]
		a.freeHead = m.next
		m.next = noArena
		if err := a.vm.commit(int(idx)); err != nil {
			// Put it back; the free list is unaffected by the failed commit.
			a.pushFree(idx)
			return 0, err
		}
		m.committed = true
		m.blockMask = 1
		a.pushMixed(idx)
		a.liveBlocks++
		return uint32(idx) * BlocksPerArena, nil
	}

	idx := a.highWater
	if idx >= len(a.arenas) {
		return 0, ErrOutOfMemory
	}
	if err := a.vm.commit(idx); err != nil {
		return 0, err
	}
	a.highWater++
	a.arenas[idx] = arenaMeta{committed: true, blockMask: 1, next: noArena}
	a.pushMixed(int32(idx))
	a.liveBlocks++
	return uint32(idx) * BlocksPerArena, nil
}

// freeBlock returns vb's VM to the allocator. If its arena becomes empty,
// the arena is decommitted and moved to the free-arena list.
func (a *arenaAllocator) freeBlock(vb uint32) {
	idx := int32(vb / BlocksPerArena)
	bit := vb % BlocksPerArena
	m := &a.arenas[idx]
	wasFull := m.blockMask == fullMask
	m.blockMask &^= 1 << bit
	a.liveBlocks--

	switch {
	case m.blockMask == 0:
		if !wasFull {
			a.removeFromMixed(idx)
		}
		_ = a.vm.decommit(int(idx))
		m.committed = false
		a.pushFree(idx)
	case wasFull:
		a.pushMixed(idx)
	}
}
