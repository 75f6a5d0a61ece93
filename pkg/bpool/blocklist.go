package bpool

// blockHeader is the per-virtual-block linkage and per-page thread-lock
// record: a parallel array indexed by virtual block id, rather than
// pointer-chasing through mapped pages, so the intrusive lists below can
// splice blocks in O(1) without touching the mapped page contents.
type blockHeader struct {
	prev, next uint32
	fileBlock  BlockID
	threadMask [PagesPerBlock]uint64
}

// blockList is one of the four intrusive, doubly linked, id-indexed lists
// (locked/unlocked/free/fixed) a resident or free block can belong to. All
// four lists share the same headers backing array since a block belongs
// to exactly one list at a time.
type blockList struct {
	headers    []blockHeader
	head, tail uint32
	length     int
}

func newBlockList(headers []blockHeader) *blockList {
	return &blockList{headers: headers, head: noVBlock, tail: noVBlock}
}

func (l *blockList) Len() int { return l.length }

func (l *blockList) insertHead(vb uint32) {
	h := &l.headers[vb]
	h.prev = noVBlock
	h.next = l.head
	if l.head != noVBlock {
		l.headers[l.head].prev = vb
	}
	l.head = vb
	if l.tail == noVBlock {
		l.tail = vb
	}
	l.length++
}

func (l *blockList) remove(vb uint32) {
	h := &l.headers[vb]
	if h.prev != noVBlock {
		l.headers[h.prev].next = h.next
	} else {
		l.head = h.next
	}
	if h.next != noVBlock {
		l.headers[h.next].prev = h.prev
	} else {
		l.tail = h.prev
	}
	h.prev, h.next = noVBlock, noVBlock
	l.length--
}

// promoteToHead moves an already-linked vb to the head (remove + insert).
func (l *blockList) promoteToHead(vb uint32) {
	l.remove(vb)
	l.insertHead(vb)
}

// popTail removes and returns the tail (the approximate-LRU eviction
// candidate), or (0, false) if the list is empty.
func (l *blockList) popTail() (uint32, bool) {
	if l.tail == noVBlock {
		return 0, false
	}
	vb := l.tail
	l.remove(vb)
	return vb, true
}
