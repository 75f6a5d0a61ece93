package bpool

import "sync/atomic"

// PageHandle is a live pin on a single page's 8 KB image. The backing
// memory is only valid until Release is called; using Bytes afterward is
// undefined.
type PageHandle struct {
	pool     *Pool
	page     PageID
	owner    int64
	data     []byte
	released atomic.Bool
}

func (p *Pool) newHandle(page PageID, vb uint32, bit uint8, owner int64) *PageHandle {
	blk := p.vm.blockBytes(vb)
	return &PageHandle{
		pool:  p,
		page:  page,
		owner: owner,
		data:  blk[int(bit)*PageSize : int(bit)*PageSize+PageSize],
	}
}

// Bytes returns the page's in-memory image. The slice aliases pool VM
// directly; callers must not retain it past Release.
func (h *PageHandle) Bytes() []byte {
	return h.data
}

// Page returns the handle's page id.
func (h *PageHandle) Page() PageID {
	return h.page
}

// Release unpins the page exactly once. Calling it again is a no-op and
// returns false.
func (h *PageHandle) Release() (bool, error) {
	if !h.released.CompareAndSwap(false, true) {
		return false, nil
	}
	return h.pool.Unpin(h.page, h.owner)
}
