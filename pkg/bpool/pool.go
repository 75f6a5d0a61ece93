package bpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// poolInfo holds the derived, immutable geometry of the backing file.
type poolInfo struct {
	fileSize       int64
	pageCount      uint32
	blockCount     uint32
	lastBlock      BlockID
	lastBlockPages uint8
}

func newPoolInfo(fileSize int64) (poolInfo, error) {
	if fileSize <= BlockSize {
		return poolInfo{}, fmt.Errorf("%w: file size %d must exceed %d bytes", ErrBadFile, fileSize, BlockSize)
	}
	if fileSize%PageSize != 0 {
		return poolInfo{}, fmt.Errorf("%w: file size %d is not a multiple of page size %d", ErrBadFile, fileSize, PageSize)
	}
	pageCount := uint32(fileSize / PageSize)
	blockCount := uint32((fileSize + BlockSize - 1) / BlockSize)
	lastBlock := BlockID(blockCount - 1)
	rem := pageCount % PagesPerBlock
	lastBlockPages := uint8(PagesPerBlock)
	if rem != 0 {
		lastBlockPages = uint8(rem)
	}
	return poolInfo{
		fileSize:       fileSize,
		pageCount:      pageCount,
		blockCount:     blockCount,
		lastBlock:      lastBlock,
		lastBlockPages: lastBlockPages,
	}, nil
}

func (pi poolInfo) blockSizeBytes(b BlockID) int {
	if b == pi.lastBlock {
		return int(pi.lastBlockPages) * PageSize
	}
	return BlockSize
}

// poolStats are the running counters exposed via Pool.Stats, mirrored into
// pkg/bpoolmetrics' Prometheus exporter.
type poolStats struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Stats is an immutable snapshot of pool counters.
type Stats struct {
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	ResidentBlocks uint32
	LiveBlocks     int
	MinPoolBlocks  uint32
	MaxPoolBlocks  uint32
}

// Pool is the public buffer pool coordinator: pin/unpin surface, miss
// loading, list promotion, and eviction, all behind a single coarse
// mutex guarding the block index, lists, allocator, and thread registry
// together.
type Pool struct {
	mu sync.Mutex

	cfg      Config
	file     FileReader
	verifier Verifier
	info     poolInfo

	vm    *vmReservation
	alloc *arenaAllocator

	idx     blockIndex
	headers []blockHeader

	locked   *blockList
	unlocked *blockList
	free     *blockList
	fixed    *blockList

	threads   *threadRegistry
	initOwner int64

	minPoolBytes int64
	maxPoolBytes int64
	residentBlks uint32

	stats poolStats

	closed       bool
	maintCancel  context.CancelFunc
	maintDone    chan struct{}
}

// Open opens the file at path as a buffer pool. initOwner identifies the
// calling goroutine's logical worker for the lifetime of the pool: Open
// loads and permanently fixes file block 0 under initOwner's pin, and any
// later miss pinned by initOwner is fixed the same way (see pinMiss) —
// fixed blocks are never evicted.
func Open(path string, cfg Config, initOwner int64) (*Pool, error) {
	f, err := openFileReader(path)
	if err != nil {
		return nil, err
	}
	info, err := newPoolInfo(f.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	minB, maxB := cfg.MinPoolBytes, cfg.MaxPoolBytes
	if minB <= 0 {
		minB = info.fileSize
	}
	if maxB <= 0 {
		maxB = info.fileSize
	}
	if minB > info.fileSize {
		minB = info.fileSize
	}
	if maxB > info.fileSize {
		maxB = info.fileSize
	}
	if minB > maxB {
		f.Close()
		return nil, fmt.Errorf("%w: min_pool %d exceeds max_pool %d", ErrBadFile, minB, maxB)
	}

	maxPoolBlocks := uint32((maxB + BlockSize - 1) / BlockSize)
	if maxPoolBlocks < 1 {
		maxPoolBlocks = 1
	}
	arenaCount := int((maxPoolBlocks + BlocksPerArena - 1) / BlocksPerArena)
	if arenaCount < 1 {
		arenaCount = 1
	}

	vm, err := reserveVM(arenaCount * ArenaSize)
	if err != nil {
		f.Close()
		return nil, err
	}

	threadCap := cfg.ThreadCapacity
	if threadCap <= 0 {
		threadCap = 64
	}
	if threadCap > 64 {
		// Each owner's registry index doubles as a bit position in a
		// uint64 per-page lock mask; indices beyond 63 would silently
		// alias to a zero shift.
		threadCap = 64
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = ChecksumVerifier{}
	}

	headers := make([]blockHeader, arenaCount*BlocksPerArena)
	p := &Pool{
		cfg:          cfg,
		file:         f,
		verifier:     verifier,
		info:         info,
		vm:           vm,
		alloc:        newArenaAllocator(vm, arenaCount),
		idx:          newBlockIndex(int(info.blockCount)),
		headers:      headers,
		locked:       newBlockList(headers),
		unlocked:     newBlockList(headers),
		free:         newBlockList(headers),
		fixed:        newBlockList(headers),
		threads:      newThreadRegistry(threadCap),
		initOwner:    initOwner,
		minPoolBytes: minB,
		maxPoolBytes: maxB,
	}

	if err := p.loadZeroBlock(); err != nil {
		vm.releaseAll()
		f.Close()
		return nil, err
	}

	if cfg.MaintenancePeriod > 0 {
		p.startMaintenance()
	}
	return p, nil
}

func (p *Pool) loadZeroBlock() error {
	vb, err := p.alloc.allocBlock()
	if err != nil {
		return err
	}
	n := p.info.blockSizeBytes(0)
	dst := p.vm.blockBytes(vb)[:n]
	if err := p.file.ReadExact(dst, 0); err != nil {
		p.alloc.freeBlock(vb)
		return err
	}
	pages := n / PageSize
	for i := 0; i < pages; i++ {
		pid := PageID(i)
		if err := p.verifier.Verify(dst[i*PageSize:(i+1)*PageSize], pid); err != nil {
			p.alloc.freeBlock(vb)
			return err
		}
	}

	tIdx, err := p.threads.intern(p.initOwner)
	if err != nil {
		p.alloc.freeBlock(vb)
		return err
	}

	p.headers[vb] = blockHeader{fileBlock: 0}
	p.headers[vb].threadMask[0] = 1 << uint(tIdx)
	p.idx.setResident(0, vb)
	p.idx.setPageLock(0, 0)
	p.idx.markFixed(0)
	p.fixed.insertHead(vb)
	p.residentBlks++
	return nil
}

func (p *Pool) maxPoolBlocks() uint32 {
	n := uint32((p.maxPoolBytes + BlockSize - 1) / BlockSize)
	if n < 1 {
		n = 1
	}
	return n
}

func (p *Pool) minPoolBlocks() uint32 {
	n := uint32((p.minPoolBytes + BlockSize - 1) / BlockSize)
	if n < 1 {
		n = 1
	}
	return n
}

// Pin loads (or locates) the page and returns a handle to its 8 KB image.
// The caller must eventually call Release on the handle, or Unpin/UnpinThread
// directly, exactly once per Pin.
func (p *Pool) Pin(page PageID, owner int64) (*PageHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrShutdown
	}
	if uint32(page) >= p.info.pageCount {
		return nil, fmt.Errorf("%w: page %d >= %d", ErrOutOfRange, page, p.info.pageCount)
	}
	block, bit := blockOf(page)

	tIdx, err := p.threads.intern(owner)
	if err != nil {
		return nil, err
	}

	if p.idx.resident(block) {
		vb, _ := p.idx.virtualOf(block)
		prevMask := p.idx.setPageLock(block, bit)
		p.headers[vb].threadMask[bit] |= 1 << uint(tIdx)

		if p.cfg.EnableAdaptiveLists && !p.idx.isFixed(block) {
			if prevMask == 0 {
				p.unlocked.remove(vb)
				p.locked.insertHead(vb)
			} else {
				p.locked.promoteToHead(vb)
			}
		}
		p.stats.hits.Add(1)
		return p.newHandle(page, vb, bit, owner), nil
	}

	p.stats.misses.Add(1)
	return p.pinMiss(page, block, bit, owner, tIdx)
}

// pinMiss loads block from the file, verifies it, and admits it into the
// residency structures. Any failure frees the speculative virtual block
// before returning, so a failed Pin never leaks VM or leaves a block
// half-admitted.
func (p *Pool) pinMiss(page PageID, block BlockID, bit uint8, owner int64, tIdx int) (*PageHandle, error) {
	maxBlocks := p.maxPoolBlocks()
	if p.residentBlks+1 > maxBlocks {
		p.freeUnlockedLocked(false, p.cfg.FreeBatchSize)
		if p.residentBlks+1 > maxBlocks {
			return nil, ErrOutOfMemory
		}
	}

	var vb uint32
	fromFree := false
	if fvb, ok := p.free.popTail(); ok {
		vb, fromFree = fvb, true
	} else {
		nvb, err := p.alloc.allocBlock()
		if err != nil {
			return nil, err
		}
		vb = nvb
	}

	release := func() {
		if fromFree {
			p.free.insertHead(vb)
		} else {
			p.alloc.freeBlock(vb)
		}
	}

	n := p.info.blockSizeBytes(block)
	blockBytes := p.vm.blockBytes(vb)[:n]
	if err := p.file.ReadExact(blockBytes, int64(block)*BlockSize); err != nil {
		release()
		return nil, err
	}

	pages := n / PageSize
	for i := 0; i < pages; i++ {
		pid := PageID(block)*PagesPerBlock + PageID(i)
		if err := p.verifier.Verify(blockBytes[i*PageSize:(i+1)*PageSize], pid); err != nil {
			release()
			return nil, err
		}
	}

	p.headers[vb] = blockHeader{fileBlock: block}
	p.idx.setResident(block, vb)
	p.idx.setPageLock(block, bit)
	p.headers[vb].threadMask[bit] = 1 << uint(tIdx)

	if owner == p.initOwner {
		p.idx.markFixed(block)
		if p.cfg.EnableAdaptiveLists {
			p.fixed.insertHead(vb)
		}
	} else if p.cfg.EnableAdaptiveLists {
		p.locked.insertHead(vb)
	}
	p.residentBlks++

	return p.newHandle(page, vb, bit, owner), nil
}

// Unpin clears owner's participation in page's lock. It returns true iff
// the block's overall lock mask transitioned to zero as a result.
func (p *Pool) Unpin(page PageID, owner int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, ErrShutdown
	}
	if uint32(page) >= p.info.pageCount {
		return false, fmt.Errorf("%w: page %d >= %d", ErrOutOfRange, page, p.info.pageCount)
	}
	block, bit := blockOf(page)

	tIdx, ok := p.threads.lookup(owner)
	if !ok || !p.idx.resident(block) {
		return false, nil
	}
	if p.idx.lockMask(block)&(1<<bit) == 0 {
		// Already unlocked: a double-unpin or an unpin of a page this
		// owner never held. Nothing to do, and nothing to touch — the
		// block's list membership already reflects its lock state.
		return false, nil
	}
	vb, _ := p.idx.virtualOf(block)

	if p.headers[vb].threadMask[bit]&(1<<uint(tIdx)) == 0 {
		return false, nil
	}
	p.headers[vb].threadMask[bit] &^= 1 << uint(tIdx)
	if p.headers[vb].threadMask[bit] != 0 {
		return false, nil
	}

	remaining := p.idx.clearPageLock(block, bit)
	if remaining != 0 {
		return false, nil
	}
	if p.idx.isFixed(block) {
		return true, nil
	}
	if p.cfg.EnableAdaptiveLists {
		p.locked.remove(vb)
		p.unlocked.insertHead(vb)
	}
	return true, nil
}

// UnpinThread clears every lock bit owner holds across the pool and drops
// its thread-registry mapping. Future accesses re-intern the owner on the
// next Pin.
func (p *Pool) UnpinThread(owner int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrShutdown
	}
	tIdx, ok := p.threads.lookup(owner)
	if !ok {
		return nil
	}
	bit := uint64(1) << uint(tIdx)

	for i := range p.idx {
		b := BlockID(i)
		vb, ok := p.idx.virtualOf(b)
		if !ok {
			continue
		}
		h := &p.headers[vb]
		for pg := 0; pg < PagesPerBlock; pg++ {
			if h.threadMask[pg]&bit == 0 {
				continue
			}
			h.threadMask[pg] &^= bit
			if h.threadMask[pg] == 0 {
				p.idx.clearPageLock(b, uint8(pg))
			}
		}
	}

	if p.cfg.EnableAdaptiveLists {
		vb := p.locked.head
		for vb != noVBlock {
			next := p.locked.headers[vb].next
			b := p.locked.headers[vb].fileBlock
			if p.idx.lockMask(b) == 0 {
				p.locked.remove(vb)
				p.unlocked.insertHead(vb)
			}
			vb = next
		}
	}

	p.threads.forget(owner)
	return nil
}

// FreeUnlocked scans the tail of the unlocked list, evicting up to a
// configured batch of cold blocks. When decommitFlag is true, the arena
// allocator is asked to actually give the underlying VM back to the OS
// (the maintenance task's mode); when false, the freed virtual blocks are
// kept committed on the pool's own free list for instant reuse on the
// next miss (the allocation-failure fast path).
func (p *Pool) FreeUnlocked(decommitFlag bool) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrShutdown
	}
	return p.freeUnlockedLocked(decommitFlag, p.cfg.FreeBatchSize), nil
}

func (p *Pool) freeUnlockedLocked(decommitFlag bool, batch int) int {
	freed := 0
	for freed < batch {
		vb, ok := p.unlocked.popTail()
		if !ok {
			break
		}
		b := p.headers[vb].fileBlock
		if p.idx.lockMask(b) != 0 {
			// Invariant violation guard: never decommit a locked block.
			p.unlocked.insertHead(vb)
			break
		}
		p.idx.clearResident(b)
		p.residentBlks--
		if decommitFlag {
			p.alloc.freeBlock(vb)
		} else {
			p.free.insertHead(vb)
		}
		freed++
	}
	if freed > 0 {
		p.stats.evictions.Add(uint64(freed))
	}
	return freed
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Hits:           p.stats.hits.Load(),
		Misses:         p.stats.misses.Load(),
		Evictions:      p.stats.evictions.Load(),
		ResidentBlocks: p.residentBlks,
		LiveBlocks:     p.alloc.liveBlocks,
		MinPoolBlocks:  p.minPoolBlocks(),
		MaxPoolBlocks:  p.maxPoolBlocks(),
	}
}

// Close stops the maintenance task, joining it before releasing any VM,
// and then releases the entire reserved range.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.maintCancel
	done := p.maintDone
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.vm.releaseAll(); err != nil {
		return err
	}
	return p.file.Close()
}
