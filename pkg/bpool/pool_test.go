package bpool

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
)

const testPageCount = BlocksPerArena * PagesPerBlock * 2 // two arenas' worth

func buildTestFile(t *testing.T, pages int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.db")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	buf := make([]byte, PageSize)
	for i := 0; i < pages; i++ {
		for j := range buf {
			buf[j] = 0
		}
		binary.LittleEndian.PutUint32(buf[0:4], uint32(i))
		sum := crc32.Checksum(buf[:PageSize-4], checksumTable)
		binary.LittleEndian.PutUint32(buf[PageSize-4:], sum)
		if _, err := f.Write(buf); err != nil {
			t.Fatalf("write page %d: %v", i, err)
		}
	}
	return path
}

func openTestPool(t *testing.T, pages int, mutate func(*Config)) *Pool {
	t.Helper()
	path := buildTestFile(t, pages)
	cfg := DefaultConfig(int64(pages) * PageSize)
	cfg.MaintenancePeriod = 0 // drive eviction by hand in tests
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := Open(path, cfg, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestOpenPinsZeroBlockFixed(t *testing.T) {
	p := openTestPool(t, testPageCount, nil)
	if !p.idx.isFixed(0) {
		t.Fatal("expected block 0 to be fixed after Open")
	}
	stats := p.Stats()
	if stats.ResidentBlocks != 1 {
		t.Fatalf("ResidentBlocks = %d, want 1 immediately after Open", stats.ResidentBlocks)
	}
}

func TestPinMissThenHit(t *testing.T) {
	p := openTestPool(t, testPageCount, nil)

	h1, err := p.Pin(10, 2)
	if err != nil {
		t.Fatalf("Pin miss: %v", err)
	}
	if got := binary.LittleEndian.Uint32(h1.Bytes()[0:4]); got != 10 {
		t.Fatalf("page 10 self-reported id = %d, want 10", got)
	}
	if _, err := h1.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	h2, err := p.Pin(10, 3)
	if err != nil {
		t.Fatalf("Pin hit: %v", err)
	}
	if _, err := h2.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	stats := p.Stats()
	if stats.Misses != 1 {
		t.Fatalf("Misses = %d, want 1", stats.Misses)
	}
	if stats.Hits != 1 {
		t.Fatalf("Hits = %d, want 1", stats.Hits)
	}
}

func TestPinOutOfRange(t *testing.T) {
	p := openTestPool(t, testPageCount, nil)
	if _, err := p.Pin(PageID(testPageCount+1), 1); err == nil {
		t.Fatal("expected ErrOutOfRange pinning a page beyond the file")
	}
}

func TestUnpinReleasesLockOnce(t *testing.T) {
	p := openTestPool(t, testPageCount, nil)

	h, err := p.Pin(20, 2)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	cleared, err := p.Unpin(20, 2)
	if err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if !cleared {
		t.Fatal("expected the single owner's Unpin to clear the lock")
	}

	// The page is already unpinned, so Release finds no lock left to clear.
	if ok, err := h.Release(); err != nil || ok {
		t.Fatalf("Release() after Unpin = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestMultipleOwnersMustAllUnpin(t *testing.T) {
	p := openTestPool(t, testPageCount, nil)

	if _, err := p.Pin(30, 1); err != nil {
		t.Fatalf("Pin owner 1: %v", err)
	}
	if _, err := p.Pin(30, 2); err != nil {
		t.Fatalf("Pin owner 2: %v", err)
	}

	cleared, err := p.Unpin(30, 1)
	if err != nil {
		t.Fatalf("Unpin owner 1: %v", err)
	}
	if cleared {
		t.Fatal("lock should remain held while owner 2 still has it pinned")
	}

	cleared, err = p.Unpin(30, 2)
	if err != nil {
		t.Fatalf("Unpin owner 2: %v", err)
	}
	if !cleared {
		t.Fatal("lock should clear once the last owner unpins")
	}
}

func TestUnpinThreadClearsAllLocks(t *testing.T) {
	p := openTestPool(t, testPageCount, nil)

	pages := []PageID{5, 6, 40, 41}
	for _, pg := range pages {
		if _, err := p.Pin(pg, 9); err != nil {
			t.Fatalf("Pin %d: %v", pg, err)
		}
	}
	if err := p.UnpinThread(9); err != nil {
		t.Fatalf("UnpinThread: %v", err)
	}

	for _, pg := range pages {
		block, bit := blockOf(pg)
		if p.idx.lockMask(block)&(1<<bit) != 0 {
			t.Fatalf("page %d still locked after UnpinThread", pg)
		}
	}
	if _, ok := p.threads.lookup(9); ok {
		t.Fatal("expected owner 9 to be forgotten after UnpinThread")
	}
}

func TestFreeUnlockedEvictsColdBlocks(t *testing.T) {
	p := openTestPool(t, testPageCount, func(c *Config) {
		c.MaxPoolBytes = int64(testPageCount) * PageSize
	})

	for i := 0; i < PagesPerBlock*4; i += PagesPerBlock {
		h, err := p.Pin(PageID(i), 5)
		if err != nil {
			t.Fatalf("Pin %d: %v", i, err)
		}
		if _, err := h.Release(); err != nil {
			t.Fatalf("Release %d: %v", i, err)
		}
	}

	before := p.Stats().ResidentBlocks
	freed, err := p.FreeUnlocked(true)
	if err != nil {
		t.Fatalf("FreeUnlocked: %v", err)
	}
	if freed == 0 {
		t.Fatal("expected at least one unlocked block to be evicted")
	}
	after := p.Stats().ResidentBlocks
	if after != before-uint32(freed) {
		t.Fatalf("ResidentBlocks after eviction = %d, want %d", after, before-uint32(freed))
	}
}

func TestFreeUnlockedNeverEvictsLockedBlocks(t *testing.T) {
	p := openTestPool(t, testPageCount, nil)

	h, err := p.Pin(8, 5)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	defer h.Release()

	freed, err := p.FreeUnlocked(true)
	if err != nil {
		t.Fatalf("FreeUnlocked: %v", err)
	}
	_ = freed

	block, bit := blockOf(8)
	if p.idx.lockMask(block)&(1<<bit) == 0 {
		t.Fatal("expected page 8's lock to survive FreeUnlocked")
	}
}

func TestMaintenanceTickRespectsMinPool(t *testing.T) {
	p := openTestPool(t, testPageCount, func(c *Config) {
		c.MinPoolBytes = int64(testPageCount) * PageSize
		c.MaxPoolBytes = int64(testPageCount) * PageSize
	})

	for i := 0; i < PagesPerBlock*3; i += PagesPerBlock {
		h, err := p.Pin(PageID(i), 5)
		if err != nil {
			t.Fatalf("Pin %d: %v", i, err)
		}
		h.Release()
	}

	before := p.Stats().ResidentBlocks
	p.maintenanceTick()
	after := p.Stats().ResidentBlocks
	if after != before {
		t.Fatalf("maintenanceTick should not evict while at/under min_pool: before=%d after=%d", before, after)
	}
}

func TestInitOwnerMissBecomesFixed(t *testing.T) {
	p := openTestPool(t, testPageCount, func(c *Config) {
		c.MaxPoolBytes = int64(testPageCount) * PageSize
	})

	page := PageID(PagesPerBlock * 5)
	block, _ := blockOf(page)

	h, err := p.Pin(page, 1) // 1 is the pool's initOwner (see openTestPool)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if !p.idx.isFixed(block) {
		t.Fatalf("expected block %d to be marked fixed after an initOwner miss", block)
	}
	if _, err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Unpinning must not drop a fixed block onto the evictable unlocked
	// list: it stays resident even with no pins outstanding.
	if _, err := p.FreeUnlocked(true); err != nil {
		t.Fatalf("FreeUnlocked: %v", err)
	}
	if !p.idx.resident(block) {
		t.Fatalf("expected fixed block %d to survive FreeUnlocked", block)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p := openTestPool(t, testPageCount, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if _, err := p.Pin(1, 1); err == nil {
		t.Fatal("expected Pin after Close to report ErrShutdown")
	}
}
