package bpool

import (
	"context"
	"time"
)

// startMaintenance launches the background task that periodically returns
// cold, unlocked blocks to the OS.
func (p *Pool) startMaintenance() {
	ctx, cancel := context.WithCancel(context.Background())
	p.maintCancel = cancel
	p.maintDone = make(chan struct{})
	go p.maintenanceLoop(ctx)
}

func (p *Pool) maintenanceLoop(ctx context.Context) {
	defer close(p.maintDone)

	ticker := time.NewTicker(p.cfg.MaintenancePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.maintenanceTick()
		}
	}
}

// maintenanceTick frees enough unlocked blocks, with decommit, to bring
// residency back down toward min_pool: free at least two blocks whenever
// we're above the floor, so the sweep makes steady progress even when the
// pool sits only slightly above min_pool.
func (p *Pool) maintenanceTick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	minBlocks := p.minPoolBlocks()
	if p.residentBlks <= minBlocks {
		return
	}
	batch := int(p.residentBlks - minBlocks)
	if batch < 2 {
		batch = 2
	}
	if cfgBatch := p.cfg.FreeBatchSize; cfgBatch > 0 && batch > cfgBatch {
		batch = cfgBatch
	}
	p.freeUnlockedLocked(true, batch)
}
