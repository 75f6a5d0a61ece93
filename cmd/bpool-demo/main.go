// Command bpool-demo exercises pkg/bpool against a scratch file: it builds
// a small checksummed database file, pins and unpins a spread of pages
// from a few simulated workers, forces an eviction sweep, and prints the
// resulting pool statistics.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log"
	"os"
	"time"

	"github.com/mnohosten/bufferpool/pkg/bpool"
	"github.com/mnohosten/bufferpool/pkg/bpoolmetrics"
)

const demoPages = 400

func main() {
	fmt.Println("=== bpool demo ===")

	path := "./data/bpool-demo.db"
	os.MkdirAll("./data", 0755)
	if err := buildDemoFile(path, demoPages); err != nil {
		log.Fatal(err)
	}

	cfg := bpool.DefaultConfig(int64(demoPages) * bpool.PageSize)
	cfg.MinPoolBytes = 16 * bpool.BlockSize
	cfg.MaxPoolBytes = 32 * bpool.BlockSize
	cfg.MaintenancePeriod = 2 * time.Second

	const initOwner = 1
	pool, err := bpool.Open(path, cfg, initOwner)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	fmt.Println("\nDemo 1: sequential pin/unpin sweep")
	sequentialSweep(pool, initOwner+1)

	fmt.Println("\nDemo 2: concurrent workers")
	concurrentWorkers(pool)

	fmt.Println("\nDemo 3: forced eviction via FreeUnlocked")
	freed, err := pool.FreeUnlocked(true)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("  freed %d blocks\n", freed)

	printStats(pool)

	fmt.Println("\nDemo 4: Prometheus export")
	exp := bpoolmetrics.NewPrometheusExporter(pool, "bpool_demo")
	if err := exp.WriteMetrics(os.Stdout); err != nil {
		log.Fatal(err)
	}

	fmt.Println("\n=== Demo Complete ===")
}

func buildDemoFile(path string, pages int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	table := crc32.MakeTable(crc32.Castagnoli)
	buf := make([]byte, bpool.PageSize)
	for i := 0; i < pages; i++ {
		for j := range buf {
			buf[j] = 0
		}
		binary.LittleEndian.PutUint32(buf[0:4], uint32(i))
		sum := crc32.Checksum(buf[:bpool.PageSize-4], table)
		binary.LittleEndian.PutUint32(buf[bpool.PageSize-4:], sum)
		if _, err := f.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func sequentialSweep(pool *bpool.Pool, owner int64) {
	for i := 0; i < demoPages; i += 7 {
		pid := bpool.PageID(i)
		h, err := pool.Pin(pid, owner)
		if err != nil {
			log.Fatalf("pin page %d: %v", i, err)
		}
		_ = h.Bytes()
		if _, err := h.Release(); err != nil {
			log.Fatalf("unpin page %d: %v", i, err)
		}
	}
	fmt.Printf("  swept %d pages\n", (demoPages+6)/7)
}

func concurrentWorkers(pool *bpool.Pool) {
	const workers = 8
	done := make(chan struct{}, workers)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	for w := 0; w < workers; w++ {
		owner := int64(100 + w)
		go func(owner int64) {
			defer func() { done <- struct{}{} }()
			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					pool.UnpinThread(owner)
					return
				default:
				}
				pid := bpool.PageID((int(owner)*31 + i) % demoPages)
				h, err := pool.Pin(pid, owner)
				if err != nil {
					continue
				}
				h.Release()
			}
		}(owner)
	}
	for w := 0; w < workers; w++ {
		<-done
	}
	fmt.Printf("  %d workers finished\n", workers)
}

func printStats(pool *bpool.Pool) {
	s := pool.Stats()
	fmt.Printf("  hits=%d misses=%d evictions=%d resident=%d live=%d (min=%d max=%d)\n",
		s.Hits, s.Misses, s.Evictions, s.ResidentBlocks, s.LiveBlocks, s.MinPoolBlocks, s.MaxPoolBlocks)
}
