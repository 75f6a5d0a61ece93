package bpool

import "time"

// Config holds buffer pool configuration.
type Config struct {
	// MinPoolBytes is the low-water target the maintenance task decommits
	// toward. Zero means "use the file size".
	MinPoolBytes int64

	// MaxPoolBytes is the hard residency ceiling. Zero means "use the
	// file size".
	MaxPoolBytes int64

	// MaintenancePeriod is the tick interval of the background decommit
	// loop. Zero disables the maintenance task entirely (useful for
	// micro-benchmarks that drive eviction by hand).
	MaintenancePeriod time.Duration

	// EnableAdaptiveLists toggles locked/unlocked list maintenance. When
	// false, pin/unpin skip list bookkeeping, which is occasionally useful
	// for raw-throughput micro-benchmarks where eviction never triggers.
	EnableAdaptiveLists bool

	// FreeBatchSize bounds how many blocks a single free_unlocked sweep
	// (whether driven by the maintenance task or by an allocation-failure
	// eviction attempt) will reclaim in one pass.
	FreeBatchSize int

	// ThreadCapacity bounds how many distinct owner tokens the thread
	// registry can track concurrently.
	ThreadCapacity int

	// Verifier checks each page loaded from disk. A nil Verifier defaults
	// to ChecksumVerifier.
	Verifier Verifier
}

// DefaultConfig returns the default configuration for a file of the given
// size: min_pool = max_pool = file size, a 30s maintenance period, adaptive
// lists enabled, and a free-batch sized to two arenas' worth of blocks.
func DefaultConfig(fileSize int64) Config {
	return Config{
		MinPoolBytes:        fileSize,
		MaxPoolBytes:        fileSize,
		MaintenancePeriod:   30 * time.Second,
		EnableAdaptiveLists: true,
		FreeBatchSize:       BlocksPerArena * 2,
		ThreadCapacity:      64,
	}
}
