package bpoolmetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/mnohosten/bufferpool/pkg/bpool"
)

// Snapshot is one compressed point-in-time capture of a pool's counters,
// tagged with the instance id its SnapshotWriter generated once at
// construction, so snapshots from the same writer can be correlated
// across a run.
type Snapshot struct {
	InstanceID string      `json:"instance_id"`
	Stats      bpool.Stats `json:"stats"`
}

// SnapshotWriter periodically encodes a Pool's Stats as zstd-compressed
// JSON and hands the result to sink.
type SnapshotWriter struct {
	pool       *bpool.Pool
	instanceID string
	encoder    *zstd.Encoder
	sink       func([]byte) error
	period     time.Duration
}

// NewSnapshotWriter builds a writer that samples pool every period and
// passes each compressed snapshot to sink.
func NewSnapshotWriter(pool *bpool.Pool, period time.Duration, sink func([]byte) error) (*SnapshotWriter, error) {
	level := zstd.EncoderLevelFromZstd(3)
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("bpoolmetrics: build zstd encoder: %w", err)
	}
	return &SnapshotWriter{
		pool:       pool,
		instanceID: uuid.NewString(),
		encoder:    enc,
		sink:       sink,
		period:     period,
	}, nil
}

// Run samples and emits snapshots until ctx is cancelled.
func (w *SnapshotWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.emit(); err != nil {
				return err
			}
		}
	}
}

func (w *SnapshotWriter) emit() error {
	snap := Snapshot{InstanceID: w.instanceID, Stats: w.pool.Stats()}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("bpoolmetrics: marshal snapshot: %w", err)
	}
	compressed := w.encoder.EncodeAll(raw, nil)
	return w.sink(compressed)
}

// DecodeSnapshot reverses a snapshot produced by Run, for tooling that
// reads back a compressed snapshot stream.
func DecodeSnapshot(compressed []byte) (Snapshot, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("bpoolmetrics: build zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("bpoolmetrics: decode snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("bpoolmetrics: unmarshal snapshot: %w", err)
	}
	return snap, nil
}
