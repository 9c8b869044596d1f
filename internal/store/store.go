// Package store defines the storage interfaces the pipeline consumes (the
// source range query, the idempotent destination sink, and checkpoint
// persistence) together with their InfluxDB, SQLite, and Parquet
// implementations.
package store

import (
	"context"

	"hadaily/internal/domain"
)

// SourceStore is a range-query capability over the source bucket. The set of
// series and the measurement are fixed at construction; the pipeline only
// varies the time range.
type SourceStore interface {
	// QueryRange returns at most limit records with timestamps in
	// [r.Start, r.End), ordered by (timestamp, series key). The ordering is
	// the monotonic pagination key: callers advance r.Start past the last
	// returned record to resume.
	QueryRange(ctx context.Context, r domain.TimeRange, limit int) ([]domain.RawRecord, error)
}

// SinkStore is a batched-write capability over a destination with overwrite
// semantics on identical point identity.
type SinkStore interface {
	// WriteBatch persists the batch and returns only after the destination
	// has acknowledged durability for all of it. Re-writing the same point
	// identity overwrites rather than duplicates.
	WriteBatch(ctx context.Context, points []domain.Point) error
}

// CheckpointStore persists the per-window progress record across process
// restarts. The pipeline assumes it is the sole writer; mutual exclusion
// across overlapping invocations is an external responsibility.
type CheckpointStore interface {
	// Latest returns the most recent checkpoint, or nil if none exists.
	Latest(ctx context.Context) (*domain.Checkpoint, error)

	// Save upserts the checkpoint keyed by its window start.
	Save(ctx context.Context, cp *domain.Checkpoint) error
}

// MultiSink fans a batch out to several sinks, e.g. the destination bucket
// plus a local parquet archive. A batch is acknowledged only once every sink
// has acknowledged it.
type MultiSink struct {
	sinks []SinkStore
}

// NewMultiSink creates a MultiSink over the given sinks.
func NewMultiSink(sinks ...SinkStore) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// WriteBatch writes the batch to every sink in order, stopping at the first
// failure. Safe to re-issue: every sink overwrites on identity.
func (m *MultiSink) WriteBatch(ctx context.Context, points []domain.Point) error {
	for _, s := range m.sinks {
		if err := s.WriteBatch(ctx, points); err != nil {
			return err
		}
	}
	return nil
}
