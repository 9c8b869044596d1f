package pipeline

import (
	"context"
	"log/slog"
	"time"

	"hadaily/internal/domain"
	"hadaily/internal/store"
	"hadaily/internal/util"
)

// Writer persists transformed chunks to the destination sink. A chunk is
// committed whole or not at all: any failure fails the entire chunk and the
// coordinator re-issues it on the next attempt, which is safe because the
// sink overwrites on point identity.
type Writer struct {
	sink    store.SinkStore
	retry   util.RetryPolicy
	timeout time.Duration
	dryRun  bool
	log     *slog.Logger
}

// NewWriter creates a Writer over sink. In dry-run mode writes are logged
// and skipped.
func NewWriter(sink store.SinkStore, retry util.RetryPolicy, timeout time.Duration, dryRun bool) *Writer {
	return &Writer{
		sink:    sink,
		retry:   retry,
		timeout: timeout,
		dryRun:  dryRun,
		log:     slog.Default().With("component", "writer"),
	}
}

// DryRun reports whether the writer is in dry-run mode.
func (w *Writer) DryRun() bool { return w.dryRun }

// WriteChunk writes the points under the retry policy and per-call timeout.
// Transient sink failures are retried with backoff; exhausting retries (or a
// permanent rejection) surfaces a WriteError carrying the chunk range.
func (w *Writer) WriteChunk(ctx context.Context, points []domain.Point, r domain.TimeRange) error {
	if len(points) == 0 {
		return nil
	}
	if w.dryRun {
		w.log.Info("dry run: skipping write", "points", len(points), "range", r.String())
		return nil
	}

	err := w.retry.Do(ctx, domain.IsTransient, func() error {
		callCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		return w.sink.WriteBatch(callCtx, points)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.WriteError{Range: r, Err: err}
	}
	return nil
}
