package pipeline

import (
	"context"
	"log/slog"
	"time"

	"hadaily/internal/domain"
	"hadaily/internal/store"
	"hadaily/internal/util"
)

// Extractor produces timestamp-ordered chunks of raw records for a window
// without materializing the whole range. Each page is fetched with the
// shared retry policy and a per-call timeout; exhausting retries surfaces an
// ExtractError carrying the failed sub-range.
type Extractor struct {
	src       store.SourceStore
	chunkSize int
	retry     util.RetryPolicy
	timeout   time.Duration
	limiter   *util.RateLimiter
	log       *slog.Logger
}

// NewExtractor creates an Extractor over src. chunkSize bounds records per
// chunk, timeout bounds each remote call, limiter may be nil.
func NewExtractor(src store.SourceStore, chunkSize int, retry util.RetryPolicy, timeout time.Duration, limiter *util.RateLimiter) *Extractor {
	return &Extractor{
		src:       src,
		chunkSize: chunkSize,
		retry:     retry,
		timeout:   timeout,
		limiter:   limiter,
		log:       slog.Default().With("component", "extractor"),
	}
}

// Run streams chunks covering [from, window.End) into out, in order. Chunks
// partition the range contiguously: each covers [cursor, next cursor) and a
// record timestamp is never split across two chunks, so a checkpoint at a
// chunk boundary is exact. The final chunk (possibly empty) is marked Final.
//
// Run does not close out; the caller owns the channel.
func (e *Extractor) Run(ctx context.Context, window domain.TimeRange, from time.Time, out chan<- domain.Chunk) error {
	cursor := from
	seq := 0

	for {
		records, final, next, err := e.nextChunk(ctx, domain.TimeRange{Start: cursor, End: window.End})
		if err != nil {
			return err
		}

		chunk := domain.Chunk{
			Seq:     seq,
			Range:   domain.TimeRange{Start: cursor, End: next},
			Records: records,
			Final:   final,
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}

		if final {
			return nil
		}
		cursor = next
		seq++
	}
}

// nextChunk fetches one chunk starting at r.Start. A full page is trimmed
// back to the last complete timestamp (the trimmed tail is re-fetched next
// time); if every record of a full page shares one timestamp the page is
// re-fetched with a doubled limit until the timestamp completes.
func (e *Extractor) nextChunk(ctx context.Context, r domain.TimeRange) (records []domain.RawRecord, final bool, next time.Time, err error) {
	limit := e.chunkSize
	for {
		page, qerr := e.fetchPage(ctx, r, limit)
		if qerr != nil {
			return nil, false, time.Time{}, qerr
		}

		if len(page) < limit {
			// Range exhausted: this is the final chunk.
			return page, true, r.End, nil
		}

		lastTS := page[len(page)-1].Timestamp
		cut := len(page)
		for cut > 0 && page[cut-1].Timestamp.Equal(lastTS) {
			cut--
		}
		if cut == 0 {
			// The whole page is one timestamp; it may continue past the
			// limit. Grow the page so the timestamp is never split.
			limit *= 2
			e.log.Debug("growing page to cover timestamp", "timestamp", lastTS, "limit", limit)
			continue
		}

		boundary := page[cut-1].Timestamp.Add(time.Nanosecond)
		return page[:cut], false, boundary, nil
	}
}

// fetchPage performs one source query under the retry policy, rate limiter,
// and per-call timeout.
func (e *Extractor) fetchPage(ctx context.Context, r domain.TimeRange, limit int) ([]domain.RawRecord, error) {
	var page []domain.RawRecord

	err := e.retry.Do(ctx, domain.IsTransient, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		var err error
		page, err = e.src.QueryRange(callCtx, r, limit)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.ExtractError{Range: r, Err: err}
	}
	return page, nil
}
