package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"hadaily/internal/domain"
)

// Compile-time interface check.
var _ SinkStore = (*ParquetSink)(nil)

// ParquetSink implements SinkStore as a local parquet archive: one file per
// UTC calendar day under <Dir>/<YYYY-MM-DD>.parquet. Writes merge with the
// existing file by point identity, so re-writing a batch overwrites instead
// of appending, the same contract as the destination bucket.
type ParquetSink struct {
	Dir string
	log *slog.Logger
}

// NewParquetSink creates a ParquetSink rooted at dir.
func NewParquetSink(dir string) *ParquetSink {
	return &ParquetSink{
		Dir: dir,
		log: slog.Default().With("store", "parquet-sink"),
	}
}

// ArchiveRecord is the Parquet schema for archived points, one row per
// (point identity, field).
type ArchiveRecord struct {
	Measurement string  `parquet:"measurement"`
	Tags        string  `parquet:"tags"` // canonical "k=v,k=v" encoding, sorted by key
	Field       string  `parquet:"field"`
	Value       float64 `parquet:"value"`
	Timestamp   int64   `parquet:"timestamp"` // Unix ns
}

// WriteBatch merges the batch into the per-day archive files. The batch is
// acknowledged once every touched file has been atomically replaced.
func (s *ParquetSink) WriteBatch(ctx context.Context, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}

	byDay := make(map[string][]ArchiveRecord)
	for _, p := range points {
		day := p.Timestamp.UTC().Format("2006-01-02")
		tags := encodeTags(p.Tags)
		for field, value := range p.Fields {
			byDay[day] = append(byDay[day], ArchiveRecord{
				Measurement: p.Measurement,
				Tags:        tags,
				Field:       field,
				Value:       value,
				Timestamp:   p.Timestamp.UnixNano(),
			})
		}
	}

	for day, records := range byDay {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.mergeDay(day, records); err != nil {
			return err
		}
	}
	return nil
}

// mergeDay merges records into the archive file for one day, deduplicating
// by (measurement, tags, field, timestamp) with incoming records winning.
func (s *ParquetSink) mergeDay(day string, incoming []ArchiveRecord) error {
	path := filepath.Join(s.Dir, day+".parquet")
	existing, _ := parquet.ReadFile[ArchiveRecord](path)

	type key struct {
		measurement string
		tags        string
		field       string
		ts          int64
	}
	seen := make(map[key]ArchiveRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Measurement, r.Tags, r.Field, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Measurement, r.Tags, r.Field, r.Timestamp}] = r
	}

	merged := make([]ArchiveRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		if merged[i].Tags != merged[j].Tags {
			return merged[i].Tags < merged[j].Tags
		}
		return merged[i].Field < merged[j].Field
	})

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}

	// Write to a temp file and rename so readers never observe a torn file
	// and a crashed write leaves the previous day file intact.
	tmp := path + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := parquet.WriteFile(tmp, merged); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing archive for %s: %w", day, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing archive for %s: %w", day, err)
	}

	s.log.Debug("archive merged", "day", day, "rows", len(merged))
	return nil
}

// encodeTags renders a tag set as "k=v,k=v" sorted by key.
func encodeTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, ",")
}
