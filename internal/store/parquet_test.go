package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"hadaily/internal/domain"
)

func archivePoint(entity string, ts time.Time, value float64) domain.Point {
	return domain.Point{
		Measurement: "daily",
		Tags:        map[string]string{"entity_id": entity, "version": "v1"},
		Fields:      map[string]float64{"value": value},
		Timestamp:   ts,
	}
}

func readArchive(t *testing.T, dir, day string) []ArchiveRecord {
	t.Helper()
	rows, err := parquet.ReadFile[ArchiveRecord](filepath.Join(dir, day+".parquet"))
	if err != nil {
		t.Fatalf("reading archive for %s: %v", day, err)
	}
	return rows
}

func TestParquetSinkWriteBatch(t *testing.T) {
	dir := t.TempDir()
	sink := NewParquetSink(dir)
	ctx := context.Background()

	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	points := []domain.Point{
		archivePoint("sensor.a", ts, 1.5),
		archivePoint("sensor.b", ts.Add(time.Minute), 2.5),
	}
	if err := sink.WriteBatch(ctx, points); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	rows := readArchive(t, dir, "2026-08-29")
	if len(rows) != 2 {
		t.Fatalf("archive holds %d rows, want 2", len(rows))
	}
	if rows[0].Tags != "entity_id=sensor.a,version=v1" {
		t.Errorf("tags = %q, want canonical sorted encoding", rows[0].Tags)
	}
	if rows[0].Field != "value" || rows[0].Value != 1.5 {
		t.Errorf("rows[0] = %+v", rows[0])
	}
}

func TestParquetSinkMergesByIdentity(t *testing.T) {
	dir := t.TempDir()
	sink := NewParquetSink(dir)
	ctx := context.Background()
	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	if err := sink.WriteBatch(ctx, []domain.Point{archivePoint("sensor.a", ts, 1.0)}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	// Same identity, new value: must overwrite, not append.
	if err := sink.WriteBatch(ctx, []domain.Point{archivePoint("sensor.a", ts, 9.0)}); err != nil {
		t.Fatalf("WriteBatch (rewrite): %v", err)
	}

	rows := readArchive(t, dir, "2026-08-29")
	if len(rows) != 1 {
		t.Fatalf("archive holds %d rows after rewrite, want 1", len(rows))
	}
	if rows[0].Value != 9.0 {
		t.Errorf("value = %v, want the rewritten 9.0", rows[0].Value)
	}
}

func TestParquetSinkRerunProducesIdenticalArchive(t *testing.T) {
	dir := t.TempDir()
	sink := NewParquetSink(dir)
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	var points []domain.Point
	for i := 0; i < 100; i++ {
		points = append(points, archivePoint("sensor.a", base.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	if err := sink.WriteBatch(ctx, points); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	first := readArchive(t, dir, "2026-08-29")

	if err := sink.WriteBatch(ctx, points); err != nil {
		t.Fatalf("WriteBatch (rerun): %v", err)
	}
	second := readArchive(t, dir, "2026-08-29")

	if len(first) != len(second) {
		t.Fatalf("rerun changed row count: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("row %d differs after rerun:\n  %+v\n  %+v", i, first[i], second[i])
		}
	}
}

func TestParquetSinkSplitsAcrossDays(t *testing.T) {
	dir := t.TempDir()
	sink := NewParquetSink(dir)
	ctx := context.Background()

	d1 := time.Date(2026, 8, 28, 23, 59, 0, 0, time.UTC)
	d2 := time.Date(2026, 8, 29, 0, 1, 0, 0, time.UTC)
	err := sink.WriteBatch(ctx, []domain.Point{
		archivePoint("sensor.a", d1, 1.0),
		archivePoint("sensor.a", d2, 2.0),
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	if rows := readArchive(t, dir, "2026-08-28"); len(rows) != 1 {
		t.Errorf("2026-08-28 archive holds %d rows, want 1", len(rows))
	}
	if rows := readArchive(t, dir, "2026-08-29"); len(rows) != 1 {
		t.Errorf("2026-08-29 archive holds %d rows, want 1", len(rows))
	}
}

func TestParquetSinkMultiFieldPoints(t *testing.T) {
	dir := t.TempDir()
	sink := NewParquetSink(dir)
	ctx := context.Background()

	ts := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	agg := domain.Point{
		Measurement: "daily",
		Tags:        map[string]string{"entity_id": "sensor.a", "rollup": "daily"},
		Fields: map[string]float64{
			"count":     1440,
			"daily_sum": 1440,
			"mean":      1,
		},
		Timestamp: ts,
	}
	if err := sink.WriteBatch(ctx, []domain.Point{agg}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	rows := readArchive(t, dir, "2026-08-29")
	if len(rows) != 3 {
		t.Fatalf("archive holds %d rows, want one per field", len(rows))
	}
	// Sorted by (timestamp, tags, field): count, daily_sum, mean.
	if rows[0].Field != "count" || rows[1].Field != "daily_sum" || rows[2].Field != "mean" {
		t.Errorf("fields out of order: %s, %s, %s", rows[0].Field, rows[1].Field, rows[2].Field)
	}
}

func TestMultiSinkFanOut(t *testing.T) {
	dir := t.TempDir()
	archive := NewParquetSink(dir)
	multi := NewMultiSink(archive)

	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if err := multi.WriteBatch(context.Background(), []domain.Point{archivePoint("sensor.a", ts, 1.0)}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if rows := readArchive(t, dir, "2026-08-29"); len(rows) != 1 {
		t.Errorf("fan-out wrote %d rows, want 1", len(rows))
	}
}
