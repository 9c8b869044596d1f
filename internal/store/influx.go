package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"hadaily/internal/domain"
)

// Compile-time interface checks.
var _ SourceStore = (*InfluxSource)(nil)
var _ SinkStore = (*InfluxSink)(nil)

// InfluxSource reads raw records from a source InfluxDB bucket with a
// fixed-shape Flux range query: one measurement, a configured set of
// entity_id series, the "value" field.
type InfluxSource struct {
	query       api.QueryAPI
	bucket      string
	measurement string // optional; empty skips the measurement filter
	entities    []string
	log         *slog.Logger
}

// NewInfluxSource creates an InfluxSource over the given client.
func NewInfluxSource(client influxdb2.Client, org, bucket, measurement string, entities []string) *InfluxSource {
	return &InfluxSource{
		query:       client.QueryAPI(org),
		bucket:      bucket,
		measurement: measurement,
		entities:    entities,
		log:         slog.Default().With("store", "influx-source"),
	}
}

// QueryRange returns at most limit records in [r.Start, r.End) ordered by
// (_time, entity_id). Remote failures are marked transient for the retry
// policy; context cancellation is passed through unmarked.
func (s *InfluxSource) QueryRange(ctx context.Context, r domain.TimeRange, limit int) ([]domain.RawRecord, error) {
	flux := s.buildQuery(r, limit)
	s.log.Debug("executing range query", "range", r.String(), "limit", limit)

	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, classify(fmt.Errorf("querying %s: %w", s.bucket, err))
	}

	var records []domain.RawRecord
	for result.Next() {
		rec := result.Record()
		entity, _ := rec.ValueByKey("entity_id").(string)
		records = append(records, domain.RawRecord{
			Series:    domain.SeriesKey(rec.Measurement(), map[string]string{"entity_id": entity}),
			Timestamp: rec.Time(),
			Fields:    map[string]any{rec.Field(): rec.Value()},
			Tags:      map[string]string{"entity_id": entity},
		})
	}
	if err := result.Err(); err != nil {
		return nil, classify(fmt.Errorf("reading query result: %w", err))
	}

	return records, nil
}

// buildQuery renders the Flux query for one page. The or-chain of entity_id
// equality filters pushes series selection into the store; group() merges
// the per-series tables so the sort and limit are global.
func (s *InfluxSource) buildQuery(r domain.TimeRange, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", s.bucket)
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n",
		r.Start.UTC().Format(time.RFC3339Nano), r.End.UTC().Format(time.RFC3339Nano))
	if s.measurement != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r[\"_measurement\"] == %q)\n", s.measurement)
	}

	conds := make([]string, 0, len(s.entities))
	for _, e := range s.entities {
		conds = append(conds, fmt.Sprintf("r[\"entity_id\"] == %q", e))
	}
	fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", strings.Join(conds, " or "))
	b.WriteString("  |> filter(fn: (r) => r[\"_field\"] == \"value\")\n")
	b.WriteString("  |> group()\n")
	b.WriteString("  |> sort(columns: [\"_time\", \"entity_id\"])\n")
	fmt.Fprintf(&b, "  |> limit(n: %d)\n", limit)
	return b.String()
}

// InfluxSink writes transformed points into the destination bucket. InfluxDB
// deduplicates on (measurement, tag set, timestamp), so re-writing a point
// identity overwrites: the idempotence the pipeline relies on.
type InfluxSink struct {
	write api.WriteAPIBlocking
	log   *slog.Logger
}

// NewInfluxSink creates an InfluxSink over the given client and bucket.
func NewInfluxSink(client influxdb2.Client, org, bucket string) *InfluxSink {
	return &InfluxSink{
		write: client.WriteAPIBlocking(org, bucket),
		log:   slog.Default().With("store", "influx-sink"),
	}
}

// WriteBatch writes the whole batch and returns after the server
// acknowledges it. A failure anywhere fails the whole batch; the caller
// re-issues it entirely, which is safe under identity overwrite.
func (s *InfluxSink) WriteBatch(ctx context.Context, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}

	pts := make([]*write.Point, 0, len(points))
	for _, p := range points {
		fields := make(map[string]any, len(p.Fields))
		for k, v := range p.Fields {
			fields[k] = v
		}
		pts = append(pts, influxdb2.NewPoint(p.Measurement, p.Tags, fields, p.Timestamp))
	}

	if err := s.write.WritePoint(ctx, pts...); err != nil {
		return classify(fmt.Errorf("writing %d points: %w", len(points), err))
	}
	s.log.Debug("batch acknowledged", "points", len(points))
	return nil
}

// classify marks retryable failures as transient. Throttling, server-side
// errors, and anything that is not a structured HTTP rejection (network
// faults, timeouts) are transient; other 4xx rejections like bad schema or
// auth are permanent. Context cancellation is never transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var herr *ihttp.Error
	if errors.As(err, &herr) {
		if herr.StatusCode == 429 || herr.StatusCode == 408 || herr.StatusCode >= 500 {
			return domain.Transient(err)
		}
		return err
	}
	return domain.Transient(err)
}
