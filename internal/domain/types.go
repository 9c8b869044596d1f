// Package domain defines the core data model for the daily batch pipeline:
// raw and transformed records, processing windows, chunks, checkpoints, and
// run results.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Time windows
// ---------------------------------------------------------------------------

// TimeRange is a half-open instant range [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Validate returns an error if the range is empty or inverted.
func (r TimeRange) Validate() error {
	if !r.Start.Before(r.End) {
		return fmt.Errorf("time range [%s, %s) is empty or inverted", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t falls inside [Start, End).
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.UTC().Format(time.RFC3339Nano), r.End.UTC().Format(time.RFC3339Nano))
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// RawRecord is a single point read from the source bucket. Immutable once
// read.
type RawRecord struct {
	Series    string // derived from measurement + tag set, see SeriesKey
	Timestamp time.Time
	Fields    map[string]any
	Tags      map[string]string
}

// SeriesKey derives a deterministic series identifier from a measurement
// name and tag set. Tags are sorted by key so the same tag set always
// produces the same key.
func SeriesKey(measurement string, tags map[string]string) string {
	if len(tags) == 0 {
		return measurement
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(measurement)
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	return b.String()
}

// Point is a transformed record targeting the destination bucket schema. Its
// identity (measurement, tag set, timestamp) is what the destination store
// deduplicates on: writing the same identity twice overwrites instead of
// appending.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]float64
	Timestamp   time.Time
}

// Identity returns the deduplication key of the point.
func (p Point) Identity() string {
	return fmt.Sprintf("%s@%d", SeriesKey(p.Measurement, p.Tags), p.Timestamp.UnixNano())
}

// Chunk is a bounded, timestamp-ordered slice of the processing window.
// Chunks partition the window contiguously: Range covers [Range.Start,
// Range.End) and every source record in that sub-range appears in Records
// exactly once. A chunk never splits records sharing a timestamp.
type Chunk struct {
	Seq     int
	Range   TimeRange
	Records []RawRecord
	Final   bool // last chunk of the window
}

// ---------------------------------------------------------------------------
// Checkpoints
// ---------------------------------------------------------------------------

// CheckpointStatus tracks the lifecycle of a processing window.
type CheckpointStatus string

const (
	CheckpointInProgress CheckpointStatus = "in_progress"
	CheckpointComplete   CheckpointStatus = "complete"
	CheckpointFailed     CheckpointStatus = "failed"
)

// Checkpoint is the durable record of how far a window has been committed.
// Boundary is the watermark: everything in [Window.Start, Boundary) is
// durably written to the destination. RollupState carries the serialized
// intra-window aggregation state as of Boundary so a resumed run finalizes
// the same aggregates as an uninterrupted one.
type Checkpoint struct {
	Window      TimeRange
	Boundary    time.Time
	Status      CheckpointStatus
	RollupState []byte
	UpdatedAt   time.Time
}

// ---------------------------------------------------------------------------
// Run results
// ---------------------------------------------------------------------------

// MaxErrorEvents caps the number of error samples retained on a RunResult.
// Errors past the cap are still counted.
const MaxErrorEvents = 25

// RunStatus is the terminal outcome of a run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// ErrorEvent is one recorded error sample.
type ErrorEvent struct {
	Time   time.Time
	Stage  string // extract, transform, write, checkpoint, config
	Series string // set for per-record transform errors
	Err    string
}

// RunResult accumulates counters and error samples over a run and is handed
// to the notifier at the end.
type RunResult struct {
	RunID             string
	Window            TimeRange
	Status            RunStatus
	RecordsRead       int
	RecordsWritten    int
	RecordsSkipped    int
	AggregatesWritten int
	ChunksProcessed   int
	TotalErrors       int
	Errors            []ErrorEvent
	StartedAt         time.Time
	FinishedAt        time.Time
}

// AddError records an error sample, keeping at most MaxErrorEvents samples
// while still counting the rest.
func (r *RunResult) AddError(ev ErrorEvent) {
	r.TotalErrors++
	if len(r.Errors) < MaxErrorEvents {
		r.Errors = append(r.Errors, ev)
	}
}

// Duration returns the wall-clock duration of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
