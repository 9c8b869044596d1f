package pipeline

import (
	"strings"
	"testing"
	"time"

	"hadaily/internal/config"
	"hadaily/internal/domain"
)

func testProcessing() config.Processing {
	return config.Processing{
		SourceMeasurement: "HomeAssistant",
		DestMeasurement:   "daily",
		Version:           "v1",
		Scenario:          "baseline",
		Entities: []config.Entity{
			{ID: "sensor.power_consumption", Unit: "kWh"},
			{ID: "sensor.pv_generation", Unit: "kWh", Scale: 0.001, RenameField: "generation_kwh"},
		},
	}
}

func rawRecord(entity string, ts time.Time, value any) domain.RawRecord {
	return domain.RawRecord{
		Series:    domain.SeriesKey("HomeAssistant", map[string]string{"entity_id": entity}),
		Timestamp: ts,
		Fields:    map[string]any{"value": value},
		Tags:      map[string]string{"entity_id": entity},
	}
}

func TestTransformChunkBasic(t *testing.T) {
	tr := NewTransformer(testProcessing(), time.UTC)
	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	chunk := domain.Chunk{Records: []domain.RawRecord{
		rawRecord("sensor.power_consumption", ts, 1.5),
	}}

	acc := NewRollup()
	points, errs := tr.TransformChunk(chunk, acc)
	if len(errs) != 0 {
		t.Fatalf("unexpected transform errors: %v", errs)
	}
	if len(points) != 1 {
		t.Fatalf("got %d points, want 1", len(points))
	}

	p := points[0]
	if p.Measurement != "daily" {
		t.Errorf("measurement = %s, want daily", p.Measurement)
	}
	if p.Fields["value"] != 1.5 {
		t.Errorf("value = %v, want 1.5", p.Fields["value"])
	}
	if !p.Timestamp.Equal(ts) {
		t.Errorf("timestamp changed: %s", p.Timestamp)
	}
	for k, want := range map[string]string{
		"entity_id": "sensor.power_consumption",
		"version":   "v1",
		"scenario":  "baseline",
		"unit":      "kWh",
	} {
		if p.Tags[k] != want {
			t.Errorf("tag %s = %q, want %q", k, p.Tags[k], want)
		}
	}
}

func TestTransformChunkScaleAndRename(t *testing.T) {
	tr := NewTransformer(testProcessing(), time.UTC)
	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	chunk := domain.Chunk{Records: []domain.RawRecord{
		rawRecord("sensor.pv_generation", ts, 2500.0),
	}}
	acc := NewRollup()
	points, errs := tr.TransformChunk(chunk, acc)
	if len(errs) != 0 {
		t.Fatalf("unexpected transform errors: %v", errs)
	}

	p := points[0]
	if _, ok := p.Fields["value"]; ok {
		t.Error("renamed field should replace \"value\", not keep it")
	}
	if got := p.Fields["generation_kwh"]; got != 2.5 {
		t.Errorf("scaled value = %v, want 2.5", got)
	}

	// The rollup must observe the scaled value under the renamed field.
	a := acc.Finalize()
	if len(a) != 1 || a[0].Sum != 2.5 {
		t.Errorf("rollup observed %+v, want sum 2.5", a)
	}
}

func TestTransformChunkMalformedRecordsSkipped(t *testing.T) {
	tr := NewTransformer(testProcessing(), time.UTC)
	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	noEntity := domain.RawRecord{
		Series:    "HomeAssistant",
		Timestamp: ts,
		Fields:    map[string]any{"value": 1.0},
		Tags:      map[string]string{},
	}
	noValue := rawRecord("sensor.power_consumption", ts, 1.0)
	noValue.Fields = map[string]any{"state": 1.0}
	nonNumeric := rawRecord("sensor.power_consumption", ts.Add(time.Minute), "on")
	good := rawRecord("sensor.power_consumption", ts.Add(2*time.Minute), 3.0)

	chunk := domain.Chunk{Records: []domain.RawRecord{noEntity, noValue, nonNumeric, good}}
	acc := NewRollup()
	points, errs := tr.TransformChunk(chunk, acc)

	if len(points) != 1 {
		t.Fatalf("got %d points, want 1 (only the well-formed record)", len(points))
	}
	if len(errs) != 3 {
		t.Fatalf("got %d transform errors, want 3", len(errs))
	}
	for _, e := range errs {
		if e.Error() == "" {
			t.Error("transform error with empty message")
		}
	}
	if !strings.Contains(errs[2].Reason, "non-numeric") {
		t.Errorf("errs[2].Reason = %q, want non-numeric", errs[2].Reason)
	}

	// Skipped records must not pollute the rollup.
	a := acc.Finalize()
	if len(a) != 1 || a[0].Count != 1 {
		t.Errorf("rollup state polluted by skipped records: %+v", a)
	}
}

func TestTransformChunkPure(t *testing.T) {
	tr := NewTransformer(testProcessing(), time.UTC)
	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	chunk := domain.Chunk{Records: []domain.RawRecord{
		rawRecord("sensor.power_consumption", ts, 1.0),
		rawRecord("sensor.power_consumption", ts.Add(time.Minute), 2.0),
	}}

	p1, _ := tr.TransformChunk(chunk, NewRollup())
	p2, _ := tr.TransformChunk(chunk, NewRollup())
	if len(p1) != len(p2) {
		t.Fatalf("repeat transform produced %d vs %d points", len(p1), len(p2))
	}
	for i := range p1 {
		if p1[i].Identity() != p2[i].Identity() || p1[i].Fields["value"] != p2[i].Fields["value"] {
			t.Errorf("point %d differs between identical transforms", i)
		}
	}
}

func TestFinalizeRollup(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("loading location: %v", err)
	}
	p := testProcessing()
	tr := NewTransformer(p, loc)

	// One local day of observations, 2026-08-29 CEST.
	acc := NewRollup()
	base := time.Date(2026, 8, 28, 22, 0, 0, 0, time.UTC) // local midnight
	chunk := domain.Chunk{Records: []domain.RawRecord{
		rawRecord("sensor.power_consumption", base, 2.0),
		rawRecord("sensor.power_consumption", base.Add(time.Hour), 4.0),
		rawRecord("sensor.power_consumption", base.Add(2*time.Hour), 3.0),
	}}
	if _, errs := tr.TransformChunk(chunk, acc); len(errs) != 0 {
		t.Fatalf("unexpected transform errors: %v", errs)
	}

	points, err := tr.FinalizeRollup(acc)
	if err != nil {
		t.Fatalf("FinalizeRollup: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("got %d aggregate points, want 1", len(points))
	}

	agg := points[0]
	if agg.Tags["rollup"] != "daily" {
		t.Errorf("rollup tag = %q, want daily", agg.Tags["rollup"])
	}
	if !agg.Timestamp.Equal(time.Date(2026, 8, 29, 0, 0, 0, 0, loc)) {
		t.Errorf("aggregate timestamp = %s, want local day start", agg.Timestamp)
	}
	wantFields := map[string]float64{
		"count":     3,
		"daily_sum": 9,
		"mean":      3,
		"min":       2,
		"max":       4,
		"last":      3,
	}
	for k, want := range wantFields {
		if got := agg.Fields[k]; got != want {
			t.Errorf("field %s = %v, want %v", k, got, want)
		}
	}
}

func TestFinalizeRollupEmpty(t *testing.T) {
	tr := NewTransformer(testProcessing(), time.UTC)
	points, err := tr.FinalizeRollup(NewRollup())
	if err != nil {
		t.Fatalf("FinalizeRollup: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("empty accumulator produced %d points", len(points))
	}
}
