package domain

import (
	"fmt"
	"testing"
	"time"
)

func TestSeriesKeyDeterministic(t *testing.T) {
	a := SeriesKey("HomeAssistant", map[string]string{"entity_id": "sensor.power", "unit": "kWh"})
	b := SeriesKey("HomeAssistant", map[string]string{"unit": "kWh", "entity_id": "sensor.power"})
	if a != b {
		t.Errorf("SeriesKey not deterministic:\n  %s\n  %s", a, b)
	}

	want := "HomeAssistant,entity_id=sensor.power,unit=kWh"
	if a != want {
		t.Errorf("SeriesKey = %s, want %s", a, want)
	}

	if got := SeriesKey("HomeAssistant", nil); got != "HomeAssistant" {
		t.Errorf("SeriesKey with no tags = %s, want bare measurement", got)
	}
}

func TestTimeRangeValidate(t *testing.T) {
	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	ok := TimeRange{Start: start, End: start.Add(24 * time.Hour)}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid range rejected: %v", err)
	}

	empty := TimeRange{Start: start, End: start}
	if err := empty.Validate(); err == nil {
		t.Error("empty range accepted")
	}

	inverted := TimeRange{Start: start, End: start.Add(-time.Hour)}
	if err := inverted.Validate(); err == nil {
		t.Error("inverted range accepted")
	}
}

func TestTimeRangeContains(t *testing.T) {
	start := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	r := TimeRange{Start: start, End: start.Add(24 * time.Hour)}

	if !r.Contains(start) {
		t.Error("range should contain its start")
	}
	if r.Contains(r.End) {
		t.Error("half-open range should not contain its end")
	}
	if !r.Contains(r.End.Add(-time.Nanosecond)) {
		t.Error("range should contain end minus 1ns")
	}
	if r.Contains(start.Add(-time.Nanosecond)) {
		t.Error("range should not contain instants before start")
	}
}

func TestPointIdentity(t *testing.T) {
	ts := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	p1 := Point{
		Measurement: "daily",
		Tags:        map[string]string{"entity_id": "sensor.power", "version": "v1"},
		Fields:      map[string]float64{"value": 1.5},
		Timestamp:   ts,
	}
	p2 := Point{
		Measurement: "daily",
		Tags:        map[string]string{"version": "v1", "entity_id": "sensor.power"},
		Fields:      map[string]float64{"value": 99.0}, // fields do not affect identity
		Timestamp:   ts,
	}
	if p1.Identity() != p2.Identity() {
		t.Errorf("identical identities differ:\n  %s\n  %s", p1.Identity(), p2.Identity())
	}

	p3 := p1
	p3.Timestamp = ts.Add(time.Nanosecond)
	if p1.Identity() == p3.Identity() {
		t.Error("different timestamps produced the same identity")
	}
}

func TestRunResultAddErrorCapsSamples(t *testing.T) {
	r := &RunResult{}
	for i := 0; i < MaxErrorEvents+10; i++ {
		r.AddError(ErrorEvent{Stage: "transform", Err: fmt.Sprintf("error %d", i)})
	}
	if r.TotalErrors != MaxErrorEvents+10 {
		t.Errorf("TotalErrors = %d, want %d", r.TotalErrors, MaxErrorEvents+10)
	}
	if len(r.Errors) != MaxErrorEvents {
		t.Errorf("retained samples = %d, want %d", len(r.Errors), MaxErrorEvents)
	}
	if r.Errors[0].Err != "error 0" {
		t.Errorf("first sample = %q, want the earliest error", r.Errors[0].Err)
	}
}
