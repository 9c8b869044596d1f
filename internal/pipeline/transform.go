package pipeline

import (
	"fmt"
	"time"

	"hadaily/internal/config"
	"hadaily/internal/domain"
)

// Transformer maps chunks of raw records to destination points. Stateless
// per-record mapping (scaling, field renaming, retagging) happens inline;
// stateful daily rollups accumulate in the explicitly threaded Rollup and
// are only finalized when the coordinator signals the window is fully read.
//
// TransformChunk is pure with respect to its inputs: the same chunk and the
// same accumulator state always produce the same output.
type Transformer struct {
	destMeasurement string
	version         string
	scenario        string
	rules           map[string]config.Entity // keyed by entity id
	loc             *time.Location
}

// NewTransformer builds a Transformer from the processing configuration.
func NewTransformer(p config.Processing, loc *time.Location) *Transformer {
	rules := make(map[string]config.Entity, len(p.Entities))
	for _, e := range p.Entities {
		rules[e.ID] = e
	}
	return &Transformer{
		destMeasurement: p.DestMeasurement,
		version:         p.Version,
		scenario:        p.Scenario,
		rules:           rules,
		loc:             loc,
	}
}

// TransformChunk maps every record of the chunk to a destination point and
// folds it into acc. Malformed records (missing or non-numeric value) are
// skipped and reported as TransformErrors; they never abort the run. Record
// order is preserved.
func (t *Transformer) TransformChunk(chunk domain.Chunk, acc *Rollup) ([]domain.Point, []*domain.TransformError) {
	points := make([]domain.Point, 0, len(chunk.Records))
	var errs []*domain.TransformError

	for _, rec := range chunk.Records {
		p, terr := t.transformRecord(rec)
		if terr != nil {
			errs = append(errs, terr)
			continue
		}
		points = append(points, p)

		rule := t.rules[rec.Tags["entity_id"]]
		field := outputField(rule)
		acc.Observe(rec.Tags["entity_id"], rec.Timestamp.In(t.loc).Format("2006-01-02"), rec.Timestamp, p.Fields[field])
	}
	return points, errs
}

// transformRecord applies the per-entity stateless mapping to one record.
func (t *Transformer) transformRecord(rec domain.RawRecord) (domain.Point, *domain.TransformError) {
	entity := rec.Tags["entity_id"]
	if entity == "" {
		return domain.Point{}, &domain.TransformError{
			Series:    rec.Series,
			Timestamp: rec.Timestamp,
			Reason:    "missing entity_id tag",
		}
	}

	raw, ok := rec.Fields["value"]
	if !ok {
		return domain.Point{}, &domain.TransformError{
			Series:    entity,
			Timestamp: rec.Timestamp,
			Reason:    "missing required field \"value\"",
		}
	}
	v, ok := toFloat(raw)
	if !ok {
		return domain.Point{}, &domain.TransformError{
			Series:    entity,
			Timestamp: rec.Timestamp,
			Reason:    fmt.Sprintf("non-numeric value %v (%T)", raw, raw),
		}
	}

	rule := t.rules[entity]
	if rule.Scale != 0 {
		v *= rule.Scale
	}

	return domain.Point{
		Measurement: t.destMeasurement,
		Tags:        t.tagsFor(entity, rule.Unit),
		Fields:      map[string]float64{outputField(rule): v},
		Timestamp:   rec.Timestamp,
	}, nil
}

// FinalizeRollup converts the accumulated buckets into daily aggregate
// points, one per (series, day), timestamped at the local day start. Point
// identity is (dest measurement, entity/version/scenario/unit/rollup tags,
// day start), so re-finalizing overwrites rather than duplicates.
func (t *Transformer) FinalizeRollup(acc *Rollup) ([]domain.Point, error) {
	aggs := acc.Finalize()
	points := make([]domain.Point, 0, len(aggs))
	for _, a := range aggs {
		day, err := time.ParseInLocation("2006-01-02", a.Day, t.loc)
		if err != nil {
			return nil, fmt.Errorf("parsing rollup day %q: %w", a.Day, err)
		}

		rule := t.rules[a.Series]
		tags := t.tagsFor(a.Series, rule.Unit)
		tags["rollup"] = "daily"

		points = append(points, domain.Point{
			Measurement: t.destMeasurement,
			Tags:        tags,
			Fields: map[string]float64{
				"count":     float64(a.Count),
				"daily_sum": a.Sum,
				"mean":      a.Mean,
				"min":       a.Min,
				"max":       a.Max,
				"last":      a.Last,
			},
			Timestamp: day,
		})
	}
	return points, nil
}

// tagsFor builds the destination tag set for a series.
func (t *Transformer) tagsFor(entity, unit string) map[string]string {
	tags := map[string]string{"entity_id": entity}
	if t.version != "" {
		tags["version"] = t.version
	}
	if t.scenario != "" {
		tags["scenario"] = t.scenario
	}
	if unit != "" {
		tags["unit"] = unit
	}
	return tags
}

func outputField(rule config.Entity) string {
	if rule.RenameField != "" {
		return rule.RenameField
	}
	return "value"
}

// toFloat coerces the scalar types the source store can return into float64.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}
