package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Rollup accumulates per-(series, calendar day) aggregates across chunks of
// one window. It is threaded explicitly through the transform calls and
// finalized exactly once after the last chunk. Snapshot/RestoreRollup make
// the state durable alongside the checkpoint so a resumed run finalizes the
// same aggregates as an uninterrupted one.
type Rollup struct {
	buckets map[bucketKey]*bucketAgg
}

type bucketKey struct {
	Series string
	Day    string // local calendar date, YYYY-MM-DD
}

// bucketAgg carries streaming aggregates for one bucket. The mean uses
// Welford's update and the sum is Kahan-compensated so error stays bounded
// over a full day of samples.
type bucketAgg struct {
	Count  int64   `json:"count"`
	Mean   float64 `json:"mean"`
	M2     float64 `json:"m2"`
	Sum    float64 `json:"sum"`
	Comp   float64 `json:"comp"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Last   float64 `json:"last"`
	LastTS int64   `json:"last_ts"` // Unix ns of the Last observation
}

// NewRollup creates an empty accumulator.
func NewRollup() *Rollup {
	return &Rollup{buckets: make(map[bucketKey]*bucketAgg)}
}

// Observe folds one value into the (series, day) bucket.
func (r *Rollup) Observe(series, day string, ts time.Time, v float64) {
	k := bucketKey{Series: series, Day: day}
	a := r.buckets[k]
	if a == nil {
		a = &bucketAgg{Min: v, Max: v}
		r.buckets[k] = a
	}

	a.Count++

	// Welford running mean/M2.
	delta := v - a.Mean
	a.Mean += delta / float64(a.Count)
	a.M2 += delta * (v - a.Mean)

	// Kahan-compensated sum.
	y := v - a.Comp
	t := a.Sum + y
	a.Comp = (t - a.Sum) - y
	a.Sum = t

	if v < a.Min {
		a.Min = v
	}
	if v > a.Max {
		a.Max = v
	}
	nano := ts.UnixNano()
	if a.Count == 1 || nano >= a.LastTS {
		a.Last = v
		a.LastTS = nano
	}
}

// Aggregate is one finalized (series, day) bucket.
type Aggregate struct {
	Series string
	Day    string
	Count  int64
	Sum    float64
	Mean   float64
	Min    float64
	Max    float64
	Last   float64
}

// Finalize returns the finalized buckets sorted by (day, series). The
// accumulator itself is left untouched; callers finalize once, at window
// end.
func (r *Rollup) Finalize() []Aggregate {
	out := make([]Aggregate, 0, len(r.buckets))
	for k, a := range r.buckets {
		out = append(out, Aggregate{
			Series: k.Series,
			Day:    k.Day,
			Count:  a.Count,
			Sum:    a.Sum,
			Mean:   a.Mean,
			Min:    a.Min,
			Max:    a.Max,
			Last:   a.Last,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Series < out[j].Series
	})
	return out
}

// ---------------------------------------------------------------------------
// Serialization (checkpointed alongside the chunk boundary)
// ---------------------------------------------------------------------------

type rollupEntry struct {
	Series string    `json:"series"`
	Day    string    `json:"day"`
	Agg    bucketAgg `json:"agg"`
}

// Snapshot serializes the accumulator for checkpoint persistence. Entries
// are sorted so identical state always produces identical bytes.
func (r *Rollup) Snapshot() ([]byte, error) {
	entries := make([]rollupEntry, 0, len(r.buckets))
	for k, a := range r.buckets {
		entries = append(entries, rollupEntry{Series: k.Series, Day: k.Day, Agg: *a})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Day != entries[j].Day {
			return entries[i].Day < entries[j].Day
		}
		return entries[i].Series < entries[j].Series
	})
	return json.Marshal(entries)
}

// RestoreRollup rebuilds an accumulator from a Snapshot. A nil or empty
// snapshot yields an empty accumulator.
func RestoreRollup(data []byte) (*Rollup, error) {
	r := NewRollup()
	if len(data) == 0 {
		return r, nil
	}
	var entries []rollupEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding rollup state: %w", err)
	}
	for _, e := range entries {
		agg := e.Agg
		r.buckets[bucketKey{Series: e.Series, Day: e.Day}] = &agg
	}
	return r, nil
}
