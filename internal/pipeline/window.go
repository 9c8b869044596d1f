// Package pipeline implements the extraction-transform-write core: window
// resolution, the streaming extractor, the transformer with stateful daily
// rollups, the idempotent writer, and the run coordinator that supervises
// them.
package pipeline

import (
	"fmt"
	"time"

	"hadaily/internal/domain"
)

// ResumeMode distinguishes a fresh window from a resumed partial one.
type ResumeMode int

const (
	// Fresh processes a whole window from its start.
	Fresh ResumeMode = iota
	// Resuming continues a prior run from its committed boundary.
	Resuming
)

func (m ResumeMode) String() string {
	if m == Resuming {
		return "resuming"
	}
	return "fresh"
}

// Resolution is the outcome of window resolution. Window is always the full
// original window (checkpoint identity and rollup finalization both key off
// it); From is where extraction starts, equal to Window.Start unless
// resuming. RollupState carries the serialized accumulator of a resumed run.
type Resolution struct {
	Mode        ResumeMode
	Window      domain.TimeRange
	From        time.Time
	RollupState []byte
}

// WindowForDay returns the full local calendar day containing t in loc, as a
// half-open UTC instant range.
func WindowForDay(t time.Time, loc *time.Location) domain.TimeRange {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return domain.TimeRange{Start: start.UTC(), End: start.AddDate(0, 0, 1).UTC()}
}

// ResolveWindow decides what to process. With no usable checkpoint it
// targets the previous full calendar day in loc (or the day of explicitDate
// when set). An in-progress checkpoint forces a resume of its remaining
// sub-range, except when explicitDate names a different window, which is an
// operator override and starts fresh.
//
// A corrupt resume state (inverted or empty remaining range) fails with a
// ConfigError; retrying would loop on the same corrupt checkpoint.
func ResolveWindow(now time.Time, loc *time.Location, explicitDate *time.Time, cp *domain.Checkpoint) (Resolution, error) {
	var window domain.TimeRange
	if explicitDate != nil {
		window = WindowForDay(*explicitDate, loc)
	} else {
		window = WindowForDay(now.In(loc).AddDate(0, 0, -1), loc)
	}

	if cp != nil && cp.Status == domain.CheckpointInProgress {
		if explicitDate == nil || cp.Window.Start.Equal(window.Start) {
			return resumeFrom(cp)
		}
	}

	if err := window.Validate(); err != nil {
		return Resolution{}, &domain.ConfigError{Reason: "resolved window invalid", Err: err}
	}
	return Resolution{Mode: Fresh, Window: window, From: window.Start}, nil
}

// resumeFrom validates an in-progress checkpoint and builds the resumed
// resolution.
func resumeFrom(cp *domain.Checkpoint) (Resolution, error) {
	if err := cp.Window.Validate(); err != nil {
		return Resolution{}, &domain.ConfigError{Reason: "checkpoint window invalid", Err: err}
	}
	if cp.Boundary.Before(cp.Window.Start) || cp.Boundary.After(cp.Window.End) {
		return Resolution{}, &domain.ConfigError{
			Reason: fmt.Sprintf("checkpoint boundary %s outside window %s",
				cp.Boundary.UTC().Format(time.RFC3339Nano), cp.Window),
		}
	}
	remaining := domain.TimeRange{Start: cp.Boundary, End: cp.Window.End}
	if err := remaining.Validate(); err != nil {
		return Resolution{}, &domain.ConfigError{Reason: "checkpoint leaves no remaining range", Err: err}
	}

	return Resolution{
		Mode:        Resuming,
		Window:      cp.Window,
		From:        cp.Boundary,
		RollupState: cp.RollupState,
	}, nil
}
