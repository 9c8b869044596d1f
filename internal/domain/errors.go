package domain

import (
	"errors"
	"fmt"
	"time"
)

// The pipeline's error taxonomy. Configuration and checkpoint errors are
// fatal and never retried. Extract and write errors are produced only after
// the retry policy is exhausted and abort the run, leaving the checkpoint at
// its last committed boundary. Transform errors are per-record, absorbed and
// tallied.

// ConfigError reports an invalid window or configuration. Fatal, no retry.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return "configuration: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ExtractError reports a source sub-range that could not be read after
// retries. Fatal for the run, resumable on the next invocation.
type ExtractError struct {
	Range TimeRange
	Err   error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.Range, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// TransformError reports a single malformed record. Recovered locally: the
// record is skipped and counted, never fatal.
type TransformError struct {
	Series    string
	Timestamp time.Time
	Reason    string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transforming %s@%s: %s", e.Series, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Reason)
}

// WriteError reports a destination chunk that could not be written after
// retries. Fatal for the run, resumable on the next invocation.
type WriteError struct {
	Range TimeRange
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Range, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CheckpointError reports an unavailable checkpoint store. Fatal: silently
// losing resume state risks duplicate or missed processing.
type CheckpointError struct {
	Op  string
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Transient classification
// ---------------------------------------------------------------------------

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
func (e *transientError) Transient() bool { return true }

// Transient marks err as retryable. Store adapters wrap network and
// server-side failures with it; permanent rejections (bad schema, auth) stay
// unmarked and escalate immediately.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	return errors.As(err, &t) && t.Transient()
}
