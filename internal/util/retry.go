package util

import (
	"context"
	"time"
)

// RetryPolicy bounds retries with exponential backoff. The same policy shape
// is shared by the extractor and the writer; only the classifier differs.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do calls fn up to MaxAttempts times with exponential backoff starting at
// BaseDelay. It returns nil on the first successful call. A non-retryable
// error (per retryable) is returned immediately; otherwise the last error is
// returned once attempts are exhausted. Context cancellation is honored
// between retries. A nil retryable retries every error.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var err error
	delay := p.BaseDelay

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}

		// Don't sleep after the last failed attempt.
		if attempt < p.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay, retrying every error.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}.Do(ctx, nil, fn)
}
