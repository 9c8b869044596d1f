// Package notify delivers end-of-run summaries. The default implementation
// writes a structured log line; richer channels (webhooks, mail) plug in
// behind the same interface.
package notify

import (
	"context"
	"log/slog"
	"time"

	"hadaily/internal/domain"
)

// Notifier receives the final result of a run.
type Notifier interface {
	Notify(ctx context.Context, result *domain.RunResult) error
}

// LogNotifier reports run results through slog.
type LogNotifier struct {
	log *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With("component", "notify")}
}

func (n *LogNotifier) Notify(_ context.Context, result *domain.RunResult) error {
	attrs := []any{
		"runID", result.RunID,
		"status", string(result.Status),
		"window", result.Window.String(),
		"read", result.RecordsRead,
		"written", result.RecordsWritten,
		"skipped", result.RecordsSkipped,
		"aggregates", result.AggregatesWritten,
		"chunks", result.ChunksProcessed,
		"errors", result.TotalErrors,
		"duration", result.Duration().Round(time.Millisecond).String(),
	}
	if result.Status == domain.RunSucceeded {
		n.log.Info("run summary", attrs...)
	} else {
		n.log.Error("run summary", attrs...)
	}
	for _, ev := range result.Errors {
		n.log.Warn("run error sample", "stage", ev.Stage, "series", ev.Series, "error", ev.Err)
	}
	return nil
}
