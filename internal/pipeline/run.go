package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hadaily/internal/domain"
	"hadaily/internal/store"
)

// State is the coordinator's position in the run lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateResolving
	StateExtracting
	StateTransforming
	StateWriting
	StateCommitting
	StateComplete
	StateFailed
)

var stateNames = map[State]string{
	StateNotStarted:   "not_started",
	StateResolving:    "resolving",
	StateExtracting:   "extracting",
	StateTransforming: "transforming",
	StateWriting:      "writing",
	StateCommitting:   "committing",
	StateComplete:     "complete",
	StateFailed:       "failed",
}

func (s State) String() string { return stateNames[s] }

// Coordinator orchestrates one run: resolve the window, stream chunks
// through transform and write, advance the checkpoint after each durably
// written chunk, finalize the rollups after the last chunk. It is the single
// entry point of the core; everything process-level (flags, env, log sinks,
// run locks) is resolved before it.
//
// Extraction of the next chunk overlaps the transform/write of the previous
// one through a channel of capacity one, a bounded pipeline of depth two.
// There is no fan-out across chunks: the rollup accumulator requires strict
// chunk order.
type Coordinator struct {
	extractor   *Extractor
	transformer *Transformer
	writer      *Writer
	checkpoints store.CheckpointStore

	loc          *time.Location
	explicitDate *time.Time
	now          func() time.Time

	state State
	log   *slog.Logger
}

// NewCoordinator wires a Coordinator. explicitDate, when non-nil, overrides
// the automatic "previous calendar day" window. now defaults to time.Now.
func NewCoordinator(ext *Extractor, tr *Transformer, w *Writer, cps store.CheckpointStore, loc *time.Location, explicitDate *time.Time, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		extractor:    ext,
		transformer:  tr,
		writer:       w,
		checkpoints:  cps,
		loc:          loc,
		explicitDate: explicitDate,
		now:          now,
		state:        StateNotStarted,
		log:          slog.Default().With("component", "coordinator"),
	}
}

// State returns the coordinator's current lifecycle state.
func (c *Coordinator) State() State { return c.state }

func (c *Coordinator) transition(s State) {
	c.log.Debug("state transition", "from", c.state.String(), "to", s.String())
	c.state = s
}

// Run executes one pipeline run and returns its result. The result is
// always non-nil; a non-nil error means the run failed and the process
// should exit non-zero. After a failure the checkpoint stays at the last
// committed boundary, so invoking Run again resumes safely.
func (c *Coordinator) Run(ctx context.Context) (*domain.RunResult, error) {
	result := &domain.RunResult{
		RunID:     uuid.NewString(),
		StartedAt: c.now(),
	}

	res, acc, err := c.resolve(ctx, result)
	if err != nil {
		return c.fail(result, err)
	}
	result.Window = res.Window
	c.log.Info("window resolved",
		"mode", res.Mode.String(),
		"window", res.Window.String(),
		"from", res.From.UTC().Format(time.RFC3339Nano),
	)

	if err := c.processWindow(ctx, res, acc, result); err != nil {
		return c.fail(result, err)
	}

	c.transition(StateComplete)
	result.Status = domain.RunSucceeded
	result.FinishedAt = c.now()
	c.log.Info("run complete",
		"runID", result.RunID,
		"read", result.RecordsRead,
		"written", result.RecordsWritten,
		"skipped", result.RecordsSkipped,
		"aggregates", result.AggregatesWritten,
		"chunks", result.ChunksProcessed,
		"duration", result.Duration().String(),
	)
	return result, nil
}

// resolve loads the latest checkpoint, resolves the window, restores the
// rollup accumulator, and records the opening checkpoint.
func (c *Coordinator) resolve(ctx context.Context, result *domain.RunResult) (Resolution, *Rollup, error) {
	c.transition(StateResolving)

	cp, err := c.checkpoints.Latest(ctx)
	if err != nil {
		return Resolution{}, nil, err
	}

	res, err := ResolveWindow(c.now(), c.loc, c.explicitDate, cp)
	if err != nil {
		// A corrupt checkpoint must not trap every future run in the same
		// failure; mark it failed so the next invocation starts fresh.
		if cp != nil && cp.Status == domain.CheckpointInProgress {
			cp.Status = domain.CheckpointFailed
			if serr := c.checkpoints.Save(ctx, cp); serr != nil {
				c.log.Error("marking corrupt checkpoint failed", "error", serr)
			}
		}
		return Resolution{}, nil, err
	}

	acc, err := RestoreRollup(res.RollupState)
	if err != nil {
		return Resolution{}, nil, &domain.ConfigError{Reason: "checkpoint rollup state corrupt", Err: err}
	}

	if !c.writer.DryRun() {
		opening := &domain.Checkpoint{
			Window:      res.Window,
			Boundary:    res.From,
			Status:      domain.CheckpointInProgress,
			RollupState: res.RollupState,
		}
		if err := c.checkpoints.Save(ctx, opening); err != nil {
			return Resolution{}, nil, err
		}
	}
	return res, acc, nil
}

// processWindow drives the per-chunk extract → transform → write → commit
// loop and the final rollup flush.
func (c *Coordinator) processWindow(ctx context.Context, res Resolution, acc *Rollup, result *domain.RunResult) error {
	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan domain.Chunk, 1)

	c.transition(StateExtracting)
	g.Go(func() error {
		defer close(chunks)
		return c.extractor.Run(gctx, res.Window, res.From, chunks)
	})

	g.Go(func() error {
		for chunk := range chunks {
			if err := c.processChunk(gctx, res.Window, chunk, acc, result); err != nil {
				return err
			}
			// Cancellation is honored here, between chunks, never inside a
			// chunk write.
			if err := gctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// processChunk runs one chunk through transform, write, and checkpoint
// commit. On the final chunk it also finalizes and writes the daily
// aggregates before marking the checkpoint complete.
func (c *Coordinator) processChunk(ctx context.Context, window domain.TimeRange, chunk domain.Chunk, acc *Rollup, result *domain.RunResult) error {
	c.transition(StateTransforming)
	result.RecordsRead += len(chunk.Records)

	points, terrs := c.transformer.TransformChunk(chunk, acc)
	for _, terr := range terrs {
		result.RecordsSkipped++
		result.AddError(domain.ErrorEvent{
			Time:   c.now(),
			Stage:  "transform",
			Series: terr.Series,
			Err:    terr.Error(),
		})
		c.log.Warn("skipping malformed record", "series", terr.Series, "reason", terr.Reason)
	}

	c.transition(StateWriting)
	if err := c.writer.WriteChunk(ctx, points, chunk.Range); err != nil {
		return err
	}
	result.RecordsWritten += len(points)

	var finalPoints []domain.Point
	if chunk.Final {
		var err error
		finalPoints, err = c.transformer.FinalizeRollup(acc)
		if err != nil {
			return &domain.ConfigError{Reason: "finalizing rollups", Err: err}
		}
		if err := c.writer.WriteChunk(ctx, finalPoints, window); err != nil {
			return err
		}
		result.AggregatesWritten += len(finalPoints)
	}

	c.transition(StateCommitting)
	if !c.writer.DryRun() {
		cp := &domain.Checkpoint{
			Window:   window,
			Boundary: chunk.Range.End,
			Status:   domain.CheckpointInProgress,
		}
		if chunk.Final {
			cp.Status = domain.CheckpointComplete
			cp.Boundary = window.End
		} else {
			state, err := acc.Snapshot()
			if err != nil {
				return &domain.CheckpointError{Op: "snapshot", Err: err}
			}
			cp.RollupState = state
		}
		if err := c.checkpoints.Save(ctx, cp); err != nil {
			return err
		}
	}

	result.ChunksProcessed++
	c.log.Info("chunk committed",
		"seq", chunk.Seq,
		"range", chunk.Range.String(),
		"records", len(chunk.Records),
		"written", len(points)+len(finalPoints),
		"final", chunk.Final,
	)

	c.transition(StateExtracting)
	return nil
}

// fail finalizes the result for a fatal error. The checkpoint is left at its
// last committed boundary so the next invocation resumes.
func (c *Coordinator) fail(result *domain.RunResult, err error) (*domain.RunResult, error) {
	c.transition(StateFailed)
	result.Status = domain.RunFailed
	result.FinishedAt = c.now()
	result.AddError(domain.ErrorEvent{
		Time:  c.now(),
		Stage: stageOf(err),
		Err:   err.Error(),
	})
	c.log.Error("run failed", "runID", result.RunID, "error", err)
	return result, err
}

// stageOf maps a fatal error to the pipeline stage it came from.
func stageOf(err error) string {
	var (
		cfgErr *domain.ConfigError
		extErr *domain.ExtractError
		wrErr  *domain.WriteError
		cpErr  *domain.CheckpointError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "config"
	case errors.As(err, &extErr):
		return "extract"
	case errors.As(err, &wrErr):
		return "write"
	case errors.As(err, &cpErr):
		return "checkpoint"
	default:
		return "run"
	}
}
