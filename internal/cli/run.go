package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/spf13/cobra"

	"hadaily/internal/config"
	"hadaily/internal/notify"
	"hadaily/internal/pipeline"
	"hadaily/internal/store"
	"hadaily/internal/util"
)

type runOptions struct {
	date      string
	dryRun    bool
	chunkSize int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one aggregation run for the previous calendar day",
		Long: `Run resolves the processing window (the previous calendar day in the
configured timezone, or the day given with --date), extracts that window
from the source bucket in chunks, and writes transformed points plus daily
rollups to the destination bucket. If a checkpoint from an interrupted run
exists, the run resumes from its boundary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), root, opts)
		},
	}

	runCmd.Flags().StringVar(&opts.date, "date", "", "process this calendar day instead of yesterday (YYYY-MM-DD, config timezone)")
	runCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "extract and transform but write nothing and leave checkpoints untouched")
	runCmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 0, "override configured extraction chunk size")

	return runCmd
}

func runRun(parent context.Context, root *rootOptions, opts *runOptions) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}

	closeLogs, err := setupLogging(cfg, root)
	if err != nil {
		return err
	}
	defer closeLogs()

	if opts.chunkSize > 0 {
		cfg.Processing.ChunkSize = opts.chunkSize
	}

	loc := cfg.Location()

	var explicitDate *time.Time
	if opts.date != "" {
		d, perr := time.ParseInLocation("2006-01-02", opts.date, loc)
		if perr != nil {
			return fmt.Errorf("parsing --date %q: %w", opts.date, perr)
		}
		explicitDate = &d
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	coord, cleanup, err := buildCoordinator(cfg, explicitDate, opts.dryRun)
	if err != nil {
		return err
	}
	defer cleanup()

	slog.Info("starting run",
		"stage", root.stage,
		"sourceBucket", cfg.Influx.SourceBucket,
		"destBucket", cfg.Influx.DestBucket,
		"dryRun", opts.dryRun,
	)

	result, runErr := coord.Run(ctx)

	notifier := notify.NewLogNotifier(slog.Default())
	if nerr := notifier.Notify(context.Background(), result); nerr != nil {
		slog.Error("delivering run summary", "error", nerr)
	}

	return runErr
}

// buildCoordinator wires the full pipeline from config: influx client,
// source, sinks, checkpoint store, and the three stages. The returned
// cleanup closes the client and the checkpoint database.
func buildCoordinator(cfg *config.Config, explicitDate *time.Time, dryRun bool) (*pipeline.Coordinator, func(), error) {
	loc := cfg.Location()

	client := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)

	entityIDs := make([]string, 0, len(cfg.Processing.Entities))
	for _, e := range cfg.Processing.Entities {
		entityIDs = append(entityIDs, e.ID)
	}
	source := store.NewInfluxSource(client, cfg.Influx.Org, cfg.Influx.SourceBucket, cfg.Processing.SourceMeasurement, entityIDs)

	var sink store.SinkStore = store.NewInfluxSink(client, cfg.Influx.Org, cfg.Influx.DestBucket)
	if cfg.Processing.ArchiveEnabled {
		sink = store.NewMultiSink(sink, store.NewParquetSink(filepath.Join(cfg.Storage.DataDir, "archive")))
	}

	checkpoints, err := store.NewSQLiteCheckpoints(cfg.Storage.SQLitePath)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	cleanup := func() {
		checkpoints.Close()
		client.Close()
	}

	retry := util.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Std(),
	}
	limiter := util.NewRateLimiter(cfg.Processing.RateLimitPerMin)

	extractor := pipeline.NewExtractor(source, cfg.Processing.ChunkSize, retry, cfg.Retry.CallTimeout.Std(), limiter)
	transformer := pipeline.NewTransformer(cfg.Processing, loc)
	writer := pipeline.NewWriter(sink, retry, cfg.Retry.CallTimeout.Std(), dryRun)

	coord := pipeline.NewCoordinator(extractor, transformer, writer, checkpoints, loc, explicitDate, nil)
	return coord, cleanup, nil
}
