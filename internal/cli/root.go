// Package cli handles the command-line interface using Cobra. The root
// command carries the flags shared by every subcommand: stage selection,
// config path, and log settings.
package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"hadaily/internal/config"
	"hadaily/internal/util"
)

type rootOptions struct {
	stage    string
	cfgPath  string
	logLevel string
	logFile  string
}

// NewRootCmd creates the root command and attaches all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "hadaily",
		Short:        "Daily aggregation pipeline for home sensor time series",
		Long: `hadaily extracts the previous calendar day's sensor readings from a
source InfluxDB bucket, applies per-entity transforms and daily rollups,
and writes the results idempotently to a destination bucket. Interrupted
runs resume from the last committed checkpoint.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine; explicit env vars still apply.
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("loading .env: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.stage, "stage", "dev", "deployment stage: dev, test, or prod")
	pf.StringVar(&opts.cfgPath, "config", "", "config file path (default config/<stage>.yaml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (default per stage)")
	pf.StringVar(&opts.logFile, "log-file", "", "also write logs to this file")

	rootCmd.AddCommand(newRunCmd(opts))

	return rootCmd
}

// Execute runs the root command. It is the whole of func main.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the stage config and overlays any root flags onto it.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	switch opts.stage {
	case "dev", "test", "prod":
	default:
		return nil, fmt.Errorf("unknown stage %q (want dev, test, or prod)", opts.stage)
	}

	path := opts.cfgPath
	if path == "" {
		path = fmt.Sprintf("config/%s.yaml", opts.stage)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if cfg.Logging.Level == "" {
		// Verbose in dev and test, quiet in prod.
		if opts.stage == "prod" {
			cfg.Logging.Level = "warn"
		} else {
			cfg.Logging.Level = "debug"
		}
	}
	return cfg, nil
}

// setupLogging installs the process logger. With --log-file set, output goes
// to both stdout and the file, the way the long-running gatherers log.
func setupLogging(cfg *config.Config, opts *rootOptions) (func(), error) {
	var w io.Writer = os.Stdout
	closer := func() {}

	if opts.logFile != "" {
		name := opts.logFile
		if name == "auto" {
			name = fmt.Sprintf("/tmp/hadaily-%s.log", time.Now().Format("2006-01-02"))
		}
		f, err := os.Create(name)
		if err != nil {
			return nil, fmt.Errorf("creating log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = func() { f.Close() }
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, w)
	util.SetDefault(logger)
	return closer, nil
}
