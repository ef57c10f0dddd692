// Command merge pairs one storm-year best track with its MiRS imagery and
// sounding granules and writes NAME_YEAR_all_data.nc.
//
// Usage:
//
//	merge --name IDA --year 2021 --mirs-dir /data/mirs \
//	  --ibt-csv ibtracs.ALL.list.v04r00.csv --output-dir out --indices 42,43
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-mirs-merge/internal/adapter/ibtracs"
	kafkaadapter "github.com/couchcryptid/storm-mirs-merge/internal/adapter/kafka"
	"github.com/couchcryptid/storm-mirs-merge/internal/adapter/mirs"
	"github.com/couchcryptid/storm-mirs-merge/internal/config"
	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
	"github.com/couchcryptid/storm-mirs-merge/internal/matcher"
	"github.com/couchcryptid/storm-mirs-merge/internal/merger"
	"github.com/couchcryptid/storm-mirs-merge/internal/observability"
	"github.com/couchcryptid/storm-mirs-merge/internal/output"
	"github.com/couchcryptid/storm-mirs-merge/internal/pipeline"
	"github.com/couchcryptid/storm-mirs-merge/internal/track"
)

// Exit codes.
const (
	exitOK = iota
	exitError
	exitConfig
	exitNotFound
	exitInvalidIndex
	exitIncomplete
	exitWrite
)

type flags struct {
	name             string
	stormID          string
	year             int
	mirsDir          string
	ibtCSV           string
	ibtNC            string
	outputDir        string
	configFile       string
	indices          []int
	filterMissingWMO bool
	strict           bool
	workers          int
}

// configError marks failures the operator fixes in flags, env or the YAML file.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		slog.Error("merge failed", "error", err)
		return exitCode(err)
	}
	return exitOK
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "merge",
		Short:         "Merge a storm track with its MiRS imagery and sounding granules",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return &configError{err: err}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := run(ctx, cfg, pipeline.Request{Name: f.name, Year: f.year, Indices: f.indices})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Path)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "storm name as it appears in IBTrACS, e.g. IDA")
	fl.IntVar(&f.year, "year", 0, "storm season")
	fl.StringVar(&f.stormID, "storm-id", "", "IBTrACS SID to pick when the name is reused in the season (env STORM_ID)")
	fl.StringVar(&f.mirsDir, "mirs-dir", "", "directory of MiRS IMG/SND granules (env MIRS_DIR)")
	fl.StringVar(&f.ibtCSV, "ibt-csv", "", "IBTrACS best-track CSV (env IBTRACS_CSV)")
	fl.StringVar(&f.ibtNC, "ibt-nc", "", "optional IBTrACS netCDF for storm metadata (env IBTRACS_NC)")
	fl.StringVar(&f.outputDir, "output-dir", "", "directory for the merged artifact (env OUTPUT_DIR)")
	fl.StringVar(&f.configFile, "config", "", "YAML merge options (env MERGE_CONFIG_FILE)")
	fl.IntSliceVar(&f.indices, "indices", nil, "track point indices to merge; all when omitted")
	fl.BoolVar(&f.filterMissingWMO, "filter-missing-wmo", true, "drop fixes without WMO intensity")
	fl.BoolVar(&f.strict, "strict", false, "fail when any track point has no granule of a type")
	fl.IntVar(&f.workers, "workers", 0, "granule reader concurrency (env MERGE_WORKERS)")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &configError{err: err}
	})
	return cmd
}

// loadConfig reads env and the YAML file, then applies explicitly set flags.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if f.configFile != "" {
		cfg.ConfigFile = f.configFile
		if err := cfg.ApplyFile(f.configFile); err != nil {
			return nil, err
		}
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.StormID, f.stormID)
	set(&cfg.MirsDir, f.mirsDir)
	set(&cfg.IBTracsCSV, f.ibtCSV)
	set(&cfg.IBTracsNC, f.ibtNC)
	set(&cfg.OutputDir, f.outputDir)

	fl := cmd.Flags()
	if fl.Changed("filter-missing-wmo") {
		cfg.Merge.FilterMissingWMO = f.filterMissingWMO
	}
	if fl.Changed("strict") {
		cfg.Merge.StrictCompleteness = f.strict
	}
	if fl.Changed("workers") {
		cfg.Merge.Workers = f.workers
	}

	if f.name == "" {
		return nil, errors.New("storm name is required (--name)")
	}
	if cfg.MirsDir == "" {
		return nil, errors.New("granule directory is required (--mirs-dir or MIRS_DIR)")
	}
	if f.year <= 0 {
		return nil, fmt.Errorf("invalid year %d", f.year)
	}
	if err := cfg.Merge.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, req pipeline.Request) (*pipeline.Result, error) {
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat).With("run_id", uuid.NewString())
	metrics := observability.NewMetrics()
	opts := cfg.MergeOptions()

	if cfg.MetricsTextfile != "" {
		defer func() {
			if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
				logger.Error("failed to write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
			}
		}()
	}

	if err := output.CheckDir(cfg.OutputDir); err != nil {
		return nil, err
	}

	inv := mirs.NewInventory(cfg.MirsDir, mirs.NewHeaderCache(cfg.HeaderCacheSize), nil, logger, metrics)
	var options []pipeline.Option
	if cfg.IBTracsNC != "" {
		options = append(options, pipeline.WithMetadata(ibtracs.NewMetadataReader(cfg.IBTracsNC)))
	}
	if len(cfg.KafkaBrokers) > 0 {
		n := kafkaadapter.NewNotifier(cfg, logger)
		defer func() {
			if err := n.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		options = append(options, pipeline.WithNotifier(n))
		logger.Info("artifact notifications enabled", "topic", cfg.KafkaTopic)
	}

	loader := track.NewLoader(ibtracs.NewCSVReader(cfg.IBTracsCSV), opts, logger)
	if cfg.StormID != "" {
		loader = loader.WithStormID(cfg.StormID)
	}

	p := pipeline.New(
		loader,
		matcher.New(inv, opts, logger, metrics),
		merger.New(mirs.NewReader(inv, opts, logger), opts, logger, metrics),
		output.NewWriter(cfg.OutputDir, logger),
		opts, logger, metrics,
		options...,
	)
	return p.Run(ctx, req)
}

func exitCode(err error) int {
	var (
		ce  *configError
		nf  *domain.NotFoundError
		amb *domain.AmbiguousStormError
		ie  *domain.InvalidIndexError
		ng  *domain.NoGranulesError
		we  *domain.WriteError
	)
	switch {
	case errors.As(err, &ce):
		return exitConfig
	case errors.As(err, &nf), errors.As(err, &amb):
		return exitNotFound
	case errors.As(err, &ie):
		return exitInvalidIndex
	case errors.As(err, &ng):
		return exitIncomplete
	case errors.As(err, &we):
		return exitWrite
	default:
		return exitError
	}
}
