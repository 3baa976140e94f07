package main

import (
	"context"
	"fmt"
	"os"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/archive/memstore"
	"github.com/austarch/austarch-db/internal/audit"
	"github.com/austarch/austarch-db/internal/config"
	"github.com/austarch/austarch-db/internal/ingest"
	"github.com/austarch/austarch-db/internal/metrics"
	"github.com/austarch/austarch-db/internal/quality"
	"github.com/austarch/austarch-db/internal/reference"
	"github.com/austarch/austarch-db/internal/retry"
	"github.com/austarch/austarch-db/internal/seeds"
	"github.com/austarch/austarch-db/internal/sites"
	"github.com/austarch/austarch-db/internal/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type ingestOptions struct {
	dir          string
	dryRun       bool
	workers      int
	strict       bool
	skipExisting bool
	json         bool
	maxRows      int
	metricsFile  string
}

func newIngestCmd(a *app) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Import every CSV/TSV file under the data directory as one batch",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyIngestFlags(cmd, a.cfg, opts)
			return runIngest(cmd.Context(), a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", "", "Data directory or s3://bucket/prefix (default AUSTARCH_DATA_DIR)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run against an in-memory store; nothing is written")
	cmd.Flags().IntVar(&opts.workers, "workers", 1, "Rows written concurrently")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail files with unknown columns and abort on unknown methods")
	cmd.Flags().BoolVar(&opts.skipExisting, "skip-existing", true, "Skip rows whose lab code is already stored")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the run report as JSON")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", 50, "Row problems listed in the text report (-1 for all)")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write ingestion metrics in Prometheus text format")
	return cmd
}

// applyIngestFlags lets explicitly set flags override the loaded config.
func applyIngestFlags(cmd *cobra.Command, cfg *config.Config, opts ingestOptions) {
	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.DataDir = opts.dir
	}
	if flags.Changed("workers") {
		cfg.Ingest.Workers = opts.workers
	}
	if flags.Changed("strict") {
		cfg.Ingest.Strict = opts.strict
	}
	if flags.Changed("skip-existing") {
		cfg.Ingest.SkipExisting = opts.skipExisting
	}
}

func runIngest(ctx context.Context, a *app, opts ingestOptions) error {
	if err := a.cfg.Validate(); err != nil {
		return withCode(exitUsage, err)
	}

	lister, err := source.Open(ctx, a.cfg.DataDir, a.s3Config())
	if err != nil {
		return withCode(exitUsage, err)
	}
	inputs, err := lister.List(ctx)
	if err != nil {
		return fmt.Errorf("list %s: %w", a.cfg.DataDir, err)
	}
	if len(inputs) == 0 {
		return withCode(exitUsage, fmt.Errorf("no data files found in %s", a.cfg.DataDir))
	}

	var store archive.Store
	if opts.dryRun {
		ms := memstore.New()
		ms.SeedReference(seeds.Methods(), seeds.Materials())
		store = ms
		a.log.Info("Dry run: writing to an in-memory store")
	} else {
		repo, err := a.repository(ctx)
		if err != nil {
			return err
		}
		store = repo
	}

	reg := prometheus.NewRegistry()
	p, err := buildPipeline(ctx, store, a.cfg, a.log, metrics.NewIngest(reg))
	if err != nil {
		return err
	}

	report, runErr := p.Run(ctx, inputs)
	if report == nil {
		return withCode(exitDB, runErr)
	}

	if opts.json {
		if err := writeJSON(os.Stdout, report); err != nil {
			return err
		}
	} else if err := report.WriteText(os.Stdout, opts.maxRows); err != nil {
		return err
	}

	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, reg); err != nil {
			a.log.Warn("Failed to write metrics file", zap.String("path", opts.metricsFile), zap.Error(err))
		}
	}
	if runErr != nil {
		return withCode(exitBatchFailed, runErr)
	}
	return nil
}

func buildPipeline(ctx context.Context, store archive.Store, cfg *config.Config, log *zap.Logger, m *metrics.Ingest) (*ingest.Pipeline, error) {
	snap, err := reference.LoadSnapshot(ctx, store)
	if err != nil {
		return nil, withCode(exitDB, fmt.Errorf("load reference data (was the database seeded?): %w", err))
	}
	resolver := reference.NewResolver(snap, store, log)

	geoOpts := sites.DefaultOptions()
	geoOpts.FuzzyThreshold = cfg.Ingest.FuzzyThreshold
	geoOpts.MaxDistanceKm = cfg.Ingest.MaxDistanceKm
	geocoder := sites.NewGeocoder(geoOpts, log)

	classifier := quality.NewClassifier(archive.AustralianBounds)

	retryCfg := retry.DefaultConfig()
	retryCfg.Attempts = cfg.Retry.Attempts
	retryCfg.InitialDelay = cfg.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Retry.MaxDelay

	opts := ingest.Options{
		Workers:        cfg.Ingest.Workers,
		Strict:         cfg.Ingest.Strict,
		SkipExisting:   cfg.Ingest.SkipExisting,
		RowsPerSecond:  cfg.Ingest.RowsPerSecond,
		Retry:          retryCfg,
		LogRowWarnings: cfg.Ingest.LogRowWarnings,
		SourceURL:      cfg.SourceURL,
	}
	p := ingest.NewPipeline(store, resolver, geocoder, classifier, opts, log).
		WithAudit(audit.NewRecorder(cfg.Ingest.AuditEnabled)).
		WithMetrics(m)
	return p, nil
}
