package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAllCmd(a *app) *cobra.Command {
	var ing ingestOptions
	var val validateOptions

	cmd := &cobra.Command{
		Use:   "all",
		Short: "Migrate, seed, ingest, assign bioregions, refresh views and validate",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyIngestFlags(cmd, a.cfg, ing)
			val.baselines = a.cfg.Baselines
			return runAll(cmd.Context(), a, ing, val)
		},
	}

	cmd.Flags().StringVar(&ing.dir, "dir", "", "Data directory or s3://bucket/prefix (default AUSTARCH_DATA_DIR)")
	cmd.Flags().IntVar(&ing.workers, "workers", 1, "Rows written concurrently")
	cmd.Flags().BoolVar(&ing.strict, "strict", false, "Fail files with unknown columns and abort on unknown methods")
	cmd.Flags().IntVar(&ing.maxRows, "max-rows", 50, "Row problems listed in the text report (-1 for all)")
	cmd.Flags().BoolVar(&val.failOnError, "fail-on-error", false, "Exit 2 when an ERROR severity check has findings")
	return cmd
}

func runAll(ctx context.Context, a *app, ing ingestOptions, val validateOptions) error {
	return allSteps{
		prepare: []func() error{
			func() error { return runMigrate(a) },
			func() error { return runSeed(ctx, a, seedOptions{}) },
		},
		ingest: func() error { return runIngest(ctx, a, ing) },
		finish: []func() error{
			func() error { return runAssignBioregions(ctx, a) },
			func() error { return runRefreshViews(ctx, a) },
		},
		validate: func() error { return runValidate(ctx, a, val) },
	}.run(a.log)
}

type allSteps struct {
	prepare  []func() error
	ingest   func() error
	finish   []func() error
	validate func() error
}

// run stops at the first failing step. A failed ingest still gets a
// validation report of whatever it committed, and its error is returned.
func (s allSteps) run(log *zap.Logger) error {
	for _, step := range s.prepare {
		if err := step(); err != nil {
			return err
		}
	}
	if err := s.ingest(); err != nil {
		if verr := s.validate(); verr != nil {
			log.Warn("Validation after failed ingest", zap.Error(verr))
		}
		return err
	}
	for _, step := range s.finish {
		if err := step(); err != nil {
			return err
		}
	}
	return s.validate()
}
