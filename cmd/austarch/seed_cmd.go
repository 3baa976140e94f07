package main

import (
	"context"
	"fmt"
	"os"

	"github.com/austarch/austarch-db/internal/seeds"
	"github.com/spf13/cobra"
)

type seedOptions struct {
	bioregions string
}

func newSeedCmd(a *app) *cobra.Command {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed dating methods, sample materials and optionally bioregions",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.bioregions, "bioregions", "", "CSV of bioregion boundaries (code,name,state,wkt)")
	return cmd
}

func runSeed(ctx context.Context, a *app, opts seedOptions) error {
	gdb, err := a.db(ctx)
	if err != nil {
		return err
	}
	if err := seeds.SeedAll(ctx, gdb, a.log); err != nil {
		return withCode(exitDB, err)
	}
	if opts.bioregions == "" {
		return nil
	}

	f, err := os.Open(opts.bioregions)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("open bioregions: %w", err))
	}
	defer f.Close()
	rows, err := seeds.ReadBioregions(f)
	if err != nil {
		return withCode(exitValidation, fmt.Errorf("read %s: %w", opts.bioregions, err))
	}
	if _, err := seeds.SeedBioregions(ctx, gdb, rows, a.log); err != nil {
		return withCode(exitDB, err)
	}
	return nil
}
