package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAssignBioregionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "assign-bioregions",
		Short: "Assign a bioregion to every located site that has none",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssignBioregions(cmd.Context(), a)
		},
	}
}

func runAssignBioregions(ctx context.Context, a *app) error {
	repo, err := a.repository(ctx)
	if err != nil {
		return err
	}
	n, err := repo.AssignMissingBioregions(ctx)
	if err != nil {
		return withCode(exitDB, err)
	}
	a.log.Info("Assigned bioregions", zap.Int64("sites", n))
	return nil
}

func newRefreshViewsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-views",
		Short: "Refresh the summary statistics view",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefreshViews(cmd.Context(), a)
		},
	}
}

func runRefreshViews(ctx context.Context, a *app) error {
	repo, err := a.repository(ctx)
	if err != nil {
		return err
	}
	if err := repo.RefreshSummary(ctx); err != nil {
		return withCode(exitDB, err)
	}
	a.log.Info("Refreshed summary view")
	return nil
}

type rollbackOptions struct {
	yes bool
}

func newRollbackCmd(a *app) *cobra.Command {
	var opts rollbackOptions

	cmd := &cobra.Command{
		Use:   "rollback <batch-id>",
		Short: "Remove the rows written by one import batch",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid batch id: %w", err))
			}
			return runRollback(cmd.Context(), a, id, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.yes, "yes", false, "Confirm the rollback")
	return cmd
}

func runRollback(ctx context.Context, a *app, id uuid.UUID, opts rollbackOptions) error {
	repo, err := a.repository(ctx)
	if err != nil {
		return err
	}
	batch, err := repo.GetBatch(ctx, id)
	if errors.Is(err, archive.ErrNotFound) {
		return withCode(exitUsage, fmt.Errorf("import batch %s not found", id))
	}
	if err != nil {
		return withCode(exitDB, err)
	}
	if !opts.yes {
		fmt.Fprintf(os.Stdout, "Would roll back batch %s (%s, %d records). Re-run with --yes.\n",
			batch.ID, batch.Status, batch.RecordCount)
		return nil
	}

	res, err := repo.RollbackBatch(ctx, id)
	if err != nil {
		return withCode(exitDB, err)
	}
	a.log.Info("Rolled back import batch",
		zap.String("batch_id", id.String()),
		zap.Int64("ages", res.Ages),
		zap.Int64("samples", res.Samples),
		zap.Int64("sites", res.Sites),
	)
	return writeJSON(os.Stdout, res)
}
