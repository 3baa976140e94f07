package main

import (
	"context"
	"fmt"
	"os"

	"github.com/austarch/austarch-db/internal/validation"
	"github.com/spf13/cobra"
)

type validateOptions struct {
	json        bool
	failOnError bool
	baselines   string
}

func newValidateCmd(a *app) *cobra.Command {
	var opts validateOptions

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run integrity checks, the duplicate scan and record count verification",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("baselines") {
				opts.baselines = a.cfg.Baselines
			}
			return runValidate(cmd.Context(), a, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&opts.failOnError, "fail-on-error", false, "Exit 2 when an ERROR severity check has findings")
	cmd.Flags().StringVar(&opts.baselines, "baselines", "", "YAML file of expected record counts (default AUSTARCH_BASELINES)")
	return cmd
}

func runValidate(ctx context.Context, a *app, opts validateOptions) error {
	baselines, err := validation.LoadBaselines(opts.baselines)
	if err != nil {
		return withCode(exitUsage, err)
	}
	repo, err := a.repository(ctx)
	if err != nil {
		return err
	}

	engine := validation.NewEngine(repo, validation.Options{Baselines: baselines, Log: a.log})
	report, err := engine.Report(ctx)
	if err != nil {
		return withCode(exitDB, err)
	}

	if opts.json {
		err = writeJSON(os.Stdout, report)
	} else {
		err = report.WriteText(os.Stdout)
	}
	if err != nil {
		return err
	}

	if opts.failOnError && report.HasErrors() {
		return withCode(exitValidation, fmt.Errorf("validation found %d failing checks", report.FailedChecks()))
	}
	return nil
}
