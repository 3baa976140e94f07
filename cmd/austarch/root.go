package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "austarch",
		Short:         "Load and validate the AustArch dating archive",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "Path to an optional YAML config file")
	cmd.PersistentFlags().StringVar(&a.logMode, "log-mode", "", "Override AUSTARCH_LOG_MODE (dev or prod)")

	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newSeedCmd(a))
	cmd.AddCommand(newIngestCmd(a))
	cmd.AddCommand(newAssignBioregionsCmd(a))
	cmd.AddCommand(newRefreshViewsCmd(a))
	cmd.AddCommand(newValidateCmd(a))
	cmd.AddCommand(newRollbackCmd(a))
	cmd.AddCommand(newAllCmd(a))
	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
