package main

import (
	"github.com/austarch/austarch-db/internal/db"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(a)
		},
	}
}

func runMigrate(a *app) error {
	if err := db.Migrate(a.cfg.Database.DSN(), a.log); err != nil {
		return withCode(exitDB, err)
	}
	return nil
}
