package main

import (
	"errors"

	"github.com/spf13/cobra"
	repopg "github.com/tendant/simple-image/pkg/simpleimage/repo/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <up|down|version|force N>",
	Short: "Apply or inspect the Postgres schema migrations",
	Long: `Apply or inspect the Postgres schema migrations.

Examples:
  simpleimage-admin migrate up
  simpleimage-admin migrate version
  simpleimage-admin migrate force 1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if cfg.DatabaseType != "postgres" {
		return errors.New("migrate requires DATABASE_URL to point at postgres")
	}
	return repopg.RunMigrate(logger, cfg.DatabaseURL, args[0], args[1:])
}
