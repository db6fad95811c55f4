package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete unreferenced images older than --days",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Minimum age in days (default: CLEANUP_DAYS)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	days := cleanupDays
	if !cmd.Flags().Changed("days") {
		days = cfg.CleanupDays
	}

	rt, err := cfg.Build(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	count, err := rt.Service.CleanupUnused(cmd.Context(), days)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d unused images older than %d days\n", count, days)
	return nil
}
