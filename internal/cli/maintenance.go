package cli

import (
	"github.com/spf13/cobra"
)

var cleanupDays int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print row counts per table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Stats(cmd.Context(), cmd.OutOrStdout())
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete observations and snapshots older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cleanup(cmd.Context(), cmd.OutOrStdout(), cleanupDays)
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Keep this many days (defaults to retention.days)")
}
