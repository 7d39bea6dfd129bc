package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"silver-stress-tracker/internal/app"
)

var (
	updateFetchOnly  bool
	updateExportOnly bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run one fetch, snapshot and export cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := getApp().Update(cmd.Context(), app.UpdateOptions{
			FetchOnly:  updateFetchOnly,
			ExportOnly: updateExportOnly,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if result.Skipped {
			fmt.Fprintln(out, "skipped: another writer holds the lock")
			return nil
		}
		for _, source := range sortedKeys(result.Stored) {
			fmt.Fprintf(out, "stored   %-17s via %s\n", source, result.Stored[source])
		}
		for _, source := range sortedKeys(result.Failed) {
			fmt.Fprintf(out, "failed   %-17s %v\n", source, result.Failed[source])
		}
		if m := result.Metrics; m != nil {
			fmt.Fprintf(out, "composite %d/%d %s (%s)\n", m.Composite.Score, m.Composite.Total, m.Composite.StatusColor, m.Composite.StatusLabel)
		}
		for _, name := range sortedKeys(result.Files) {
			fmt.Fprintf(out, "wrote    %s\n", result.Files[name])
		}
		return nil
	},
}

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create or migrate the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().InitDB(cmd.Context())
	},
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	updateCmd.Flags().BoolVar(&updateFetchOnly, "fetch-only", false, "Only fetch and store observations")
	updateCmd.Flags().BoolVar(&updateExportOnly, "export-only", false, "Only re-export dashboard files from stored data")
	updateCmd.MarkFlagsMutuallyExclusive("fetch-only", "export-only")
}
