package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"
)

// Show prints recent snapshots, newest first.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	snaps, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(out, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSpot\tPremium%\tInventory Moz\tMargin\tLease%\tShanghai $\tComposite")

	for _, s := range snaps {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d/%d %s\n",
			s.TakenAt.UTC().Format(time.RFC3339),
			formatOptional(s.SpotPrice, 2),
			withStatus(formatOptional(s.PremiumPct, 2), s.StatusPremiums),
			withStatus(formatOptional(s.InventoryTotalMoz, 2), s.StatusInventory),
			withStatus(formatOptional(s.MarginInitial, 0), s.StatusMargins),
			withStatus(formatOptional(s.LeaseRateProxy, 2), s.StatusLease),
			withStatus(formatOptional(s.ShanghaiPremiumUSD, 2), s.StatusShanghai),
			s.CompositeScore,
			s.CompositeTotal,
			s.CompositeStatus,
		)
	}

	return writer.Flush()
}

// Stats prints the row count of every table.
func (a *App) Stats(ctx context.Context, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Table\tRows")
	for _, s := range stats {
		fmt.Fprintf(writer, "%s\t%d\n", s.Table, s.Rows)
	}
	return writer.Flush()
}

// Cleanup deletes rows older than days and prints how many went per table.
func (a *App) Cleanup(ctx context.Context, out io.Writer, days int) error {
	if days <= 0 {
		days = a.Config.Retention.Days
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	tables := make([]string, 0, len(deleted))
	var total int64
	for table, n := range deleted {
		tables = append(tables, table)
		total += n
	}
	sort.Strings(tables)
	for _, table := range tables {
		fmt.Fprintf(out, "%s: %d deleted\n", table, deleted[table])
	}

	a.Logger.Info().Int("days", days).Time("cutoff", cutoff).Int64("deleted", total).Msg("retention cleanup finished")
	return nil
}

func formatOptional(v *float64, places int) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', places, 64)
}

func withStatus(value string, status *string) string {
	if status == nil {
		return value
	}
	return value + " (" + *status + ")"
}
