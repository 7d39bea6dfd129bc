package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"silver-stress-tracker/internal/app"
)

var (
	observeAt string

	spotEntry      app.SpotEntry
	premiumEntry   app.PremiumEntry
	inventoryEntry app.InventoryEntry
	marginEntry    app.MarginEntry
	leaseEntry     app.LeaseEntry
	shanghaiEntry  app.ShanghaiEntry

	importFile string
)

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Record a manual observation",
}

func observeRun(entry func() app.Entry) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		at, err := parseAt(observeAt)
		if err != nil {
			return err
		}
		e := entry()
		id, err := getApp().Observe(cmd.Context(), e, at)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %s #%d\n", e.Kind(), id)
		return nil
	}
}

func parseAt(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at value: %w", err)
	}
	return at, nil
}

var observeSpotCmd = &cobra.Command{
	Use:   "spot",
	Short: "Record a spot price in USD/oz",
	RunE:  observeRun(func() app.Entry { return spotEntry }),
}

var observePremiumCmd = &cobra.Command{
	Use:   "premium",
	Short: "Record a physical premium from spot and physical prices",
	RunE:  observeRun(func() app.Entry { return premiumEntry }),
}

var observeInventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Record COMEX warehouse stocks in ounces",
	RunE:  observeRun(func() app.Entry { return inventoryEntry }),
}

var observeMarginCmd = &cobra.Command{
	Use:   "margin",
	Short: "Record a CME margin requirement in USD",
	RunE:  observeRun(func() app.Entry { return marginEntry }),
}

var observeLeaseCmd = &cobra.Command{
	Use:   "lease-rate",
	Short: "Record a lease rate in percent",
	RunE:  observeRun(func() app.Entry { return leaseEntry }),
}

var observeShanghaiCmd = &cobra.Command{
	Use:   "shanghai",
	Short: "Record Shanghai and western prices in USD/oz",
	RunE:  observeRun(func() app.Entry { return shanghaiEntry }),
}

var importInventoryCmd = &cobra.Command{
	Use:   "import-inventory",
	Short: "Import a downloaded CME silver stocks workbook (.xls or .xlsx)",
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseAt(observeAt)
		if err != nil {
			return err
		}
		id, err := getApp().ImportInventory(cmd.Context(), importFile, at)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recorded inventory #%d\n", id)
		return nil
	},
}

func init() {
	observeCmd.PersistentFlags().StringVar(&observeAt, "at", "", "Observation time (RFC3339, defaults to now)")

	f := observeSpotCmd.Flags()
	f.Float64Var(&spotEntry.PriceUSD, "price", 0, "Spot price in USD/oz")
	f.StringVar(&spotEntry.Source, "source", "manual", "Source label")

	f = observePremiumCmd.Flags()
	f.Float64Var(&premiumEntry.SpotPrice, "spot", 0, "Spot or paper price in USD/oz")
	f.Float64Var(&premiumEntry.PhysicalPrice, "physical", 0, "Physical price in USD/oz")
	f.StringVar(&premiumEntry.ProductType, "product-type", "average", "Product type, e.g. coins or bars")
	f.StringVar(&premiumEntry.Source, "source", "manual", "Source label")

	f = observeInventoryCmd.Flags()
	f.Float64Var(&inventoryEntry.RegisteredOz, "registered", 0, "Registered ounces")
	f.Float64Var(&inventoryEntry.EligibleOz, "eligible", 0, "Eligible ounces")
	f.Float64Var(&inventoryEntry.TotalOz, "total", 0, "Total ounces (defaults to registered + eligible)")
	f.StringVar(&inventoryEntry.Source, "source", "CME", "Source label")

	f = observeMarginCmd.Flags()
	f.Float64Var(&marginEntry.Initial, "initial", 0, "Initial margin in USD")
	f.Float64Var(&marginEntry.Maintenance, "maintenance", 0, "Maintenance margin in USD (defaults to 90% of initial)")
	f.StringVar(&marginEntry.Contract, "contract", "SI", "Contract code")
	f.StringVar(&marginEntry.Source, "source", "CME", "Source label")

	f = observeLeaseCmd.Flags()
	f.Float64Var(&leaseEntry.RatePct, "rate", 0, "Annualised lease rate in percent")
	f.StringVar(&leaseEntry.RateType, "rate-type", "manual", "Rate type, e.g. 1M or implied_lease")
	f.StringVar(&leaseEntry.Tenor, "tenor", "", "Tenor label")
	f.StringVar(&leaseEntry.Source, "source", "manual", "Source label")

	f = observeShanghaiCmd.Flags()
	f.Float64Var(&shanghaiEntry.ShanghaiSpot, "shanghai", 0, "Shanghai price in USD/oz")
	f.Float64Var(&shanghaiEntry.WesternSpot, "western", 0, "Western spot in USD/oz")
	f.StringVar(&shanghaiEntry.Source, "source", "SGE", "Source label")

	observeCmd.AddCommand(observeSpotCmd, observePremiumCmd, observeInventoryCmd, observeMarginCmd, observeLeaseCmd, observeShanghaiCmd)

	importInventoryCmd.Flags().StringVar(&importFile, "file", "", "Path to the stocks workbook")
	importInventoryCmd.Flags().StringVar(&observeAt, "at", "", "Observation time (RFC3339, defaults to now)")
	_ = importInventoryCmd.MarkFlagRequired("file")
}
