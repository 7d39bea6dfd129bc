package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"silver-stress-tracker/internal/stress"
)

var (
	simulateFrom string
	simulateTo   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a test composite status change through the alert channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseColor(simulateFrom)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		to, err := parseColor(simulateTo)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		if from == to {
			return fmt.Errorf("--from and --to must differ")
		}
		return getApp().SimulateAlert(cmd.Context(), from, to)
	},
}

func parseColor(v string) (stress.Color, error) {
	switch c := stress.Color(v); c {
	case stress.Green, stress.Yellow, stress.Orange, stress.Red:
		return c, nil
	default:
		return "", fmt.Errorf("unknown color %q", v)
	}
}

func init() {
	simulateCmd.Flags().StringVar(&simulateFrom, "from", string(stress.Green), "Previous composite color")
	simulateCmd.Flags().StringVar(&simulateTo, "to", string(stress.Red), "New composite color")
}
