package export

import (
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"silver-stress-tracker/internal/storage"
)

// Downsample picks max evenly spaced items, always keeping the first and last.
func Downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

var csvHeader = []string{
	"taken_at", "spot_price", "premium_pct", "inventory_total_moz", "inventory_registered_moz",
	"margin_initial", "margin_days_stable", "lease_rate_proxy", "shanghai_premium_usd",
	"status_premiums", "status_inventory", "status_margins", "status_lease", "status_shanghai",
	"composite_score", "composite_total", "composite_status",
}

// WriteSnapshotsCSV writes one row per snapshot; absent values are empty cells.
func WriteSnapshotsCSV(path string, snaps []storage.Snapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, s := range snaps {
		record := []string{
			s.TakenAt.UTC().Format(time.RFC3339),
			formatFloat(s.SpotPrice),
			formatFloat(s.PremiumPct),
			formatFloat(s.InventoryTotalMoz),
			formatFloat(s.InventoryRegisteredMoz),
			formatFloat(s.MarginInitial),
			formatInt(s.MarginDaysStable),
			formatFloat(s.LeaseRateProxy),
			formatFloat(s.ShanghaiPremiumUSD),
			deref(s.StatusPremiums),
			deref(s.StatusInventory),
			deref(s.StatusMargins),
			deref(s.StatusLease),
			deref(s.StatusShanghai),
			strconv.Itoa(s.CompositeScore),
			strconv.Itoa(s.CompositeTotal),
			s.CompositeStatus,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteSnapshotsPNG renders spot price and premium on the primary axis and
// the composite ratio on the secondary axis.
func WriteSnapshotsPNG(path string, snaps []storage.Snapshot) error {
	if len(snaps) < 2 {
		return errors.New("at least two snapshots are needed to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		spotX, premX []time.Time
		spotY, premY []float64
		compositeX   = make([]time.Time, 0, len(snaps))
		compositeY   = make([]float64, 0, len(snaps))
	)
	for _, s := range snaps {
		if s.SpotPrice != nil {
			spotX = append(spotX, s.TakenAt)
			spotY = append(spotY, *s.SpotPrice)
		}
		if s.PremiumPct != nil {
			premX = append(premX, s.TakenAt)
			premY = append(premY, *s.PremiumPct)
		}
		ratio := 0.0
		if s.CompositeTotal > 0 {
			ratio = float64(s.CompositeScore) / float64(s.CompositeTotal) * 100
		}
		compositeX = append(compositeX, s.TakenAt)
		compositeY = append(compositeY, ratio)
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	var series []chart.Series
	if len(spotX) > 1 {
		series = append(series, chart.TimeSeries{Name: "Spot (USD/oz)", XValues: spotX, YValues: spotY})
	}
	if len(premX) > 1 {
		series = append(series, chart.TimeSeries{Name: "Premium %", XValues: premX, YValues: premY})
	}
	composite := chart.TimeSeries{Name: "Normalizing %", XValues: compositeX, YValues: compositeY}
	primaryRange := chart.Range(nil)
	if len(series) > 0 {
		composite.YAxis = chart.YAxisSecondary
	} else {
		primaryRange = &chart.ContinuousRange{Min: 0, Max: 100}
	}
	series = append(series, composite)

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "USD / %",
			ValueFormatter: valueFormatter,
			Range:          primaryRange,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Normalizing (%)",
			ValueFormatter: valueFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
