package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"silver-stress-tracker/internal/snapshot"
	"silver-stress-tracker/internal/storage"
	"silver-stress-tracker/internal/stress"
)

const (
	LatestFile     = "latest.json"
	HistoricalFile = "historical.json"
	BadgeFile      = "badge.json"

	chartLabelLayout   = "2006-01-02 15:04"
	defaultRecordLimit = 100
	schemaVersion      = "1.0"
)

// HistorySource supplies the snapshot and observation history.
type HistorySource interface {
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]storage.Snapshot, error)
	storage.HistoryReader
}

// Options configure the dashboard exporter.
type Options struct {
	OutputDir   string
	HistoryDays int
	// RecordLimit caps the per-table raw records in historical.json.
	RecordLimit int
	Version     string
	Now         func() time.Time
}

// Dashboard writes the static JSON files read by the web dashboard.
type Dashboard struct {
	opts   Options
	source HistorySource
	logger zerolog.Logger
}

// NewDashboard constructs an exporter. source may be nil, in which case
// historical.json is skipped.
func NewDashboard(opts Options, source HistorySource, logger zerolog.Logger) *Dashboard {
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 90
	}
	if opts.RecordLimit <= 0 {
		opts.RecordLimit = defaultRecordLimit
	}
	if opts.Version == "" {
		opts.Version = schemaVersion
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Dashboard{
		opts:   opts,
		source: source,
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// Latest is the latest.json document.
type Latest struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Version     string           `json:"version"`
	Metrics     snapshot.Metrics `json:"metrics"`
}

// Badge is a shields.io endpoint document.
type Badge struct {
	SchemaVersion int    `json:"schemaVersion"`
	Label         string `json:"label"`
	Message       string `json:"message"`
	Color         string `json:"color"`
}

// Dataset is one chart series.
type Dataset struct {
	Label string     `json:"label"`
	Data  []*float64 `json:"data"`
}

// Chart is a labels/datasets pair ready for a charting library.
type Chart struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// TableHistory is the tail of one observation table.
type TableHistory struct {
	Count   int `json:"count"`
	Records any `json:"records"`
}

// SnapshotHistory holds snapshot rows and the derived charts.
type SnapshotHistory struct {
	Records []storage.Snapshot `json:"records"`
	Charts  map[string]Chart   `json:"charts"`
}

// Historical is the historical.json document.
type Historical struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	DaysIncluded int            `json:"days_included"`
	Data         map[string]any `json:"data"`
}

var badgeColors = map[stress.Color]string{
	stress.Green:  "brightgreen",
	stress.Yellow: "yellow",
	stress.Orange: "orange",
	stress.Red:    "red",
	stress.Gray:   "lightgrey",
}

// BuildBadge maps the composite score onto shields.io colors.
func BuildBadge(c stress.CompositeScore) Badge {
	color, ok := badgeColors[c.StatusColor]
	if !ok {
		color = "lightgrey"
	}
	return Badge{
		SchemaVersion: 1,
		Label:         "Silver Market",
		Message:       fmt.Sprintf("%d/%d normalizing", c.Score, c.Total),
		Color:         color,
	}
}

// WriteAll writes latest.json, historical.json and badge.json and returns
// their paths keyed by file name.
func (d *Dashboard) WriteAll(ctx context.Context, m snapshot.Metrics) (map[string]string, error) {
	files := make(map[string]string, 3)

	path, err := d.WriteLatest(m)
	if err != nil {
		return files, err
	}
	files[LatestFile] = path

	if d.source != nil {
		path, err = d.WriteHistorical(ctx)
		if err != nil {
			return files, err
		}
		files[HistoricalFile] = path
	}

	path, err = d.WriteBadge(m.Composite)
	if err != nil {
		return files, err
	}
	files[BadgeFile] = path

	d.logger.Info().Int("files", len(files)).Str("dir", d.opts.OutputDir).Msg("dashboard exported")
	return files, nil
}

// WriteLatest writes the current metrics.
func (d *Dashboard) WriteLatest(m snapshot.Metrics) (string, error) {
	doc := Latest{GeneratedAt: d.opts.Now(), Version: d.opts.Version, Metrics: m}
	return d.writeJSON(LatestFile, doc, true)
}

// WriteBadge writes the shields.io endpoint document.
func (d *Dashboard) WriteBadge(c stress.CompositeScore) (string, error) {
	return d.writeJSON(BadgeFile, BuildBadge(c), false)
}

// WriteHistorical writes snapshot history with chart series plus the tail
// of the main observation tables.
func (d *Dashboard) WriteHistorical(ctx context.Context) (string, error) {
	doc, err := d.BuildHistorical(ctx)
	if err != nil {
		return "", err
	}
	return d.writeJSON(HistoricalFile, doc, true)
}

// BuildHistorical assembles the historical.json document.
func (d *Dashboard) BuildHistorical(ctx context.Context) (Historical, error) {
	now := d.opts.Now()
	since := now.AddDate(0, 0, -d.opts.HistoryDays)
	doc := Historical{GeneratedAt: now, DaysIncluded: d.opts.HistoryDays, Data: map[string]any{}}

	snaps, err := d.source.ListSnapshotsBetween(ctx, since, now.Add(time.Second))
	if err != nil {
		return doc, fmt.Errorf("load snapshots: %w", err)
	}
	if len(snaps) > 0 {
		doc.Data["snapshots"] = SnapshotHistory{Records: snaps, Charts: SnapshotCharts(snaps)}
	}

	limit := d.opts.RecordLimit
	spot, err := d.source.SpotPricesSince(ctx, since, limit)
	if err != nil {
		return doc, err
	}
	addTable(doc.Data, "spot_prices", spot)

	premiums, err := d.source.PremiumsSince(ctx, since, limit)
	if err != nil {
		return doc, err
	}
	addTable(doc.Data, "premiums", premiums)

	inventory, err := d.source.InventoryReportsSince(ctx, since, limit)
	if err != nil {
		return doc, err
	}
	addTable(doc.Data, "inventory", inventory)

	margins, err := d.source.MarginsSince(ctx, since, limit)
	if err != nil {
		return doc, err
	}
	addTable(doc.Data, "margins", margins)

	return doc, nil
}

func addTable[T any](data map[string]any, name string, rows []T) {
	if len(rows) == 0 {
		return
	}
	data[name] = TableHistory{Count: len(rows), Records: rows}
}

// SnapshotCharts derives one chart per tracked snapshot column.
func SnapshotCharts(snaps []storage.Snapshot) map[string]Chart {
	series := []struct {
		key   string
		label string
		value func(storage.Snapshot) *float64
	}{
		{"spot_price", "Spot Price (USD)", func(s storage.Snapshot) *float64 { return s.SpotPrice }},
		{"premium_pct", "Premium (%)", func(s storage.Snapshot) *float64 { return s.PremiumPct }},
		{"inventory_total", "Total Inventory (M oz)", func(s storage.Snapshot) *float64 { return s.InventoryTotalMoz }},
		{"margin_initial", "Initial Margin (USD)", func(s storage.Snapshot) *float64 { return s.MarginInitial }},
		{"lease_rate", "Lease Rate Proxy (%)", func(s storage.Snapshot) *float64 { return s.LeaseRateProxy }},
		{"shanghai_premium", "Shanghai Premium ($/oz)", func(s storage.Snapshot) *float64 { return s.ShanghaiPremiumUSD }},
		{"composite_score", "Composite Score", func(s storage.Snapshot) *float64 {
			v := float64(s.CompositeScore)
			return &v
		}},
	}

	labels := make([]string, len(snaps))
	for i, s := range snaps {
		labels[i] = s.TakenAt.UTC().Format(chartLabelLayout)
	}

	charts := make(map[string]Chart, len(series))
	for _, sr := range series {
		data := make([]*float64, len(snaps))
		for i, s := range snaps {
			data[i] = sr.value(s)
		}
		charts[sr.key] = Chart{Labels: labels, Datasets: []Dataset{{Label: sr.label, Data: data}}}
	}
	return charts
}

// writeJSON replaces name atomically so the dashboard never reads a partial file.
func (d *Dashboard) writeJSON(name string, v any, indent bool) (string, error) {
	if err := os.MkdirAll(d.opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	var (
		body []byte
		err  error
	)
	if indent {
		body, err = json.MarshalIndent(v, "", "  ")
	} else {
		body, err = json.Marshal(v)
	}
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}

	path := filepath.Join(d.opts.OutputDir, name)
	tmp, err := os.CreateTemp(d.opts.OutputDir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", name, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("chmod %s: %w", name, err)
	}
	if _, err := tmp.Write(append(body, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("replace %s: %w", name, err)
	}

	d.logger.Debug().Str("path", path).Int("bytes", len(body)).Msg("file written")
	return path, nil
}
