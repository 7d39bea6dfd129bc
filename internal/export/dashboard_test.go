package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silver-stress-tracker/internal/config"
	"silver-stress-tracker/internal/snapshot"
	"silver-stress-tracker/internal/storage"
	"silver-stress-tracker/internal/stress"
)

var fixedNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func ptr[T any](v T) *T { return &v }

func TestBuildBadgeColorMap(t *testing.T) {
	cases := map[stress.Color]string{
		stress.Green:  "brightgreen",
		stress.Yellow: "yellow",
		stress.Orange: "orange",
		stress.Red:    "red",
		stress.Gray:   "lightgrey",
		"":            "lightgrey",
	}
	for in, want := range cases {
		badge := BuildBadge(stress.CompositeScore{Score: 3, Total: 5, StatusColor: in})
		assert.Equal(t, want, badge.Color, string(in))
		assert.Equal(t, "3/5 normalizing", badge.Message)
		assert.Equal(t, 1, badge.SchemaVersion)
		assert.Equal(t, "Silver Market", badge.Label)
	}
}

func TestWriteAllProducesDashboardFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.InsertSnapshot(ctx, storage.Snapshot{
			TakenAt:         fixedNow.Add(time.Duration(i-3) * time.Hour),
			RunID:           "run",
			SpotPrice:       ptr(30 + float64(i)),
			CompositeScore:  i,
			CompositeTotal:  5,
			CompositeStatus: "red",
		})
		require.NoError(t, err)
	}
	_, err := store.InsertSpotPrice(ctx, storage.SpotPrice{ObservedAt: fixedNow.Add(-time.Hour), Source: "yahoo_finance", PriceUSD: 31})
	require.NoError(t, err)

	dir := t.TempDir()
	dash := NewDashboard(Options{OutputDir: dir, HistoryDays: 90, Version: "1.0", Now: func() time.Time { return fixedNow }}, store, zerolog.Nop())

	metrics := snapshot.Metrics{
		LastUpdated: fixedNow,
		Premium:     &stress.NormalizedMetric{Metric: stress.MetricPremium, Value: 12, StatusColor: stress.Green, IsNormalizing: true},
		Composite:   stress.CompositeScore{Score: 1, Total: 1, StatusColor: stress.Green, StatusLabel: "Market Easing"},
	}
	files, err := dash.WriteAll(ctx, metrics)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	var latest map[string]any
	readJSON(t, filepath.Join(dir, LatestFile), &latest)
	assert.Equal(t, "1.0", latest["version"])
	assert.Equal(t, "2026-01-10T12:00:00Z", latest["generated_at"])
	premium := latest["metrics"].(map[string]any)["premium"].(map[string]any)
	assert.Equal(t, "green", premium["status_color"])

	var badge Badge
	readJSON(t, filepath.Join(dir, BadgeFile), &badge)
	assert.Equal(t, "1/1 normalizing", badge.Message)
	assert.Equal(t, "brightgreen", badge.Color)

	var hist struct {
		DaysIncluded int `json:"days_included"`
		Data         struct {
			Snapshots struct {
				Records []map[string]any `json:"records"`
				Charts  map[string]Chart `json:"charts"`
			} `json:"snapshots"`
			SpotPrices TableHistory `json:"spot_prices"`
		} `json:"data"`
	}
	readJSON(t, filepath.Join(dir, HistoricalFile), &hist)
	assert.Equal(t, 90, hist.DaysIncluded)
	assert.Len(t, hist.Data.Snapshots.Records, 3)
	spot := hist.Data.Snapshots.Charts["spot_price"]
	assert.Equal(t, []string{"2026-01-10 09:00", "2026-01-10 10:00", "2026-01-10 11:00"}, spot.Labels)
	require.Len(t, spot.Datasets, 1)
	assert.Equal(t, 32.0, *spot.Datasets[0].Data[2])
	assert.Nil(t, hist.Data.Snapshots.Charts["premium_pct"].Datasets[0].Data[0])
	assert.Equal(t, 1, hist.Data.SpotPrices.Count)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "temporary files must not be left behind")
}

func TestWriteAllWithoutHistory(t *testing.T) {
	dir := t.TempDir()
	dash := NewDashboard(Options{OutputDir: dir}, nil, zerolog.Nop())
	files, err := dash.WriteAll(context.Background(), snapshot.Metrics{Composite: stress.CompositeScore{StatusColor: stress.Gray}})
	require.NoError(t, err)
	assert.NotContains(t, files, HistoricalFile)

	var badge Badge
	readJSON(t, filepath.Join(dir, BadgeFile), &badge)
	assert.Equal(t, "0/0 normalizing", badge.Message)
	assert.Equal(t, "lightgrey", badge.Color)
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, v))
}
