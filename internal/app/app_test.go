package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silver-stress-tracker/internal/config"
	"silver-stress-tracker/internal/storage"
	"silver-stress-tracker/internal/stress"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database = config.DatabaseConfig{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "silver.db")}
	cfg.Export.OutputDir = t.TempDir()
	return NewApp(cfg, zerolog.Nop())
}

func openTestStore(t *testing.T, a *App) *storage.Store {
	t.Helper()
	store, closeStore, err := a.openStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(closeStore)
	return store
}

func TestSpotChainFallsBackToKitco(t *testing.T) {
	yahoo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer yahoo.Close()
	kitco := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<div class="silver"><span class="bid">$31.40</span></div>`))
	}))
	defer kitco.Close()

	a := testApp(t)
	a.Config.Sources.Yahoo.BaseURL = yahoo.URL
	a.Config.Sources.Kitco.URL = kitco.URL
	a.Config.Sources.RateLimit.RPS = 100
	store := openTestStore(t, a)

	sources := a.newSources(store, nil)
	require.NotNil(t, sources.Spot)
	quote, provider, err := sources.Spot.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kitco", provider)
	assert.Equal(t, 31.4, quote.PriceUSD)
	assert.Equal(t, "kitco", quote.Source)
}

func TestValidateEntryNamesFlags(t *testing.T) {
	err := ValidateEntry(MarginEntry{Initial: 1000, Maintenance: 2000, Source: "manual"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--maintenance")
	assert.Contains(t, err.Error(), "--contract")

	assert.NoError(t, ValidateEntry(SpotEntry{PriceUSD: 30, Source: "manual"}))
	assert.Error(t, ValidateEntry(SpotEntry{PriceUSD: 0, Source: "manual"}))
	assert.Error(t, ValidateEntry(ShanghaiEntry{ShanghaiSpot: 31, Source: "manual"}))
}

func TestObserveRecordsManualEntries(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	_, err := a.Observe(ctx, SpotEntry{PriceUSD: 100, Source: "manual"}, at)
	require.NoError(t, err)
	_, err = a.Observe(ctx, MarginEntry{Initial: 40000, Contract: "SI", Source: "manual"}, at)
	require.NoError(t, err)
	_, err = a.Observe(ctx, InventoryEntry{RegisteredOz: 100e6, EligibleOz: 300e6, Source: "manual"}, at)
	require.NoError(t, err)
	_, err = a.Observe(ctx, PremiumEntry{SpotPrice: 100, PhysicalPrice: 112.5, ProductType: "coins", Source: "dealer"}, at)
	require.NoError(t, err)
	_, err = a.Observe(ctx, ShanghaiEntry{ShanghaiSpot: 103, WesternSpot: 100, Source: "SGE"}, at)
	require.NoError(t, err)
	_, err = a.Observe(ctx, LeaseEntry{RatePct: 4.2, RateType: "1M", Source: "manual"}, at)
	require.NoError(t, err)

	store := openTestStore(t, a)

	margin, err := store.LatestMargin(ctx)
	require.NoError(t, err)
	require.NotNil(t, margin)
	assert.Equal(t, 36000.0, margin.MaintenanceMargin)
	require.NotNil(t, margin.MarginPct)
	assert.InDelta(t, 8.0, *margin.MarginPct, 1e-9)

	inv, err := store.LatestInventory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 400e6, inv.TotalOz)

	premium, err := store.LatestPremium(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12.5, premium.PremiumPct)

	sh, err := store.LatestShanghaiPremium(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, sh.PremiumUSD, 1e-9)

	lease, err := store.LatestLeaseRate(ctx)
	require.NoError(t, err)
	assert.Nil(t, lease.Tenor)
	assert.Equal(t, "1M", lease.RateType)
}

func TestObserveRejectsInvalidEntry(t *testing.T) {
	a := testApp(t)
	_, err := a.Observe(context.Background(), LeaseEntry{RatePct: 500, RateType: "1M", Source: "manual"}, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--rate")
}

func TestShowStatsAndCleanup(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	store := openTestStore(t, a)

	price := 31.5
	_, err := store.InsertSnapshot(ctx, storage.Snapshot{TakenAt: time.Now().UTC(), RunID: "r1", SpotPrice: &price, CompositeScore: 3, CompositeTotal: 4, CompositeStatus: "green"})
	require.NoError(t, err)
	_, err = store.InsertSpotPrice(ctx, storage.SpotPrice{ObservedAt: time.Now().UTC().AddDate(-2, 0, 0), Source: "manual", PriceUSD: 20})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, a.Show(ctx, &out, ShowOptions{Limit: 5}))
	assert.Contains(t, out.String(), "31.50")
	assert.Contains(t, out.String(), "3/4 green")

	out.Reset()
	require.NoError(t, a.Stats(ctx, &out))
	assert.Contains(t, out.String(), "metrics_snapshot")

	out.Reset()
	require.NoError(t, a.Cleanup(ctx, &out, 365))
	assert.Contains(t, out.String(), "spot_prices: 1 deleted")
}

func TestExportRequiresOutput(t *testing.T) {
	a := testApp(t)
	require.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func TestSimulatedComposite(t *testing.T) {
	engine, err := stress.NewEngine(stress.DefaultConfig())
	require.NoError(t, err)

	for _, color := range []stress.Color{stress.Green, stress.Yellow, stress.Orange, stress.Red} {
		c, ok := SimulatedComposite(engine, color)
		require.True(t, ok, color)
		assert.Equal(t, color, c.StatusColor)
		assert.Equal(t, len(stress.StressMetrics), c.Total)
	}
	_, ok := SimulatedComposite(engine, stress.Gray)
	assert.False(t, ok)
}

func TestSimulateAlertSendsTelegram(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := testApp(t)
	a.Config.Alerting.Enabled = true
	a.Config.Alerting.Telegram = config.TelegramConfig{Enabled: true, BotToken: "token", ChatID: "42", APIBase: srv.URL}

	require.NoError(t, a.SimulateAlert(context.Background(), stress.Green, stress.Red))
	assert.Equal(t, "42", payload["chat_id"])
	assert.Contains(t, payload["text"], "red")
}

func TestSimulateAlertDisabled(t *testing.T) {
	a := testApp(t)
	require.Error(t, a.SimulateAlert(context.Background(), stress.Green, stress.Red))
}
