package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silver-stress-tracker/internal/alerting"
	"silver-stress-tracker/internal/config"
	"silver-stress-tracker/internal/export"
	"silver-stress-tracker/internal/fetcher"
	"silver-stress-tracker/internal/snapshot"
	"silver-stress-tracker/internal/storage"
	"silver-stress-tracker/internal/stress"
	"silver-stress-tracker/internal/telemetry"
)

var cycleAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

type busyLocker struct{}

func (busyLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return nil, false, nil
}

func chain[T any](name string, fn func(ctx context.Context) (T, error)) *fetcher.Chain[T] {
	return fetcher.NewChain(name, fetcher.GuardOptions{}, zerolog.Nop(), fetcher.Provider[T](fetcher.ProviderFunc[T]{ID: name + "_stub", Fn: fn}))
}

func value[T any](v T) func(context.Context) (T, error) {
	return func(context.Context) (T, error) { return v, nil }
}

func healthySources() Sources {
	return Sources{
		Spot:    chain("spot", value(fetcher.SpotQuote{PriceUSD: 100, Source: "yahoo"})),
		Premium: chain("premium", value(fetcher.PremiumQuote{Source: "papervsphysical", ProductType: "average", SpotPrice: 100, PhysicalPrice: 110, PremiumUSD: 10, PremiumPct: 10})),
		Inventory: chain("inventory", value(fetcher.InventoryReport{
			RegisteredOz: 120e6, EligibleOz: 330e6, TotalOz: 450e6,
		})),
		Margin:   chain("margin", value(fetcher.MarginQuote{Contract: "SI", Initial: 40000, Maintenance: 36000})),
		Lease:    chain("lease", value(fetcher.LeaseQuote{RatePct: 1.2, Spot: 100, Futures: 100.3, DaysToExpiry: 90})),
		Shanghai: chain("shanghai", value(fetcher.ShanghaiQuote{Source: "SGE", ShanghaiSpot: 101, WesternSpot: 100, PremiumUSD: 1, PremiumPct: 1})),
	}
}

type fixture struct {
	store    *storage.Store
	svc      *Service
	metrics  *telemetry.Metrics
	notifier *recordingNotifier
	outDir   string
}

func newFixture(t *testing.T, sources Sources, mutate func(*Deps, *Options)) fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	engine, err := stress.NewEngine(stress.DefaultConfig())
	require.NoError(t, err)
	clock := func() time.Time { return cycleAt }
	builder := snapshot.NewBuilder(engine, store, store, zerolog.Nop(), snapshot.WithClock(clock))

	outDir := t.TempDir()
	dashboard := export.NewDashboard(export.Options{OutputDir: outDir, Now: clock}, store, zerolog.Nop())

	f := fixture{store: store, metrics: telemetry.New(), notifier: &recordingNotifier{}, outDir: outDir}
	deps := Deps{
		Sources:   sources,
		Store:     store,
		Builder:   builder,
		Exporter:  dashboard,
		Notifier:  f.notifier,
		Telemetry: f.metrics,
		Locker:    store,
		Logger:    zerolog.Nop(),
	}
	opts := Options{LockKey: 42, AlertsEnabled: true, ContractSizeOz: 5000, Channels: []string{"telegram"}}
	if mutate != nil {
		mutate(&deps, &opts)
	}

	f.svc, err = New(deps, opts)
	require.NoError(t, err)
	return f
}

func TestNewRequiresStoreAndBuilder(t *testing.T) {
	_, err := New(Deps{}, Options{})
	require.ErrorIs(t, err, storage.ErrNotConfigured)

	store := &storage.Store{}
	_, err = New(Deps{Store: store}, Options{})
	require.Error(t, err)
}

func TestRunCycleStoresEveryObservation(t *testing.T) {
	f := newFixture(t, healthySources(), nil)
	ctx := context.Background()

	result, err := f.svc.RunCycle(ctx, cycleAt, CycleOptions{})
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Empty(t, result.Failed)
	assert.Len(t, result.Stored, 6)
	assert.Equal(t, "spot_stub", result.Stored[SourceSpot])
	assert.Positive(t, result.SnapshotID)
	require.NotNil(t, result.Metrics)
	assert.Equal(t, 5, result.Metrics.Composite.Total)
	assert.Contains(t, result.Files, export.LatestFile)
	assert.Contains(t, result.Files, export.BadgeFile)
	assert.Contains(t, result.Files, export.HistoricalFile)

	spot, err := f.store.LatestSpotPrice(ctx)
	require.NoError(t, err)
	require.NotNil(t, spot)
	assert.True(t, spot.ObservedAt.Equal(cycleAt))

	margin, err := f.store.LatestMargin(ctx)
	require.NoError(t, err)
	require.NotNil(t, margin)
	require.NotNil(t, margin.MarginPct)
	assert.InDelta(t, 8.0, *margin.MarginPct, 1e-9)

	lease, err := f.store.LatestLeaseRate(ctx)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "implied_lease", lease.RateType)
	require.NotNil(t, lease.Tenor)
	assert.Equal(t, "90D_proxy", *lease.Tenor)

	inv, err := f.store.LatestInventory(ctx)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Nil(t, inv.DailyChangeOz)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Cycles.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Observations.WithLabelValues(SourceSpot, "spot_stub")))
}

func TestInventoryDailyChangeAcrossCycles(t *testing.T) {
	total := 450e6
	sources := Sources{
		Inventory: chain("inventory", func(context.Context) (fetcher.InventoryReport, error) {
			return fetcher.InventoryReport{RegisteredOz: 100e6, EligibleOz: total - 100e6, TotalOz: total}, nil
		}),
	}
	f := newFixture(t, sources, nil)
	ctx := context.Background()

	_, err := f.svc.RunCycle(ctx, cycleAt.Add(-24*time.Hour), CycleOptions{FetchOnly: true})
	require.NoError(t, err)
	total = 447.5e6
	_, err = f.svc.RunCycle(ctx, cycleAt, CycleOptions{FetchOnly: true})
	require.NoError(t, err)

	inv, err := f.store.LatestInventory(ctx)
	require.NoError(t, err)
	require.NotNil(t, inv.DailyChangeOz)
	assert.InDelta(t, -2.5e6, *inv.DailyChangeOz, 1e-6)
}

func TestSourceFailureDoesNotAbortCycle(t *testing.T) {
	sources := healthySources()
	sources.Premium = chain("premium", func(context.Context) (fetcher.PremiumQuote, error) {
		return fetcher.PremiumQuote{}, errors.New("page layout changed")
	})
	f := newFixture(t, sources, nil)

	result, err := f.svc.RunCycle(context.Background(), cycleAt, CycleOptions{})
	require.NoError(t, err)

	require.Contains(t, result.Failed, SourcePremium)
	assert.Len(t, result.Stored, 5)
	require.NotNil(t, result.Metrics)
	assert.Nil(t, result.Metrics.Premium)
	assert.Equal(t, 4, result.Metrics.Composite.Total)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FetchErrors.WithLabelValues(SourcePremium)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Cycles.WithLabelValues("partial")))
}

func TestMarginPctNeedsSpot(t *testing.T) {
	sources := healthySources()
	sources.Spot = nil
	f := newFixture(t, sources, nil)
	ctx := context.Background()

	_, err := f.svc.RunCycle(ctx, cycleAt, CycleOptions{FetchOnly: true})
	require.NoError(t, err)

	margin, err := f.store.LatestMargin(ctx)
	require.NoError(t, err)
	require.NotNil(t, margin)
	assert.Nil(t, margin.MarginPct)
}

func TestFetchOnlySkipsSnapshot(t *testing.T) {
	f := newFixture(t, healthySources(), nil)
	ctx := context.Background()

	result, err := f.svc.RunCycle(ctx, cycleAt, CycleOptions{FetchOnly: true})
	require.NoError(t, err)
	assert.Nil(t, result.Metrics)
	assert.Zero(t, result.SnapshotID)

	snap, err := f.store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestExportOnlySkipsFetchAndSnapshot(t *testing.T) {
	f := newFixture(t, healthySources(), nil)
	ctx := context.Background()

	result, err := f.svc.RunCycle(ctx, cycleAt, CycleOptions{ExportOnly: true})
	require.NoError(t, err)
	assert.Empty(t, result.Stored)
	assert.Zero(t, result.SnapshotID)
	require.NotNil(t, result.Metrics)
	assert.Equal(t, stress.Gray, result.Metrics.Composite.StatusColor)
	assert.Contains(t, result.Files, export.LatestFile)
}

func TestNotifiesOnCompositeColorChange(t *testing.T) {
	f := newFixture(t, healthySources(), nil)
	ctx := context.Background()

	_, err := f.store.InsertSnapshot(ctx, storage.Snapshot{
		TakenAt:         cycleAt.Add(-time.Hour),
		RunID:           "previous",
		CompositeScore:  0,
		CompositeTotal:  5,
		CompositeStatus: string(stress.Red),
	})
	require.NoError(t, err)

	result, err := f.svc.RunCycle(ctx, cycleAt, CycleOptions{})
	require.NoError(t, err)
	require.True(t, result.Notified)

	require.Len(t, f.notifier.notes, 1)
	note := f.notifier.notes[0]
	assert.Equal(t, stress.Red, note.PreviousColor)
	assert.NotEqual(t, stress.Red, note.Composite.StatusColor)
	assert.Equal(t, []string{"telegram"}, note.Channels)
	require.NotNil(t, note.SpotPrice)
	assert.Equal(t, 100.0, *note.SpotPrice)
	require.Len(t, note.Metrics, 5)
	assert.Equal(t, stress.MetricPremium, note.Metrics[0].Name)
}

func TestNoNotificationOnFirstSnapshotOrWhenDisabled(t *testing.T) {
	f := newFixture(t, healthySources(), nil)
	result, err := f.svc.RunCycle(context.Background(), cycleAt, CycleOptions{})
	require.NoError(t, err)
	assert.False(t, result.Notified)
	assert.Empty(t, f.notifier.notes)

	disabled := newFixture(t, healthySources(), func(_ *Deps, o *Options) { o.AlertsEnabled = false })
	ctx := context.Background()
	_, err = disabled.store.InsertSnapshot(ctx, storage.Snapshot{TakenAt: cycleAt.Add(-time.Hour), RunID: "previous", CompositeStatus: string(stress.Red)})
	require.NoError(t, err)
	result, err = disabled.svc.RunCycle(ctx, cycleAt, CycleOptions{})
	require.NoError(t, err)
	assert.False(t, result.Notified)
	assert.Empty(t, disabled.notifier.notes)
}

func TestSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t, healthySources(), func(d *Deps, _ *Options) { d.Locker = busyLocker{} })

	result, err := f.svc.RunCycle(context.Background(), cycleAt, CycleOptions{})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, result.Stored)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Cycles.WithLabelValues("skipped")))
}

func TestRunWithoutScheduler(t *testing.T) {
	f := newFixture(t, Sources{}, nil)
	require.Error(t, f.svc.Run(context.Background()))
}
