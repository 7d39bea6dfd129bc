package snapshot

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"silver-stress-tracker/internal/storage"
	"silver-stress-tracker/internal/stress"
)

// SnapshotWriter appends snapshot rows.
type SnapshotWriter interface {
	InsertSnapshot(ctx context.Context, snap storage.Snapshot) (int64, error)
}

// Builder is the single point of truth for current metrics. It reads the
// latest observations, runs the stress engine and persists the result.
type Builder struct {
	engine *stress.Engine
	reader storage.ObservationReader
	writer SnapshotWriter
	logger zerolog.Logger

	now   func() time.Time
	runID func() string
}

// Option customises a Builder.
type Option func(*Builder)

// WithClock injects the time source used for last_updated and trend windows.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithRunID injects the run id generator.
func WithRunID(fn func() string) Option {
	return func(b *Builder) { b.runID = fn }
}

// NewBuilder wires a Builder. writer may be nil for read-only callers.
func NewBuilder(engine *stress.Engine, reader storage.ObservationReader, writer SnapshotWriter, logger zerolog.Logger, opts ...Option) *Builder {
	b := &Builder{
		engine: engine,
		reader: reader,
		writer: writer,
		logger: logger.With().Str("component", "snapshot").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		runID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CurrentMetrics evaluates every metric from the latest observations.
// Missing observations leave their metric nil; only read failures error.
func (b *Builder) CurrentMetrics(ctx context.Context) (Metrics, error) {
	now := b.now().UTC()
	m := Metrics{LastUpdated: now}

	spot, err := b.reader.LatestSpotPrice(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("read spot price: %w", err)
	}
	if spot != nil {
		m.Spot = &Spot{
			PriceUSD:     spot.PriceUSD,
			Source:       spot.Source,
			Change24h:    spot.Change24h,
			ChangePct24h: spot.ChangePct24h,
			ObservedAt:   spot.ObservedAt,
		}
	}

	if m.Premium, err = b.premium(ctx); err != nil {
		return Metrics{}, err
	}
	if m.Inventory, err = b.inventory(ctx, now); err != nil {
		return Metrics{}, err
	}
	if m.Margin, err = b.margin(ctx, now, spot); err != nil {
		return Metrics{}, err
	}
	if m.LeaseRate, err = b.leaseRate(ctx); err != nil {
		return Metrics{}, err
	}
	if m.ShanghaiPremium, err = b.shanghai(ctx); err != nil {
		return Metrics{}, err
	}

	m.Composite = b.engine.Composite(m.ByName())

	b.logger.Debug().
		Int("score", m.Composite.Score).
		Int("total", m.Composite.Total).
		Str("status", string(m.Composite.StatusColor)).
		Msg("current metrics evaluated")

	return m, nil
}

func (b *Builder) premium(ctx context.Context) (*stress.NormalizedMetric, error) {
	obs, err := b.reader.LatestPremium(ctx)
	if err != nil {
		return nil, fmt.Errorf("read premium: %w", err)
	}
	if obs == nil {
		return nil, nil
	}
	metric := b.engine.Premium(obs.PremiumPct)
	metric.Raw = PremiumDetail{
		ProductType:   obs.ProductType,
		SpotPrice:     obs.SpotPrice,
		PhysicalPrice: obs.PhysicalPrice,
		PremiumUSD:    obs.PremiumUSD,
		Source:        obs.Source,
	}
	return &metric, nil
}

func (b *Builder) inventory(ctx context.Context, now time.Time) (*stress.NormalizedMetric, error) {
	obs, err := b.reader.LatestInventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	if obs == nil {
		return nil, nil
	}

	window := b.engine.Config().TrendWindow
	history, err := b.reader.InventorySince(ctx, now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("read inventory history: %w", err)
	}
	points := make([]stress.Point, 0, len(history))
	for _, h := range history {
		points = append(points, stress.Point{At: h.ObservedAt, Value: h.TotalMoz()})
	}
	trend := stress.EstimateTrend(points, window, now, b.engine.Config().TrendThreshold)

	var registered *float64
	if obs.RegisteredOz > 0 {
		reg := obs.RegisteredMoz()
		registered = &reg
	}

	// classify the exact totals; rounding is for display only
	metric := b.engine.Inventory(obs.TotalMoz(), registered, trend)
	metric.Value = round2(metric.Value)
	if metric.RegisteredMoz != nil {
		reg := round2(*metric.RegisteredMoz)
		metric.RegisteredMoz = &reg
	}
	metric.Raw = InventoryDetail{
		RegisteredOz: obs.RegisteredOz,
		EligibleOz:   obs.EligibleOz,
		TotalOz:      obs.TotalOz,
		TrendWindow:  trend,
	}
	return &metric, nil
}

func (b *Builder) margin(ctx context.Context, now time.Time, spot *storage.SpotPrice) (*stress.NormalizedMetric, error) {
	obs, err := b.reader.LatestMargin(ctx)
	if err != nil {
		return nil, fmt.Errorf("read margin: %w", err)
	}
	if obs == nil {
		return nil, nil
	}
	last, err := b.reader.MarginLastChange(ctx)
	if err != nil {
		return nil, fmt.Errorf("read margin history: %w", err)
	}

	in := stress.MarginInput{
		InitialMargin: obs.InitialMargin,
		LastChange:    last,
		Now:           now,
	}
	// non-positive prices never reach the engine
	if spot != nil && spot.PriceUSD > 0 {
		price := spot.PriceUSD
		in.ReferencePrice = &price
	}

	metric := b.engine.Margin(in)
	metric.Raw = MarginDetail{
		Contract:          obs.Contract,
		MaintenanceMargin: obs.MaintenanceMargin,
		LastChange:        last,
	}
	return &metric, nil
}

func (b *Builder) leaseRate(ctx context.Context) (*stress.NormalizedMetric, error) {
	obs, err := b.reader.LatestLeaseRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("read lease rate: %w", err)
	}
	if obs == nil {
		return nil, nil
	}
	metric := b.engine.LeaseRate(obs.RatePct)
	return &metric, nil
}

func (b *Builder) shanghai(ctx context.Context) (*stress.NormalizedMetric, error) {
	obs, err := b.reader.LatestShanghaiPremium(ctx)
	if err != nil {
		return nil, fmt.Errorf("read shanghai premium: %w", err)
	}
	if obs == nil {
		return nil, nil
	}
	metric := b.engine.ShanghaiPremium(obs.PremiumUSD)
	metric.Raw = ShanghaiDetail{
		ShanghaiSpot: obs.ShanghaiSpot,
		WesternSpot:  obs.WesternSpot,
		PremiumPct:   obs.PremiumPct,
		Source:       obs.Source,
	}
	return &metric, nil
}

// BuildSnapshot persists m and returns the new snapshot id.
func (b *Builder) BuildSnapshot(ctx context.Context, m Metrics) (int64, error) {
	if b.writer == nil {
		return 0, storage.ErrNotConfigured
	}
	snap := ToSnapshot(m, b.runID())
	id, err := b.writer.InsertSnapshot(ctx, snap)
	if err != nil {
		return 0, fmt.Errorf("persist snapshot: %w", err)
	}
	b.logger.Info().
		Int64("snapshot_id", id).
		Str("run_id", snap.RunID).
		Str("composite", m.Composite.Description).
		Msg("snapshot stored")
	return id, nil
}

// Update evaluates the current metrics and persists them in one step, so
// the stored snapshot and the returned metrics never disagree.
func (b *Builder) Update(ctx context.Context) (Metrics, int64, error) {
	m, err := b.CurrentMetrics(ctx)
	if err != nil {
		return Metrics{}, 0, err
	}
	id, err := b.BuildSnapshot(ctx, m)
	if err != nil {
		return m, 0, err
	}
	return m, id, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
