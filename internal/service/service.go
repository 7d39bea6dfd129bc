package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"silver-stress-tracker/internal/alerting"
	"silver-stress-tracker/internal/fetcher"
	"silver-stress-tracker/internal/scheduler"
	"silver-stress-tracker/internal/snapshot"
	"silver-stress-tracker/internal/storage"
	"silver-stress-tracker/internal/stress"
	"silver-stress-tracker/internal/telemetry"
)

// Source names used in logs, metrics and cycle results.
const (
	SourceSpot      = "spot"
	SourcePremium   = "premium"
	SourceInventory = "inventory"
	SourceMargin    = "margin"
	SourceLease     = "lease_rate"
	SourceShanghai  = "shanghai_premium"
)

// Fetcher is a ranked provider chain for one source.
type Fetcher[T any] interface {
	Fetch(ctx context.Context) (T, string, error)
}

// Sources holds one chain per upstream; nil disables the source.
type Sources struct {
	Spot      Fetcher[fetcher.SpotQuote]
	Premium   Fetcher[fetcher.PremiumQuote]
	Inventory Fetcher[fetcher.InventoryReport]
	Margin    Fetcher[fetcher.MarginQuote]
	Lease     Fetcher[fetcher.LeaseQuote]
	Shanghai  Fetcher[fetcher.ShanghaiQuote]
}

// Store is the persistence the service needs.
type Store interface {
	storage.ObservationWriter
	storage.ObservationReader
	LatestSnapshot(ctx context.Context) (*storage.Snapshot, error)
}

// Updater evaluates and persists the current metrics.
type Updater interface {
	Update(ctx context.Context) (snapshot.Metrics, int64, error)
	CurrentMetrics(ctx context.Context) (snapshot.Metrics, error)
}

// Exporter writes the dashboard files.
type Exporter interface {
	WriteAll(ctx context.Context, m snapshot.Metrics) (map[string]string, error)
}

// Deps are the service collaborators. Only Store and Builder are required.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Sources   Sources
	Store     Store
	Builder   Updater
	Exporter  Exporter
	Notifier  alerting.Notifier
	Telemetry *telemetry.Metrics
	Locker    storage.AdvisoryLocker
	Logger    zerolog.Logger
}

// Options tune the cycle.
type Options struct {
	LockKey        int64
	AlertsEnabled  bool
	Channels       []string
	ContractSizeOz float64
	LeaseTenor     string
}

// CycleOptions select the parts of a cycle to run.
type CycleOptions struct {
	// FetchOnly stores observations without building a snapshot.
	FetchOnly bool
	// ExportOnly skips fetching and snapshotting and re-exports current metrics.
	ExportOnly bool
}

// CycleResult summarises one cycle.
type CycleResult struct {
	At         time.Time
	Skipped    bool
	Stored     map[string]string
	Failed     map[string]error
	SnapshotID int64
	Metrics    *snapshot.Metrics
	Files      map[string]string
	Notified   bool
}

// Service orchestrates fetching, persistence, export and alerting.
type Service struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
}

// New constructs the tracker service.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil {
		return nil, storage.ErrNotConfigured
	}
	if deps.Builder == nil {
		return nil, errors.New("service: snapshot builder required")
	}
	if opts.LeaseTenor == "" {
		opts.LeaseTenor = "proxy"
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.With().Str("component", "service").Logger(),
	}, nil
}

// Run drives cycles from the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle runs one full cycle; it is the scheduler tick.
func (s *Service) ProcessCycle(ctx context.Context, at time.Time) error {
	_, err := s.RunCycle(ctx, at, CycleOptions{})
	return err
}

// RunCycle acquires the single-writer lock and runs the selected steps.
// Source failures are recorded in the result and never abort the cycle.
func (s *Service) RunCycle(ctx context.Context, at time.Time, opts CycleOptions) (CycleResult, error) {
	at = at.UTC()
	result := CycleResult{At: at, Stored: map[string]string{}, Failed: map[string]error{}}
	start := time.Now()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.observe("error", start)
		return result, err
	}
	if !proceed {
		s.logger.Info().Time("at", at).Msg("skip cycle because the writer lock is held elsewhere")
		result.Skipped = true
		s.observe("skipped", start)
		return result, nil
	}
	if unlock != nil {
		defer unlock()
	}

	if err := s.execute(ctx, at, opts, &result); err != nil {
		s.observe("error", start)
		return result, err
	}

	outcome := "success"
	if len(result.Failed) > 0 {
		outcome = "partial"
	}
	s.observe(outcome, start)
	s.logger.Info().
		Time("at", at).
		Int("stored", len(result.Stored)).
		Int("failed", len(result.Failed)).
		Int64("snapshot_id", result.SnapshotID).
		Dur("elapsed", time.Since(start)).
		Msg("cycle complete")
	return result, nil
}

func (s *Service) execute(ctx context.Context, at time.Time, opts CycleOptions, result *CycleResult) error {
	if !opts.ExportOnly {
		s.collect(ctx, at, result)
	}
	if opts.FetchOnly {
		return nil
	}

	previous, err := s.deps.Store.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load previous snapshot: %w", err)
	}

	var metrics snapshot.Metrics
	if opts.ExportOnly {
		metrics, err = s.deps.Builder.CurrentMetrics(ctx)
		if err != nil {
			return fmt.Errorf("current metrics: %w", err)
		}
	} else {
		metrics, result.SnapshotID, err = s.deps.Builder.Update(ctx)
		if err != nil {
			return fmt.Errorf("update snapshot: %w", err)
		}
	}
	result.Metrics = &metrics

	if s.deps.Telemetry != nil {
		s.deps.Telemetry.Record(metrics)
	}

	if s.deps.Exporter != nil {
		files, err := s.deps.Exporter.WriteAll(ctx, metrics)
		if err != nil {
			s.logger.Error().Err(err).Msg("dashboard export failed")
		}
		result.Files = files
	}

	if !opts.ExportOnly {
		result.Notified = s.maybeNotify(ctx, previous, metrics)
	}
	return nil
}

// collect fetches spot first, since the premium estimate and the Shanghai
// premium read the latest stored spot, then the remaining sources in parallel.
func (s *Service) collect(ctx context.Context, at time.Time, result *CycleResult) {
	var mu sync.Mutex
	record := func(source, provider string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failed[source] = err
			s.logger.Warn().Err(err).Str("source", source).Msg("source skipped this cycle")
			if s.deps.Telemetry != nil {
				s.deps.Telemetry.FetchFailed(source)
			}
			return
		}
		result.Stored[source] = provider
		if s.deps.Telemetry != nil {
			s.deps.Telemetry.Stored(source, provider)
		}
	}

	var spot *float64
	if src := s.deps.Sources.Spot; src != nil {
		price, provider, err := s.storeSpot(ctx, at, src)
		record(SourceSpot, provider, err)
		if err == nil {
			spot = &price
		}
	}

	var g errgroup.Group
	g.SetLimit(4)
	run := func(source string, enabled bool, fn func() (string, error)) {
		if !enabled {
			return
		}
		g.Go(func() error {
			provider, err := fn()
			record(source, provider, err)
			return nil
		})
	}

	run(SourcePremium, s.deps.Sources.Premium != nil, func() (string, error) { return s.storePremium(ctx, at) })
	run(SourceInventory, s.deps.Sources.Inventory != nil, func() (string, error) { return s.storeInventory(ctx, at) })
	run(SourceMargin, s.deps.Sources.Margin != nil, func() (string, error) { return s.storeMargin(ctx, at, spot) })
	run(SourceLease, s.deps.Sources.Lease != nil, func() (string, error) { return s.storeLease(ctx, at) })
	run(SourceShanghai, s.deps.Sources.Shanghai != nil, func() (string, error) { return s.storeShanghai(ctx, at) })
	_ = g.Wait()
}

func (s *Service) storeSpot(ctx context.Context, at time.Time, src Fetcher[fetcher.SpotQuote]) (float64, string, error) {
	q, provider, err := src.Fetch(ctx)
	if err != nil {
		return 0, "", err
	}
	if q.PriceUSD <= 0 {
		return 0, provider, fmt.Errorf("%s returned non-positive spot %g", provider, q.PriceUSD)
	}
	_, err = s.deps.Store.InsertSpotPrice(ctx, storage.SpotPrice{
		ObservedAt:   at,
		Source:       q.Source,
		PriceUSD:     q.PriceUSD,
		Change24h:    q.Change24h,
		ChangePct24h: q.ChangePct24h,
	})
	return q.PriceUSD, provider, err
}

func (s *Service) storePremium(ctx context.Context, at time.Time) (string, error) {
	q, provider, err := s.deps.Sources.Premium.Fetch(ctx)
	if err != nil {
		return "", err
	}
	_, err = s.deps.Store.InsertPremium(ctx, storage.Premium{
		ObservedAt:    at,
		Source:        q.Source,
		ProductType:   q.ProductType,
		SpotPrice:     q.SpotPrice,
		PhysicalPrice: q.PhysicalPrice,
		PremiumUSD:    q.PremiumUSD,
		PremiumPct:    q.PremiumPct,
	})
	return provider, err
}

func (s *Service) storeInventory(ctx context.Context, at time.Time) (string, error) {
	report, provider, err := s.deps.Sources.Inventory.Fetch(ctx)
	if err != nil {
		return "", err
	}
	_, err = s.SaveInventory(ctx, at, "CME", report)
	return provider, err
}

// SaveInventory appends a stocks report, deriving the daily change from the
// previous report.
func (s *Service) SaveInventory(ctx context.Context, at time.Time, source string, report fetcher.InventoryReport) (int64, error) {
	prev, err := s.deps.Store.LatestInventory(ctx)
	if err != nil {
		return 0, err
	}
	obs := storage.Inventory{
		ObservedAt:   at,
		Source:       source,
		RegisteredOz: report.RegisteredOz,
		EligibleOz:   report.EligibleOz,
		TotalOz:      report.TotalOz,
	}
	if prev != nil {
		change := report.TotalOz - prev.TotalOz
		obs.DailyChangeOz = &change
	}
	return s.deps.Store.InsertInventory(ctx, obs)
}

func (s *Service) storeMargin(ctx context.Context, at time.Time, spot *float64) (string, error) {
	q, provider, err := s.deps.Sources.Margin.Fetch(ctx)
	if err != nil {
		return "", err
	}
	_, err = s.SaveMargin(ctx, at, "CME", q, spot)
	return provider, err
}

// SaveMargin appends a margin requirement. With a positive spot the margin
// is also stored as a percentage of one contract's notional.
func (s *Service) SaveMargin(ctx context.Context, at time.Time, source string, q fetcher.MarginQuote, spot *float64) (int64, error) {
	obs := storage.Margin{
		ObservedAt:        at,
		Source:            source,
		Contract:          q.Contract,
		InitialMargin:     q.Initial,
		MaintenanceMargin: q.Maintenance,
	}
	if spot != nil && *spot > 0 && s.opts.ContractSizeOz > 0 {
		pct := q.Initial / (s.opts.ContractSizeOz * *spot) * 100
		obs.MarginPct = &pct
	}
	return s.deps.Store.InsertMargin(ctx, obs)
}

func (s *Service) storeLease(ctx context.Context, at time.Time) (string, error) {
	q, provider, err := s.deps.Sources.Lease.Fetch(ctx)
	if err != nil {
		return "", err
	}
	tenor := fmt.Sprintf("%dD_%s", q.DaysToExpiry, s.opts.LeaseTenor)
	_, err = s.deps.Store.InsertLeaseRate(ctx, storage.LeaseRate{
		ObservedAt: at,
		Source:     "futures_curve_proxy",
		RateType:   "implied_lease",
		RatePct:    q.RatePct,
		Tenor:      &tenor,
	})
	return provider, err
}

func (s *Service) storeShanghai(ctx context.Context, at time.Time) (string, error) {
	q, provider, err := s.deps.Sources.Shanghai.Fetch(ctx)
	if err != nil {
		return "", err
	}
	_, err = s.deps.Store.InsertShanghaiPremium(ctx, storage.ShanghaiPremium{
		ObservedAt:   at,
		Source:       q.Source,
		ShanghaiSpot: q.ShanghaiSpot,
		WesternSpot:  q.WesternSpot,
		PremiumUSD:   q.PremiumUSD,
		PremiumPct:   q.PremiumPct,
	})
	return provider, err
}

// maybeNotify alerts when the composite color differs from the previous
// snapshot. The first snapshot and transitions into "no data" stay quiet.
func (s *Service) maybeNotify(ctx context.Context, previous *storage.Snapshot, current snapshot.Metrics) bool {
	if !s.opts.AlertsEnabled || s.deps.Notifier == nil || previous == nil {
		return false
	}
	from := stress.Color(previous.CompositeStatus)
	to := current.Composite.StatusColor
	if from == to || to == stress.Gray {
		return false
	}

	note := alerting.Notification{
		At:            current.LastUpdated,
		PreviousColor: from,
		Composite:     current.Composite,
		Channels:      s.opts.Channels,
	}
	if current.Spot != nil {
		price := current.Spot.PriceUSD
		note.SpotPrice = &price
	}
	byName := current.ByName()
	for _, name := range stress.StressMetrics {
		m := byName[name]
		if m == nil {
			continue
		}
		note.Metrics = append(note.Metrics, alerting.MetricLine{
			Name: name, Color: m.StatusColor, Label: m.StatusLabel, Value: m.Value, Unit: m.Unit,
		})
	}

	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("from", string(from)).Str("to", string(to)).Msg("failed to dispatch alert")
		return false
	}
	return true
}

func (s *Service) observe(result string, start time.Time) {
	if s.deps.Telemetry != nil {
		s.deps.Telemetry.ObserveCycle(result, time.Since(start))
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
