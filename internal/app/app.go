package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"silver-stress-tracker/internal/alerting"
	"silver-stress-tracker/internal/config"
	"silver-stress-tracker/internal/export"
	"silver-stress-tracker/internal/fetcher"
	"silver-stress-tracker/internal/httpapi"
	"silver-stress-tracker/internal/scheduler"
	"silver-stress-tracker/internal/service"
	"silver-stress-tracker/internal/snapshot"
	"silver-stress-tracker/internal/storage"
	"silver-stress-tracker/internal/stress"
	"silver-stress-tracker/internal/telemetry"
	"silver-stress-tracker/internal/version"
)

var errNoSpot = errors.New("no spot price recorded yet")

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// UpdateOptions select the parts of a one-shot cycle.
type UpdateOptions struct {
	FetchOnly  bool
	ExportOnly bool
}

// ExportOptions hold parameters for exporting snapshot history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newEngine() (*stress.Engine, error) {
	return stress.NewEngine(a.Config.Stress.Engine())
}

func (a *App) newBuilder(store *storage.Store) (*snapshot.Builder, error) {
	engine, err := a.newEngine()
	if err != nil {
		return nil, err
	}
	return snapshot.NewBuilder(engine, store, store, a.Logger), nil
}

func (a *App) newDashboard(store *storage.Store) *export.Dashboard {
	return export.NewDashboard(export.Options{
		OutputDir:   a.Config.Export.OutputDir,
		HistoryDays: a.Config.Export.HistoryDays,
		Version:     version.Version,
	}, store, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// newSources builds one ranked chain per enabled source. Providers that
// derive from spot read the value stored earlier in the same cycle.
func (a *App) newSources(store storage.ObservationReader, tel *telemetry.Metrics) service.Sources {
	src := a.Config.Sources
	httpOpts := fetcher.HTTPOptions{Timeout: src.Timeout, UserAgent: src.UserAgent}
	guard := fetcher.GuardOptions{
		RPS:                 src.RateLimit.RPS,
		Burst:               src.RateLimit.Burst,
		ConsecutiveFailures: src.Breaker.ConsecutiveFailures,
		OpenTimeout:         src.Breaker.OpenTimeout,
		Interval:            src.Breaker.Interval,
	}
	if tel != nil {
		guard.OnStateChange = tel.BreakerChanged
	}

	latestSpot := func(ctx context.Context) (float64, error) {
		spot, err := store.LatestSpotPrice(ctx)
		if err != nil {
			return 0, err
		}
		if spot == nil {
			return 0, errNoSpot
		}
		return spot.PriceUSD, nil
	}

	var sources service.Sources
	yahoo := fetcher.NewYahoo(fetcher.YahooOptions{HTTPOptions: httpOpts, BaseURL: src.Yahoo.BaseURL}, a.Logger)

	var spot []fetcher.Provider[fetcher.SpotQuote]
	if src.Yahoo.Enabled {
		spot = append(spot, yahoo.SpotProvider(src.Yahoo.SpotSymbol))
	}
	if src.Kitco.Enabled {
		kitco := fetcher.NewKitco(fetcher.KitcoOptions{HTTPOptions: httpOpts, URL: src.Kitco.URL}, a.Logger)
		spot = append(spot, kitco.SpotProvider())
	}
	if src.MetalpriceAPI.Enabled {
		mp := fetcher.NewMetalprice(fetcher.MetalpriceOptions{
			HTTPOptions: httpOpts,
			BaseURL:     src.MetalpriceAPI.BaseURL,
			APIKey:      src.MetalpriceAPI.APIKey,
		}, a.Logger)
		spot = append(spot, mp.SpotProvider())
	}
	sources.Spot = chainOf(service.SourceSpot, guard, a.Logger, spot)

	var premium []fetcher.Provider[fetcher.PremiumQuote]
	if src.Premiums.Enabled {
		scraper := fetcher.NewPremiumScraper(fetcher.PremiumOptions{
			HTTPOptions: httpOpts,
			URL:         src.Premiums.URL,
			ProductType: src.Premiums.ProductType,
		}, a.Logger)
		premium = append(premium, scraper.Provider())
	}
	if src.Premiums.EstimatePct > 0 {
		premium = append(premium, fetcher.EstimateProvider(latestSpot, src.Premiums.EstimatePct))
	}
	sources.Premium = chainOf(service.SourcePremium, guard, a.Logger, premium)

	if src.Inventory.Enabled {
		inv := fetcher.NewCMEInventory(fetcher.InventoryOptions{HTTPOptions: httpOpts, URL: src.Inventory.URL}, a.Logger)
		sources.Inventory = chainOf(service.SourceInventory, guard, a.Logger, []fetcher.Provider[fetcher.InventoryReport]{inv.Provider()})
	}

	if src.Margins.Enabled {
		margins := fetcher.NewCMEMargins(fetcher.MarginOptions{
			HTTPOptions: httpOpts,
			URL:         src.Margins.URL,
			Contract:    src.Margins.Contract,
		}, a.Logger)
		sources.Margin = chainOf(service.SourceMargin, guard, a.Logger, []fetcher.Provider[fetcher.MarginQuote]{margins.Provider()})
	}

	if src.Lease.Enabled && src.Yahoo.Enabled {
		lease := yahoo.LeaseProvider(fetcher.LeaseOptions{
			SpotSymbol:    src.Yahoo.SpotSymbol,
			FuturesSymbol: src.Yahoo.FuturesSymbol,
			DaysToExpiry:  src.Lease.DaysToExpiry,
		})
		sources.Lease = chainOf(service.SourceLease, guard, a.Logger, []fetcher.Provider[fetcher.LeaseQuote]{lease})
	}

	if src.Shanghai.Enabled {
		sh := fetcher.ShanghaiProvider(latestSpot, src.Shanghai.ObservedPremiumUSD)
		sources.Shanghai = chainOf(service.SourceShanghai, guard, a.Logger, []fetcher.Provider[fetcher.ShanghaiQuote]{sh})
	}
	return sources
}

// chainOf returns a nil interface for an empty provider list so the
// service sees the source as disabled.
func chainOf[T any](name string, guard fetcher.GuardOptions, logger zerolog.Logger, providers []fetcher.Provider[T]) service.Fetcher[T] {
	if len(providers) == 0 {
		return nil
	}
	return fetcher.NewChain(name, guard, logger, providers...)
}

func (a *App) newService(store *storage.Store, tel *telemetry.Metrics, sched *scheduler.Scheduler) (*service.Service, *snapshot.Builder, error) {
	builder, err := a.newBuilder(store)
	if err != nil {
		return nil, nil, err
	}

	deps := service.Deps{
		Scheduler: sched,
		Sources:   a.newSources(store, tel),
		Store:     store,
		Builder:   builder,
		Notifier:  a.newNotifier(),
		Telemetry: tel,
		Locker:    store,
		Logger:    a.Logger,
	}
	if a.Config.Export.Enabled {
		deps.Exporter = a.newDashboard(store)
	}

	svc, err := service.New(deps, service.Options{
		LockKey:        a.Config.Scheduler.AdvisoryLockKey,
		AlertsEnabled:  a.Config.Alerting.Enabled,
		Channels:       a.Config.Alerting.Channels,
		ContractSizeOz: a.Config.Stress.ContractSizeOz,
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, builder, nil
}

// Run executes the long-running tracker and, when enabled, the HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, err := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		Cron:           a.Config.Scheduler.Cron,
		RunImmediately: a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	tel := telemetry.New()
	svc, builder, err := a.newService(store, tel, sched)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.HTTP.Enabled {
		router := httpapi.NewRouter(httpapi.Deps{
			Metrics:   builder,
			Snapshots: store,
			Health:    store.Ping,
			Telemetry: tel.Handler(),
			Logger:    a.Logger,
		})
		srv := httpapi.NewServer(a.Config.HTTP, router, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	a.Logger.Info().Msg("starting silver stress tracker")
	g.Go(func() error { return svc.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("tracker terminated with error")
		return err
	}

	a.Logger.Info().Msg("silver stress tracker stopped")
	return nil
}

// Update runs a single cycle and prints what it did.
func (a *App) Update(ctx context.Context, opts UpdateOptions) (service.CycleResult, error) {
	if opts.FetchOnly && opts.ExportOnly {
		return service.CycleResult{}, errors.New("--fetch-only and --export-only are mutually exclusive")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return service.CycleResult{}, err
	}
	defer closeStore()

	svc, _, err := a.newService(store, telemetry.New(), nil)
	if err != nil {
		return service.CycleResult{}, err
	}
	return svc.RunCycle(ctx, time.Now().UTC(), service.CycleOptions{
		FetchOnly:  opts.FetchOnly,
		ExportOnly: opts.ExportOnly,
	})
}

// InitDB applies the embedded migrations.
func (a *App) InitDB(ctx context.Context) error {
	_, closeStore, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("initialise database: %w", err)
	}
	closeStore()
	a.Logger.Info().Str("driver", a.Config.Database.Driver).Msg("database initialised")
	return nil
}
