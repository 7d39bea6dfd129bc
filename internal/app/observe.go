package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"silver-stress-tracker/internal/fetcher"
	"silver-stress-tracker/internal/service"
	"silver-stress-tracker/internal/storage"
)

// Entry is one manually recorded observation.
type Entry interface {
	Kind() string
	save(ctx context.Context, svc *service.Service, store *storage.Store, at time.Time) (int64, error)
}

// SpotEntry records a spot price.
type SpotEntry struct {
	PriceUSD float64 `flag:"price" validate:"gt=0"`
	Source   string  `flag:"source" validate:"required"`
}

// PremiumEntry records a physical premium from two prices.
type PremiumEntry struct {
	SpotPrice     float64 `flag:"spot" validate:"gt=0"`
	PhysicalPrice float64 `flag:"physical" validate:"gt=0"`
	ProductType   string  `flag:"product-type" validate:"required"`
	Source        string  `flag:"source" validate:"required"`
}

// InventoryEntry records COMEX stocks in ounces. A zero total is derived
// from registered plus eligible.
type InventoryEntry struct {
	RegisteredOz float64 `flag:"registered" validate:"gte=0"`
	EligibleOz   float64 `flag:"eligible" validate:"gte=0"`
	TotalOz      float64 `flag:"total" validate:"gte=0"`
	Source       string  `flag:"source" validate:"required"`
}

// MarginEntry records a margin requirement. A zero maintenance margin
// defaults to 90% of initial.
type MarginEntry struct {
	Initial     float64 `flag:"initial" validate:"gt=0"`
	Maintenance float64 `flag:"maintenance" validate:"gte=0,ltefield=Initial"`
	Contract    string  `flag:"contract" validate:"required"`
	Source      string  `flag:"source" validate:"required"`
}

// LeaseEntry records a lease rate reading.
type LeaseEntry struct {
	RatePct  float64 `flag:"rate" validate:"gte=-100,lte=100"`
	RateType string  `flag:"rate-type" validate:"required"`
	Tenor    string  `flag:"tenor"`
	Source   string  `flag:"source" validate:"required"`
}

// ShanghaiEntry records the Shanghai and western prices; the premium is derived.
type ShanghaiEntry struct {
	ShanghaiSpot float64 `flag:"shanghai" validate:"gt=0"`
	WesternSpot  float64 `flag:"western" validate:"gt=0"`
	Source       string  `flag:"source" validate:"required"`
}

func (SpotEntry) Kind() string      { return service.SourceSpot }
func (PremiumEntry) Kind() string   { return service.SourcePremium }
func (InventoryEntry) Kind() string { return service.SourceInventory }
func (MarginEntry) Kind() string    { return service.SourceMargin }
func (LeaseEntry) Kind() string     { return service.SourceLease }
func (ShanghaiEntry) Kind() string  { return service.SourceShanghai }

func (e SpotEntry) save(ctx context.Context, _ *service.Service, store *storage.Store, at time.Time) (int64, error) {
	return store.InsertSpotPrice(ctx, storage.SpotPrice{ObservedAt: at, Source: e.Source, PriceUSD: e.PriceUSD})
}

func (e PremiumEntry) save(ctx context.Context, _ *service.Service, store *storage.Store, at time.Time) (int64, error) {
	q, err := fetcher.PremiumFromPrices(e.Source, e.ProductType, decimal.NewFromFloat(e.SpotPrice), decimal.NewFromFloat(e.PhysicalPrice))
	if err != nil {
		return 0, err
	}
	return store.InsertPremium(ctx, storage.Premium{
		ObservedAt:    at,
		Source:        q.Source,
		ProductType:   q.ProductType,
		SpotPrice:     q.SpotPrice,
		PhysicalPrice: q.PhysicalPrice,
		PremiumUSD:    q.PremiumUSD,
		PremiumPct:    q.PremiumPct,
	})
}

func (e InventoryEntry) save(ctx context.Context, svc *service.Service, _ *storage.Store, at time.Time) (int64, error) {
	total := e.TotalOz
	if total == 0 {
		total = e.RegisteredOz + e.EligibleOz
	}
	if total <= 0 {
		return 0, errors.New("inventory total must be positive")
	}
	return svc.SaveInventory(ctx, at, e.Source, fetcher.InventoryReport{
		RegisteredOz: e.RegisteredOz,
		EligibleOz:   e.EligibleOz,
		TotalOz:      total,
	})
}

func (e MarginEntry) save(ctx context.Context, svc *service.Service, store *storage.Store, at time.Time) (int64, error) {
	maintenance := e.Maintenance
	if maintenance == 0 {
		maintenance, _ = decimal.NewFromFloat(e.Initial).Mul(decimal.NewFromFloat(0.9)).Round(2).Float64()
	}
	var spot *float64
	latest, err := store.LatestSpotPrice(ctx)
	if err != nil {
		return 0, err
	}
	if latest != nil {
		spot = &latest.PriceUSD
	}
	return svc.SaveMargin(ctx, at, e.Source, fetcher.MarginQuote{Contract: e.Contract, Initial: e.Initial, Maintenance: maintenance}, spot)
}

func (e LeaseEntry) save(ctx context.Context, _ *service.Service, store *storage.Store, at time.Time) (int64, error) {
	obs := storage.LeaseRate{ObservedAt: at, Source: e.Source, RateType: e.RateType, RatePct: e.RatePct}
	if e.Tenor != "" {
		tenor := e.Tenor
		obs.Tenor = &tenor
	}
	return store.InsertLeaseRate(ctx, obs)
}

func (e ShanghaiEntry) save(ctx context.Context, _ *service.Service, store *storage.Store, at time.Time) (int64, error) {
	western := decimal.NewFromFloat(e.WesternSpot)
	q := fetcher.ShanghaiFromWestern(western, decimal.NewFromFloat(e.ShanghaiSpot).Sub(western), e.Source)
	return store.InsertShanghaiPremium(ctx, storage.ShanghaiPremium{
		ObservedAt:   at,
		Source:       q.Source,
		ShanghaiSpot: q.ShanghaiSpot,
		WesternSpot:  q.WesternSpot,
		PremiumUSD:   q.PremiumUSD,
		PremiumPct:   q.PremiumPct,
	})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("flag"); name != "" {
			return "--" + name
		}
		return fld.Name
	})
	return v
}

// ValidateEntry reports every invalid field of e, named by its CLI flag.
func ValidateEntry(e Entry) error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid %s entry: %s", e.Kind(), strings.Join(msgs, "; "))
}

// Observe validates and stores a manual observation. A zero at means now.
func (a *App) Observe(ctx context.Context, e Entry, at time.Time) (int64, error) {
	if err := ValidateEntry(e); err != nil {
		return 0, err
	}
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return 0, err
	}
	defer closeStore()

	svc, _, err := a.newService(store, nil, nil)
	if err != nil {
		return 0, err
	}

	id, err := e.save(ctx, svc, store, at)
	if err != nil {
		return 0, fmt.Errorf("record %s: %w", e.Kind(), err)
	}
	a.Logger.Info().Str("kind", e.Kind()).Int64("id", id).Time("at", at).Msg("manual observation recorded")
	return id, nil
}

// ImportInventory parses a CME stocks workbook from disk and records it.
func (a *App) ImportInventory(ctx context.Context, path string, at time.Time) (int64, error) {
	report, err := fetcher.ReadInventoryFile(path)
	if err != nil {
		return 0, err
	}
	return a.Observe(ctx, InventoryEntry{
		RegisteredOz: report.RegisteredOz,
		EligibleOz:   report.EligibleOz,
		TotalOz:      report.TotalOz,
		Source:       "CME",
	}, at)
}
