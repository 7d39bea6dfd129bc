package snapshot

import (
	"time"

	"silver-stress-tracker/internal/storage"
	"silver-stress-tracker/internal/stress"
)

// Spot is the headline price carried alongside the normalized metrics.
type Spot struct {
	PriceUSD     float64   `json:"price_usd"`
	Source       string    `json:"source"`
	Change24h    *float64  `json:"change_24h,omitempty"`
	ChangePct24h *float64  `json:"change_pct_24h,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

// PremiumDetail is attached to the premium metric as its raw figures.
type PremiumDetail struct {
	ProductType   string  `json:"product_type"`
	SpotPrice     float64 `json:"spot_price"`
	PhysicalPrice float64 `json:"physical_price"`
	PremiumUSD    float64 `json:"premium_usd"`
	Source        string  `json:"source"`
}

// InventoryDetail is attached to the inventory metric as its raw figures.
type InventoryDetail struct {
	RegisteredOz float64            `json:"registered_oz"`
	EligibleOz   float64            `json:"eligible_oz"`
	TotalOz      float64            `json:"total_oz"`
	TrendWindow  stress.TrendResult `json:"trend_window"`
}

// MarginDetail is attached to the margin metric as its raw figures.
type MarginDetail struct {
	Contract          string     `json:"contract"`
	MaintenanceMargin float64    `json:"maintenance_margin"`
	LastChange        *time.Time `json:"last_change,omitempty"`
}

// ShanghaiDetail is attached to the Shanghai metric as its raw figures.
type ShanghaiDetail struct {
	ShanghaiSpot float64 `json:"shanghai_spot"`
	WesternSpot  float64 `json:"western_spot"`
	PremiumPct   float64 `json:"premium_pct"`
	Source       string  `json:"source"`
}

// Metrics is the single view of "current metrics" shared by persistence,
// export and the HTTP API. A nil metric had no observation this cycle.
type Metrics struct {
	LastUpdated     time.Time                `json:"last_updated"`
	Spot            *Spot                    `json:"spot_price,omitempty"`
	Premium         *stress.NormalizedMetric `json:"premium,omitempty"`
	Inventory       *stress.NormalizedMetric `json:"inventory,omitempty"`
	Margin          *stress.NormalizedMetric `json:"margin,omitempty"`
	LeaseRate       *stress.NormalizedMetric `json:"lease_rate,omitempty"`
	ShanghaiPremium *stress.NormalizedMetric `json:"shanghai_premium,omitempty"`
	Composite       stress.CompositeScore    `json:"composite"`
}

// ByName maps metric names to their result; absent metrics map to nil.
func (m Metrics) ByName() map[string]*stress.NormalizedMetric {
	return map[string]*stress.NormalizedMetric{
		stress.MetricPremium:         m.Premium,
		stress.MetricInventory:       m.Inventory,
		stress.MetricMargin:          m.Margin,
		stress.MetricLeaseRate:       m.LeaseRate,
		stress.MetricShanghaiPremium: m.ShanghaiPremium,
	}
}

// ToSnapshot flattens Metrics into the persisted row.
func ToSnapshot(m Metrics, runID string) storage.Snapshot {
	snap := storage.Snapshot{
		TakenAt:         m.LastUpdated,
		RunID:           runID,
		CompositeScore:  m.Composite.Score,
		CompositeTotal:  m.Composite.Total,
		CompositeStatus: string(m.Composite.StatusColor),
	}

	if m.Spot != nil {
		snap.SpotPrice = ptrTo(m.Spot.PriceUSD)
	}
	if m.Premium != nil {
		snap.PremiumPct = ptrTo(m.Premium.Value)
		snap.StatusPremiums = color(m.Premium)
	}
	if m.Inventory != nil {
		snap.InventoryTotalMoz = ptrTo(m.Inventory.Value)
		if m.Inventory.RegisteredMoz != nil {
			snap.InventoryRegisteredMoz = ptrTo(*m.Inventory.RegisteredMoz)
		}
		snap.StatusInventory = color(m.Inventory)
	}
	if m.Margin != nil {
		snap.MarginInitial = ptrTo(m.Margin.Value)
		if m.Margin.DaysSinceChange != nil {
			days := int64(*m.Margin.DaysSinceChange)
			snap.MarginDaysStable = &days
		}
		snap.StatusMargins = color(m.Margin)
	}
	if m.LeaseRate != nil {
		snap.LeaseRateProxy = ptrTo(m.LeaseRate.Value)
		snap.StatusLease = color(m.LeaseRate)
	}
	if m.ShanghaiPremium != nil {
		snap.ShanghaiPremiumUSD = ptrTo(m.ShanghaiPremium.Value)
		snap.StatusShanghai = color(m.ShanghaiPremium)
	}
	return snap
}

func ptrTo(v float64) *float64 { return &v }

func color(m *stress.NormalizedMetric) *string {
	c := string(m.StatusColor)
	return &c
}
