package storage

import "time"

// SpotPrice is one spot quote in USD/oz.
type SpotPrice struct {
	ID           int64     `db:"id" json:"id"`
	ObservedAt   time.Time `db:"observed_at" json:"observed_at"`
	Source       string    `db:"source" json:"source"`
	PriceUSD     float64   `db:"price_usd" json:"price_usd"`
	Change24h    *float64  `db:"change_24h" json:"change_24h"`
	ChangePct24h *float64  `db:"change_pct_24h" json:"change_pct_24h"`
}

// Premium is the physical-over-spot premium for one product type.
type Premium struct {
	ID            int64     `db:"id" json:"id"`
	ObservedAt    time.Time `db:"observed_at" json:"observed_at"`
	Source        string    `db:"source" json:"source"`
	ProductType   string    `db:"product_type" json:"product_type"`
	SpotPrice     float64   `db:"spot_price" json:"spot_price"`
	PhysicalPrice float64   `db:"physical_price" json:"physical_price"`
	PremiumUSD    float64   `db:"premium_usd" json:"premium_usd"`
	PremiumPct    float64   `db:"premium_pct" json:"premium_pct"`
}

// Inventory is one COMEX warehouse stocks report, in ounces.
type Inventory struct {
	ID            int64     `db:"id" json:"id"`
	ObservedAt    time.Time `db:"observed_at" json:"observed_at"`
	Source        string    `db:"source" json:"source"`
	RegisteredOz  float64   `db:"registered_oz" json:"registered_oz"`
	EligibleOz    float64   `db:"eligible_oz" json:"eligible_oz"`
	TotalOz       float64   `db:"total_oz" json:"total_oz"`
	DailyChangeOz *float64  `db:"daily_change_oz" json:"daily_change_oz"`
}

// TotalMoz returns total stocks in millions of ounces.
func (i Inventory) TotalMoz() float64 { return i.TotalOz / 1e6 }

// RegisteredMoz returns registered stocks in millions of ounces.
func (i Inventory) RegisteredMoz() float64 { return i.RegisteredOz / 1e6 }

// Margin is one CME margin requirement for a contract.
type Margin struct {
	ID                int64     `db:"id" json:"id"`
	ObservedAt        time.Time `db:"observed_at" json:"observed_at"`
	Source            string    `db:"source" json:"source"`
	Contract          string    `db:"contract" json:"contract"`
	InitialMargin     float64   `db:"initial_margin" json:"initial_margin"`
	MaintenanceMargin float64   `db:"maintenance_margin" json:"maintenance_margin"`
	MarginPct         *float64  `db:"margin_pct" json:"margin_pct"`
}

// LeaseRate is one lease-rate reading or proxy, in percent.
type LeaseRate struct {
	ID         int64     `db:"id" json:"id"`
	ObservedAt time.Time `db:"observed_at" json:"observed_at"`
	Source     string    `db:"source" json:"source"`
	RateType   string    `db:"rate_type" json:"rate_type"`
	RatePct    float64   `db:"rate_pct" json:"rate_pct"`
	Tenor      *string   `db:"tenor" json:"tenor"`
}

// ShanghaiPremium is the Shanghai-over-western gap.
type ShanghaiPremium struct {
	ID           int64     `db:"id" json:"id"`
	ObservedAt   time.Time `db:"observed_at" json:"observed_at"`
	Source       string    `db:"source" json:"source"`
	ShanghaiSpot float64   `db:"shanghai_spot" json:"shanghai_spot"`
	WesternSpot  float64   `db:"western_spot" json:"western_spot"`
	PremiumUSD   float64   `db:"premium_usd" json:"premium_usd"`
	PremiumPct   float64   `db:"premium_pct" json:"premium_pct"`
}

// Snapshot is the persisted record of one update cycle. Column names are
// a stable contract with the dashboard and must not change.
type Snapshot struct {
	ID                     int64     `db:"id" json:"id"`
	TakenAt                time.Time `db:"taken_at" json:"taken_at"`
	RunID                  string    `db:"run_id" json:"run_id"`
	SpotPrice              *float64  `db:"spot_price" json:"spot_price"`
	PremiumPct             *float64  `db:"premium_pct" json:"premium_pct"`
	InventoryTotalMoz      *float64  `db:"inventory_total_moz" json:"inventory_total_moz"`
	InventoryRegisteredMoz *float64  `db:"inventory_registered_moz" json:"inventory_registered_moz"`
	MarginInitial          *float64  `db:"margin_initial" json:"margin_initial"`
	MarginDaysStable       *int64    `db:"margin_days_stable" json:"margin_days_stable"`
	LeaseRateProxy         *float64  `db:"lease_rate_proxy" json:"lease_rate_proxy"`
	ShanghaiPremiumUSD     *float64  `db:"shanghai_premium_usd" json:"shanghai_premium_usd"`
	StatusPremiums         *string   `db:"status_premiums" json:"status_premiums"`
	StatusInventory        *string   `db:"status_inventory" json:"status_inventory"`
	StatusMargins          *string   `db:"status_margins" json:"status_margins"`
	StatusLease            *string   `db:"status_lease" json:"status_lease"`
	StatusShanghai         *string   `db:"status_shanghai" json:"status_shanghai"`
	CompositeScore         int       `db:"composite_score" json:"composite_score"`
	CompositeTotal         int       `db:"composite_total" json:"composite_total"`
	CompositeStatus        string    `db:"composite_status" json:"composite_status"`
}

// TableStats is the row count of one table.
type TableStats struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}
