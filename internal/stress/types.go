package stress

// Color is the dashboard status vocabulary.
type Color string

const (
	Green  Color = "green"
	Yellow Color = "yellow"
	Orange Color = "orange"
	Red    Color = "red"
	Gray   Color = "gray"
)

// Severity orders colors from calm to stressed; gray sorts last.
func (c Color) Severity() int {
	switch c {
	case Green:
		return 0
	case Yellow:
		return 1
	case Orange:
		return 2
	case Red:
		return 3
	default:
		return 4
	}
}

// Metric names used as keys throughout the threshold table and snapshots.
const (
	MetricLeaseRate            = "lease_rate"
	MetricPremium              = "premium"
	MetricInventory            = "inventory"
	MetricMargin               = "margin"
	MetricShanghaiPremium      = "shanghai_premium"
	ThresholdLeaseRate         = "lease_rate"
	ThresholdPremiumPct        = "premium_pct"
	ThresholdInventoryTotal    = "inventory_total"
	ThresholdInventoryReg      = "inventory_registered"
	ThresholdMarginStability   = "margin_stability_days"
	ThresholdMarginPctNotional = "margin_pct_notional"
	ThresholdShanghaiPremium   = "shanghai_premium"
)

// StressMetrics lists the indicators that feed the composite score.
var StressMetrics = []string{
	MetricPremium,
	MetricInventory,
	MetricMargin,
	MetricLeaseRate,
	MetricShanghaiPremium,
}

// Status is the outcome of classifying one value against a ThresholdSet.
type Status struct {
	Color Color
	Label string
}

// NormalizedMetric is one indicator's status for the current cycle.
type NormalizedMetric struct {
	Metric          string  `json:"metric"`
	Value           float64 `json:"value"`
	Unit            string  `json:"unit"`
	StatusColor     Color   `json:"status_color"`
	StatusLabel     string  `json:"status_label"`
	IsNormalizing   bool    `json:"is_normalizing"`
	ThresholdNormal string  `json:"threshold_normal,omitempty"`
	Description     string  `json:"description"`

	// inventory
	Trend            Trend    `json:"trend,omitempty"`
	TrendChangeMoz   *float64 `json:"trend_change_moz,omitempty"`
	RegisteredMoz    *float64 `json:"registered_moz,omitempty"`
	RegisteredStatus string   `json:"registered_status,omitempty"`
	RegisteredColor  Color    `json:"registered_color,omitempty"`

	// margin
	DaysSinceChange    *int     `json:"days_since_change,omitempty"`
	PctOfNotional      *float64 `json:"pct_of_notional,omitempty"`
	PctThresholdNormal string   `json:"pct_threshold_normal,omitempty"`
	ThresholdStable    string   `json:"threshold_stable,omitempty"`

	// Raw carries the source figures behind Value for the dashboard.
	Raw any `json:"raw,omitempty"`
}

// CompositeScore aggregates the normalizing flags of one cycle.
type CompositeScore struct {
	Score       int     `json:"score"`
	Total       int     `json:"total"`
	Percentage  float64 `json:"percentage"`
	StatusColor Color   `json:"status_color"`
	StatusLabel string  `json:"status_label"`
	Description string  `json:"description"`
}
