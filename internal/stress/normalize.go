package stress

import (
	"fmt"
	"time"
)

// LeaseRate normalizes the annualized lease-rate proxy (percent).
func (e *Engine) LeaseRate(ratePct float64) NormalizedMetric {
	set := e.set(ThresholdLeaseRate)
	status := Classify(ratePct, set)
	high, _ := set.Get(NormalHigh)

	return NormalizedMetric{
		Metric:          MetricLeaseRate,
		Value:           ratePct,
		Unit:            "%",
		StatusColor:     status.Color,
		StatusLabel:     status.Label,
		IsNormalizing:   ratePct <= high,
		ThresholdNormal: normalRange(set, "%"),
		Description:     "Cost to borrow physical silver",
	}
}

// Premium normalizes the physical premium over spot (percent).
func (e *Engine) Premium(premiumPct float64) NormalizedMetric {
	set := e.set(ThresholdPremiumPct)
	status := Classify(premiumPct, set)
	high, _ := set.Get(NormalHigh)

	return NormalizedMetric{
		Metric:          MetricPremium,
		Value:           premiumPct,
		Unit:            "% over spot",
		StatusColor:     status.Color,
		StatusLabel:     status.Label,
		IsNormalizing:   premiumPct <= high,
		ThresholdNormal: normalRange(set, "%"),
		Description:     "Physical silver price vs paper/spot",
	}
}

// ShanghaiPremium normalizes the Shanghai-over-Western gap in USD/oz on a
// three tier scale.
func (e *Engine) ShanghaiPremium(premiumUSD float64) NormalizedMetric {
	set := e.set(ThresholdShanghaiPremium)
	high, _ := set.Get(NormalHigh)
	elevated, _ := set.Get(Elevated)

	m := NormalizedMetric{
		Metric:          MetricShanghaiPremium,
		Value:           premiumUSD,
		Unit:            "$/oz",
		ThresholdNormal: fmt.Sprintf("≤$%g/oz", high),
		Description:     "Shanghai vs Western silver price difference",
	}

	switch {
	case premiumUSD <= high:
		m.StatusColor, m.StatusLabel, m.IsNormalizing = Green, "Normal", true
	case premiumUSD <= elevated:
		m.StatusColor, m.StatusLabel = Yellow, "Elevated"
	default:
		m.StatusColor, m.StatusLabel = Red, "Stressed"
	}
	return m
}

// Inventory normalizes COMEX total stocks in millions of ounces. The trend
// can upgrade a low reading to normalizing or downgrade a healthy one.
// registeredMoz, when present, is classified on its own scale and attached
// without affecting the headline status.
func (e *Engine) Inventory(totalMoz float64, registeredMoz *float64, trend TrendResult) NormalizedMetric {
	set := e.set(ThresholdInventoryTotal)
	status := Classify(totalMoz, set)
	healthy, _ := set.Get(Healthy)

	if trend.Trend == "" {
		trend.Trend = TrendUnknown
	}

	color, label := status.Color, status.Label
	switch {
	case trend.Trend == TrendRecovering && color != Green:
		label += " (Recovering)"
	case trend.Trend == TrendDeclining && color == Green:
		color, label = Yellow, "Declining"
	}

	change := trend.Change
	m := NormalizedMetric{
		Metric:          MetricInventory,
		Value:           totalMoz,
		Unit:            "M oz",
		StatusColor:     color,
		StatusLabel:     label,
		IsNormalizing:   totalMoz >= healthy || trend.Trend == TrendRecovering,
		ThresholdNormal: fmt.Sprintf(">%gM oz", healthy),
		Description:     "COMEX warehouse silver stocks",
		Trend:           trend.Trend,
		TrendChangeMoz:  &change,
	}

	if registeredMoz != nil {
		reg := *registeredMoz
		regStatus := Classify(reg, e.set(ThresholdInventoryReg))
		m.RegisteredMoz = &reg
		m.RegisteredStatus = regStatus.Label
		m.RegisteredColor = regStatus.Color
	}
	return m
}

// MarginInput carries what the margin normalizer needs for one cycle.
// ReferencePrice must be positive when set; LastChange nil means no history.
type MarginInput struct {
	InitialMargin  float64
	ReferencePrice *float64
	LastChange     *time.Time
	Now            time.Time
}

// Margin normalizes the CME initial margin by how long it has been unchanged,
// then escalates on margin as a share of contract notional.
func (e *Engine) Margin(in MarginInput) NormalizedMetric {
	stability := e.set(ThresholdMarginStability)
	stable, _ := stability.Get(Stable)
	normalizing, _ := stability.Get(Normalizing)

	days := e.cfg.DefaultStableDays
	if in.LastChange != nil {
		days = int(in.Now.Sub(*in.LastChange).Hours() / 24)
		if days < 0 {
			days = 0
		}
	}

	m := NormalizedMetric{
		Metric:          MetricMargin,
		Value:           in.InitialMargin,
		Unit:            "USD",
		DaysSinceChange: &days,
		ThresholdStable: fmt.Sprintf("%g+ days unchanged", stable),
		Description:     "CME initial margin for silver futures",
	}

	switch d := float64(days); {
	case d >= stable:
		m.StatusColor, m.StatusLabel, m.IsNormalizing = Green, "Stable", true
	case d >= normalizing:
		m.StatusColor, m.StatusLabel, m.IsNormalizing = Yellow, "Stabilizing", true
	default:
		m.StatusColor, m.StatusLabel = Red, "Volatile"
	}

	if in.ReferencePrice == nil {
		return m
	}

	pctSet := e.set(ThresholdMarginPctNotional)
	extreme, _ := pctSet.Get(Extreme)
	elevated, _ := pctSet.Get(Elevated)

	notional := e.cfg.ContractSizeOz * *in.ReferencePrice
	pct := in.InitialMargin / notional * 100

	switch {
	case pct > extreme:
		if m.StatusColor != Red {
			m.StatusColor, m.StatusLabel = Red, "Elevated (High %)"
		}
		m.IsNormalizing = false
	case pct > elevated:
		if m.StatusColor == Green {
			m.StatusColor, m.StatusLabel = Yellow, fmt.Sprintf("Watch (>%g%% notional)", elevated)
		}
	}

	rounded := round(pct, 2)
	m.PctOfNotional = &rounded
	m.PctThresholdNormal = normalRange(pctSet, "%")
	return m
}

func normalRange(set ThresholdSet, unit string) string {
	high, okHigh := set.Get(NormalHigh)
	low, okLow := set.Get(NormalLow)
	switch {
	case okHigh && okLow:
		return fmt.Sprintf("%g-%g%s", low, high, unit)
	case okHigh:
		return fmt.Sprintf("≤%g%s", high, unit)
	default:
		return ""
	}
}
