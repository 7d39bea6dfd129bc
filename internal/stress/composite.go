package stress

import (
	"errors"
	"fmt"
)

// Band is one tier of the composite scale; it applies when the
// normalizing ratio is at least MinRatio.
type Band struct {
	MinRatio float64 `mapstructure:"min_ratio"`
	Color    Color   `mapstructure:"color"`
	Label    string  `mapstructure:"label"`
}

// DefaultBands is the four-tier composite calibration.
func DefaultBands() []Band {
	return []Band{
		{MinRatio: 0.75, Color: Green, Label: "Market Easing"},
		{MinRatio: 0.5, Color: Yellow, Label: "Mixed Signals"},
		{MinRatio: 0.25, Color: Orange, Label: "Elevated Stress"},
		{MinRatio: 0, Color: Red, Label: "Market Stress"},
	}
}

// ValidateBands requires strictly decreasing ratios ending with a zero floor.
func ValidateBands(bands []Band) error {
	if len(bands) == 0 {
		return errors.New("at least one band required")
	}
	for i, b := range bands {
		if b.MinRatio < 0 || b.MinRatio > 1 {
			return fmt.Errorf("band %d: min_ratio %g outside [0,1]", i, b.MinRatio)
		}
		if b.Color == "" || b.Label == "" {
			return fmt.Errorf("band %d: color and label required", i)
		}
		if i > 0 && b.MinRatio >= bands[i-1].MinRatio {
			return fmt.Errorf("band %d: min_ratio %g must be below %g", i, b.MinRatio, bands[i-1].MinRatio)
		}
	}
	if last := bands[len(bands)-1]; last.MinRatio != 0 {
		return fmt.Errorf("last band must start at 0, got %g", last.MinRatio)
	}
	return nil
}

// Composite counts the normalizing metrics and bands the ratio.
// Nil entries are absent metrics and do not count toward the total.
func (e *Engine) Composite(metrics map[string]*NormalizedMetric) CompositeScore {
	var normalizing, total int
	for _, m := range metrics {
		if m == nil {
			continue
		}
		total++
		if m.IsNormalizing {
			normalizing++
		}
	}

	if total == 0 {
		return CompositeScore{
			StatusColor: Gray,
			StatusLabel: "No Data",
			Description: "Insufficient data",
		}
	}

	ratio := float64(normalizing) / float64(total)
	band := e.cfg.CompositeBands[len(e.cfg.CompositeBands)-1]
	for _, b := range e.cfg.CompositeBands {
		if ratio >= b.MinRatio {
			band = b
			break
		}
	}

	return CompositeScore{
		Score:       normalizing,
		Total:       total,
		Percentage:  round(ratio*100, 1),
		StatusColor: band.Color,
		StatusLabel: band.Label,
		Description: fmt.Sprintf("%d/%d indicators normalizing", normalizing, total),
	}
}
