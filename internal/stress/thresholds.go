package stress

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Direction says which way a metric gets worse.
type Direction string

const (
	HigherIsWorse Direction = "higher_is_worse"
	LowerIsWorse  Direction = "lower_is_worse"
)

// Level names a breakpoint inside a ThresholdSet.
type Level string

const (
	NormalLow   Level = "normal_low"
	NormalHigh  Level = "normal_high"
	Watch       Level = "watch"
	Elevated    Level = "elevated"
	Stressed    Level = "stressed"
	Extreme     Level = "extreme"
	Healthy     Level = "healthy"
	Critical    Level = "critical"
	Stable      Level = "stable"
	Normalizing Level = "normalizing"
	Volatile    Level = "volatile"
)

// severity order, calm first
var (
	higherOrder = []Level{NormalLow, NormalHigh, Watch, Elevated, Stressed, Extreme}
	lowerOrder  = []Level{Healthy, Stable, NormalLow, Normalizing, Stressed, Volatile, Critical}
)

// ThresholdSet is the ordered breakpoints of one metric.
type ThresholdSet struct {
	Direction Direction         `mapstructure:"direction"`
	Levels    map[Level]float64 `mapstructure:"levels"`
}

// Get returns a breakpoint and whether it is defined.
func (t ThresholdSet) Get(l Level) (float64, bool) {
	v, ok := t.Levels[l]
	return v, ok
}

// Validate checks that the defined breakpoints are strictly monotonic in severity order.
func (t ThresholdSet) Validate() error {
	var order []Level
	switch t.Direction {
	case HigherIsWorse:
		order = higherOrder
	case LowerIsWorse:
		order = lowerOrder
	default:
		return fmt.Errorf("unknown direction %q", t.Direction)
	}

	known := make(map[Level]struct{}, len(order))
	for _, l := range order {
		known[l] = struct{}{}
	}
	for l := range t.Levels {
		if _, ok := known[l]; !ok {
			return fmt.Errorf("level %q not valid for %s", l, t.Direction)
		}
	}

	var (
		prevLevel Level
		prevValue float64
		seen      bool
	)
	for _, l := range order {
		v, ok := t.Levels[l]
		if !ok {
			continue
		}
		if seen {
			if t.Direction == HigherIsWorse && v <= prevValue {
				return fmt.Errorf("%s (%g) must be greater than %s (%g)", l, v, prevLevel, prevValue)
			}
			if t.Direction == LowerIsWorse && v >= prevValue {
				return fmt.Errorf("%s (%g) must be less than %s (%g)", l, v, prevLevel, prevValue)
			}
		}
		prevLevel, prevValue, seen = l, v, true
	}
	return nil
}

// Table maps a threshold name to its breakpoints.
type Table map[string]ThresholdSet

// requiredLevels are read unconditionally by the normalizers.
var requiredLevels = map[string][]Level{
	ThresholdLeaseRate:         {NormalHigh},
	ThresholdPremiumPct:        {NormalHigh},
	ThresholdShanghaiPremium:   {NormalHigh, Elevated},
	ThresholdInventoryTotal:    {Healthy},
	ThresholdInventoryReg:      {},
	ThresholdMarginStability:   {Stable, Normalizing},
	ThresholdMarginPctNotional: {Elevated, Extreme},
}

// Validate checks every set and the presence of the levels each normalizer needs.
func (t Table) Validate() error {
	var errs []error

	names := make([]string, 0, len(requiredLevels))
	for name := range requiredLevels {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		set, ok := t[name]
		if !ok {
			errs = append(errs, fmt.Errorf("thresholds.%s: missing", name))
			continue
		}
		if err := set.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("thresholds.%s: %w", name, err))
			continue
		}
		var missing []string
		for _, l := range requiredLevels[name] {
			if _, ok := set.Get(l); !ok {
				missing = append(missing, string(l))
			}
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Errorf("thresholds.%s: missing %s", name, strings.Join(missing, ", ")))
		}
	}
	return errors.Join(errs...)
}

// DefaultTable is the calibration derived from 2010-2025 market history.
func DefaultTable() Table {
	return Table{
		ThresholdLeaseRate: {
			Direction: HigherIsWorse,
			Levels:    map[Level]float64{NormalLow: 0.3, NormalHigh: 3.0, Watch: 5.0, Stressed: 10.0, Extreme: 20.0},
		},
		ThresholdPremiumPct: {
			Direction: HigherIsWorse,
			Levels:    map[Level]float64{NormalLow: 5.0, NormalHigh: 15.0, Watch: 20.0, Stressed: 30.0, Extreme: 50.0},
		},
		ThresholdInventoryTotal: {
			Direction: LowerIsWorse,
			Levels:    map[Level]float64{Healthy: 400, NormalLow: 350, Stressed: 300, Critical: 250},
		},
		ThresholdInventoryReg: {
			Direction: LowerIsWorse,
			Levels:    map[Level]float64{Healthy: 100, NormalLow: 75, Stressed: 50, Critical: 30},
		},
		ThresholdMarginStability: {
			Direction: LowerIsWorse,
			Levels:    map[Level]float64{Stable: 30, Normalizing: 14, Volatile: 7},
		},
		ThresholdMarginPctNotional: {
			Direction: HigherIsWorse,
			Levels:    map[Level]float64{NormalLow: 7.0, NormalHigh: 9.0, Elevated: 10.0, Extreme: 12.0},
		},
		ThresholdShanghaiPremium: {
			Direction: HigherIsWorse,
			Levels:    map[Level]float64{NormalHigh: 2.0, Elevated: 5.0, Stressed: 8.0},
		},
	}
}

// Clone returns a deep copy so callers cannot mutate a table in use.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for name, set := range t {
		levels := make(map[Level]float64, len(set.Levels))
		for l, v := range set.Levels {
			levels[l] = v
		}
		out[name] = ThresholdSet{Direction: set.Direction, Levels: levels}
	}
	return out
}
